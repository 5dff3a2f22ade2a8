package core

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/rlp"
)

// Tag discriminates the envelope's payload variant. Values are wire-stable;
// never renumber an existing tag.
type Tag uint8

const (
	TagGradientUpdate Tag = iota + 1
	TagCreditTransfer
	TagBalanceQuery
	TagBalanceResponse
	TagAnnounce
	TagCandidacy
	TagVote
	TagResult
	TagSeptalStateChange
	TagSeptalHealth
)

// Topic strings, exact and wire-stable (spec §4.1). An incompatible wire
// change bumps the version segment, never the tag numbering.
const (
	TopicGradient = "/vudo/enr/gradient/1.0.0"
	TopicCredits  = "/vudo/enr/credits/1.0.0"
	TopicElection = "/vudo/enr/election/1.0.0"
	TopicSeptal   = "/vudo/enr/septal/1.0.0"
)

//---------------------------------------------------------------------
// Envelope
//---------------------------------------------------------------------

// Envelope is the single top-level message type every topic carries.
// Signature is reserved on the wire (possibly empty) but never checked —
// signature verification is a documented seam, not a guarantee.
type Envelope struct {
	Tag       Tag
	Source    NodeID
	Timestamp Timestamp
	Signature []byte
	Payload   []byte
}

// rlpEnvelope is the wire shadow of Envelope: RLP only encodes unsigned
// integers, byte slices and their aggregates, so Tag/Timestamp/NodeID all
// cross the wire through plain numeric/byte fields.
type rlpEnvelope struct {
	Tag       uint8
	Source    [32]byte
	Timestamp int64
	Signature []byte
	Payload   []byte
}

// encodeEnvelope RLP-encodes inner (already itself RLP-encodable) into a
// framed Envelope.
func encodeEnvelope(tag Tag, source NodeID, ts Timestamp, sig []byte, inner interface{}) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(inner)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode payload: %w", err)
	}
	wire := rlpEnvelope{
		Tag:       uint8(tag),
		Source:    source,
		Timestamp: int64(ts),
		Signature: sig,
		Payload:   payload,
	}
	out, err := rlp.EncodeToBytes(&wire)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode frame: %w", err)
	}
	return out, nil
}

// decodeEnvelope parses the outer frame only; callers decode Payload
// against the variant named by Tag.
func decodeEnvelope(data []byte) (Envelope, error) {
	var wire rlpEnvelope
	if err := rlp.DecodeBytes(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("envelope: decode frame: %w", err)
	}
	return Envelope{
		Tag:       Tag(wire.Tag),
		Source:    wire.Source,
		Timestamp: Timestamp(wire.Timestamp),
		Signature: wire.Signature,
		Payload:   wire.Payload,
	}, nil
}

//---------------------------------------------------------------------
// float64 <-> RLP
//---------------------------------------------------------------------

// RLP has no native float representation; every variant below carrying a
// float64 field crosses the wire as its raw IEEE-754 bit pattern.
func f64bits(f float64) uint64   { return math.Float64bits(f) }
func bitsf64(u uint64) float64   { return math.Float64frombits(u) }

//---------------------------------------------------------------------
// Gradient variant
//---------------------------------------------------------------------

// GradientUpdate is published by the Gradient Broadcaster (spec §4.2).
type GradientUpdate struct {
	Source        NodeID
	CPU           float64
	Memory        float64
	GPU           float64
	Storage       float64
	Bandwidth     float64
	CreditBalance float64
	Timestamp     Timestamp
}

type rlpGradientUpdate struct {
	Source                                                            [32]byte
	CPU, Memory, GPU, Storage, Bandwidth, CreditBalance                uint64
	Timestamp                                                         int64
}

func (g GradientUpdate) toWire() rlpGradientUpdate {
	return rlpGradientUpdate{
		Source:        g.Source,
		CPU:           f64bits(g.CPU),
		Memory:        f64bits(g.Memory),
		GPU:           f64bits(g.GPU),
		Storage:       f64bits(g.Storage),
		Bandwidth:     f64bits(g.Bandwidth),
		CreditBalance: f64bits(g.CreditBalance),
		Timestamp:     int64(g.Timestamp),
	}
}

func gradientFromWire(w rlpGradientUpdate) GradientUpdate {
	return GradientUpdate{
		Source:        w.Source,
		CPU:           bitsf64(w.CPU),
		Memory:        bitsf64(w.Memory),
		GPU:           bitsf64(w.GPU),
		Storage:       bitsf64(w.Storage),
		Bandwidth:     bitsf64(w.Bandwidth),
		CreditBalance: bitsf64(w.CreditBalance),
		Timestamp:     Timestamp(w.Timestamp),
	}
}

func encodeGradientUpdate(g GradientUpdate) ([]byte, error) {
	return encodeEnvelope(TagGradientUpdate, g.Source, g.Timestamp, nil, g.toWire())
}

func decodeGradientUpdate(payload []byte) (GradientUpdate, error) {
	var w rlpGradientUpdate
	if err := rlp.DecodeBytes(payload, &w); err != nil {
		return GradientUpdate{}, err
	}
	return gradientFromWire(w), nil
}

//---------------------------------------------------------------------
// Credit variants
//---------------------------------------------------------------------

// CreditTransfer is published after a local transfer commits (spec §4.3).
type CreditTransfer struct {
	From      AccountID
	To        AccountID
	Amount    Credits
	Tax       Credits
	Nonce     uint64
	Source    NodeID
	Timestamp Timestamp
}

type rlpAccountID struct {
	Node [32]byte
	Kind string
}

func (a AccountID) toWire() rlpAccountID { return rlpAccountID{Node: a.Node, Kind: string(a.Kind)} }

func accountFromWire(w rlpAccountID) AccountID {
	return AccountID{Node: NodeID(w.Node), Kind: AccountKind(w.Kind)}
}

type rlpCreditTransfer struct {
	From      rlpAccountID
	To        rlpAccountID
	Amount    uint64
	Tax       uint64
	Nonce     uint64
	Source    [32]byte
	Timestamp int64
}

func encodeCreditTransfer(c CreditTransfer) ([]byte, error) {
	wire := rlpCreditTransfer{
		From:      c.From.toWire(),
		To:        c.To.toWire(),
		Amount:    uint64(c.Amount),
		Tax:       uint64(c.Tax),
		Nonce:     c.Nonce,
		Source:    c.Source,
		Timestamp: int64(c.Timestamp),
	}
	return encodeEnvelope(TagCreditTransfer, c.Source, c.Timestamp, nil, wire)
}

func decodeCreditTransfer(payload []byte) (CreditTransfer, error) {
	var w rlpCreditTransfer
	if err := rlp.DecodeBytes(payload, &w); err != nil {
		return CreditTransfer{}, err
	}
	return CreditTransfer{
		From:      accountFromWire(w.From),
		To:        accountFromWire(w.To),
		Amount:    Credits(w.Amount),
		Tax:       Credits(w.Tax),
		Nonce:     w.Nonce,
		Source:    w.Source,
		Timestamp: Timestamp(w.Timestamp),
	}, nil
}

// BalanceQuery requests a peer's balance; RequestID correlates the
// eventual BalanceResponse.
type BalanceQuery struct {
	RequestID [16]byte
	Target    NodeID
	Source    NodeID
	Timestamp Timestamp
}

type rlpBalanceQuery struct {
	RequestID [16]byte
	Target    [32]byte
	Source    [32]byte
	Timestamp int64
}

func encodeBalanceQuery(q BalanceQuery) ([]byte, error) {
	wire := rlpBalanceQuery{RequestID: q.RequestID, Target: q.Target, Source: q.Source, Timestamp: int64(q.Timestamp)}
	return encodeEnvelope(TagBalanceQuery, q.Source, q.Timestamp, nil, wire)
}

func decodeBalanceQuery(payload []byte) (BalanceQuery, error) {
	var w rlpBalanceQuery
	if err := rlp.DecodeBytes(payload, &w); err != nil {
		return BalanceQuery{}, err
	}
	return BalanceQuery{RequestID: w.RequestID, Target: w.Target, Source: w.Source, Timestamp: Timestamp(w.Timestamp)}, nil
}

// BalanceResponse answers a BalanceQuery; Responder is carried in the
// enclosing Envelope's Source field.
type BalanceResponse struct {
	RequestID [16]byte
	Balance   Credits
	AsOf      Timestamp
	Source    NodeID
	Timestamp Timestamp
}

type rlpBalanceResponse struct {
	RequestID [16]byte
	Balance   uint64
	AsOf      int64
	Source    [32]byte
	Timestamp int64
}

func encodeBalanceResponse(r BalanceResponse) ([]byte, error) {
	wire := rlpBalanceResponse{RequestID: r.RequestID, Balance: uint64(r.Balance), AsOf: int64(r.AsOf), Source: r.Source, Timestamp: int64(r.Timestamp)}
	return encodeEnvelope(TagBalanceResponse, r.Source, r.Timestamp, nil, wire)
}

func decodeBalanceResponse(payload []byte) (BalanceResponse, error) {
	var w rlpBalanceResponse
	if err := rlp.DecodeBytes(payload, &w); err != nil {
		return BalanceResponse{}, err
	}
	return BalanceResponse{RequestID: w.RequestID, Balance: Credits(w.Balance), AsOf: Timestamp(w.AsOf), Source: w.Source, Timestamp: Timestamp(w.Timestamp)}, nil
}

//---------------------------------------------------------------------
// Election variants
//---------------------------------------------------------------------

// Metrics is a candidate's self-reported eligibility snapshot (spec §3).
type Metrics struct {
	Uptime           float64
	CPUAvailable     float64
	MemoryAvailable  float64
	Bandwidth        float64
	Reputation       float64
}

type rlpMetrics struct {
	Uptime, CPUAvailable, MemoryAvailable, Bandwidth, Reputation uint64
}

func (m Metrics) toWire() rlpMetrics {
	return rlpMetrics{
		Uptime:          f64bits(m.Uptime),
		CPUAvailable:    f64bits(m.CPUAvailable),
		MemoryAvailable: f64bits(m.MemoryAvailable),
		Bandwidth:       f64bits(m.Bandwidth),
		Reputation:      f64bits(m.Reputation),
	}
}

func metricsFromWire(w rlpMetrics) Metrics {
	return Metrics{
		Uptime:          bitsf64(w.Uptime),
		CPUAvailable:    bitsf64(w.CPUAvailable),
		MemoryAvailable: bitsf64(w.MemoryAvailable),
		Bandwidth:       bitsf64(w.Bandwidth),
		Reputation:      bitsf64(w.Reputation),
	}
}

// Announce starts an election (spec §4.4).
type Announce struct {
	ID        ElectionID
	Region    RegionID
	Initiator NodeID
	Timestamp Timestamp
}

type rlpAnnounce struct {
	ID        uint64
	Region    string
	Initiator [32]byte
	Timestamp int64
}

func encodeAnnounce(a Announce) ([]byte, error) {
	wire := rlpAnnounce{ID: uint64(a.ID), Region: string(a.Region), Initiator: a.Initiator, Timestamp: int64(a.Timestamp)}
	return encodeEnvelope(TagAnnounce, a.Initiator, a.Timestamp, nil, wire)
}

func decodeAnnounce(payload []byte) (Announce, error) {
	var w rlpAnnounce
	if err := rlp.DecodeBytes(payload, &w); err != nil {
		return Announce{}, err
	}
	return Announce{ID: ElectionID(w.ID), Region: RegionID(w.Region), Initiator: w.Initiator, Timestamp: Timestamp(w.Timestamp)}, nil
}

// Candidacy nominates a candidate for an election.
type Candidacy struct {
	ID        ElectionID
	Candidate NodeID
	Metrics   Metrics
	Timestamp Timestamp
}

type rlpCandidacy struct {
	ID        uint64
	Candidate [32]byte
	Metrics   rlpMetrics
	Timestamp int64
}

func encodeCandidacy(c Candidacy) ([]byte, error) {
	wire := rlpCandidacy{ID: uint64(c.ID), Candidate: c.Candidate, Metrics: c.Metrics.toWire(), Timestamp: int64(c.Timestamp)}
	return encodeEnvelope(TagCandidacy, c.Candidate, c.Timestamp, nil, wire)
}

func decodeCandidacy(payload []byte) (Candidacy, error) {
	var w rlpCandidacy
	if err := rlp.DecodeBytes(payload, &w); err != nil {
		return Candidacy{}, err
	}
	return Candidacy{ID: ElectionID(w.ID), Candidate: w.Candidate, Metrics: metricsFromWire(w.Metrics), Timestamp: Timestamp(w.Timestamp)}, nil
}

// Vote casts a vote for a candidate in an election.
type Vote struct {
	ID        ElectionID
	Voter     NodeID
	Candidate NodeID
	Timestamp Timestamp
}

type rlpVote struct {
	ID        uint64
	Voter     [32]byte
	Candidate [32]byte
	Timestamp int64
}

func encodeVote(v Vote) ([]byte, error) {
	wire := rlpVote{ID: uint64(v.ID), Voter: v.Voter, Candidate: v.Candidate, Timestamp: int64(v.Timestamp)}
	return encodeEnvelope(TagVote, v.Voter, v.Timestamp, nil, wire)
}

func decodeVote(payload []byte) (Vote, error) {
	var w rlpVote
	if err := rlp.DecodeBytes(payload, &w); err != nil {
		return Vote{}, err
	}
	return Vote{ID: ElectionID(w.ID), Voter: w.Voter, Candidate: w.Candidate, Timestamp: Timestamp(w.Timestamp)}, nil
}

// Result is published only by an election's initiator upon Completed.
type Result struct {
	ID        ElectionID
	Region    RegionID
	Winner    *NodeID
	VoteCount uint64
	Source    NodeID
	Timestamp Timestamp
}

type rlpResult struct {
	ID         uint64
	Region     string
	HasWinner  bool
	Winner     [32]byte
	VoteCount  uint64
	Source     [32]byte
	Timestamp  int64
}

func encodeResult(r Result) ([]byte, error) {
	wire := rlpResult{ID: uint64(r.ID), Region: string(r.Region), VoteCount: r.VoteCount, Source: r.Source, Timestamp: int64(r.Timestamp)}
	if r.Winner != nil {
		wire.HasWinner = true
		wire.Winner = *r.Winner
	}
	return encodeEnvelope(TagResult, r.Source, r.Timestamp, nil, wire)
}

func decodeResult(payload []byte) (Result, error) {
	var w rlpResult
	if err := rlp.DecodeBytes(payload, &w); err != nil {
		return Result{}, err
	}
	res := Result{ID: ElectionID(w.ID), Region: RegionID(w.Region), VoteCount: w.VoteCount, Source: w.Source, Timestamp: Timestamp(w.Timestamp)}
	if w.HasWinner {
		winner := NodeID(w.Winner)
		res.Winner = &winner
	}
	return res, nil
}

//---------------------------------------------------------------------
// Septal gate variants
//---------------------------------------------------------------------

// SeptalStateChange is observational: it announces a local gate
// transition and never affects remote state (spec §4.5).
type SeptalStateChange struct {
	Node      NodeID
	From      GateState
	To        GateState
	Reason    string
	Source    NodeID
	Timestamp Timestamp
}

type rlpSeptalStateChange struct {
	Node      [32]byte
	From      uint8
	To        uint8
	Reason    string
	Source    [32]byte
	Timestamp int64
}

func encodeSeptalStateChange(s SeptalStateChange) ([]byte, error) {
	wire := rlpSeptalStateChange{Node: s.Node, From: uint8(s.From), To: uint8(s.To), Reason: s.Reason, Source: s.Source, Timestamp: int64(s.Timestamp)}
	return encodeEnvelope(TagSeptalStateChange, s.Source, s.Timestamp, nil, wire)
}

func decodeSeptalStateChange(payload []byte) (SeptalStateChange, error) {
	var w rlpSeptalStateChange
	if err := rlp.DecodeBytes(payload, &w); err != nil {
		return SeptalStateChange{}, err
	}
	return SeptalStateChange{Node: w.Node, From: GateState(w.From), To: GateState(w.To), Reason: w.Reason, Source: w.Source, Timestamp: Timestamp(w.Timestamp)}, nil
}

// SeptalHealth is both the probe ("is Target alive?") and its response
// (Responding=true, published by Target itself echoing the same message).
type SeptalHealth struct {
	Target     NodeID
	Responding bool
	Source     NodeID
	Timestamp  Timestamp
}

type rlpSeptalHealth struct {
	Target     [32]byte
	Responding bool
	Source     [32]byte
	Timestamp  int64
}

func encodeSeptalHealth(h SeptalHealth) ([]byte, error) {
	wire := rlpSeptalHealth{Target: h.Target, Responding: h.Responding, Source: h.Source, Timestamp: int64(h.Timestamp)}
	return encodeEnvelope(TagSeptalHealth, h.Source, h.Timestamp, nil, wire)
}

func decodeSeptalHealth(payload []byte) (SeptalHealth, error) {
	var w rlpSeptalHealth
	if err := rlp.DecodeBytes(payload, &w); err != nil {
		return SeptalHealth{}, err
	}
	return SeptalHealth{Target: w.Target, Responding: w.Responding, Source: w.Source, Timestamp: Timestamp(w.Timestamp)}, nil
}
