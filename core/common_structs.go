package core

// common_structs.go – centralised struct definitions referenced across the
// bridge's subsystems. This file **declares mainly data structures** (its
// only functions are stringers, small constructors, saturating Credits
// arithmetic and DefaultBridgeConfig) to avoid cyclic imports between the
// subsystem files, mirroring how the teacher codebase isolates its struct
// zoo from behaviour.

import (
	"encoding/hex"
	"net"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	host "github.com/libp2p/go-libp2p/core/host"
)

//---------------------------------------------------------------------
// Identifiers
//---------------------------------------------------------------------

// NodeID is the fixed-width opaque identifier of a peer in the ENR plane.
// It is stable across a process lifetime and persisted by the embedder.
type NodeID [32]byte

func (n NodeID) String() string { return hex.EncodeToString(n[:]) }

// IsZero reports whether n is the zero-value identifier.
func (n NodeID) IsZero() bool { return n == NodeID{} }

// AccountKind discriminates account namespaces within a single NodeID.
// The core only ever uses NodeAccountKind; other kinds are reserved for
// embedders layering additional account types over the same ledger.
type AccountKind string

const NodeAccountKind AccountKind = "node-account"

// AccountID keys the credit ledger.
type AccountID struct {
	Node NodeID
	Kind AccountKind
}

func NewAccountID(n NodeID) AccountID { return AccountID{Node: n, Kind: NodeAccountKind} }

func (a AccountID) String() string { return a.Node.String() + ":" + string(a.Kind) }

// Credits is a non-negative integer count. Arithmetic on it saturates at
// zero rather than wrapping or going negative.
type Credits uint64

// SatSub returns a-b, saturating at zero instead of underflowing.
func (a Credits) SatSub(b Credits) Credits {
	if b > a {
		return 0
	}
	return a - b
}

// SatAdd returns a+b, saturating at the uint64 maximum instead of
// overflowing.
func (a Credits) SatAdd(b Credits) Credits {
	sum := a + b
	if sum < a {
		return Credits(^uint64(0))
	}
	return sum
}

// Timestamp is a monotonic-wall-clock millisecond count produced locally
// when emitting a message.
type Timestamp int64

func NowTimestamp() Timestamp { return Timestamp(time.Now().UnixMilli()) }

// ElectionID is unique per (initiator, region) pair and monotonically
// increasing per initiator.
type ElectionID uint64

// RegionID names an election domain; caller-supplied and opaque to the
// bridge.
type RegionID string

//---------------------------------------------------------------------
// Transport plumbing (peer, config, node, messages)
//---------------------------------------------------------------------

// Peer describes a known remote participant.
type Peer struct {
	ID      NodeID
	Addr    string
	Latency time.Duration
	Conn    net.Conn
}

// Message is a decoded pub/sub delivery handed to a Subscribe() consumer.
type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// InboundMsg is a raw delivery on a protocol-scoped stream/topic, as
// produced by PeerManagement.Subscribe, carrying the overlay-reported peer
// ID separately from any NodeID embedded in the payload. Router does not
// consume InboundMsg; it takes Message values.
type InboundMsg struct {
	PeerID  string
	Code    byte
	Payload []byte
	Topic   string
	Ts      int64
}

// Config is the unified bridge configuration: transport plus the tunables
// named in spec §6.
type Config struct {
	Network NetworkConfig
	Bridge  BridgeConfig
	Logging LoggingConfig
}

type NetworkConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
}

// BridgeConfig mirrors spec §6's configuration table, one field per
// recognized option, plus MaxFutureSkewMS (gradient future-skew guard)
// and ProbeWaitMS (septal probe wait); defaults are applied by
// pkg/config.Load.
type BridgeConfig struct {
	InitialNodeCredits    uint64  `mapstructure:"initial_node_credits" json:"initial_node_credits"`
	EntropyTaxRate        float64 `mapstructure:"entropy_tax_rate" json:"entropy_tax_rate"`
	MaxGradientAgeMS      int64   `mapstructure:"max_gradient_age_ms" json:"max_gradient_age_ms"`
	ElectionTimeoutMS     int64   `mapstructure:"election_timeout_ms" json:"election_timeout_ms"`
	CandidacyWindowMS     int64   `mapstructure:"candidacy_window_ms" json:"candidacy_window_ms"`
	SeptalOpenOnFailures  int     `mapstructure:"septal_open_on_failures" json:"septal_open_on_failures"`
	SeptalOpenTTLMS       int64   `mapstructure:"septal_open_ttl_ms" json:"septal_open_ttl_ms"`
	SeptalHalfOpenSuccess int     `mapstructure:"septal_half_open_success" json:"septal_half_open_success"`
	ReplayWindow          int     `mapstructure:"replay_window" json:"replay_window"`
	MaxFutureSkewMS       int64   `mapstructure:"max_future_skew_ms" json:"max_future_skew_ms"`
	ProbeWaitMS           int64   `mapstructure:"probe_wait_ms" json:"probe_wait_ms"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// DefaultBridgeConfig returns the defaults listed in spec §6.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		InitialNodeCredits:    1000,
		EntropyTaxRate:        0.02,
		MaxGradientAgeMS:      15_000,
		ElectionTimeoutMS:     10_000,
		CandidacyWindowMS:     3_000,
		SeptalOpenOnFailures:  5,
		SeptalOpenTTLMS:       30_000,
		SeptalHalfOpenSuccess: 2,
		ReplayWindow:          10_000,
		MaxFutureSkewMS:       5_000,
		ProbeWaitMS:           2_000,
	}
}

// Node is a libp2p-backed ENR peer: host, GossipSub, and the bookkeeping
// NewNode needs to bootstrap and track peers.
type Node struct {
	host      host.Host
	pubsub    *pubsub.PubSub
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	topicLock sync.RWMutex
	subLock   sync.RWMutex
	peerLock  sync.RWMutex
	peers     map[NodeID]*Peer
	nat       *NATManager
	self      NodeID
	cfg       Config
}

//---------------------------------------------------------------------
// Capability interfaces shared across subsystem boundaries
//---------------------------------------------------------------------

// Publisher is the "publish capability" spec §6 requires: best-effort,
// possibly-failing delivery to every current subscriber of topic. It is
// the only way subsystems emit outbound messages; they never address
// peers directly.
type Publisher interface {
	Publish(topic string, data []byte) error
}

// PeerManager is the direct (non-pubsub) peer-management surface that
// PeerManagement implements. Router and SeptalGateManager do not use it;
// no subsystem disconnects peers through it.
type PeerManager interface {
	Peers() []PeerInfo
	Connect(addr string) error
	Disconnect(id NodeID) error
	Sample(n int) []string
	SendAsync(peerID, proto string, code byte, payload []byte) error
	Subscribe(proto string) <-chan InboundMsg
	Unsubscribe(proto string)
}

// PeerInfo is a point-in-time snapshot of a known peer, returned by
// PeerManagement.Peers and DiscoverPeers.
type PeerInfo struct {
	ID      NodeID  `json:"id"`
	Address string  `json:"address"`
	RTT     float64 `json:"rtt_ms"`
	Updated int64   `json:"updated_unix"`
}
