package core

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// ElectionState is the per-(id) state machine position (spec §4.4).
type ElectionState uint8

const (
	ElectionAnnounced ElectionState = iota + 1
	ElectionVoting
	ElectionCompleted
)

// Role is a node's derived local participation in the election system.
type Role uint8

const (
	RoleLeaf Role = iota
	RoleCandidate
	RoleNexus
)

const electionLRUSize = 64 // spec §3: "bounded by a simple LRU — minimum 64 recent elections"

const eligibleUptime = 0.95
const eligibleReputation = 0.5

// electionRecord is the mutable per-election state. candidacyQuorum gates
// the Announced→Voting transition on "at least one eligible candidacy";
// ineligible candidacies are recorded in Candidates but not counted.
type electionRecord struct {
	ID          ElectionID
	Region      RegionID
	Initiator   NodeID
	State       ElectionState
	Candidates  map[NodeID]Metrics
	Votes       map[NodeID]NodeID
	StartedAt   Timestamp
	CompletedAt Timestamp
	Winner      *NodeID
	VoteCount   uint64

	candidacyQuorum *QuorumTracker
}

// DistributedElection runs the per-region bounded-time election protocol
// (spec §4.4). Like the gradient and credit subsystems, its maps are
// owned exclusively by this struct and guarded by a single mutex.
type DistributedElection struct {
	mu         sync.Mutex
	elections  map[ElectionID]*electionRecord
	terminal   *lru.Cache[ElectionID, *electionRecord]
	localMetrics Metrics
	nextID     uint64

	self    NodeID
	pub     Publisher
	cfg     BridgeConfig
	logger  *logrus.Logger
	metrics *BridgeMetrics
}

// NewDistributedElection wires the subsystem to the shared publish
// capability.
func NewDistributedElection(self NodeID, pub Publisher, cfg BridgeConfig, lg *logrus.Logger, m *BridgeMetrics) *DistributedElection {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	cache, _ := lru.New[ElectionID, *electionRecord](electionLRUSize)
	return &DistributedElection{
		elections: make(map[ElectionID]*electionRecord),
		terminal:  cache,
		self:      self,
		pub:       pub,
		cfg:       cfg,
		logger:    lg,
		metrics:   m,
	}
}

func eligible(m Metrics) bool {
	return m.Uptime >= eligibleUptime && m.Reputation >= eligibleReputation
}

// UpdateMetrics stores the caller's current eligibility metrics, used for
// this node's own future candidacies.
func (e *DistributedElection) UpdateMetrics(m Metrics) {
	e.mu.Lock()
	e.localMetrics = m
	e.mu.Unlock()
}

// TriggerElection allocates a new ElectionId, announces it, installs a
// local Announced record, and — if locally eligible — immediately
// submits this node's own candidacy (spec §4.4).
func (e *DistributedElection) TriggerElection(region RegionID) (ElectionID, error) {
	e.mu.Lock()
	id := ElectionID(e.nextID)
	e.nextID++
	rec := &electionRecord{
		ID:              id,
		Region:          region,
		Initiator:       e.self,
		State:           ElectionAnnounced,
		Candidates:      make(map[NodeID]Metrics),
		Votes:           make(map[NodeID]NodeID),
		StartedAt:       NowTimestamp(),
		candidacyQuorum: NewQuorumTracker(1, 1),
	}
	e.elections[id] = rec
	local := e.localMetrics
	e.mu.Unlock()

	a := Announce{ID: id, Region: region, Initiator: e.self, Timestamp: NowTimestamp()}
	payload, err := encodeAnnounce(a)
	if err != nil {
		return id, &PublishError{Topic: TopicElection, Cause: err}
	}
	if err := e.pub.Publish(TopicElection, payload); err != nil {
		return id, &PublishError{Topic: TopicElection, Cause: err}
	}

	if eligible(local) {
		if err := e.SubmitCandidacy(id, local); err != nil {
			e.logger.Warnf("election: local candidacy for %d failed: %v", id, err)
		}
	}
	return id, nil
}

// knownLocked reports whether id refers to an election this node has
// seen, live or retired to the terminal LRU. Callers must hold e.mu.
func (e *DistributedElection) knownLocked(id ElectionID) bool {
	if _, ok := e.elections[id]; ok {
		return true
	}
	_, ok := e.terminal.Peek(id)
	return ok
}

// SubmitCandidacy publishes this node's candidacy for id and applies it
// to the local record (spec §4.4). It rejects a caller whose own metrics
// fail eligibility, and an id this node has never seen announced (spec
// §7: ElectionReasonIneligible / ElectionReasonUnknownElection).
func (e *DistributedElection) SubmitCandidacy(id ElectionID, metrics Metrics) error {
	e.mu.Lock()
	known := e.knownLocked(id)
	e.mu.Unlock()
	if !known {
		return &ElectionError{Reason: ElectionReasonUnknownElection, ID: id}
	}
	if !eligible(metrics) {
		return &ElectionError{Reason: ElectionReasonIneligible, ID: id}
	}

	c := Candidacy{ID: id, Candidate: e.self, Metrics: metrics, Timestamp: NowTimestamp()}
	payload, err := encodeCandidacy(c)
	if err != nil {
		return &PublishError{Topic: TopicElection, Cause: err}
	}
	if err := e.pub.Publish(TopicElection, payload); err != nil {
		return &PublishError{Topic: TopicElection, Cause: err}
	}
	e.applyCandidacy(c)
	return nil
}

// VoteForCandidate publishes a vote for id and records it locally,
// idempotently, before any echo arrives (spec §4.4). It rejects an id
// this node has never seen announced (spec §7: ElectionReasonUnknownElection).
func (e *DistributedElection) VoteForCandidate(id ElectionID, candidate NodeID) error {
	e.mu.Lock()
	known := e.knownLocked(id)
	e.mu.Unlock()
	if !known {
		return &ElectionError{Reason: ElectionReasonUnknownElection, ID: id}
	}

	v := Vote{ID: id, Voter: e.self, Candidate: candidate, Timestamp: NowTimestamp()}
	payload, err := encodeVote(v)
	if err != nil {
		return &PublishError{Topic: TopicElection, Cause: err}
	}
	if err := e.pub.Publish(TopicElection, payload); err != nil {
		return &PublishError{Topic: TopicElection, Cause: err}
	}
	e.applyVote(v)
	return nil
}

// CurrentNexus returns the latest winner for region, if any completed
// election produced one.
func (e *DistributedElection) CurrentNexus(region RegionID) (NodeID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var best *electionRecord
	consider := func(rec *electionRecord) {
		if rec.Region != region || rec.State != ElectionCompleted || rec.Winner == nil {
			return
		}
		if best == nil || rec.CompletedAt > best.CompletedAt {
			best = rec
		}
	}
	for _, rec := range e.elections {
		consider(rec)
	}
	for _, id := range e.terminal.Keys() {
		if rec, ok := e.terminal.Peek(id); ok {
			consider(rec)
		}
	}
	if best == nil {
		return NodeID{}, false
	}
	return *best.Winner, true
}

// CurrentRole derives this node's participation across all known
// elections.
func (e *DistributedElection) CurrentRole() Role {
	e.mu.Lock()
	defer e.mu.Unlock()

	isNexus := func(rec *electionRecord) bool {
		return rec.State == ElectionCompleted && rec.Winner != nil && *rec.Winner == e.self
	}
	isCandidate := func(rec *electionRecord) bool {
		_, ok := rec.Candidates[e.self]
		return ok && rec.State != ElectionCompleted
	}

	role := RoleLeaf
	check := func(rec *electionRecord) {
		if isNexus(rec) {
			role = RoleNexus
		} else if role != RoleNexus && isCandidate(rec) {
			role = RoleCandidate
		}
	}
	for _, rec := range e.elections {
		check(rec)
	}
	for _, id := range e.terminal.Keys() {
		if rec, ok := e.terminal.Peek(id); ok {
			check(rec)
		}
	}
	return role
}

// OnAnnounce implements ElectionHandler: creates the remote record if
// this node hasn't seen it yet (spec §4.4 diagram: "creation on remote
// Announce").
func (e *DistributedElection) OnAnnounce(a Announce) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.elections[a.ID]; ok {
		return
	}
	if _, ok := e.terminal.Peek(a.ID); ok {
		return
	}
	e.elections[a.ID] = &electionRecord{
		ID:              a.ID,
		Region:          a.Region,
		Initiator:       a.Initiator,
		State:           ElectionAnnounced,
		Candidates:      make(map[NodeID]Metrics),
		Votes:           make(map[NodeID]NodeID),
		StartedAt:       a.Timestamp,
		candidacyQuorum: NewQuorumTracker(1, 1),
	}
}

// OnCandidacy implements ElectionHandler.
func (e *DistributedElection) OnCandidacy(c Candidacy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyCandidacyLocked(c)
}

func (e *DistributedElection) applyCandidacy(c Candidacy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyCandidacyLocked(c)
}

func (e *DistributedElection) applyCandidacyLocked(c Candidacy) {
	rec, ok := e.elections[c.ID]
	if !ok || rec.State == ElectionCompleted {
		return
	}
	rec.Candidates[c.Candidate] = c.Metrics
	if !eligible(c.Metrics) {
		return
	}
	rec.candidacyQuorum.AddVote(c.Candidate)
	if rec.State == ElectionAnnounced && rec.candidacyQuorum.HasQuorum() {
		rec.State = ElectionVoting
	}
}

// OnVote implements ElectionHandler.
func (e *DistributedElection) OnVote(v Vote) {
	e.applyVote(v)
}

func (e *DistributedElection) applyVote(v Vote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.elections[v.ID]
	if !ok || rec.State == ElectionCompleted {
		return
	}
	rec.Votes[v.Voter] = v.Candidate
}

// OnResult implements ElectionHandler: accepts the first Result seen for
// an id as authoritative; later ones are ignored (spec §4.4).
func (e *DistributedElection) OnResult(res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.elections[res.ID]
	if !ok || rec.State == ElectionCompleted {
		return
	}
	rec.State = ElectionCompleted
	rec.Winner = res.Winner
	rec.VoteCount = res.VoteCount
	rec.CompletedAt = res.Timestamp
	e.retireLocked(rec)
	e.metrics.incElectionCompleted()
}

// Maintenance advances timed-out elections (spec §4.4): Announced
// elections past CandidacyWindowMS with no eligible candidacy complete
// with no winner; Voting elections past ElectionTimeoutMS complete via
// the winner rule.
func (e *DistributedElection) Maintenance() {
	now := NowTimestamp()
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rec := range e.elections {
		if rec.State == ElectionCompleted {
			continue
		}
		switch rec.State {
		case ElectionAnnounced:
			if int64(now)-int64(rec.StartedAt) >= e.cfg.CandidacyWindowMS {
				rec.State = ElectionCompleted
				rec.Winner = nil
				rec.VoteCount = 0
				rec.CompletedAt = now
				e.publishResultIfInitiatorLocked(rec)
				e.retireLocked(rec)
				e.metrics.incElectionCompleted()
			}
		case ElectionVoting:
			if int64(now)-int64(rec.StartedAt) >= e.cfg.ElectionTimeoutMS {
				winner, count := computeWinner(rec)
				rec.State = ElectionCompleted
				rec.Winner = winner
				rec.VoteCount = count
				rec.CompletedAt = now
				e.publishResultIfInitiatorLocked(rec)
				e.retireLocked(rec)
				e.metrics.incElectionCompleted()
			}
		}
	}
}

func (e *DistributedElection) publishResultIfInitiatorLocked(rec *electionRecord) {
	if rec.Initiator != e.self {
		return
	}
	res := Result{ID: rec.ID, Region: rec.Region, Winner: rec.Winner, VoteCount: rec.VoteCount, Source: e.self, Timestamp: NowTimestamp()}
	payload, err := encodeResult(res)
	if err != nil {
		e.logger.Warnf("election: encode result %d: %v", rec.ID, err)
		return
	}
	if err := e.pub.Publish(TopicElection, payload); err != nil {
		e.logger.Warnf("election: publish result %d: %v", rec.ID, err)
	}
}

func (e *DistributedElection) retireLocked(rec *electionRecord) {
	delete(e.elections, rec.ID)
	e.terminal.Add(rec.ID, rec)
}

// computeWinner applies the winner rule (spec §4.4): among eligible
// candidates, most votes wins; ties break by highest reputation, then
// highest uptime, then lexicographically smallest NodeId.
func computeWinner(rec *electionRecord) (*NodeID, uint64) {
	tally := make(map[NodeID]uint64)
	for _, candidate := range rec.Votes {
		tally[candidate]++
	}

	type contender struct {
		id    NodeID
		votes uint64
		m     Metrics
	}
	var pool []contender
	for id, m := range rec.Candidates {
		if !eligible(m) {
			continue
		}
		pool = append(pool, contender{id: id, votes: tally[id], m: m})
	}
	if len(pool) == 0 {
		return nil, 0
	}

	sort.Slice(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.votes != b.votes {
			return a.votes > b.votes
		}
		if a.m.Reputation != b.m.Reputation {
			return a.m.Reputation > b.m.Reputation
		}
		if a.m.Uptime != b.m.Uptime {
			return a.m.Uptime > b.m.Uptime
		}
		return a.id.String() < b.id.String()
	})
	winner := pool[0].id
	return &winner, pool[0].votes
}

var _ ElectionHandler = (*DistributedElection)(nil)
