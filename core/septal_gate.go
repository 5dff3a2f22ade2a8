package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// GateState is a per-peer circuit-breaker position (spec §4.5).
type GateState uint8

const (
	GateClosed GateState = iota + 1
	GateOpen
	GateHalfOpen
)

func (s GateState) String() string {
	switch s {
	case GateClosed:
		return "Closed"
	case GateOpen:
		return "Open"
	case GateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

type gateRecord struct {
	State               GateState
	FailureCount        int
	ConsecutiveFailures int
	HalfOpenSuccesses   int
	LastFailureTs       Timestamp
	LastProbeTs         Timestamp
	FirstOpenedTs       Timestamp
}

// SeptalGateManager is the per-peer circuit breaker (spec §4.5): failure
// and success accounting, periodic health probes on timed-out Open
// peers, and the allow/block verdict (AllowsTraffic, IsIsolated) for
// callers to query. Router does not consult the verdict, and the manager
// does not disconnect peers itself. Like fault_tolerance.go's
// HealthChecker, the peer map is owned exclusively by this struct.
type SeptalGateManager struct {
	mu    sync.Mutex
	gates map[NodeID]*gateRecord

	self    NodeID
	pub     Publisher
	cfg     BridgeConfig
	logger  *logrus.Logger
	metrics *BridgeMetrics
}

// NewSeptalGateManager wires the subsystem to the shared publish capability.
func NewSeptalGateManager(self NodeID, pub Publisher, cfg BridgeConfig, lg *logrus.Logger, m *BridgeMetrics) *SeptalGateManager {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &SeptalGateManager{
		gates:   make(map[NodeID]*gateRecord),
		self:    self,
		pub:     pub,
		cfg:     cfg,
		logger:  lg,
		metrics: m,
	}
}

func (s *SeptalGateManager) recordFor(peer NodeID) *gateRecord {
	r, ok := s.gates[peer]
	if !ok {
		r = &gateRecord{State: GateClosed}
		s.gates[peer] = r
	}
	return r
}

func (s *SeptalGateManager) publishStateChange(peer NodeID, from, to GateState, reason string) {
	sc := SeptalStateChange{Node: peer, From: from, To: to, Reason: reason, Source: s.self, Timestamp: NowTimestamp()}
	payload, err := encodeSeptalStateChange(sc)
	if err != nil {
		s.logger.Warnf("septal: encode state change for %s: %v", peer, err)
		return
	}
	if err := s.pub.Publish(TopicSeptal, payload); err != nil {
		s.logger.Warnf("septal: publish state change for %s: %v", peer, err)
	}
}

// RecordFailure updates failure counters for peer and transitions
// Closed→Open on threshold; in HalfOpen any failure returns to Open
// (spec §4.5).
func (s *SeptalGateManager) RecordFailure(peer NodeID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recordFor(peer)
	r.FailureCount++
	r.ConsecutiveFailures++
	r.LastFailureTs = NowTimestamp()

	switch r.State {
	case GateClosed:
		if r.ConsecutiveFailures >= s.cfg.SeptalOpenOnFailures {
			prev := r.State
			r.State = GateOpen
			r.FirstOpenedTs = NowTimestamp()
			r.LastProbeTs = 0
			s.metrics.incGateOpen(peer)
			s.publishStateChange(peer, prev, GateOpen, reason)
		}
	case GateHalfOpen:
		prev := r.State
		r.State = GateOpen
		r.FirstOpenedTs = NowTimestamp()
		r.LastProbeTs = 0
		r.HalfOpenSuccesses = 0
		s.metrics.incGateOpen(peer)
		s.publishStateChange(peer, prev, GateOpen, reason)
	}
}

// RecordSuccess resets consecutive failures; in HalfOpen it counts toward
// closing the gate (spec §4.5).
func (s *SeptalGateManager) RecordSuccess(peer NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recordFor(peer)
	r.ConsecutiveFailures = 0

	if r.State == GateHalfOpen {
		r.HalfOpenSuccesses++
		if r.HalfOpenSuccesses >= s.cfg.SeptalHalfOpenSuccess {
			prev := r.State
			r.State = GateClosed
			r.HalfOpenSuccesses = 0
			s.publishStateChange(peer, prev, GateClosed, "half_open_success_threshold")
		}
	}
}

// AllowsTraffic reports whether traffic to/from peer is currently allowed.
func (s *SeptalGateManager) AllowsTraffic(peer NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.gates[peer]
	if !ok {
		return true
	}
	return r.State == GateClosed || r.State == GateHalfOpen
}

// IsIsolated reports whether peer is currently isolated (Open).
func (s *SeptalGateManager) IsIsolated(peer NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.gates[peer]
	return ok && r.State == GateOpen
}

// Maintenance emits a health probe for every Open peer past OpenTTL that
// hasn't been probed yet within the current TTL window, and restarts the
// TTL for peers whose probe went unanswered within ProbeWaitMS (spec
// §4.5).
func (s *SeptalGateManager) Maintenance() {
	now := NowTimestamp()
	s.mu.Lock()
	toProbe := make([]NodeID, 0)
	for peer, r := range s.gates {
		if r.State != GateOpen {
			continue
		}
		if r.LastProbeTs != 0 {
			if int64(now)-int64(r.LastProbeTs) >= s.cfg.ProbeWaitMS {
				r.FirstOpenedTs = now
				r.LastProbeTs = 0
			}
			continue
		}
		if int64(now)-int64(r.FirstOpenedTs) >= s.cfg.SeptalOpenTTLMS {
			r.LastProbeTs = now
			toProbe = append(toProbe, peer)
		}
	}
	s.mu.Unlock()

	for _, peer := range toProbe {
		h := SeptalHealth{Target: peer, Responding: false, Source: s.self, Timestamp: NowTimestamp()}
		payload, err := encodeSeptalHealth(h)
		if err != nil {
			s.logger.Warnf("septal: encode probe for %s: %v", peer, err)
			continue
		}
		if err := s.pub.Publish(TopicSeptal, payload); err != nil {
			s.logger.Warnf("septal: publish probe for %s: %v", peer, err)
		}
	}
}

// OnStateChange implements SeptalHandler. State changes are observational
// (spec §4.5); they never mutate local gate state.
func (s *SeptalGateManager) OnStateChange(SeptalStateChange) {}

// OnHealth implements SeptalHandler: responds to probes addressed to this
// node, and advances Open→HalfOpen on a timely response to this node's
// own probe.
func (s *SeptalGateManager) OnHealth(h SeptalHealth) {
	if h.Target == s.self && !h.Responding {
		resp := SeptalHealth{Target: s.self, Responding: true, Source: s.self, Timestamp: NowTimestamp()}
		payload, err := encodeSeptalHealth(resp)
		if err != nil {
			s.logger.Warnf("septal: encode probe response: %v", err)
			return
		}
		if err := s.pub.Publish(TopicSeptal, payload); err != nil {
			s.logger.Warnf("septal: publish probe response: %v", err)
		}
		return
	}

	if h.Responding && h.Source == h.Target {
		peer := h.Target
		s.mu.Lock()
		defer s.mu.Unlock()
		r, ok := s.gates[peer]
		if !ok || r.State != GateOpen || r.LastProbeTs == 0 {
			return
		}
		if int64(NowTimestamp())-int64(r.LastProbeTs) >= s.cfg.ProbeWaitMS {
			return
		}
		prev := r.State
		r.State = GateHalfOpen
		r.HalfOpenSuccesses = 0
		s.publishStateChange(peer, prev, GateHalfOpen, "probe_response")
	}
}

var _ SeptalHandler = (*SeptalGateManager)(nil)
