package core

import "github.com/prometheus/client_golang/prometheus"

// BridgeMetrics collects the Prometheus counters/gauges the router and
// subsystems increment. A nil *BridgeMetrics is valid everywhere it is
// used: every method is a no-op on a nil receiver, so metrics can be
// omitted entirely in tests.
type BridgeMetrics struct {
	decodeFailed   *prometheus.CounterVec
	unauthorized   *prometheus.CounterVec
	gradientsSeen  prometheus.Counter
	transfersLocal prometheus.Counter
	transfersIn    prometheus.Counter
	replaysDropped prometheus.Counter
	electionsDone  prometheus.Counter
	gateOpens      *prometheus.CounterVec
}

// NewBridgeMetrics registers the bridge's metrics with reg (typically
// prometheus.NewRegistry() or prometheus.DefaultRegisterer).
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		decodeFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enr_bridge",
			Name:      "decode_failed_total",
			Help:      "Envelope decode failures by topic.",
		}, []string{"topic"}),
		unauthorized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enr_bridge",
			Name:      "unauthorized_total",
			Help:      "Envelopes dropped for source/overlay mismatch, by topic.",
		}, []string{"topic"}),
		gradientsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enr_bridge",
			Name:      "gradients_applied_total",
			Help:      "Gradient updates accepted into the local view.",
		}),
		transfersLocal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enr_bridge",
			Name:      "transfers_local_total",
			Help:      "Locally-initiated credit transfers that committed.",
		}),
		transfersIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enr_bridge",
			Name:      "transfers_inbound_applied_total",
			Help:      "Inbound credit transfers applied to the local ledger.",
		}),
		replaysDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enr_bridge",
			Name:      "transfers_replay_dropped_total",
			Help:      "Inbound credit transfers dropped as replays.",
		}),
		electionsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enr_bridge",
			Name:      "elections_completed_total",
			Help:      "Elections that reached the Completed state.",
		}),
		gateOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enr_bridge",
			Name:      "septal_gate_opens_total",
			Help:      "Septal gate transitions into Open, by peer.",
		}, []string{"peer"}),
	}
	if reg != nil {
		reg.MustRegister(m.decodeFailed, m.unauthorized, m.gradientsSeen, m.transfersLocal, m.transfersIn, m.replaysDropped, m.electionsDone, m.gateOpens)
	}
	return m
}

func (m *BridgeMetrics) incDecodeFailed(topic string) {
	if m == nil {
		return
	}
	m.decodeFailed.WithLabelValues(topic).Inc()
}

func (m *BridgeMetrics) incUnauthorized(topic string) {
	if m == nil {
		return
	}
	m.unauthorized.WithLabelValues(topic).Inc()
}

func (m *BridgeMetrics) incGradientApplied() {
	if m == nil {
		return
	}
	m.gradientsSeen.Inc()
}

func (m *BridgeMetrics) incTransferLocal() {
	if m == nil {
		return
	}
	m.transfersLocal.Inc()
}

func (m *BridgeMetrics) incTransferInboundApplied() {
	if m == nil {
		return
	}
	m.transfersIn.Inc()
}

func (m *BridgeMetrics) incReplayDropped() {
	if m == nil {
		return
	}
	m.replaysDropped.Inc()
}

func (m *BridgeMetrics) incElectionCompleted() {
	if m == nil {
		return
	}
	m.electionsDone.Inc()
}

func (m *BridgeMetrics) incGateOpen(peer NodeID) {
	if m == nil {
		return
	}
	m.gateOpens.WithLabelValues(peer.String()).Inc()
}
