package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// GradientBroadcaster maintains the freshest-per-peer resource view and
// the network-wide aggregate derived from it (spec §4.2). Like the
// teacher's peerStat map in fault_tolerance.go, the store is owned by
// this subsystem alone, guarded by a single RWMutex, read via
// copy-returning queries.
type GradientBroadcaster struct {
	mu       sync.RWMutex
	byPeer   map[NodeID]GradientUpdate
	self     NodeID
	pub      Publisher
	cfg      BridgeConfig
	logger   *logrus.Logger
	metrics  *BridgeMetrics
}

// NewGradientBroadcaster wires the subsystem to the shared publish
// capability.
func NewGradientBroadcaster(self NodeID, pub Publisher, cfg BridgeConfig, lg *logrus.Logger, m *BridgeMetrics) *GradientBroadcaster {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &GradientBroadcaster{
		byPeer: make(map[NodeID]GradientUpdate),
		self:   self,
		pub:    pub,
		cfg:    cfg,
		logger: lg,
		metrics: m,
	}
}

// LocalGradient is the caller-supplied resource vector ready to publish;
// Source/Timestamp are filled in by Broadcast.
type LocalGradient struct {
	CPU           float64
	Memory        float64
	GPU           float64
	Storage       float64
	Bandwidth     float64
	CreditBalance float64
}

// AggregatedGradient is the component-wise arithmetic mean returned by
// NetworkView.
type AggregatedGradient struct {
	CPU           float64
	Memory        float64
	GPU           float64
	Storage       float64
	Bandwidth     float64
	CreditBalance float64
	SampleCount   int
}

// Broadcast publishes the local gradient. Storing it locally is optional
// and does not affect aggregation, so Broadcast does not touch byPeer.
func (g *GradientBroadcaster) Broadcast(local LocalGradient) error {
	update := GradientUpdate{
		Source:        g.self,
		CPU:           local.CPU,
		Memory:        local.Memory,
		GPU:           local.GPU,
		Storage:       local.Storage,
		Bandwidth:     local.Bandwidth,
		CreditBalance: local.CreditBalance,
		Timestamp:     NowTimestamp(),
	}
	payload, err := encodeGradientUpdate(update)
	if err != nil {
		return &PublishError{Topic: TopicGradient, Cause: err}
	}
	if err := g.pub.Publish(TopicGradient, payload); err != nil {
		return &PublishError{Topic: TopicGradient, Cause: err}
	}
	return nil
}

// OnGradient implements GradientHandler. It applies the future-skew guard
// and the newer-timestamp-wins replacement rule (spec §4.2).
func (g *GradientBroadcaster) OnGradient(update GradientUpdate) {
	now := NowTimestamp()
	if int64(update.Timestamp) > int64(now)+g.cfg.MaxFutureSkewMS {
		g.logger.Debugf("gradient: dropping future-skewed update from %s", update.Source)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	existing, ok := g.byPeer[update.Source]
	if ok && existing.Timestamp >= update.Timestamp {
		return
	}
	g.byPeer[update.Source] = update
	g.metrics.incGradientApplied()
}

// NetworkView returns the component-wise mean of all non-stale gradients.
// If no non-stale gradient exists, it returns the zero gradient.
func (g *GradientBroadcaster) NetworkView() AggregatedGradient {
	now := NowTimestamp()
	g.mu.RLock()
	defer g.mu.RUnlock()

	var agg AggregatedGradient
	for _, rec := range g.byPeer {
		if int64(now)-int64(rec.Timestamp) >= g.cfg.MaxGradientAgeMS {
			continue
		}
		agg.CPU += rec.CPU
		agg.Memory += rec.Memory
		agg.GPU += rec.GPU
		agg.Storage += rec.Storage
		agg.Bandwidth += rec.Bandwidth
		agg.CreditBalance += rec.CreditBalance
		agg.SampleCount++
	}
	if agg.SampleCount == 0 {
		return AggregatedGradient{}
	}
	n := float64(agg.SampleCount)
	agg.CPU /= n
	agg.Memory /= n
	agg.GPU /= n
	agg.Storage /= n
	agg.Bandwidth /= n
	agg.CreditBalance /= n
	return agg
}

// Maintenance prunes entries older than 2*MaxGradientAgeMS (spec §4.2).
func (g *GradientBroadcaster) Maintenance() {
	now := NowTimestamp()
	cutoff := 2 * g.cfg.MaxGradientAgeMS
	g.mu.Lock()
	defer g.mu.Unlock()
	for peer, rec := range g.byPeer {
		if int64(now)-int64(rec.Timestamp) > cutoff {
			delete(g.byPeer, peer)
		}
	}
}

// StoredGradient returns the currently-stored record for peer, if any;
// exposed for tests and diagnostics.
func (g *GradientBroadcaster) StoredGradient(peer NodeID) (GradientUpdate, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.byPeer[peer]
	return rec, ok
}

var _ GradientHandler = (*GradientBroadcaster)(nil)
