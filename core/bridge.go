package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// maintenanceInterval is how often Bridge sweeps the time-driven
// transitions of the three subsystems that have them (gradient pruning,
// election timeouts, septal probes). None of spec §4's state machines need finer resolution
// than their own millisecond windows, so a fixed tick is enough.
const maintenanceInterval = 500 * time.Millisecond

// Bridge wires the Gradient Broadcaster, Credit Synchronizer, Distributed
// Election, and Septal Gate Manager to a shared Publisher and a Router,
// and drives their subscription and maintenance loops. It is the
// composition root equivalent of the teacher's Node+Replicator wiring in
// cmd/bridge/main.go.
type Bridge struct {
	logger *logrus.Logger
	self   NodeID
	pub    Publisher
	cfg    BridgeConfig

	Metrics  *BridgeMetrics
	Gradient *GradientBroadcaster
	Credits  *CreditSynchronizer
	Election *DistributedElection
	Septal   *SeptalGateManager
	Router   *Router

	hook PartitionHook

	cancel context.CancelFunc
}

// NewBridge constructs every subsystem against self/pub/cfg and assembles
// the Router. reg may be nil, in which case a fresh prometheus.Registry is
// used. hook may be nil, in which case Router blocks no peer.
func NewBridge(self NodeID, pub Publisher, cfg BridgeConfig, lg *logrus.Logger, reg prometheus.Registerer, hook PartitionHook) *Bridge {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := NewBridgeMetrics(reg)

	gradient := NewGradientBroadcaster(self, pub, cfg, lg, m)
	credits := NewCreditSynchronizer(self, pub, cfg, lg, m)
	election := NewDistributedElection(self, pub, cfg, lg, m)
	septal := NewSeptalGateManager(self, pub, cfg, lg, m)
	router := NewRouter(lg, gradient, credits, election, septal, hook, m)

	return &Bridge{
		logger:   lg,
		self:     self,
		pub:      pub,
		cfg:      cfg,
		Metrics:  m,
		Gradient: gradient,
		Credits:  credits,
		Election: election,
		Septal:   septal,
		Router:   router,
		hook:     hook,
	}
}

// topics lists the four subsystem topics Bridge subscribes to when driven
// by a Node's Subscribe (spec §6's four channels).
func (b *Bridge) topics() []string {
	return []string{TopicGradient, TopicCredits, TopicElection, TopicSeptal}
}

// Subscriber is what Run needs from a transport: a per-topic channel of
// inbound messages. *Node satisfies this directly; tests substitute a
// fake backed by InProcessLink instead of standing up a libp2p host.
type Subscriber interface {
	Subscribe(topic string) (<-chan Message, error)
}

// Run subscribes to every subsystem topic on node and drives inbound
// dispatch plus periodic maintenance until ctx is canceled. It blocks.
func (b *Bridge) Run(ctx context.Context, node Subscriber) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	defer cancel()

	chans := make([]<-chan Message, 0, len(b.topics()))
	for _, topic := range b.topics() {
		ch, err := node.Subscribe(topic)
		if err != nil {
			return err
		}
		chans = append(chans, ch)
	}

	for _, ch := range chans {
		go b.dispatchLoop(ctx, ch)
	}

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Maintenance()
		}
	}
}

// dispatchLoop routes every message the channel yields until it closes or
// ctx is canceled.
func (b *Bridge) dispatchLoop(ctx context.Context, ch <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.Router.Route(msg.Topic, msg.From, msg.Data)
		}
	}
}

// Maintenance drives every subsystem's time-based transitions once. Run
// calls this on a fixed tick; tests may call it directly to advance state
// deterministically alongside a fake clock.
func (b *Bridge) Maintenance() {
	b.Gradient.Maintenance()
	b.Election.Maintenance()
	b.Septal.Maintenance()
}

// Stop cancels the Run loop, if running.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}
