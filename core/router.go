package core

import (
	"github.com/sirupsen/logrus"
)

// GradientHandler receives decoded gradient-topic messages.
type GradientHandler interface {
	OnGradient(GradientUpdate)
}

// CreditHandler receives decoded credits-topic messages.
type CreditHandler interface {
	OnTransfer(CreditTransfer)
	OnBalanceQuery(BalanceQuery)
	OnBalanceResponse(BalanceResponse)
}

// ElectionHandler receives decoded election-topic messages.
type ElectionHandler interface {
	OnAnnounce(Announce)
	OnCandidacy(Candidacy)
	OnVote(Vote)
	OnResult(Result)
}

// SeptalHandler receives decoded septal-topic messages.
type SeptalHandler interface {
	OnStateChange(SeptalStateChange)
	OnHealth(SeptalHealth)
}

// PartitionHook is the test-only peer-block set consulted on every inbound
// message (spec §4.6). A nil hook given to NewRouter (as cmd/bridge does
// through NewBridge) blocks nothing; partition_hook_noop.go supplies
// NoopPartitionHook, an equally inert implementation for production builds.
type PartitionHook interface {
	Blocked(peer NodeID) bool
}

// alwaysAllowHook is Router's internal default when no hook is supplied;
// distinct from the partition_hook_noop.go/partition_hook.go build-tag
// pair, which is the opt-in subsystem wired by Bridge.
type alwaysAllowHook struct{}

func (alwaysAllowHook) Blocked(NodeID) bool { return false }

// Router decodes every inbound frame and dispatches it to exactly one
// subsystem by topic, then by tag. It never propagates inbound errors
// upward (spec §7): decode and authorization failures are logged and
// counted, never returned to a caller.
type Router struct {
	logger   *logrus.Logger
	gradient GradientHandler
	credits  CreditHandler
	election ElectionHandler
	septal   SeptalHandler
	hook     PartitionHook
	metrics  *BridgeMetrics
}

// NewRouter wires a Router to the four subsystem handlers, matching the
// teacher's NewReplicator(cfg, logger, ...) injected-logger constructor
// shape.
func NewRouter(lg *logrus.Logger, gradient GradientHandler, credits CreditHandler, election ElectionHandler, septal SeptalHandler, hook PartitionHook, m *BridgeMetrics) *Router {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	if hook == nil {
		hook = alwaysAllowHook{}
	}
	return &Router{logger: lg, gradient: gradient, credits: credits, election: election, septal: septal, hook: hook, metrics: m}
}

// Route decodes bytes received on topic from sourcePeer and dispatches it.
// sourcePeer is the overlay-reported sender, independent of the envelope's
// self-declared Source field; the two must match under the strict policy
// spec §4.1 requires.
func (r *Router) Route(topic string, sourcePeer NodeID, data []byte) {
	if r.hook.Blocked(sourcePeer) {
		r.logger.Debugf("router: dropping message from blocked peer %s", sourcePeer)
		return
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		r.logger.Warnf("router: decode failed on %s: %v", topic, err)
		r.metrics.incDecodeFailed(topic)
		return
	}
	if env.Source != sourcePeer {
		r.logger.Warnf("router: unauthorized: envelope source %s != overlay source %s", env.Source, sourcePeer)
		r.metrics.incUnauthorized(topic)
		return
	}

	switch topic {
	case TopicGradient:
		r.routeGradient(env)
	case TopicCredits:
		r.routeCredits(env)
	case TopicElection:
		r.routeElection(env)
	case TopicSeptal:
		r.routeSeptal(env)
	default:
		r.logger.Warnf("router: unknown topic %s", topic)
	}
}

func (r *Router) routeGradient(env Envelope) {
	if env.Tag != TagGradientUpdate {
		r.logger.Warnf("router: unexpected tag %d on gradient topic", env.Tag)
		return
	}
	g, err := decodeGradientUpdate(env.Payload)
	if err != nil {
		r.logger.Warnf("router: gradient payload decode failed: %v", err)
		r.metrics.incDecodeFailed(TopicGradient)
		return
	}
	r.gradient.OnGradient(g)
}

func (r *Router) routeCredits(env Envelope) {
	switch env.Tag {
	case TagCreditTransfer:
		c, err := decodeCreditTransfer(env.Payload)
		if err != nil {
			r.logger.Warnf("router: credit transfer decode failed: %v", err)
			r.metrics.incDecodeFailed(TopicCredits)
			return
		}
		r.credits.OnTransfer(c)
	case TagBalanceQuery:
		q, err := decodeBalanceQuery(env.Payload)
		if err != nil {
			r.logger.Warnf("router: balance query decode failed: %v", err)
			r.metrics.incDecodeFailed(TopicCredits)
			return
		}
		r.credits.OnBalanceQuery(q)
	case TagBalanceResponse:
		resp, err := decodeBalanceResponse(env.Payload)
		if err != nil {
			r.logger.Warnf("router: balance response decode failed: %v", err)
			r.metrics.incDecodeFailed(TopicCredits)
			return
		}
		r.credits.OnBalanceResponse(resp)
	default:
		r.logger.Warnf("router: unexpected tag %d on credits topic", env.Tag)
	}
}

func (r *Router) routeElection(env Envelope) {
	switch env.Tag {
	case TagAnnounce:
		a, err := decodeAnnounce(env.Payload)
		if err != nil {
			r.logger.Warnf("router: announce decode failed: %v", err)
			r.metrics.incDecodeFailed(TopicElection)
			return
		}
		r.election.OnAnnounce(a)
	case TagCandidacy:
		c, err := decodeCandidacy(env.Payload)
		if err != nil {
			r.logger.Warnf("router: candidacy decode failed: %v", err)
			r.metrics.incDecodeFailed(TopicElection)
			return
		}
		r.election.OnCandidacy(c)
	case TagVote:
		v, err := decodeVote(env.Payload)
		if err != nil {
			r.logger.Warnf("router: vote decode failed: %v", err)
			r.metrics.incDecodeFailed(TopicElection)
			return
		}
		r.election.OnVote(v)
	case TagResult:
		res, err := decodeResult(env.Payload)
		if err != nil {
			r.logger.Warnf("router: result decode failed: %v", err)
			r.metrics.incDecodeFailed(TopicElection)
			return
		}
		r.election.OnResult(res)
	default:
		r.logger.Warnf("router: unexpected tag %d on election topic", env.Tag)
	}
}

func (r *Router) routeSeptal(env Envelope) {
	switch env.Tag {
	case TagSeptalStateChange:
		s, err := decodeSeptalStateChange(env.Payload)
		if err != nil {
			r.logger.Warnf("router: septal state change decode failed: %v", err)
			r.metrics.incDecodeFailed(TopicSeptal)
			return
		}
		r.septal.OnStateChange(s)
	case TagSeptalHealth:
		h, err := decodeSeptalHealth(env.Payload)
		if err != nil {
			r.logger.Warnf("router: septal health decode failed: %v", err)
			r.metrics.incDecodeFailed(TopicSeptal)
			return
		}
		r.septal.OnHealth(h)
	default:
		r.logger.Warnf("router: unexpected tag %d on septal topic", env.Tag)
	}
}
