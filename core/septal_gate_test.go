package core

import "testing"

func TestSeptalGateOpensThenRecovers(t *testing.T) {
	net := NewInProcessNetwork()
	self, peer := sampleNodeID(0x50), sampleNodeID(0x51)
	selfLink := net.AddNode(self)
	peerLink := net.AddNode(peer)
	cfg := DefaultBridgeConfig()

	local := NewSeptalGateManager(self, selfLink, cfg, nil, nil)
	remote := NewSeptalGateManager(peer, peerLink, cfg, nil, nil)

	routeLocal := NewRouter(nil, nil, nil, nil, local, nil, nil).Route
	routeRemote := NewRouter(nil, nil, nil, nil, remote, nil, nil).Route
	links := map[NodeID]*InProcessLink{self: selfLink, peer: peerLink}
	routeFns := map[NodeID]func(string, NodeID, []byte){self: routeLocal, peer: routeRemote}

	for i := 0; i < cfg.SeptalOpenOnFailures; i++ {
		local.RecordFailure(peer, "probe_timeout")
	}
	if local.IsIsolated(peer) != true {
		t.Fatalf("expected peer to be isolated (Open) after %d consecutive failures", cfg.SeptalOpenOnFailures)
	}
	if local.AllowsTraffic(peer) {
		t.Fatalf("Open gate must not allow traffic")
	}

	// Advance past OPEN_TTL and let Maintenance emit the probe.
	local.mu.Lock()
	rec := local.gates[peer]
	rec.FirstOpenedTs = Timestamp(int64(NowTimestamp()) - cfg.SeptalOpenTTLMS - 1)
	local.mu.Unlock()
	local.Maintenance()
	drainAllOnce(links, routeFns) // converges: remote answers, local observes the response

	local.mu.Lock()
	state := local.gates[peer].State
	local.mu.Unlock()
	if state != GateHalfOpen {
		t.Fatalf("expected HalfOpen after a timely probe response, got %s", state.String())
	}

	for i := 0; i < cfg.SeptalHalfOpenSuccess; i++ {
		local.RecordSuccess(peer)
	}
	if !local.AllowsTraffic(peer) {
		t.Fatalf("expected Closed gate to allow traffic")
	}
	local.mu.Lock()
	state = local.gates[peer].State
	local.mu.Unlock()
	if state != GateClosed {
		t.Fatalf("expected Closed after %d half-open successes, got %s", cfg.SeptalHalfOpenSuccess, state.String())
	}
}

func TestSeptalGateHalfOpenFailureReturnsToOpen(t *testing.T) {
	self, peer := sampleNodeID(0x52), sampleNodeID(0x53)
	cfg := DefaultBridgeConfig()
	local := NewSeptalGateManager(self, &recordingPublisher{}, cfg, nil, nil)

	for i := 0; i < cfg.SeptalOpenOnFailures; i++ {
		local.RecordFailure(peer, "timeout")
	}
	local.mu.Lock()
	local.gates[peer].State = GateHalfOpen
	local.mu.Unlock()

	local.RecordFailure(peer, "probe_failed")
	if !local.IsIsolated(peer) {
		t.Fatalf("expected any HalfOpen failure to return to Open")
	}
}

func TestSeptalGateUnknownPeerAllowsTraffic(t *testing.T) {
	self := sampleNodeID(0x54)
	cfg := DefaultBridgeConfig()
	local := NewSeptalGateManager(self, &recordingPublisher{}, cfg, nil, nil)
	unknown := sampleNodeID(0x55)
	if !local.AllowsTraffic(unknown) {
		t.Fatalf("an unknown peer must default to allowed")
	}
	if local.IsIsolated(unknown) {
		t.Fatalf("an unknown peer must not be isolated")
	}
}
