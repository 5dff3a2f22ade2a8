package core

import "testing"

func eligibleMetrics(uptime, reputation float64) Metrics {
	return Metrics{Uptime: uptime, CPUAvailable: 0.5, MemoryAvailable: 0.5, Bandwidth: 0.5, Reputation: reputation}
}

func TestElectionClearWinnerThreeNodes(t *testing.T) {
	net := NewInProcessNetwork()
	n0, n1, n2 := sampleNodeID(0x10), sampleNodeID(0x11), sampleNodeID(0x12)
	l0, l1, l2 := net.AddNode(n0), net.AddNode(n1), net.AddNode(n2)

	cfg := DefaultBridgeConfig()
	e0 := NewDistributedElection(n0, l0, cfg, nil, nil)
	e1 := NewDistributedElection(n1, l1, cfg, nil, nil)
	e2 := NewDistributedElection(n2, l2, cfg, nil, nil)

	e0.UpdateMetrics(eligibleMetrics(0.96, 0.60))
	e1.UpdateMetrics(eligibleMetrics(0.99, 0.95))
	e2.UpdateMetrics(eligibleMetrics(0.96, 0.60))

	routers := map[NodeID]*Router{
		n0: NewRouter(nil, nil, nil, e0, nil, nil, nil),
		n1: NewRouter(nil, nil, nil, e1, nil, nil, nil),
		n2: NewRouter(nil, nil, nil, e2, nil, nil, nil),
	}
	links := map[NodeID]*InProcessLink{n0: l0, n1: l1, n2: l2}
	routeFns := map[NodeID]func(string, NodeID, []byte){
		n0: routers[n0].Route, n1: routers[n1].Route, n2: routers[n2].Route,
	}

	id, err := e0.TriggerElection("r")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	drainAllOnce(links, routeFns)

	// e0 already submitted its own candidacy as part of TriggerElection
	// (it is locally eligible); e1 and e2 submit theirs explicitly.
	if err := e1.SubmitCandidacy(id, eligibleMetrics(0.99, 0.95)); err != nil {
		t.Fatalf("candidacy1: %v", err)
	}
	if err := e2.SubmitCandidacy(id, eligibleMetrics(0.96, 0.60)); err != nil {
		t.Fatalf("candidacy2: %v", err)
	}
	drainAllOnce(links, routeFns)

	// Every node casts a vote for n1, whose metrics are strictly best.
	if err := e0.VoteForCandidate(id, n1); err != nil {
		t.Fatalf("vote0: %v", err)
	}
	if err := e1.VoteForCandidate(id, n1); err != nil {
		t.Fatalf("vote1: %v", err)
	}
	if err := e2.VoteForCandidate(id, n1); err != nil {
		t.Fatalf("vote2: %v", err)
	}
	drainAllOnce(links, routeFns)

	// Force the Voting->Completed transition the way Maintenance's timeout
	// path would, without needing a real ElectionTimeoutMS sleep.
	e0.mu.Lock()
	rec := e0.elections[id]
	rec.StartedAt = Timestamp(int64(NowTimestamp()) - cfg.ElectionTimeoutMS - 1)
	e0.mu.Unlock()
	e0.Maintenance()
	drainAllOnce(links, routeFns)

	nexus, ok := e1.CurrentNexus("r")
	if !ok || nexus != n1 {
		t.Fatalf("expected n1 as nexus on e1, got %s ok=%v", nexus, ok)
	}
	nexus, ok = e2.CurrentNexus("r")
	if !ok || nexus != n1 {
		t.Fatalf("expected n1 as nexus on e2, got %s ok=%v", nexus, ok)
	}
	if e1.CurrentRole() != RoleNexus {
		t.Fatalf("expected n1 to see itself as nexus, got role %d", e1.CurrentRole())
	}
}

func TestElectionIneligibleCandidateExcluded(t *testing.T) {
	n0 := sampleNodeID(0x20)
	cfg := DefaultBridgeConfig()
	e0 := NewDistributedElection(n0, &recordingPublisher{}, cfg, nil, nil)
	e0.UpdateMetrics(eligibleMetrics(0.80, 0.90)) // below eligibleUptime

	id, err := e0.TriggerElection("r")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// An ineligible caller's own candidacy submission is rejected outright,
	// not merely excluded later at winner computation.
	err = e0.SubmitCandidacy(id, eligibleMetrics(0.80, 0.90))
	ee, ok := err.(*ElectionError)
	if !ok || ee.Reason != ElectionReasonIneligible {
		t.Fatalf("expected ElectionReasonIneligible, got %#v", err)
	}

	e0.mu.Lock()
	rec := e0.elections[id]
	if len(rec.Candidates) != 0 {
		t.Fatalf("rejected candidacy must not be recorded, got %+v", rec.Candidates)
	}
	if rec.State != ElectionAnnounced {
		t.Fatalf("expected election to remain Announced, got state %d", rec.State)
	}
	// No eligible candidacy ever arrived, so the fast candidacy-window
	// path resolves this, not the slower election-timeout path.
	rec.StartedAt = Timestamp(int64(NowTimestamp()) - cfg.CandidacyWindowMS - 1)
	e0.mu.Unlock()
	e0.Maintenance()

	if _, ok := e0.CurrentNexus("r"); ok {
		t.Fatalf("expected no nexus to emerge from a rejected ineligible candidacy")
	}
	if e0.CurrentRole() != RoleLeaf {
		t.Fatalf("expected RoleLeaf for the excluded candidate, got %d", e0.CurrentRole())
	}
}

func TestElectionSubmitCandidacyUnknownElection(t *testing.T) {
	n0 := sampleNodeID(0x21)
	cfg := DefaultBridgeConfig()
	e0 := NewDistributedElection(n0, &recordingPublisher{}, cfg, nil, nil)

	err := e0.SubmitCandidacy(ElectionID(999), eligibleMetrics(0.99, 0.95))
	ee, ok := err.(*ElectionError)
	if !ok || ee.Reason != ElectionReasonUnknownElection {
		t.Fatalf("expected ElectionReasonUnknownElection, got %#v", err)
	}
}

func TestElectionVoteForCandidateUnknownElection(t *testing.T) {
	n0 := sampleNodeID(0x22)
	cfg := DefaultBridgeConfig()
	e0 := NewDistributedElection(n0, &recordingPublisher{}, cfg, nil, nil)

	err := e0.VoteForCandidate(ElectionID(999), n0)
	ee, ok := err.(*ElectionError)
	if !ok || ee.Reason != ElectionReasonUnknownElection {
		t.Fatalf("expected ElectionReasonUnknownElection, got %#v", err)
	}
}

func TestElectionAnnouncedTimesOutWithoutCandidacy(t *testing.T) {
	net := NewInProcessNetwork()
	n0 := sampleNodeID(0x30)
	l0 := net.AddNode(n0)
	cfg := DefaultBridgeConfig()
	e0 := NewDistributedElection(n0, l0, cfg, nil, nil)
	// Leave localMetrics at its zero value (ineligible), so TriggerElection
	// never submits a candidacy and the election stays Announced.

	id, err := e0.TriggerElection("r")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	e0.mu.Lock()
	rec := e0.elections[id]
	rec.StartedAt = Timestamp(int64(NowTimestamp()) - cfg.CandidacyWindowMS - 1)
	e0.mu.Unlock()
	e0.Maintenance()

	if _, ok := e0.CurrentNexus("r"); ok {
		t.Fatalf("expected no nexus from a candidacy-window timeout")
	}
}

func TestElectionOnResultFirstWins(t *testing.T) {
	n0 := sampleNodeID(0x40)
	cfg := DefaultBridgeConfig()
	e0 := NewDistributedElection(n0, &recordingPublisher{}, cfg, nil, nil)

	id, err := e0.TriggerElection("r")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	winner1 := sampleNodeID(0x41)
	winner2 := sampleNodeID(0x42)
	e0.OnResult(Result{ID: id, Region: "r", Winner: &winner1, VoteCount: 3, Source: n0, Timestamp: NowTimestamp()})
	e0.OnResult(Result{ID: id, Region: "r", Winner: &winner2, VoteCount: 9, Source: n0, Timestamp: NowTimestamp()})

	nexus, ok := e0.CurrentNexus("r")
	if !ok || nexus != winner1 {
		t.Fatalf("expected first Result (%s) to win, got %s ok=%v", winner1, nexus, ok)
	}
}
