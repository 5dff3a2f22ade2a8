package core

import "testing"

// drainAllOnce delivers every queued message on every link, pass after
// pass, until a full pass delivers nothing, so scenario tests can drive
// several nodes linked through an InProcessNetwork to quiescence
// deterministically.
func drainAllOnce(links map[NodeID]*InProcessLink, route map[NodeID]func(topic string, from NodeID, data []byte)) {
	for {
		delivered := 0
		for id, link := range links {
			delivered += link.DrainAll(route[id])
		}
		if delivered == 0 {
			return
		}
	}
}

func TestCreditTransferThreeNodeTaxScenario(t *testing.T) {
	net := NewInProcessNetwork()
	a, b, c := sampleNodeID(0xA), sampleNodeID(0xB), sampleNodeID(0xC)
	linkA, linkB, linkC := net.AddNode(a), net.AddNode(b), net.AddNode(c)

	cfg := DefaultBridgeConfig()
	cfg.InitialNodeCredits = 1000
	syncA := NewCreditSynchronizer(a, linkA, cfg, nil, nil)
	syncB := NewCreditSynchronizer(b, linkB, cfg, nil, nil)
	syncC := NewCreditSynchronizer(c, linkC, cfg, nil, nil)

	// All three nodes start at a commonly-known genesis balance (spec
	// scenario 1): seed each node's view of the other two accounts the
	// way a shared genesis allocation would, since the MVP ledger has no
	// other path for a node to learn a peer's starting balance.
	for _, acct := range []AccountID{NewAccountID(a), NewAccountID(b), NewAccountID(c)} {
		syncA.SeedAccount(acct, Credits(cfg.InitialNodeCredits))
		syncB.SeedAccount(acct, Credits(cfg.InitialNodeCredits))
		syncC.SeedAccount(acct, Credits(cfg.InitialNodeCredits))
	}

	routers := map[NodeID]*Router{
		a: NewRouter(nil, nil, syncA, nil, nil, nil, nil),
		b: NewRouter(nil, nil, syncB, nil, nil, nil, nil),
		c: NewRouter(nil, nil, syncC, nil, nil, nil, nil),
	}
	links := map[NodeID]*InProcessLink{a: linkA, b: linkB, c: linkC}
	routeFns := map[NodeID]func(string, NodeID, []byte){
		a: routers[a].Route, b: routers[b].Route, c: routers[c].Route,
	}

	if _, err := syncA.Transfer(b, 100); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	drainAllOnce(links, routeFns)

	if got := syncA.Balance(NewAccountID(a)); got != 898 {
		t.Fatalf("A balance = %d, want 898", got)
	}
	if got := syncB.Balance(NewAccountID(b)); got != 1100 {
		t.Fatalf("B balance = %d, want 1100", got)
	}
	if got := syncC.Balance(NewAccountID(c)); got != 1000 {
		t.Fatalf("C balance = %d, want 1000", got)
	}
	if got := syncA.EntropyPool(); got != 2 {
		t.Fatalf("A entropy pool = %d, want 2", got)
	}
}

func TestCreditSelfTransferRejected(t *testing.T) {
	net := NewInProcessNetwork()
	a := sampleNodeID(0xA)
	link := net.AddNode(a)
	cfg := DefaultBridgeConfig()
	sync := NewCreditSynchronizer(a, link, cfg, nil, nil)

	_, err := sync.Transfer(a, 50)
	if err == nil {
		t.Fatalf("expected self-transfer error")
	}
	te, ok := err.(*TransferError)
	if !ok || te.Reason != TransferReasonSelfTransfer {
		t.Fatalf("expected TransferReasonSelfTransfer, got %#v", err)
	}
	if got := sync.Balance(NewAccountID(a)); got != 1000 {
		t.Fatalf("balance changed on rejected self-transfer: got %d", got)
	}
}

func TestCreditInsufficientBalanceRejectedPurely(t *testing.T) {
	net := NewInProcessNetwork()
	a, b := sampleNodeID(0xA), sampleNodeID(0xB)
	link := net.AddNode(a)
	net.AddNode(b)
	cfg := DefaultBridgeConfig()
	cfg.InitialNodeCredits = 10
	sync := NewCreditSynchronizer(a, link, cfg, nil, nil)

	_, err := sync.Transfer(b, 1000)
	if err == nil {
		t.Fatalf("expected insufficient balance error")
	}
	te, ok := err.(*TransferError)
	if !ok || te.Reason != TransferReasonInsufficientBalance {
		t.Fatalf("expected TransferReasonInsufficientBalance, got %#v", err)
	}
	if got := sync.Balance(NewAccountID(a)); got != 10 {
		t.Fatalf("balance changed on rejected transfer: got %d", got)
	}
	if got := sync.EntropyPool(); got != 0 {
		t.Fatalf("entropy pool changed on rejected transfer: got %d", got)
	}
}

func TestCreditReplayIdempotent(t *testing.T) {
	a, b := sampleNodeID(0xA), sampleNodeID(0xB)
	cfg := DefaultBridgeConfig()
	cfg.InitialNodeCredits = 1000
	syncB := NewCreditSynchronizer(b, &recordingPublisher{}, cfg, nil, nil)
	syncB.SeedAccount(NewAccountID(a), Credits(cfg.InitialNodeCredits))

	msg := CreditTransfer{From: NewAccountID(a), To: NewAccountID(b), Amount: 100, Tax: 2, Nonce: 1, Source: a, Timestamp: NowTimestamp()}
	syncB.OnTransfer(msg)
	first := syncB.Balance(NewAccountID(b))

	for i := 0; i < 3; i++ {
		syncB.OnTransfer(msg)
	}
	second := syncB.Balance(NewAccountID(b))
	if first != second {
		t.Fatalf("replay changed balance: first=%d, second=%d", first, second)
	}
}

func TestCreditOnTransferIgnoresOwnEcho(t *testing.T) {
	a, b := sampleNodeID(0xA), sampleNodeID(0xB)
	cfg := DefaultBridgeConfig()
	syncA := NewCreditSynchronizer(a, &recordingPublisher{}, cfg, nil, nil)

	before := syncA.Balance(NewAccountID(a))
	msg := CreditTransfer{From: NewAccountID(a), To: NewAccountID(b), Amount: 50, Tax: 1, Nonce: 99, Source: a, Timestamp: NowTimestamp()}
	syncA.OnTransfer(msg)
	after := syncA.Balance(NewAccountID(a))
	if before != after {
		t.Fatalf("own-echoed transfer must be dropped: before=%d after=%d", before, after)
	}
}

func TestCreditBalanceQueryRoundTrip(t *testing.T) {
	net := NewInProcessNetwork()
	a, b := sampleNodeID(0xA), sampleNodeID(0xB)
	linkA, linkB := net.AddNode(a), net.AddNode(b)
	cfg := DefaultBridgeConfig()
	syncA := NewCreditSynchronizer(a, linkA, cfg, nil, nil)
	syncB := NewCreditSynchronizer(b, linkB, cfg, nil, nil)

	routeA := NewRouter(nil, nil, syncA, nil, nil, nil, nil).Route
	routeB := NewRouter(nil, nil, syncB, nil, nil, nil, nil).Route
	links := map[NodeID]*InProcessLink{a: linkA, b: linkB}
	routeFns := map[NodeID]func(string, NodeID, []byte){a: routeA, b: routeB}

	reqID, err := syncA.QueryBalance(b)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	drainAllOnce(links, routeFns)

	resp, ok := syncA.Response(reqID)
	if !ok {
		t.Fatalf("expected a response to be observed")
	}
	if resp.Balance != Credits(cfg.InitialNodeCredits) {
		t.Fatalf("response balance = %d, want %d", resp.Balance, cfg.InitialNodeCredits)
	}
}
