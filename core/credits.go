package core

import (
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// pairKey identifies the ordered (from, to) pair a replay-nonce set is
// scoped to (spec §4.3, invariant 5).
type pairKey struct {
	From NodeID
	To   NodeID
}

// CreditSynchronizer is the local credit ledger plus outbound/inbound
// transfer application (spec §4.3). Balances are owned exclusively by
// this subsystem, mirroring the teacher's ledger.go mutex discipline
// minus its WAL/snapshot persistence, which is an external collaborator
// here (spec §6).
type CreditSynchronizer struct {
	mu          sync.Mutex
	balances    map[AccountID]Credits
	entropyPool Credits
	nextNonce   uint64
	replaySets  map[pairKey]*lru.Cache[uint64, struct{}]

	responsesMu sync.RWMutex
	responses   map[[16]byte]BalanceResponse

	self    NodeID
	pub     Publisher
	cfg     BridgeConfig
	logger  *logrus.Logger
	metrics *BridgeMetrics
}

// NewCreditSynchronizer seeds the local node's account at
// cfg.InitialNodeCredits (spec §3).
func NewCreditSynchronizer(self NodeID, pub Publisher, cfg BridgeConfig, lg *logrus.Logger, m *BridgeMetrics) *CreditSynchronizer {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	c := &CreditSynchronizer{
		balances:   make(map[AccountID]Credits),
		replaySets: make(map[pairKey]*lru.Cache[uint64, struct{}]),
		responses:  make(map[[16]byte]BalanceResponse),
		self:       self,
		pub:        pub,
		cfg:        cfg,
		logger:     lg,
		metrics:    m,
	}
	c.balances[NewAccountID(self)] = Credits(cfg.InitialNodeCredits)
	return c
}

// entropyTax computes ceil(amount * rate) deterministically.
func entropyTax(amount Credits, rate float64) Credits {
	if amount == 0 {
		return 0
	}
	return Credits(math.Ceil(float64(amount) * rate))
}

// SeedAccount sets account's balance directly, bypassing transfer
// accounting. Like the teacher's Ledger.MintBig, it exists for genesis
// bootstrap (every participant starting from a commonly-known balance)
// and test fixtures, never for runtime transfer application.
func (c *CreditSynchronizer) SeedAccount(account AccountID, balance Credits) {
	c.mu.Lock()
	c.balances[account] = balance
	c.mu.Unlock()
}

// Balance returns account's balance, defaulting to zero (spec §4.3).
func (c *CreditSynchronizer) Balance(account AccountID) Credits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[account]
}

// EntropyPool returns the accumulated entropy (revival) pool. Per §9 OQ1,
// this is accumulate-only; no redistribution is implemented.
func (c *CreditSynchronizer) EntropyPool() Credits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entropyPool
}

// Transfer moves amount credits from the local node to target, taxed at
// cfg.EntropyTaxRate (spec §4.3).
func (c *CreditSynchronizer) Transfer(target NodeID, amount Credits) (CreditTransfer, error) {
	if target == c.self {
		return CreditTransfer{}, &TransferError{Reason: TransferReasonSelfTransfer}
	}

	tax := entropyTax(amount, c.cfg.EntropyTaxRate)
	need := amount.SatAdd(tax)

	fromAcct := NewAccountID(c.self)
	toAcct := NewAccountID(target)

	c.mu.Lock()
	have := c.balances[fromAcct]
	if have < need {
		c.mu.Unlock()
		return CreditTransfer{}, &TransferError{Reason: TransferReasonInsufficientBalance, Have: have, Need: need}
	}
	c.balances[fromAcct] = have.SatSub(need)
	c.balances[toAcct] = c.balances[toAcct].SatAdd(amount)
	c.entropyPool = c.entropyPool.SatAdd(tax)
	nonce := c.nextNonce
	c.nextNonce++
	c.mu.Unlock()

	c.metrics.incTransferLocal()

	record := CreditTransfer{
		From:      fromAcct,
		To:        toAcct,
		Amount:    amount,
		Tax:       tax,
		Nonce:     nonce,
		Source:    c.self,
		Timestamp: NowTimestamp(),
	}
	payload, err := encodeCreditTransfer(record)
	if err != nil {
		return record, &PublishError{Topic: TopicCredits, Cause: err}
	}
	if err := c.pub.Publish(TopicCredits, payload); err != nil {
		return record, &PublishError{Topic: TopicCredits, Cause: err}
	}
	return record, nil
}

func (c *CreditSynchronizer) replaySetFor(pk pairKey) *lru.Cache[uint64, struct{}] {
	if cache, ok := c.replaySets[pk]; ok {
		return cache
	}
	size := c.cfg.ReplayWindow
	if size <= 0 {
		size = 10_000
	}
	cache, _ := lru.New[uint64, struct{}](size)
	c.replaySets[pk] = cache
	return cache
}

// OnTransfer implements CreditHandler (spec §4.3).
func (c *CreditSynchronizer) OnTransfer(msg CreditTransfer) {
	if msg.From.Node == c.self {
		return
	}

	pk := pairKey{From: msg.From.Node, To: msg.To.Node}

	c.mu.Lock()
	defer c.mu.Unlock()

	cache := c.replaySetFor(pk)
	if _, seen := cache.Get(msg.Nonce); seen {
		c.metrics.incReplayDropped()
		return
	}

	need := msg.Amount.SatAdd(msg.Tax)
	have := c.balances[msg.From]
	if have < need {
		c.logger.Debugf("credits: dropping inbound transfer %d->%d, insufficient local view", msg.From.Node, msg.To.Node)
		return
	}

	c.balances[msg.From] = have.SatSub(need)
	c.balances[msg.To] = c.balances[msg.To].SatAdd(msg.Amount)
	c.entropyPool = c.entropyPool.SatAdd(msg.Tax)
	cache.Add(msg.Nonce, struct{}{})
	c.metrics.incTransferInboundApplied()
}

// QueryBalance publishes a BalanceQuery for target and returns the
// correlating request ID; the eventual response is observed via
// OnBalanceResponse and retrievable with Response.
func (c *CreditSynchronizer) QueryBalance(target NodeID) ([16]byte, error) {
	reqID := [16]byte(uuid.New())
	q := BalanceQuery{RequestID: reqID, Target: target, Source: c.self, Timestamp: NowTimestamp()}
	payload, err := encodeBalanceQuery(q)
	if err != nil {
		return reqID, &PublishError{Topic: TopicCredits, Cause: err}
	}
	if err := c.pub.Publish(TopicCredits, payload); err != nil {
		return reqID, &PublishError{Topic: TopicCredits, Cause: err}
	}
	return reqID, nil
}

// OnBalanceQuery implements CreditHandler: if this node is the target,
// publish a BalanceResponse.
func (c *CreditSynchronizer) OnBalanceQuery(q BalanceQuery) {
	if q.Target != c.self {
		return
	}
	bal := c.Balance(NewAccountID(c.self))
	resp := BalanceResponse{RequestID: q.RequestID, Balance: bal, AsOf: NowTimestamp(), Source: c.self, Timestamp: NowTimestamp()}
	payload, err := encodeBalanceResponse(resp)
	if err != nil {
		c.logger.Warnf("credits: encode balance response: %v", err)
		return
	}
	if err := c.pub.Publish(TopicCredits, payload); err != nil {
		c.logger.Warnf("credits: publish balance response: %v", err)
	}
}

// OnBalanceResponse implements CreditHandler: stores the response for
// Response to retrieve.
func (c *CreditSynchronizer) OnBalanceResponse(resp BalanceResponse) {
	c.responsesMu.Lock()
	defer c.responsesMu.Unlock()
	c.responses[resp.RequestID] = resp
}

// Response returns the BalanceResponse for requestID if one has arrived.
func (c *CreditSynchronizer) Response(requestID [16]byte) (BalanceResponse, bool) {
	c.responsesMu.RLock()
	defer c.responsesMu.RUnlock()
	r, ok := c.responses[requestID]
	return r, ok
}

var _ CreditHandler = (*CreditSynchronizer)(nil)
