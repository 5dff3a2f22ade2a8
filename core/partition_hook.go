//go:build testhook

package core

import "sync"

// TestPartitionHook is the test-only peer-block set (spec §4.6). Router
// drops blocked sources' inbound messages before decode. Bridge only
// hands the hook to Router: new connections are not checked against it,
// and existing connections to a newly blocked peer are not torn down.
type TestPartitionHook struct {
	mu      sync.RWMutex
	blocked map[NodeID]struct{}
}

// NewTestPartitionHook returns an empty hook: nothing is blocked until
// Block is called.
func NewTestPartitionHook() *TestPartitionHook {
	return &TestPartitionHook{blocked: make(map[NodeID]struct{})}
}

// Block adds peer to the block set.
func (h *TestPartitionHook) Block(peer NodeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocked[peer] = struct{}{}
}

// Unblock removes peer from the block set.
func (h *TestPartitionHook) Unblock(peer NodeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.blocked, peer)
}

// Blocked implements PartitionHook.
func (h *TestPartitionHook) Blocked(peer NodeID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.blocked[peer]
	return ok
}

var _ PartitionHook = (*TestPartitionHook)(nil)
