//go:build !testhook

package core

// NoopPartitionHook is the production PartitionHook: it blocks nothing
// and is inert regardless of how it is constructed. This file is compiled
// whenever the testhook build tag is absent.
type NoopPartitionHook struct{}

// Blocked always reports false in production builds.
func (NoopPartitionHook) Blocked(NodeID) bool { return false }
