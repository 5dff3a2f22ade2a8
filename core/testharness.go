package core

import "sync"

// InProcessNetwork fans a published envelope out to every attached node,
// standing in for the overlay's pub/sub transport in tests. Adapted from
// swarm.go's multi-node bookkeeping: AddNode/Peers keep the same shape,
// repurposed around an in-memory Publisher instead of a live libp2p Node.
type InProcessNetwork struct {
	mu    sync.Mutex
	nodes map[NodeID]*InProcessLink
}

// NewInProcessNetwork returns an empty network.
func NewInProcessNetwork() *InProcessNetwork {
	return &InProcessNetwork{nodes: make(map[NodeID]*InProcessLink)}
}

type inProcessDelivery struct {
	topic string
	data  []byte
	from  NodeID
}

// InProcessLink is one node's view of an InProcessNetwork. It implements
// Publisher by fanning out to every attached node's inbox, itself
// included. Self-delivered frames pass Router's source check, so each
// local handler sees its own node's messages: CreditSynchronizer drops
// its own transfers, the election and septal handlers treat them as
// no-ops, and a GradientBroadcaster stores its own update like any other.
type InProcessLink struct {
	net   *InProcessNetwork
	self  NodeID
	inbox chan inProcessDelivery
}

// AddNode attaches id to the network and returns its link. The inbox is
// buffered; a test must drain it (via Deliver or DrainAll) or enough
// traffic will block publishers.
func (n *InProcessNetwork) AddNode(id NodeID) *InProcessLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	l := &InProcessLink{net: n, self: id, inbox: make(chan inProcessDelivery, 1024)}
	n.nodes[id] = l
	return l
}

// RemoveNode detaches id from the network.
func (n *InProcessNetwork) RemoveNode(id NodeID) {
	n.mu.Lock()
	delete(n.nodes, id)
	n.mu.Unlock()
}

// Peers returns the IDs of every node currently attached.
func (n *InProcessNetwork) Peers() []NodeID {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]NodeID, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Publish implements Publisher.
func (l *InProcessLink) Publish(topic string, data []byte) error {
	l.net.mu.Lock()
	targets := make([]*InProcessLink, 0, len(l.net.nodes))
	for _, other := range l.net.nodes {
		targets = append(targets, other)
	}
	l.net.mu.Unlock()
	for _, t := range targets {
		t.inbox <- inProcessDelivery{topic: topic, data: data, from: l.self}
	}
	return nil
}

// Deliver blocks for exactly one queued message and hands it to route.
// It reports false if the link's inbox was closed without a message.
func (l *InProcessLink) Deliver(route func(topic string, from NodeID, data []byte)) bool {
	d, ok := <-l.inbox
	if !ok {
		return false
	}
	route(d.topic, d.from, d.data)
	return true
}

// DrainAll delivers every message currently queued without blocking and
// returns the count delivered.
func (l *InProcessLink) DrainAll(route func(topic string, from NodeID, data []byte)) int {
	n := 0
	for {
		select {
		case d := <-l.inbox:
			route(d.topic, d.from, d.data)
			n++
		default:
			return n
		}
	}
}

var _ Publisher = (*InProcessLink)(nil)
