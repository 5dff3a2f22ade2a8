package core

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// nodeRuntime holds a Node's context and cancel func outside the Node
// struct so common_structs.go can stay free of context imports; NewNode
// registers one per Node in nodeRuntimes, and ctx() and Close look it up
// there.
type nodeRuntime struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var nodeRuntimes = struct {
	m map[*Node]*nodeRuntime
}{m: make(map[*Node]*nodeRuntime)}

// NodeIDFromPeerID derives a fixed-width NodeID from a libp2p peer.ID by
// hashing its string form, the same way the teacher derives its 32-byte
// Hash from a BlockHeader (core/replication.go's Block.Hash).
func NodeIDFromPeerID(pid peer.ID) NodeID {
	return sha256.Sum256([]byte(pid.String()))
}

// NewNode creates and bootstraps an ENR bridge P2P node.
func NewNode(cfg Config) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.Network.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[NodeID]*Peer),
		self:   NodeIDFromPeerID(h.ID()),
		cfg:    cfg,
	}
	nodeRuntimes.m[n] = &nodeRuntime{ctx: ctx, cancel: cancel}

	natMgr, err := NewNATManager()
	if err == nil {
		if port, perr := parsePort(cfg.Network.ListenAddr); perr == nil {
			if merr := natMgr.Map(port); merr != nil {
				logrus.Warnf("NAT map failed: %v", merr)
			}
		}
		n.nat = natMgr
	} else {
		logrus.Warnf("NAT discovery failed: %v", err)
	}

	if err := n.DialSeed(cfg.Network.BootstrapPeers); err != nil {
		logrus.Warnf("DialSeed warning: %v", err)
	}

	mdns.NewMdnsService(h, cfg.Network.DiscoveryTag, n)

	return n, nil
}

func (n *Node) ctx() context.Context { return nodeRuntimes.m[n].ctx }

// Self returns this node's own NodeID.
func (n *Node) Self() NodeID { return n.self }

// Ensure Node implements mdns.Notifee
var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to discovered peer.
// It ignores self-connections and avoids duplicating existing peers.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}

	id := NodeIDFromPeerID(info.ID)
	n.peerLock.RLock()
	_, exists := n.peers[id]
	n.peerLock.RUnlock()
	if exists {
		return
	}

	if err := n.host.Connect(n.ctx(), info); err != nil {
		logrus.Warnf("failed to connect to discovered peer %s: %v", info.ID.String(), err)
		return
	}

	n.peerLock.Lock()
	n.peers[id] = &Peer{ID: id, Addr: info.String()}
	n.peerLock.Unlock()
	logrus.Infof("connected to peer %s via mDNS", info.ID.String())
}

// DialSeed connects to a list of bootstrap peers.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx(), *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		id := NodeIDFromPeerID(pi.ID)
		n.peerLock.Lock()
		n.peers[id] = &Peer{ID: id, Addr: addr}
		n.peerLock.Unlock()
		logrus.Infof("bootstrapped to %s", addr)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Publish implements Publisher by joining (if necessary) and publishing on
// the given GossipSub topic.
func (n *Node) Publish(topic string, data []byte) error {
	n.topicLock.Lock()
	t, ok := n.topics[topic]
	if !ok {
		var err error
		t, err = n.pubsub.Join(topic)
		if err != nil {
			n.topicLock.Unlock()
			return fmt.Errorf("join topic %s: %w", topic, err)
		}
		n.topics[topic] = t
	}
	n.topicLock.Unlock()
	if err := t.Publish(n.ctx(), data); err != nil {
		return fmt.Errorf("publish topic %s: %w", topic, err)
	}
	return nil
}

var _ Publisher = (*Node)(nil)

// Subscribe listens for messages on a topic, excluding this node's own
// publishes: GossipSub hands locally published messages to local
// subscriptions too, so the forwarding loop skips messages authored by
// this host (spec §6's overlay requirement).
func (n *Node) Subscribe(topic string) (<-chan Message, error) {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		var err error
		sub, err = n.pubsub.Subscribe(topic)
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()
	out := make(chan Message)
	go func() {
		for {
			msg, err := sub.Next(n.ctx())
			if err != nil {
				logrus.Warnf("subscription next error: %v", err)
				close(out)
				return
			}
			if msg.GetFrom() == n.host.ID() {
				continue
			}
			out <- Message{From: NodeIDFromPeerID(msg.GetFrom()), Topic: topic, Data: msg.Data}
		}
	}()
	return out, nil
}

// ListenAndServe blocks until context cancellation (serve as a long-lived
// process).
func (n *Node) ListenAndServe() {
	<-n.ctx().Done()
	logrus.Info("bridge node shutting down")
}

// Close tears down the node, closing host and context.
func (n *Node) Close() error {
	rt := nodeRuntimes.m[n]
	rt.cancel()
	delete(nodeRuntimes.m, n)
	if n.nat != nil {
		_ = n.nat.Unmap()
	}
	return n.host.Close()
}

// Peers returns the current peer list.
func (n *Node) Peers() []*Peer {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	list := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		list = append(list, p)
	}
	return list
}

// Dialer opens plain TCP connections to a remote address. Nothing in the
// bridge calls it; septal health probes travel over pub/sub instead.
type Dialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// NewDialer creates a new network dialer with given settings.
func NewDialer(timeout, keepAlive time.Duration) *Dialer {
	return &Dialer{Timeout: timeout, KeepAlive: keepAlive}
}

// Dial connects to a remote address and returns a net.Conn.
func (d *Dialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialer: failed to connect to %s: %w", address, err)
	}
	return conn, nil
}
