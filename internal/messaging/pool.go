package messaging

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/transport"
)

// Dialer opens a new transport connection to addr, delivering
// received frames to handler. Supplied by the cluster façade so this
// package does not need to know how node addresses map to dial
// targets beyond the string itself.
type Dialer func(ctx context.Context, addr string, handler transport.Handler) (*transport.Client, error)

// pooledConnection is one socket in a per-node pool, with the affinity
// slot it was assigned so callers can keep routing the same affinity
// key to the same physical connection (and, via the channel's worker
// pool, the same goroutine) for as long as the connection is alive.
type pooledConnection struct {
	client *transport.Client
	slot   int
}

// connectionPool holds, per remote node, up to poolSize live
// connections. Selection by affinity key picks a stable slot via
// hash(affinity) mod poolSize, matching spec.md §4.G's "affinity-key
// hashing to a stable pooled connection" and the per-key ordering
// guarantee carried through to the worker pool (see worker.go).
type connectionPool struct {
	dial     Dialer
	handler  transport.Handler
	poolSize int
	log      zerolog.Logger

	mu     sync.Mutex
	byNode map[string][]*pooledConnection
}

// newConnectionPool returns a pool whose connections are all dialed
// with the same handler: the Gateway's own dispatcher, which decodes
// the envelope's channel name and routes to whichever Channel is
// registered for it. One pool (and one handler) is shared by every
// channel on a Gateway, since sharing physical connections across
// channels is the entire point of pooling.
func newConnectionPool(dial Dialer, handler transport.Handler, poolSize int, log zerolog.Logger) *connectionPool {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &connectionPool{
		dial:     dial,
		handler:  handler,
		poolSize: poolSize,
		log:      log.With().Str("component", "messaging-pool").Logger(),
		byNode:   make(map[string][]*pooledConnection),
	}
}

// Get returns the pooled connection for (nodeAddr, affinityKey),
// dialing lazily if the slot has no live connection yet.
func (p *connectionPool) Get(ctx context.Context, nodeID, nodeAddr, affinityKey string) (*pooledConnection, error) {
	slot := slotFor(affinityKey, p.poolSize)

	p.mu.Lock()
	conns, ok := p.byNode[nodeID]
	if !ok {
		conns = make([]*pooledConnection, p.poolSize)
		p.byNode[nodeID] = conns
	}
	existing := conns[slot]
	p.mu.Unlock()

	if existing != nil {
		return existing, nil
	}

	client, err := p.dial(ctx, nodeAddr, p.handler)
	if err != nil {
		return nil, fmt.Errorf("messaging: dial %s: %w", nodeAddr, err)
	}

	pc := &pooledConnection{client: client, slot: slot}

	p.mu.Lock()
	// Another goroutine may have raced us; prefer whichever connection
	// is already installed and close ours if so.
	if p.byNode[nodeID][slot] != nil {
		winner := p.byNode[nodeID][slot]
		p.mu.Unlock()
		client.Disconnect()
		return winner, nil
	}
	p.byNode[nodeID][slot] = pc
	p.mu.Unlock()

	return pc, nil
}

// Drop removes a connection from the pool, e.g. after it is observed
// closed, so the next Get redials.
func (p *connectionPool) Drop(nodeID string, client *transport.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns, ok := p.byNode[nodeID]
	if !ok {
		return
	}
	for i, c := range conns {
		if c != nil && c.client == client {
			conns[i] = nil
		}
	}
}

// RemoveNode drops every pooled connection for a node, e.g. once it
// leaves the cluster.
func (p *connectionPool) RemoveNode(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns := p.byNode[nodeID]
	delete(p.byNode, nodeID)
	for _, c := range conns {
		if c != nil {
			c.client.Disconnect()
		}
	}
}

// slotFor hashes an affinity key into [0, poolSize). An empty key
// always maps to slot 0 so unkeyed sends share one connection rather
// than spreading randomly.
func slotFor(affinityKey string, poolSize int) int {
	if affinityKey == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(affinityKey))
	return int(h.Sum32() % uint32(poolSize))
}
