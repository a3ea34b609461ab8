// Package balancer implements the load balancer and failover
// contracts (component J): a pluggable strategy consulted before every
// physical send, including retries, plus the failover policy that
// decides whether and how to retry a failed send.
package balancer

import (
	"context"
	"hash/fnv"

	"github.com/hekate-project/hekate/internal/topology"
)

// Request is the minimal shape a LoadBalancer needs to pick a target:
// an optional affinity key and the set of candidate nodes.
type Request struct {
	AffinityKey string
	Candidates  []topology.Node
}

// LoadBalancer picks one candidate node to send to. It is consulted
// for the initial send and again for every failover retry, so it must
// be safe to call repeatedly with the same Request. It need not return
// a different node each time (RendezvousAffinity returns the same node
// for the same key and candidates); excluding previously failed
// targets is not the balancer's job.
type LoadBalancer interface {
	Pick(ctx context.Context, req Request) (topology.Node, bool)
}

// RoundRobin cycles through candidates in the order given,
// independent of affinity key. Not safe for concurrent use without
// external synchronization; callers typically own one instance per
// channel, matching spec.md §4.G's per-channel pooling.
type RoundRobin struct {
	next int
}

func (b *RoundRobin) Pick(_ context.Context, req Request) (topology.Node, bool) {
	if len(req.Candidates) == 0 {
		return topology.Node{}, false
	}
	n := req.Candidates[b.next%len(req.Candidates)]
	b.next++
	return n, true
}

// RendezvousAffinity deterministically maps an affinity key to one of
// the candidates using highest-random-weight (rendezvous) hashing: the
// same key always picks the same node for a given candidate set, and
// only a small fraction of keys move when the candidate set changes
// (the same minimal-remap property internal/lock's consistent-hash
// ring gives the lock manager, implemented here as a plain function
// since pulling in a ring library for a single per-send pick would be
// disproportionate — see DESIGN.md).
type RendezvousAffinity struct{}

func (RendezvousAffinity) Pick(_ context.Context, req Request) (topology.Node, bool) {
	if len(req.Candidates) == 0 {
		return topology.Node{}, false
	}
	if req.AffinityKey == "" {
		return req.Candidates[0], true
	}

	var best topology.Node
	var bestScore uint64
	found := false

	for _, n := range req.Candidates {
		score := rendezvousScore(req.AffinityKey, n.ID)
		if !found || score > bestScore {
			best = n
			bestScore = score
			found = true
		}
	}
	return best, found
}

func rendezvousScore(key, nodeID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(nodeID))
	return h.Sum64()
}
