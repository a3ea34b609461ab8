// Package gossip implements the gossip engine (component D): digest
// exchange, rumor merging, suspicion and failure detection, and the
// JOIN/LEAVE handshakes that drive cluster membership.
//
// The merge/digest shape is grounded on the Cassandra-style gossip
// package in _examples/adamgarcia4-goLearning/cassandra/gossip (digest
// comparison, generation/version ordering); node-failure bookkeeping is
// ported from original_source's GossipNodeFailure.java.
package gossip

import (
	"time"

	"github.com/google/uuid"
)

// NodeID is a 128-bit node identity, generated fresh on every process
// start (spec.md §3: "never persisted, never reused"). A split-brain
// Rejoin keeps the id and is assigned a new join order.
type NodeID string

// NewNodeID returns a fresh random node identity.
func NewNodeID() NodeID {
	return NodeID(uuid.New().String())
}

// Status is the gossip-visible membership status of a node, merged
// across the cluster by rumor exchange. Ordered from spec.md §4.D:
// FAILED > DOWN > LEAVING > UP > JOINING when breaking version ties.
type Status int

const (
	StatusJoining Status = iota
	StatusUp
	StatusLeaving
	StatusDown
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusJoining:
		return "JOINING"
	case StatusUp:
		return "UP"
	case StatusLeaving:
		return "LEAVING"
	case StatusDown:
		return "DOWN"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// rank gives the tie-break ordering for equal-version rumors: higher
// rank wins. FAILED(4) > DOWN(3) > LEAVING(2) > UP(1) > JOINING(0).
func (s Status) rank() int {
	switch s {
	case StatusFailed:
		return 4
	case StatusDown:
		return 3
	case StatusLeaving:
		return 2
	case StatusUp:
		return 1
	case StatusJoining:
		return 0
	default:
		return -1
	}
}

// JoinPhase tracks a joining node's progress through the
// INITIALIZING -> JOINING -> SYNCHRONIZING -> UP sequence of spec.md
// §4.D. It is local bookkeeping for the node performing the join; only
// JOINING and UP (collapsed from SYNCHRONIZING) are visible to the rest
// of the cluster as a Status.
type JoinPhase int

const (
	PhaseInitializing JoinPhase = iota
	PhaseJoining
	PhaseSynchronizing
	PhaseUp
)

func (p JoinPhase) String() string {
	switch p {
	case PhaseInitializing:
		return "INITIALIZING"
	case PhaseJoining:
		return "JOINING"
	case PhaseSynchronizing:
		return "SYNCHRONIZING"
	case PhaseUp:
		return "UP"
	default:
		return "UNKNOWN"
	}
}

// Node is one cluster member as known to the gossip engine.
type Node struct {
	ID         NodeID
	Address    string
	JoinOrder  uint64
	Roles      []string
	Properties map[string]string
}

// Digest is the compact per-node summary exchanged in the first phase
// of a gossip round: enough to decide who has newer information
// without shipping the full node record (spec.md §3 "Gossip state").
type Digest struct {
	ID      NodeID
	Status  Status
	Version uint64
}

// Entry is the full per-node gossip record held locally: the digest
// plus the suspicion set used for failure detection.
type Entry struct {
	Node       Node
	Status     Status
	Version    uint64
	Suspicions map[NodeID]struct{}
	UpdatedAt  time.Time
}

func newEntry(n Node, status Status) *Entry {
	return &Entry{
		Node:       n,
		Status:     status,
		Version:    1,
		Suspicions: make(map[NodeID]struct{}),
		UpdatedAt:  time.Now(),
	}
}

// digest returns the compact summary of this entry.
func (e *Entry) digest() Digest {
	return Digest{ID: e.Node.ID, Status: e.Status, Version: e.Version}
}

// NodeFailure records when a node was last observed to transition to
// FAILED, ported from original_source's GossipNodeFailure: equality is
// on address only, matching the original's equals/hashCode.
type NodeFailure struct {
	Address   string
	Timestamp time.Time
}

func (f NodeFailure) Equal(other NodeFailure) bool {
	return f.Address == other.Address
}
