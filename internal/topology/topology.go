// Package topology implements the cluster view (component E): an
// immutable snapshot of cluster membership and a listener mechanism
// that replays a synthetic JOIN event to every new subscriber so it
// never misses the nodes that were already present.
package topology

import (
	"sort"
	"sync"
)

// NodeStatus mirrors the five values of gossip.Status. The full gossip
// state machine lives in internal/gossip; Oldest, Youngest and Up count
// only StatusUp nodes as current members.
type NodeStatus int

const (
	StatusJoining NodeStatus = iota
	StatusUp
	StatusLeaving
	StatusDown
	StatusFailed
)

// Node is the topology's view of one cluster member: identity plus
// enough metadata for load-balancing and lock/coordination ownership
// decisions.
type Node struct {
	ID         string
	Address    string
	JoinOrder  uint64
	Status     NodeStatus
	Roles      []string
	Properties map[string]string
}

// Snapshot is an immutable view of the cluster at a point in time.
// Every mutation to membership produces a new Snapshot rather than
// mutating one in place, so a holder of a Snapshot never observes a
// partial update.
type Snapshot struct {
	Version uint64
	Nodes   []Node
}

// Oldest returns the member with the lowest join order among Up
// nodes, the coordinator candidate per spec.md §4.I. ok is false if
// there are no Up members.
func (s Snapshot) Oldest() (Node, bool) {
	var oldest Node
	found := false
	for _, n := range s.Nodes {
		if n.Status != StatusUp {
			continue
		}
		if !found || n.JoinOrder < oldest.JoinOrder {
			oldest = n
			found = true
		}
	}
	return oldest, found
}

// Youngest returns the member with the highest join order among Up
// nodes.
func (s Snapshot) Youngest() (Node, bool) {
	var youngest Node
	found := false
	for _, n := range s.Nodes {
		if n.Status != StatusUp {
			continue
		}
		if !found || n.JoinOrder > youngest.JoinOrder {
			youngest = n
			found = true
		}
	}
	return youngest, found
}

// Up returns the Up members ordered by join order ascending.
func (s Snapshot) Up() []Node {
	out := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Status == StatusUp {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out
}

// Get returns the node with the given id, if present in the snapshot
// regardless of status.
func (s Snapshot) Get(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Filter returns the subset of the snapshot matching pred, as a new
// Snapshot sharing the same Version.
func (s Snapshot) Filter(pred func(Node) bool) Snapshot {
	out := Snapshot{Version: s.Version}
	for _, n := range s.Nodes {
		if pred(n) {
			out.Nodes = append(out.Nodes, n)
		}
	}
	return out
}

// View publishes Snapshots to registered listeners, one at a time, in
// a single dedicated goroutine so listener callbacks never run
// concurrently with each other (spec.md §5: "Cluster event dispatcher:
// single-threaded").
type View struct {
	mu        sync.Mutex
	current   Snapshot
	listeners []chan Snapshot
	closed    bool
}

// NewView returns a View seeded with an empty snapshot.
func NewView() *View {
	return &View{current: Snapshot{}}
}

// Current returns the most recently published snapshot.
func (v *View) Current() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Publish installs snap as the current snapshot and notifies every
// listener. Listeners are notified via a buffered, dedicated goroutine
// per listener so a slow listener cannot stall delivery to the others
// or block the publisher.
func (v *View) Publish(snap Snapshot) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.current = snap
	chans := make([]chan Snapshot, len(v.listeners))
	copy(chans, v.listeners)
	v.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- snap:
		default:
			// Listener channel full: drop this update. It is not
			// redelivered; the listener sees the next snapshot that
			// fits in its buffer, and Current() always reflects the
			// latest one.
		}
	}
}

// Listener receives published Snapshots in order, on its own
// goroutine. A snapshot published while the listener's 32-entry buffer
// is full is skipped for that listener.
type Listener func(Snapshot)

// Subscribe registers fn to be called with every future Snapshot,
// after first calling it once with the current snapshot so a new
// subscriber immediately sees every node already present (the
// "synthetic JOIN replay" of spec.md §4.E). Returns an unsubscribe
// function.
func (v *View) Subscribe(fn Listener) func() {
	ch := make(chan Snapshot, 32)

	v.mu.Lock()
	initial := v.current
	v.listeners = append(v.listeners, ch)
	v.mu.Unlock()

	done := make(chan struct{})
	go func() {
		fn(initial)
		for {
			select {
			case snap, ok := <-ch:
				if !ok {
					return
				}
				fn(snap)
			case <-done:
				return
			}
		}
	}()

	return func() {
		v.mu.Lock()
		for i, c := range v.listeners {
			if c == ch {
				v.listeners = append(v.listeners[:i], v.listeners[i+1:]...)
				break
			}
		}
		v.mu.Unlock()
		close(done)
	}
}

// Close stops accepting new publishes and releases listener channels.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	for _, ch := range v.listeners {
		close(ch)
	}
	v.listeners = nil
}

// Filtered returns a derived View that only ever observes snapshots
// narrowed by pred; useful for a messaging channel or lock region that
// only cares about nodes carrying a particular role or property.
func (v *View) Filtered(pred func(Node) bool) *View {
	derived := NewView()
	derived.current = v.current.Filter(pred)

	unsubscribe := v.Subscribe(func(snap Snapshot) {
		derived.Publish(snap.Filter(pred))
	})
	_ = unsubscribe // derived view lives as long as the parent in this module

	return derived
}

// FutureOf resolves once a snapshot satisfying pred is observed,
// matching spec.md §4.E's "future that resolves once a predicate holds
// (e.g. a specific node count)".
func (v *View) FutureOf(pred func(Snapshot) bool) <-chan Snapshot {
	result := make(chan Snapshot, 1)

	v.mu.Lock()
	if pred(v.current) {
		result <- v.current
		v.mu.Unlock()
		return result
	}
	v.mu.Unlock()

	var unsubscribe func()
	unsubscribe = v.Subscribe(func(snap Snapshot) {
		if !pred(snap) {
			return
		}
		select {
		case result <- snap:
		default:
		}
		if unsubscribe != nil {
			go unsubscribe()
		}
	})

	return result
}
