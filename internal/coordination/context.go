package coordination

import (
	"sort"
	"sync"

	"github.com/hekate-project/hekate/internal/topology"
)

// round is one coordination round's mutable state: the member set it
// was started against, who the coordinator is, and whatever the
// handler attaches via Context.SetAttachment.
type round struct {
	id          uint64
	coordinator string
	snapshot    topology.Snapshot
	members     []Member
	byID        map[string]Member

	mu         sync.Mutex
	done       bool
	cancelled  bool
	attachment any
}

func newRound(id uint64, coordinator string, snap topology.Snapshot) *round {
	members := make([]Member, 0, len(snap.Nodes))
	byID := make(map[string]Member, len(snap.Nodes))
	for _, n := range snap.Nodes {
		m := Member{ID: n.ID, Node: n}
		members = append(members, m)
		byID[n.ID] = m
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return &round{id: id, coordinator: coordinator, snapshot: snap, members: members, byID: byID}
}

func (r *round) isDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *round) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *round) markDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
}

func (r *round) markCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

func (r *round) getAttachment() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attachment
}

func (r *round) setAttachment(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachment = v
}

// Context is the per-round view a Handler acts through, a direct port
// of CoordinationContext.java's method surface.
type Context struct {
	proc *Process
	rnd  *round
}

// IsCoordinator reports whether the local node is this round's
// coordinator.
func (c *Context) IsCoordinator() bool { return c.rnd.coordinator == c.proc.self.ID }

// Coordinator returns this round's coordinator member.
func (c *Context) Coordinator() Member { return c.rnd.byID[c.rnd.coordinator] }

// Topology returns the cluster topology this round was started
// against.
func (c *Context) Topology() topology.Snapshot { return c.rnd.snapshot }

// IsDone reports whether this round has completed or been cancelled.
func (c *Context) IsDone() bool { return c.rnd.isDone() || c.rnd.isCancelled() }

// IsCancelled reports whether this round was cancelled rather than
// completed.
func (c *Context) IsCancelled() bool { return c.rnd.isCancelled() }

// LocalMember returns the local node's member record.
func (c *Context) LocalMember() Member { return Member{ID: c.proc.self.ID, Node: c.proc.self} }

// Members returns every member of this round, ordered by id.
func (c *Context) Members() []Member { return c.rnd.members }

// Member returns the member with the given id, if any.
func (c *Context) Member(id string) (Member, bool) {
	m, ok := c.rnd.byID[id]
	return m, ok
}

// Size returns len(Members()).
func (c *Context) Size() int { return len(c.rnd.members) }

// Broadcast asynchronously sends request to every member (including
// the local node) and invokes callback, on this process's
// single-threaded executor, once every member has replied.
func (c *Context) Broadcast(request []byte, callback BroadcastCallback) {
	c.proc.broadcast(c.rnd, request, callback)
}

// Complete marks this round finished.
func (c *Context) Complete() { c.proc.complete(c.rnd) }

// Attachment returns the user object attached via SetAttachment, or
// nil.
func (c *Context) Attachment() any { return c.rnd.getAttachment() }

// SetAttachment attaches a user-defined object to this round.
func (c *Context) SetAttachment(v any) { c.rnd.setAttachment(v) }
