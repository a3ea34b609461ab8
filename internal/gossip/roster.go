package gossip

import (
	"sync"
)

// Roster is the local gossip engine's membership table: one Entry per
// node it has ever heard of, merged from incoming rumors using the
// rank/version rule of spec.md §4.D. Safe for concurrent use.
type Roster struct {
	mu      sync.RWMutex
	entries map[NodeID]*Entry
	// removedMax is the highest join order among entries dropped by Remove.
	removedMax uint64
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{entries: make(map[NodeID]*Entry)}
}

// Put inserts or replaces a node wholesale (used when a node is first
// observed, e.g. via a successful JOIN handshake).
func (r *Roster) Put(n Node, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[n.ID] = newEntry(n, status)
}

// Get returns a copy of the entry for id, if known.
func (r *Roster) Get(id NodeID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// MaxJoinOrder returns the highest join order recorded among every
// node this roster has ever held an entry for, regardless of its
// current status — a node's join order must never be reused even
// after it leaves or fails.
func (r *Roster) MaxJoinOrder() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := r.removedMax
	for _, e := range r.entries {
		if e.Node.JoinOrder > max {
			max = e.Node.JoinOrder
		}
	}
	return max
}

// PutJoining inserts n into the roster as StatusJoining, assigning it
// the join order one past the highest this roster has ever recorded,
// and returns the order assigned. The read of the current max and the
// insert happen under one lock so two join requests handled
// concurrently by the same engine never hand out the same order.
func (r *Roster) PutJoining(n Node) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := r.removedMax
	for _, e := range r.entries {
		if e.Node.JoinOrder > max {
			max = e.Node.JoinOrder
		}
	}
	order := max + 1
	n.JoinOrder = order
	r.entries[n.ID] = newEntry(n, StatusJoining)
	return order
}

// Digests returns the compact digest of every known node, used as the
// first phase of a gossip round.
func (r *Roster) Digests() []Digest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Digest, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.digest())
	}
	return out
}

// Snapshot returns a copy of every entry currently known.
func (r *Roster) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

// MergeResult reports what a Merge call decided.
type MergeResult int

const (
	MergeIgnored  MergeResult = iota // remote digest was stale, nothing changed
	MergeAccepted                    // remote info was newer and is now authoritative
	MergeNeedFull                    // remote digest is newer than ours but we only have the summary; request the full entry
)

// MergeDigest compares an incoming digest against the local entry for
// the same node and decides whether it supersedes what we have, per
// the "highest version wins; ties broken by status rank" rule of
// spec.md §4.D.
func (r *Roster) MergeDigest(d Digest) MergeResult {
	r.mu.RLock()
	local, ok := r.entries[d.ID]
	r.mu.RUnlock()

	if !ok {
		return MergeNeedFull
	}
	if isNewer(d.Version, d.Status, local.Version, local.Status) {
		return MergeNeedFull
	}
	return MergeIgnored
}

// MergeEntry installs a full incoming entry if it supersedes the
// local one, returning whether it was accepted.
func (r *Roster) MergeEntry(n Node, status Status, version uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	local, ok := r.entries[n.ID]
	if !ok {
		e := newEntry(n, status)
		e.Version = version
		r.entries[n.ID] = e
		return true
	}

	if !isNewer(version, status, local.Version, local.Status) {
		return false
	}

	local.Node = n
	local.Status = status
	local.Version = version
	return true
}

// isNewer implements spec.md §4.D's rumor merge rule: highest version
// wins; on a version tie, higher status rank wins (FAILED beats DOWN
// beats LEAVING beats UP beats JOINING).
func isNewer(newVersion uint64, newStatus Status, oldVersion uint64, oldStatus Status) bool {
	if newVersion != oldVersion {
		return newVersion > oldVersion
	}
	return newStatus.rank() > oldStatus.rank()
}

// Need filters digests down to the ones this roster wants in full,
// per MergeDigest, returning bare ID-only digests (status/version are
// irrelevant to the requester).
func (r *Roster) Need(digests []Digest) []Digest {
	out := make([]Digest, 0, len(digests))
	for _, d := range digests {
		if r.MergeDigest(d) == MergeNeedFull {
			out = append(out, Digest{ID: d.ID})
		}
	}
	return out
}

// StaleFor returns the full entries this roster holds that are newer
// than (or entirely absent from) the sender's digests -- the reply
// half of a digest exchange, before the sender asks for anything in
// return.
func (r *Roster) StaleFor(digests []Digest) []Entry {
	known := make(map[NodeID]Digest, len(digests))
	for _, d := range digests {
		known[d.ID] = d
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0)
	for id, e := range r.entries {
		d, ok := known[id]
		if !ok || isNewer(e.Version, e.Status, d.Version, d.Status) {
			out = append(out, *e)
		}
	}
	return out
}

// Suspect adds accuser to the suspicion set of target, returning the
// resulting suspicion count.
func (r *Roster) Suspect(target, accuser NodeID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[target]
	if !ok {
		return 0
	}
	e.Suspicions[accuser] = struct{}{}
	return len(e.Suspicions)
}

// ClearSuspicion removes every recorded suspicion against target,
// e.g. after it is observed alive again.
func (r *Roster) ClearSuspicion(target NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[target]; ok {
		e.Suspicions = make(map[NodeID]struct{})
	}
}

// SetStatus forcibly advances target's status and bumps its version,
// used by the local engine when it directly observes a transition
// (e.g. marking itself LEAVING, or a peer FAILED once quorum is
// reached).
func (r *Roster) SetStatus(target NodeID, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[target]; ok {
		e.Status = status
		e.Version++
	}
}

// Remove drops a node from the roster entirely, e.g. after a clean
// LEAVE handshake completes.
func (r *Roster) Remove(id NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok && e.Node.JoinOrder > r.removedMax {
		r.removedMax = e.Node.JoinOrder
	}
	delete(r.entries, id)
}

// CountByStatus returns how many known nodes currently have status s.
func (r *Roster) CountByStatus(s Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.Status == s {
			n++
		}
	}
	return n
}
