package lock

import (
	"context"
	"crypto/md5"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/topology"
)

// topologyHash digests a region's candidate member set into the
// comparison value spec.md §4.H's RETRY rule is built on: a requester
// and a manager disagree about who manages a name exactly when their
// topology hashes differ. Not grounded on a pack library: no example
// repo does membership-set hashing for this purpose, and crypto/md5 is
// used purely as a fast non-cryptographic digest (see DESIGN.md).
func topologyHash(nodes []topology.Node) [16]byte {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sort.Strings(ids)
	return md5.Sum([]byte(strings.Join(ids, ",")))
}

// Region is one partition's lock table and manager-resolution ring
// (spec.md §4.H: "a region is the unit of partitioning"). A node only
// keeps Lock entries in its table for the names the ring currently
// assigns to it; everything else is forwarded.
type Region struct {
	name string
	self topology.Node
	log  zerolog.Logger

	mu         sync.Mutex
	locks      map[string]*Lock
	nextLockID int64
	waiters    map[string][]chan struct{}
	members    map[string]topology.Node

	ring     *ring
	topoHash [16]byte

	migrating     bool
	migrationKey  *MigrationKey
	migSeq        uint64
	migrationDone chan struct{}
}

func newRegion(name string, self topology.Node, log zerolog.Logger) *Region {
	return &Region{
		name:          name,
		self:          self,
		log:           log.With().Str("region", name).Logger(),
		locks:         make(map[string]*Lock),
		waiters:       make(map[string][]chan struct{}),
		members:       make(map[string]topology.Node),
		migrationDone: closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// memberByID returns a candidate member's topology.Node as observed at
// the last topology update, for forwarding.
func (r *Region) memberByID(id string) (topology.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.members[id]
	return n, ok
}

// resolveManager returns the node id the ring currently names as
// manager for name, plus the topology hash that resolution was made
// against (carried in forwarded requests so the recipient can detect a
// stale view and answer RETRY).
func (r *Region) resolveManager(name string) (string, [16]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.ring.locate(name)
	return id, r.topoHash, ok
}

func (r *Region) Migrating() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.migrating
}

// awaitMigration blocks until the current migration round completes
// or the deadline passes, returning false on timeout.
func (r *Region) awaitMigration(ctx context.Context, timeout time.Duration) bool {
	r.mu.Lock()
	done := r.migrationDone
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

// onTopologyChange installs a freshly resolved candidate set and, if
// the member set actually changed, triggers migration evaluation.
func (r *Region) onTopologyChange(snap topology.Snapshot, onMigrate func(topology.Snapshot)) {
	r.mu.Lock()
	members := make(map[string]topology.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		members[n.ID] = n
	}
	newHash := topologyHash(snap.Nodes)
	changed := newHash != r.topoHash || len(members) != len(r.members)
	r.ring = newRing(snap.Nodes)
	r.topoHash = newHash
	r.members = members
	r.mu.Unlock()

	if changed && onMigrate != nil {
		onMigrate(snap)
	}
}

// tryLockLocal runs the actual lock acquisition, assuming the caller
// has already confirmed this node is the manager for name and no
// migration is in progress.
func (r *Region) tryLockLocal(name string, timeout time.Duration, threadID int64) LockResponse {
	deadline := time.Now().Add(timeout)

	for {
		r.mu.Lock()
		existing, held := r.locks[name]
		if !held {
			r.nextLockID++
			lk := &Lock{Region: r.name, Name: name, Owner: r.self.ID, LockID: r.nextLockID, ThreadID: threadID}
			r.locks[name] = lk
			r.mu.Unlock()
			return LockResponse{Status: StatusOK, Owner: lk.Owner, OwnerThread: lk.ThreadID, LockID: lk.LockID}
		}
		if existing.Owner == r.self.ID && existing.ThreadID == threadID {
			r.mu.Unlock()
			return LockResponse{Status: StatusOK, Owner: existing.Owner, OwnerThread: existing.ThreadID, LockID: existing.LockID}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.mu.Unlock()
			return LockResponse{Status: StatusBusy, Owner: existing.Owner, OwnerThread: existing.ThreadID, LockID: existing.LockID}
		}

		wait := make(chan struct{})
		r.waiters[name] = append(r.waiters[name], wait)
		r.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-wait:
			timer.Stop()
			// retry the acquire now that the lock was released
		case <-timer.C:
			return LockResponse{Status: StatusTimeout}
		}
	}
}

// unlockLocal releases name if lockID matches the current holder.
// lockID tolerates stale unlock attempts per spec.md §4.H: a mismatch
// or missing lock simply answers NOT_OWNER rather than erroring.
func (r *Region) unlockLocal(name string, lockID int64) LockResponse {
	r.mu.Lock()
	existing, held := r.locks[name]
	if !held || existing.LockID != lockID {
		r.mu.Unlock()
		return LockResponse{Status: StatusNotOwner}
	}
	delete(r.locks, name)
	waiters := r.waiters[name]
	delete(r.waiters, name)
	r.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return LockResponse{Status: StatusOK}
}

func (r *Region) queryOwnerLocal(name string) LockResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, held := r.locks[name]
	if !held {
		return LockResponse{Status: StatusOK}
	}
	return LockResponse{Status: StatusOK, Owner: existing.Owner, OwnerThread: existing.ThreadID, LockID: existing.LockID}
}

// snapshotLocks returns this node's current belief of which locks it
// manages, for the migration Prepare phase.
func (r *Region) snapshotLocks() []Lock {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Lock, 0, len(r.locks))
	for _, lk := range r.locks {
		out = append(out, *lk)
	}
	return out
}

// applyMigration installs merged as the authoritative lock set,
// keeping only the entries the ring currently assigns to this node and
// dropping everything else, and wakes any local waiters so a queued
// tryLock retries against the new state.
func (r *Region) applyMigration(merged []Lock) {
	r.mu.Lock()
	newLocks := make(map[string]*Lock)
	for i := range merged {
		lk := merged[i]
		owner, ok := r.ring.locate(lk.Name)
		if ok && owner == r.self.ID {
			cp := lk
			newLocks[lk.Name] = &cp
		}
	}
	r.locks = newLocks
	waiters := r.waiters
	r.waiters = make(map[string][]chan struct{})
	r.mu.Unlock()

	for _, ws := range waiters {
		for _, w := range ws {
			close(w)
		}
	}
}

// beginMigration starts a fresh round, invalidating any round already
// in progress (spec.md §4.H: "the in-flight key is invalidated and a
// new one begins"), and returns the channel that closes when this
// round finishes.
func (r *Region) beginMigration() (*MigrationKey, chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migSeq++
	key := MigrationKey{Node: r.self.ID, TopologyHash: r.topoHash, Seq: r.migSeq}
	r.migrationKey = &key
	r.migrating = true
	r.migrationDone = make(chan struct{})
	return &key, r.migrationDone
}

func (r *Region) endMigration(done chan struct{}) {
	r.mu.Lock()
	r.migrating = false
	r.mu.Unlock()
	close(done)
}

// currentTopologyHash is used by HandlePrepare to answer with this
// node's view for the requester to compare.
func (r *Region) currentTopologyHash() [16]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topoHash
}

// upMembers returns every member this region currently considers a
// manager candidate, for migration fan-out.
func (r *Region) upMembers() []topology.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]topology.Node, 0, len(r.members))
	for _, n := range r.members {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
