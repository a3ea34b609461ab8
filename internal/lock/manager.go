package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/topology"
)

// Manager is the lock service (component H) for one local node: it
// owns every registered Region, routes client operations to whichever
// node the region's ring names as manager, and drives the two-phase
// migration whenever this node is the oldest member of a region whose
// candidate set just changed.
type Manager struct {
	self      topology.Node
	transport Transport
	log       zerolog.Logger

	mu      sync.RWMutex
	regions map[string]*Region
}

// New returns a Manager for self. transport carries forwarded client
// ops and migration traffic to other nodes; production callers adapt a
// messaging.Channel to the Transport interface (see DESIGN.md).
func New(self topology.Node, transport Transport, log zerolog.Logger) *Manager {
	return &Manager{
		self:      self,
		transport: transport,
		log:       log.With().Str("component", "lock-manager").Logger(),
		regions:   make(map[string]*Region),
	}
}

// RegisterRegion creates a region and subscribes it to view, a
// topology view already filtered down to the members that registered
// interest in this region (typically view.Filtered(RegionNodeFilter{
// Region: name}.Accept) from the cluster façade). Each topology change
// that alters the candidate set triggers a migration evaluation: if
// this node is the oldest Up member, it initiates one.
func (m *Manager) RegisterRegion(name string, view *topology.View) *Region {
	r := newRegion(name, m.self, m.log)

	view.Subscribe(func(snap topology.Snapshot) {
		r.onTopologyChange(snap, func(snap topology.Snapshot) {
			oldest, ok := snap.Oldest()
			if !ok || oldest.ID != m.self.ID {
				return
			}
			go m.runMigration(context.Background(), r, snap)
		})
	})

	m.mu.Lock()
	m.regions[name] = r
	m.mu.Unlock()

	return r
}

// RegionSnapshot is a read-only view of one region's local lock table,
// for the admin introspection service.
type RegionSnapshot struct {
	Name      string
	Locks     []Lock
	Migrating bool
}

// Snapshot returns every registered region's current local lock table.
// A region only ever reports the locks the ring assigns to this node;
// the admin service must query every node to see the full picture.
func (m *Manager) Snapshot() []RegionSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RegionSnapshot, 0, len(m.regions))
	for name, r := range m.regions {
		out = append(out, RegionSnapshot{Name: name, Locks: r.snapshotLocks(), Migrating: r.Migrating()})
	}
	return out
}

func (m *Manager) region(name string) (*Region, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.regions[name]
	return r, ok
}

// TryLock implements spec.md §4.H's tryLock, routing to whichever node
// the region's ring currently names as manager and retrying locally
// once on RETRY (a stale view on either side resolves itself once this
// node's topology subscription catches up).
func (m *Manager) TryLock(ctx context.Context, region, name string, timeout time.Duration, threadID int64) (LockResponse, error) {
	r, ok := m.region(region)
	if !ok {
		return LockResponse{}, fmt.Errorf("lock: unknown region %q", region)
	}

	deadline := time.Now().Add(timeout)
	for attempt := 0; attempt < 2; attempt++ {
		if r.Migrating() {
			if !r.awaitMigration(ctx, time.Until(deadline)) {
				return LockResponse{Status: StatusTimeout}, nil
			}
		}

		ownerID, hash, ok := r.resolveManager(name)
		if !ok {
			return LockResponse{Status: StatusRetry}, nil
		}
		if ownerID == m.self.ID {
			return r.tryLockLocal(name, time.Until(deadline), threadID), nil
		}

		target, ok := r.memberByID(ownerID)
		if !ok {
			return LockResponse{Status: StatusRetry}, nil
		}

		resp, err := m.forwardTryLock(ctx, target, region, name, time.Until(deadline), threadID, hash)
		if err != nil {
			return LockResponse{}, err
		}
		if resp.Status == StatusRetry {
			continue
		}
		return resp, nil
	}
	return LockResponse{Status: StatusRetry}, nil
}

// Unlock implements spec.md §4.H's unlock.
func (m *Manager) Unlock(ctx context.Context, region, name string, lockID int64) (LockResponse, error) {
	r, ok := m.region(region)
	if !ok {
		return LockResponse{}, fmt.Errorf("lock: unknown region %q", region)
	}

	if r.Migrating() {
		r.awaitMigration(ctx, 5*time.Second)
	}

	ownerID, hash, ok := r.resolveManager(name)
	if !ok {
		return LockResponse{Status: StatusRetry}, nil
	}
	if ownerID == m.self.ID {
		return r.unlockLocal(name, lockID), nil
	}

	target, ok := r.memberByID(ownerID)
	if !ok {
		return LockResponse{Status: StatusRetry}, nil
	}
	return m.forwardUnlock(ctx, target, region, name, lockID, hash)
}

// QueryOwner implements spec.md §4.H's queryOwner.
func (m *Manager) QueryOwner(ctx context.Context, region, name string) (LockResponse, error) {
	r, ok := m.region(region)
	if !ok {
		return LockResponse{}, fmt.Errorf("lock: unknown region %q", region)
	}

	ownerID, hash, ok := r.resolveManager(name)
	if !ok {
		return LockResponse{Status: StatusRetry}, nil
	}
	if ownerID == m.self.ID {
		return r.queryOwnerLocal(name), nil
	}

	target, ok := r.memberByID(ownerID)
	if !ok {
		return LockResponse{Status: StatusRetry}, nil
	}
	return m.forwardQuery(ctx, target, region, name, hash)
}

func (m *Manager) forwardTryLock(ctx context.Context, target topology.Node, region, name string, timeout time.Duration, threadID int64, hash [16]byte) (LockResponse, error) {
	req := clientOpRequest{Op: opTryLock, Region: region, Name: name, TimeoutMillis: timeout.Milliseconds(), ThreadID: threadID, RequesterTopologyHash: hash}
	return m.callClientOp(ctx, target, req)
}

func (m *Manager) forwardUnlock(ctx context.Context, target topology.Node, region, name string, lockID int64, hash [16]byte) (LockResponse, error) {
	req := clientOpRequest{Op: opUnlock, Region: region, Name: name, LockID: lockID, RequesterTopologyHash: hash}
	return m.callClientOp(ctx, target, req)
}

func (m *Manager) forwardQuery(ctx context.Context, target topology.Node, region, name string, hash [16]byte) (LockResponse, error) {
	req := clientOpRequest{Op: opQuery, Region: region, Name: name, RequesterTopologyHash: hash}
	return m.callClientOp(ctx, target, req)
}

func (m *Manager) callClientOp(ctx context.Context, target topology.Node, req clientOpRequest) (LockResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return LockResponse{}, fmt.Errorf("lock: encode request: %w", err)
	}
	respBody, err := m.transport.Call(ctx, target, body)
	if err != nil {
		return LockResponse{}, fmt.Errorf("lock: forward to %s: %w", target.ID, err)
	}
	var resp clientOpResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return LockResponse{}, fmt.Errorf("lock: decode response: %w", err)
	}
	return LockResponse{Status: resp.Status, Owner: resp.Owner, OwnerThread: resp.OwnerThread, LockID: resp.LockID}, nil
}

// HandleMessage is the Call-side entry point: decode the request by
// its "op" field and dispatch to the named region, returning the
// encoded response. Wired as the inbound handler of whatever Transport
// adapts a messaging.Channel to this package.
func (m *Manager) HandleMessage(ctx context.Context, body []byte) []byte {
	var env opEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return encodeClientOpResponse(clientOpResponse{Status: StatusRetry})
	}

	switch env.Op {
	case opTryLock, opUnlock, opQuery:
		return m.handleClientOp(body)
	case opPrepare:
		return m.handlePrepare(body)
	default:
		m.log.Warn().Str("op", env.Op).Msg("unknown lock message")
		return encodeClientOpResponse(clientOpResponse{Status: StatusRetry})
	}
}

// HandleNotify is the Notify-side entry point: the migration Apply
// phase, which expects no reply.
func (m *Manager) HandleNotify(ctx context.Context, body []byte) {
	var env opEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return
	}
	if env.Op != opApply {
		m.log.Warn().Str("op", env.Op).Msg("unknown lock notify")
		return
	}

	var req applyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return
	}
	r, ok := m.region(req.Region)
	if !ok {
		return
	}
	r.applyMigration(req.Locks)
}

func (m *Manager) handleClientOp(body []byte) []byte {
	var req clientOpRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return encodeClientOpResponse(clientOpResponse{Status: StatusRetry})
	}

	r, ok := m.region(req.Region)
	if !ok {
		return encodeClientOpResponse(clientOpResponse{Status: StatusRetry})
	}

	if r.currentTopologyHash() != req.RequesterTopologyHash {
		return encodeClientOpResponse(clientOpResponse{Status: StatusRetry})
	}
	if r.Migrating() {
		return encodeClientOpResponse(clientOpResponse{Status: StatusRetry})
	}

	var resp LockResponse
	switch req.Op {
	case opTryLock:
		resp = r.tryLockLocal(req.Name, time.Duration(req.TimeoutMillis)*time.Millisecond, req.ThreadID)
	case opUnlock:
		resp = r.unlockLocal(req.Name, req.LockID)
	case opQuery:
		resp = r.queryOwnerLocal(req.Name)
	}
	return encodeClientOpResponse(clientOpResponse{Status: resp.Status, Owner: resp.Owner, OwnerThread: resp.OwnerThread, LockID: resp.LockID})
}

func encodeClientOpResponse(resp clientOpResponse) []byte {
	body, _ := json.Marshal(resp)
	return body
}

func (m *Manager) handlePrepare(body []byte) []byte {
	var req prepareRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return mustJSON(prepareResponse{})
	}
	r, ok := m.region(req.Region)
	if !ok {
		return mustJSON(prepareResponse{})
	}
	return mustJSON(prepareResponse{TopologyHash: r.currentTopologyHash(), Locks: r.snapshotLocks()})
}

func mustJSON(v any) []byte {
	body, _ := json.Marshal(v)
	return body
}

// runMigration drives the two-phase Prepare/Apply protocol for one
// topology change, grounded on internal/cluster/migration.go's
// plan-then-transfer shape, retargeted from moving key ranges to
// merging and redistributing lock ownership. Only the oldest Up member
// of the region calls this.
func (m *Manager) runMigration(ctx context.Context, r *Region, snap topology.Snapshot) {
	key, done := r.beginMigration()
	defer r.endMigration(done)

	members := r.upMembers()
	merged := map[string]Lock{}
	for _, lk := range r.snapshotLocks() {
		merged[lk.Name] = lk
	}

	firstPass := true
	for pass := 0; pass < 2; pass++ {
		mismatched := false

		for _, member := range members {
			if member.ID == m.self.ID {
				continue
			}
			resp, err := m.sendPrepare(ctx, member, r.name, *key, firstPass, r.currentTopologyHash(), toSlice(merged))
			if err != nil {
				m.log.Debug().Err(err).Str("node", member.ID).Msg("lock migration prepare failed, excluding node")
				continue
			}
			if resp.TopologyHash != r.currentTopologyHash() {
				mismatched = true
			}
			for _, lk := range resp.Locks {
				if _, exists := merged[lk.Name]; !exists {
					merged[lk.Name] = lk
				}
			}
		}

		if !mismatched {
			break
		}
		firstPass = false
	}

	mergedSlice := toSlice(merged)
	for _, member := range members {
		if member.ID == m.self.ID {
			r.applyMigration(mergedSlice)
			continue
		}
		if err := m.sendApply(ctx, member, r.name, *key, mergedSlice); err != nil {
			m.log.Debug().Err(err).Str("node", member.ID).Msg("lock migration apply failed")
		}
	}
}

func toSlice(m map[string]Lock) []Lock {
	out := make([]Lock, 0, len(m))
	for _, lk := range m {
		out = append(out, lk)
	}
	return out
}

func (m *Manager) sendPrepare(ctx context.Context, to topology.Node, region string, key MigrationKey, firstPass bool, hash [16]byte, locks []Lock) (prepareResponse, error) {
	req := prepareRequest{Op: opPrepare, Region: region, Key: key, FirstPass: firstPass, TopologyHash: hash, Locks: locks}
	body, err := json.Marshal(req)
	if err != nil {
		return prepareResponse{}, err
	}
	respBody, err := m.transport.Call(ctx, to, body)
	if err != nil {
		return prepareResponse{}, err
	}
	var resp prepareResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return prepareResponse{}, err
	}
	return resp, nil
}

func (m *Manager) sendApply(ctx context.Context, to topology.Node, region string, key MigrationKey, locks []Lock) error {
	req := applyRequest{Op: opApply, Region: region, Key: key, Locks: locks}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return m.transport.Notify(ctx, to, body)
}
