package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/topology"
)

// fakeTransport routes Call/Notify directly into the peer Manager's
// handlers, standing in for a messaging.Channel in tests.
type fakeTransport struct {
	managers map[string]*Manager
}

func (t *fakeTransport) Call(ctx context.Context, to topology.Node, body []byte) ([]byte, error) {
	mgr, ok := t.managers[to.ID]
	if !ok {
		return nil, fmt.Errorf("fakeTransport: no such node %s", to.ID)
	}
	return mgr.HandleMessage(ctx, body), nil
}

func (t *fakeTransport) Notify(ctx context.Context, to topology.Node, body []byte) error {
	mgr, ok := t.managers[to.ID]
	if !ok {
		return fmt.Errorf("fakeTransport: no such node %s", to.ID)
	}
	mgr.HandleNotify(ctx, body)
	return nil
}

// waitForRing polls until a region's topology subscription has
// processed at least one snapshot and can resolve name to a manager,
// since View.Subscribe delivers to its dedicated goroutine
// asynchronously with respect to Publish.
func waitForRing(t *testing.T, r *Region, name string) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok := r.resolveManager(name); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for region ring to resolve %q", name)
}

func TestRegionNodeFilterAccept(t *testing.T) {
	f := RegionNodeFilter{Region: "R"}

	accepted := topology.Node{ID: "a", Properties: map[string]string{RegionsProperty: "R,S"}}
	if !f.Accept(accepted) {
		t.Fatal("expected node registered for region R to be accepted")
	}

	notConfigured := topology.Node{ID: "b", Properties: map[string]string{RegionsProperty: "S"}}
	if f.Accept(notConfigured) {
		t.Fatal("expected node not registered for region R to be rejected")
	}

	noProperties := topology.Node{ID: "c"}
	if f.Accept(noProperties) {
		t.Fatal("expected node with no lock properties to be rejected")
	}
}

func TestLockExclusionSingleNode(t *testing.T) {
	self := topology.Node{ID: "n1", Address: "n1:1", Status: topology.StatusUp, JoinOrder: 0}
	transport := &fakeTransport{managers: map[string]*Manager{}}
	mgr := New(self, transport, zerolog.Nop())
	transport.managers["n1"] = mgr

	view := topology.NewView()
	r := mgr.RegisterRegion("R", view)
	view.Publish(topology.Snapshot{Version: 1, Nodes: []topology.Node{self}})
	waitForRing(t, r, "x")

	ctx := context.Background()

	respA, err := mgr.TryLock(ctx, "R", "x", time.Second, 100)
	if err != nil {
		t.Fatalf("TryLock A: %v", err)
	}
	if respA.Status != StatusOK {
		t.Fatalf("expected first TryLock to succeed, got %s", respA.Status)
	}

	respB, err := mgr.TryLock(ctx, "R", "x", 50*time.Millisecond, 200)
	if err != nil {
		t.Fatalf("TryLock B: %v", err)
	}
	if respB.Status != StatusBusy && respB.Status != StatusTimeout {
		t.Fatalf("expected second TryLock to be BUSY or TIMEOUT, got %s", respB.Status)
	}

	unlockResp, err := mgr.Unlock(ctx, "R", "x", respA.LockID)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if unlockResp.Status != StatusOK {
		t.Fatalf("expected unlock to succeed, got %s", unlockResp.Status)
	}

	respC, err := mgr.TryLock(ctx, "R", "x", time.Second, 300)
	if err != nil {
		t.Fatalf("TryLock C: %v", err)
	}
	if respC.Status != StatusOK {
		t.Fatalf("expected TryLock after unlock to succeed, got %s", respC.Status)
	}
}

func TestUnlockToleratesStaleLockID(t *testing.T) {
	self := topology.Node{ID: "n1", Address: "n1:1", Status: topology.StatusUp}
	transport := &fakeTransport{managers: map[string]*Manager{}}
	mgr := New(self, transport, zerolog.Nop())
	transport.managers["n1"] = mgr

	view := topology.NewView()
	r := mgr.RegisterRegion("R", view)
	view.Publish(topology.Snapshot{Version: 1, Nodes: []topology.Node{self}})
	waitForRing(t, r, "never-locked")

	resp, err := mgr.Unlock(context.Background(), "R", "never-locked", 999)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if resp.Status != StatusNotOwner {
		t.Fatalf("expected stale unlock to report NOT_OWNER, got %s", resp.Status)
	}
}

func TestLockForwardingAcrossNodes(t *testing.T) {
	n1 := topology.Node{ID: "n1", Address: "n1:1", Status: topology.StatusUp, JoinOrder: 0}
	n2 := topology.Node{ID: "n2", Address: "n2:1", Status: topology.StatusUp, JoinOrder: 1}

	transport := &fakeTransport{managers: map[string]*Manager{}}
	mgr1 := New(n1, transport, zerolog.Nop())
	mgr2 := New(n2, transport, zerolog.Nop())
	transport.managers["n1"] = mgr1
	transport.managers["n2"] = mgr2

	view1 := topology.NewView()
	view2 := topology.NewView()
	r1 := mgr1.RegisterRegion("R", view1)
	r2 := mgr2.RegisterRegion("R", view2)

	snap := topology.Snapshot{Version: 1, Nodes: []topology.Node{n1, n2}}
	view1.Publish(snap)
	view2.Publish(snap)
	waitForRing(t, r1, "x")
	waitForRing(t, r2, "x")

	ctx := context.Background()

	// Whichever node the ring names manager for "x", both nodes should
	// route a tryLock for it to the same successful outcome, since both
	// have an identical, up to date view of the candidate set.
	resp1, err := mgr1.TryLock(ctx, "R", "x", time.Second, 1)
	if err != nil {
		t.Fatalf("TryLock from n1: %v", err)
	}
	if resp1.Status != StatusOK {
		t.Fatalf("expected TryLock from n1 to succeed, got %s", resp1.Status)
	}

	// A second attempt for the same name from the other node must
	// observe the lock as held, regardless of which node actually
	// manages it.
	resp2, err := mgr2.TryLock(ctx, "R", "x", 50*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("TryLock from n2: %v", err)
	}
	if resp2.Status != StatusBusy && resp2.Status != StatusTimeout {
		t.Fatalf("expected TryLock from n2 to observe the held lock, got %s", resp2.Status)
	}
}

func TestMigrationReassignsLocksOnTopologyChange(t *testing.T) {
	n1 := topology.Node{ID: "n1", Address: "n1:1", Status: topology.StatusUp, JoinOrder: 0}
	n2 := topology.Node{ID: "n2", Address: "n2:1", Status: topology.StatusUp, JoinOrder: 1}

	transport := &fakeTransport{managers: map[string]*Manager{}}
	mgr1 := New(n1, transport, zerolog.Nop())
	mgr2 := New(n2, transport, zerolog.Nop())
	transport.managers["n1"] = mgr1
	transport.managers["n2"] = mgr2

	view1 := topology.NewView()
	view2 := topology.NewView()
	r1 := mgr1.RegisterRegion("R", view1)
	r2 := mgr2.RegisterRegion("R", view2)

	view1.Publish(topology.Snapshot{Version: 1, Nodes: []topology.Node{n1}})
	view2.Publish(topology.Snapshot{Version: 1, Nodes: []topology.Node{n1}})
	waitForRing(t, r1, "a")
	waitForRing(t, r2, "a")

	ctx := context.Background()
	resp, err := mgr1.TryLock(ctx, "R", "a", time.Second, 1)
	if err != nil || resp.Status != StatusOK {
		t.Fatalf("TryLock before topology change: %+v, err=%v", resp, err)
	}

	// n2 joins: n1 is still oldest and re-plans, redistributing "a"
	// between the two members per the ring.
	snap := topology.Snapshot{Version: 2, Nodes: []topology.Node{n1, n2}}
	view1.Publish(snap)
	view2.Publish(snap)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && (r1.Migrating() || r2.Migrating()) {
		time.Sleep(5 * time.Millisecond)
	}

	queryResp, err := mgr2.QueryOwner(ctx, "R", "a")
	if err != nil {
		t.Fatalf("QueryOwner: %v", err)
	}
	if queryResp.Owner == "" {
		t.Fatalf("expected lock \"a\" to still have a known owner after migration")
	}
}
