package coordination

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/topology"
)

// fakeTransport routes Call directly into the peer Manager's handler,
// standing in for a messaging.Channel in tests.
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

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestElectSingleNodeBecomesCoordinator(t *testing.T) {
	self := topology.Node{ID: "n1", Address: "n1:1", Status: topology.StatusUp, JoinOrder: 0}
	transport := &fakeTransport{managers: map[string]*Manager{}}
	mgr := New(self, transport, zerolog.Nop())
	transport.managers["n1"] = mgr

	view := topology.NewView()
	p := mgr.RegisterProcess("elect", Elect{}, view)
	view.Publish(topology.Snapshot{Version: 1, Nodes: []topology.Node{self}})

	waitUntil(t, 2*time.Second, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.current != nil && p.current.isDone()
	})
}

func TestElectAcrossNodesAgreesOnOldest(t *testing.T) {
	n1 := topology.Node{ID: "n1", Address: "n1:1", Status: topology.StatusUp, JoinOrder: 0}
	n2 := topology.Node{ID: "n2", Address: "n2:1", Status: topology.StatusUp, JoinOrder: 1}

	transport := &fakeTransport{managers: map[string]*Manager{}}
	mgr1 := New(n1, transport, zerolog.Nop())
	mgr2 := New(n2, transport, zerolog.Nop())
	transport.managers["n1"] = mgr1
	transport.managers["n2"] = mgr2

	view1 := topology.NewView()
	view2 := topology.NewView()
	p1 := mgr1.RegisterProcess("elect", Elect{}, view1)
	_ = mgr2.RegisterProcess("elect", Elect{}, view2)

	snap := topology.Snapshot{Version: 1, Nodes: []topology.Node{n1, n2}}
	view1.Publish(snap)
	view2.Publish(snap)

	// n1 is the oldest member (JoinOrder 0) and must be the one to drive
	// the round to completion.
	waitUntil(t, 2*time.Second, func() bool {
		p1.mu.Lock()
		defer p1.mu.Unlock()
		return p1.current != nil && p1.current.isDone()
	})

	p1.mu.Lock()
	r := p1.current
	p1.mu.Unlock()
	if r.coordinator != "n1" {
		t.Fatalf("expected n1 to be coordinator, got %s", r.coordinator)
	}
	if got := r.getAttachment(); got != "n1" {
		t.Fatalf("expected attachment to name the coordinator n1, got %v", got)
	}
}

func TestBarrierCompletesOnceEveryoneArrives(t *testing.T) {
	n1 := topology.Node{ID: "n1", Address: "n1:1", Status: topology.StatusUp, JoinOrder: 0}
	n2 := topology.Node{ID: "n2", Address: "n2:1", Status: topology.StatusUp, JoinOrder: 1}

	transport := &fakeTransport{managers: map[string]*Manager{}}
	mgr1 := New(n1, transport, zerolog.Nop())
	mgr2 := New(n2, transport, zerolog.Nop())
	transport.managers["n1"] = mgr1
	transport.managers["n2"] = mgr2

	barrier1 := NewBarrier(2)
	barrier2 := NewBarrier(2)

	view1 := topology.NewView()
	view2 := topology.NewView()
	p1 := mgr1.RegisterProcess("barrier", barrier1, view1)
	_ = mgr2.RegisterProcess("barrier", barrier2, view2)

	snap := topology.Snapshot{Version: 1, Nodes: []topology.Node{n1, n2}}
	view1.Publish(snap)
	view2.Publish(snap)

	// Give the round a moment to start, then confirm it does not
	// complete with only one member arrived.
	time.Sleep(100 * time.Millisecond)
	barrier1.Await()
	time.Sleep(150 * time.Millisecond)
	p1.mu.Lock()
	notYetDone := p1.current != nil && !p1.current.isDone()
	p1.mu.Unlock()
	if !notYetDone {
		t.Fatal("expected barrier to still be open with only one member arrived")
	}

	barrier2.Await()
	waitUntil(t, 2*time.Second, func() bool {
		p1.mu.Lock()
		defer p1.mu.Unlock()
		return p1.current != nil && p1.current.isDone()
	})
}

func TestCoordinatorFailureStartsFreshRound(t *testing.T) {
	n1 := topology.Node{ID: "n1", Address: "n1:1", Status: topology.StatusUp, JoinOrder: 0}
	n2 := topology.Node{ID: "n2", Address: "n2:1", Status: topology.StatusUp, JoinOrder: 1}

	transport := &fakeTransport{managers: map[string]*Manager{}}
	mgr2 := New(n2, transport, zerolog.Nop())
	transport.managers["n2"] = mgr2
	// n1 never registers a manager, modelling a node that has already
	// left the cluster: only n2 is left to observe the topology change.

	view2 := topology.NewView()
	p2 := mgr2.RegisterProcess("elect", Elect{}, view2)

	// n1 is coordinator while present.
	view2.Publish(topology.Snapshot{Version: 1, Nodes: []topology.Node{n1, n2}})
	time.Sleep(50 * time.Millisecond)
	p2.mu.Lock()
	if p2.current != nil {
		t.Fatalf("expected n2 to not start a round while n1 is oldest, got round for %s", p2.current.coordinator)
	}
	p2.mu.Unlock()

	// n1 fails; n2 becomes oldest and must start and complete a fresh
	// round on its own, per spec.md §4.I's "no attempt to resume the
	// previous round" recovery.
	view2.Publish(topology.Snapshot{Version: 2, Nodes: []topology.Node{n2}})

	waitUntil(t, 2*time.Second, func() bool {
		p2.mu.Lock()
		defer p2.mu.Unlock()
		return p2.current != nil && p2.current.isDone() && p2.current.coordinator == "n2"
	})
}
