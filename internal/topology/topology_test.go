package topology

import (
	"testing"
	"time"
)

func snap(version uint64, nodes ...Node) Snapshot {
	return Snapshot{Version: version, Nodes: nodes}
}

func TestSnapshotOldestYoungest(t *testing.T) {
	s := snap(1,
		Node{ID: "a", JoinOrder: 3, Status: StatusUp},
		Node{ID: "b", JoinOrder: 1, Status: StatusUp},
		Node{ID: "c", JoinOrder: 2, Status: StatusDown},
	)

	oldest, ok := s.Oldest()
	if !ok || oldest.ID != "b" {
		t.Fatalf("Oldest() = %v, %v, want b", oldest, ok)
	}

	youngest, ok := s.Youngest()
	if !ok || youngest.ID != "a" {
		t.Fatalf("Youngest() = %v, %v, want a", youngest, ok)
	}

	up := s.Up()
	if len(up) != 2 || up[0].ID != "b" || up[1].ID != "a" {
		t.Fatalf("Up() = %v, want [b a]", up)
	}
}

func TestSnapshotOldestEmpty(t *testing.T) {
	s := snap(1)
	if _, ok := s.Oldest(); ok {
		t.Fatal("expected ok=false for empty snapshot")
	}
}

func TestViewSubscribeReplaysCurrent(t *testing.T) {
	v := NewView()
	v.Publish(snap(1, Node{ID: "a", Status: StatusUp}))

	received := make(chan Snapshot, 4)
	unsub := v.Subscribe(func(s Snapshot) { received <- s })
	defer unsub()

	select {
	case s := <-received:
		if s.Version != 1 {
			t.Fatalf("replayed version = %d, want 1", s.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for synthetic replay")
	}

	v.Publish(snap(2, Node{ID: "a", Status: StatusUp}, Node{ID: "b", Status: StatusUp}))

	select {
	case s := <-received:
		if s.Version != 2 {
			t.Fatalf("published version = %d, want 2", s.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestViewFutureOf(t *testing.T) {
	v := NewView()
	v.Publish(snap(1, Node{ID: "a", Status: StatusUp}))

	fut := v.FutureOf(func(s Snapshot) bool { return len(s.Up()) >= 2 })

	go func() {
		time.Sleep(10 * time.Millisecond)
		v.Publish(snap(2, Node{ID: "a", Status: StatusUp}, Node{ID: "b", Status: StatusUp}))
	}()

	select {
	case s := <-fut:
		if len(s.Up()) != 2 {
			t.Fatalf("future resolved with %d up nodes, want 2", len(s.Up()))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("future did not resolve")
	}
}

func TestViewFiltered(t *testing.T) {
	v := NewView()
	v.Publish(snap(1,
		Node{ID: "a", Status: StatusUp, Roles: []string{"lock"}},
		Node{ID: "b", Status: StatusUp, Roles: []string{"messaging"}},
	))

	filtered := v.Filtered(func(n Node) bool {
		for _, r := range n.Roles {
			if r == "lock" {
				return true
			}
		}
		return false
	})

	cur := filtered.Current()
	if len(cur.Nodes) != 1 || cur.Nodes[0].ID != "a" {
		t.Fatalf("filtered nodes = %v, want [a]", cur.Nodes)
	}
}
