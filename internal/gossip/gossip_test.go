package gossip

import (
	"testing"
)

func TestRosterMergeVersionWins(t *testing.T) {
	r := NewRoster()
	n := Node{ID: "a", Address: "127.0.0.1:1"}
	r.Put(n, StatusJoining)

	if !r.MergeEntry(n, StatusUp, 5) {
		t.Fatal("expected higher version to be accepted")
	}
	entry, _ := r.Get("a")
	if entry.Status != StatusUp || entry.Version != 5 {
		t.Fatalf("entry = %+v, want Status=UP Version=5", entry)
	}

	if r.MergeEntry(n, StatusFailed, 3) {
		t.Fatal("expected lower version to be rejected despite higher status rank")
	}
}

func TestRosterMergeStatusTieBreak(t *testing.T) {
	r := NewRoster()
	n := Node{ID: "a"}
	r.Put(n, StatusUp) // version 1

	if !r.MergeEntry(n, StatusFailed, 1) {
		t.Fatal("expected FAILED to beat UP on a version tie")
	}
	entry, _ := r.Get("a")
	if entry.Status != StatusFailed {
		t.Fatalf("status = %v, want FAILED", entry.Status)
	}
}

func TestRosterDigestMerge(t *testing.T) {
	r := NewRoster()
	n := Node{ID: "a"}
	r.Put(n, StatusUp)

	if got := r.MergeDigest(Digest{ID: "a", Status: StatusUp, Version: 1}); got != MergeIgnored {
		t.Fatalf("MergeDigest(equal) = %v, want MergeIgnored", got)
	}
	if got := r.MergeDigest(Digest{ID: "a", Status: StatusFailed, Version: 2}); got != MergeNeedFull {
		t.Fatalf("MergeDigest(newer) = %v, want MergeNeedFull", got)
	}
	if got := r.MergeDigest(Digest{ID: "b", Status: StatusUp, Version: 1}); got != MergeNeedFull {
		t.Fatalf("MergeDigest(unknown) = %v, want MergeNeedFull", got)
	}
}

func TestSuspicionCountAndClear(t *testing.T) {
	r := NewRoster()
	target := Node{ID: "target"}
	r.Put(target, StatusUp)

	if n := r.Suspect(target.ID, "accuser-1"); n != 1 {
		t.Fatalf("Suspect count = %d, want 1", n)
	}
	if n := r.Suspect(target.ID, "accuser-2"); n != 2 {
		t.Fatalf("Suspect count = %d, want 2", n)
	}
	r.ClearSuspicion(target.ID)

	entry, _ := r.Get(target.ID)
	if len(entry.Suspicions) != 0 {
		t.Fatalf("suspicions after clear = %v, want empty", entry.Suspicions)
	}
}

func TestClusterNameValidatorRejectsMismatch(t *testing.T) {
	req := JoinRequest{Node: Node{ID: "x", Address: "10.0.0.1:7000"}, ClusterName: "other"}
	local := Node{Address: "10.0.0.2:7000"}

	if err := ClusterNameValidator(req, local, "main"); err == nil {
		t.Fatal("expected cluster-name mismatch error")
	}
	if err := ClusterNameValidator(req, local, "other"); err != nil {
		t.Fatalf("expected match to pass, got %v", err)
	}
}

func TestHandleJoinRequestAssignsOrder(t *testing.T) {
	e := New(Config{
		Self:        Node{ID: "coord", Address: "10.0.0.1:7000", JoinOrder: 0},
		ClusterName: "main",
	})

	resp := e.HandleJoinRequest(JoinRequest{
		Node:        Node{ID: "newnode", Address: "10.0.0.2:7000"},
		ClusterName: "main",
	})
	if !resp.Accepted {
		t.Fatalf("expected join to be accepted, got reason %q", resp.Reason)
	}
	if resp.JoinOrder != 1 {
		t.Fatalf("JoinOrder = %d, want 1", resp.JoinOrder)
	}

	resp2 := e.HandleJoinRequest(JoinRequest{
		Node:        Node{ID: "anothernode", Address: "10.0.0.3:7000"},
		ClusterName: "wrong",
	})
	if resp2.Accepted {
		t.Fatal("expected cluster-name mismatch to be rejected")
	}
}

func TestFounderAndFirstJoinerGetDistinctOrders(t *testing.T) {
	// Mirrors cluster.Node.Join's self-bootstrap path: a founding node
	// assigns itself an order via PutJoining before any peer ever
	// contacts it, then HandleJoinRequest must not hand the same order
	// to the first real joiner.
	e := New(Config{
		Self:        Node{ID: "founder", Address: "10.0.0.1:7000"},
		ClusterName: "main",
	})
	founderOrder := e.Roster().PutJoining(e.Self())
	if founderOrder != 1 {
		t.Fatalf("founder order = %d, want 1", founderOrder)
	}

	resp := e.HandleJoinRequest(JoinRequest{
		Node:        Node{ID: "joiner", Address: "10.0.0.2:7000"},
		ClusterName: "main",
	})
	if !resp.Accepted {
		t.Fatalf("expected join to be accepted, got reason %q", resp.Reason)
	}
	if resp.JoinOrder == founderOrder {
		t.Fatalf("joiner order %d collided with founder order %d", resp.JoinOrder, founderOrder)
	}
	if resp.JoinOrder != 2 {
		t.Fatalf("joiner order = %d, want 2", resp.JoinOrder)
	}
}

func TestRosterPutJoiningNeverReusesOrderAfterRemoval(t *testing.T) {
	r := NewRoster()
	first := r.PutJoining(Node{ID: "a"})
	r.Remove("a")
	second := r.PutJoining(Node{ID: "b"})
	if second <= first {
		t.Fatalf("second order %d did not exceed removed node's order %d", second, first)
	}
}

type alwaysInvalidDetector struct{}

func (alwaysInvalidDetector) IsValid(NodeID, *Roster) bool { return false }

func TestEvaluateSplitBrainUsesConfiguredAction(t *testing.T) {
	var got SplitBrainAction
	e := New(Config{
		Self:         Node{ID: "self", Address: "10.0.0.1:7000"},
		ClusterName:  "main",
		Detector:     alwaysInvalidDetector{},
		Action:       Terminate,
		OnSplitBrain: func(a SplitBrainAction) { got = a },
	})

	e.evaluateSplitBrain()

	if got != Terminate {
		t.Fatalf("onSplit invoked with %v, want Terminate", got)
	}
}

func TestQuorumDetector(t *testing.T) {
	r := NewRoster()
	self := NodeID("self")
	r.Put(Node{ID: self}, StatusUp)
	r.Put(Node{ID: "b"}, StatusUp)
	r.Put(Node{ID: "c"}, StatusUp)
	r.SetStatus("c", StatusFailed)

	d := QuorumDetector{MinQuorum: 0.5}
	if !d.IsValid(self, r) {
		t.Fatal("expected 1-of-2 reachable to satisfy a 0.5 quorum")
	}

	r.SetStatus("b", StatusFailed)
	if d.IsValid(self, r) {
		t.Fatal("expected 0-of-2 reachable to fail a 0.5 quorum")
	}
}
