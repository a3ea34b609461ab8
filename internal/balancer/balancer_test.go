package balancer

import (
	"context"
	"testing"
	"time"

	"github.com/hekate-project/hekate/internal/topology"
)

func nodes(ids ...string) []topology.Node {
	out := make([]topology.Node, len(ids))
	for i, id := range ids {
		out[i] = topology.Node{ID: id}
	}
	return out
}

func TestRoundRobinCycles(t *testing.T) {
	b := &RoundRobin{}
	req := Request{Candidates: nodes("a", "b", "c")}

	var picks []string
	for i := 0; i < 4; i++ {
		n, ok := b.Pick(context.Background(), req)
		if !ok {
			t.Fatal("expected a pick")
		}
		picks = append(picks, n.ID)
	}

	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if picks[i] != want[i] {
			t.Fatalf("picks = %v, want %v", picks, want)
		}
	}
}

func TestRendezvousAffinityDeterministic(t *testing.T) {
	b := RendezvousAffinity{}
	req := Request{AffinityKey: "user-42", Candidates: nodes("a", "b", "c")}

	first, ok := b.Pick(context.Background(), req)
	if !ok {
		t.Fatal("expected a pick")
	}
	for i := 0; i < 10; i++ {
		n, _ := b.Pick(context.Background(), req)
		if n.ID != first.ID {
			t.Fatalf("rendezvous pick changed across calls: %s vs %s", n.ID, first.ID)
		}
	}
}

func TestRendezvousAffinityMinimalRemap(t *testing.T) {
	b := RendezvousAffinity{}
	before, _ := b.Pick(context.Background(), Request{AffinityKey: "k", Candidates: nodes("a", "b", "c")})

	moved := 0
	total := 0
	for i := 0; i < 200; i++ {
		key := time.Duration(i).String()
		beforePick, _ := b.Pick(context.Background(), Request{AffinityKey: key, Candidates: nodes("a", "b", "c")})
		afterPick, _ := b.Pick(context.Background(), Request{AffinityKey: key, Candidates: nodes("a", "b", "c", "d")})
		total++
		if beforePick.ID != afterPick.ID {
			moved++
		}
	}
	_ = before
	if moved == total {
		t.Fatalf("expected some keys to remain stable after adding a node, all %d moved", total)
	}
}

func TestRetryPolicy(t *testing.T) {
	r := NewRetry(3, 10*time.Millisecond)

	delay, retry := r.ShouldRetry(context.Background(), FailureInfo{Attempt: 1})
	if !retry || delay != 10*time.Millisecond {
		t.Fatalf("ShouldRetry(1) = %v, %v", delay, retry)
	}

	_, retry = r.ShouldRetry(context.Background(), FailureInfo{Attempt: 3})
	if retry {
		t.Fatal("expected no retry once MaxAttempts is reached")
	}
}

func TestRetryPolicyCondition(t *testing.T) {
	r := Retry{MaxAttempts: 5, Delay: time.Millisecond, Condition: func(info FailureInfo) bool {
		return info.Cause != nil && info.Cause.Error() != "fatal"
	}}

	_, retry := r.ShouldRetry(context.Background(), FailureInfo{Attempt: 1, Cause: errFatal})
	if retry {
		t.Fatal("expected condition to block retry for fatal cause")
	}
}

var errFatal = fatalErr{}

type fatalErr struct{}

func (fatalErr) Error() string { return "fatal" }
