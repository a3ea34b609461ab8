package kernel

import (
	"errors"
	"testing"
)

func TestStateGuardLifecycle(t *testing.T) {
	g := NewStateGuard("test")

	if g.State() != Terminated {
		t.Fatalf("initial state = %s, want TERMINATED", g.State())
	}

	if _, err := g.LockReadChecked(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized before init, got %v", err)
	}

	if err := g.BecomeInitializing(); err != nil {
		t.Fatalf("BecomeInitializing: %v", err)
	}
	if err := g.BecomeInitializing(); err == nil {
		t.Fatal("expected error initializing twice")
	}

	if err := g.BecomeInitialized(); err != nil {
		t.Fatalf("BecomeInitialized: %v", err)
	}

	unlock, err := g.LockReadChecked()
	if err != nil {
		t.Fatalf("LockReadChecked after init: %v", err)
	}
	unlock()

	if !g.BecomeTerminating() {
		t.Fatal("expected BecomeTerminating to succeed")
	}
	if g.BecomeTerminating() {
		t.Fatal("expected second BecomeTerminating to be a no-op")
	}

	g.BecomeTerminated()
	if g.State() != Terminated {
		t.Fatalf("final state = %s, want TERMINATED", g.State())
	}

	g.AwaitTermination()
}

func TestStateGuardCheckedState(t *testing.T) {
	g := NewStateGuard("test")
	_ = g.BecomeInitializing()

	unlock, err := g.LockReadCheckedState(Initializing, Initialized)
	if err != nil {
		t.Fatalf("LockReadCheckedState: %v", err)
	}
	unlock()

	if _, err := g.LockReadCheckedState(Terminated); err == nil {
		t.Fatal("expected error: guard is not Terminated")
	}
}
