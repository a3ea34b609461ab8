// Package kernel implements the service lifecycle kernel (component F):
// the reader-writer lifecycle guard ported from Hekate's original
// util.StateGuard, and the dependency-ordered bring-up/shutdown
// sequencing that drives every other component.
package kernel

import (
	"errors"
	"fmt"
	"sync"
)

// State is a lifecycle state of a StateGuard, mirroring
// io.hekate.util.StateGuard.State.
type State int

const (
	Initializing State = iota
	Initialized
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "INITIALIZING"
	case Initialized:
		return "INITIALIZED"
	case Terminating:
		return "TERMINATING"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// ErrNotInitialized is returned by the *Checked lock methods when the
// guard is not in (or not yet in) the required state. Go has no
// assertions, so state misuse surfaces as a normal error rather than
// a panic.
var ErrNotInitialized = errors.New("kernel: component is not initialized")

// StateGuard guards a component's public operations against being
// called outside of its valid lifecycle window. Ported from
// io.hekate.util.StateGuard: an explicit state field protected by a
// RWMutex, where reads may run concurrently as long as the state
// check passes, and the Terminate transition holds the write lock.
type StateGuard struct {
	name string

	mu    sync.RWMutex
	state State
	// terminated is closed once the guard reaches Terminated, letting
	// callers wait for shutdown without polling.
	terminated chan struct{}
}

// NewStateGuard returns a guard starting in the Terminated state,
// matching StateGuard's default (nothing is initialized yet).
func NewStateGuard(name string) *StateGuard {
	g := &StateGuard{name: name, state: Terminated}
	g.terminated = make(chan struct{})
	close(g.terminated)
	return g
}

func (g *StateGuard) Name() string { return g.name }

// BecomeInitializing transitions Terminated -> Initializing.
func (g *StateGuard) BecomeInitializing() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Terminated {
		return fmt.Errorf("kernel: %s: cannot initialize from state %s", g.name, g.state)
	}
	g.state = Initializing
	g.terminated = make(chan struct{})
	return nil
}

// BecomeInitialized transitions Initializing -> Initialized.
func (g *StateGuard) BecomeInitialized() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Initializing {
		return fmt.Errorf("kernel: %s: cannot become initialized from state %s", g.name, g.state)
	}
	g.state = Initialized
	return nil
}

// BecomeTerminating transitions any state except Terminated/Terminating
// into Terminating and reports whether it did. Unlike the Java original
// this is idempotent: calling it twice is a no-op returning false, since shutdown paths in Go are
// routinely invoked from more than one place (signal handler, parent
// Terminate, defer).
func (g *StateGuard) BecomeTerminating() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Terminating || g.state == Terminated {
		return false
	}
	g.state = Terminating
	return true
}

// BecomeTerminated transitions into Terminated and releases anyone
// blocked in AwaitTermination.
func (g *StateGuard) BecomeTerminated() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Terminated {
		return
	}
	g.state = Terminated
	close(g.terminated)
}

// State returns the current lifecycle state.
func (g *StateGuard) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// IsInitialized reports whether the guard is in the Initialized state.
func (g *StateGuard) IsInitialized() bool {
	return g.State() == Initialized
}

// LockReadChecked acquires the read lock and verifies the guard is
// Initialized, returning an unlock function. Mirrors
// StateGuard#lockReadWithStateCheck().
func (g *StateGuard) LockReadChecked() (func(), error) {
	g.mu.RLock()
	if g.state != Initialized {
		g.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotInitialized, g.name, g.state)
	}
	return g.mu.RUnlock, nil
}

// LockReadCheckedState is like LockReadChecked but accepts any of the
// given states, mirroring the Java overload that checks against an
// explicit expected state (used during shutdown, where Terminating is
// also a valid window for best-effort operations).
func (g *StateGuard) LockReadCheckedState(states ...State) (func(), error) {
	g.mu.RLock()
	for _, s := range states {
		if g.state == s {
			return g.mu.RUnlock, nil
		}
	}
	g.mu.RUnlock()
	return nil, fmt.Errorf("%w: %s is %s", ErrNotInitialized, g.name, g.state)
}

// TryLockReadChecked is the non-blocking variant: it returns ok=false
// immediately if the read lock is contended with a writer rather than
// waiting.
func (g *StateGuard) TryLockReadChecked() (unlock func(), ok bool, err error) {
	if !g.mu.TryRLock() {
		return nil, false, nil
	}
	if g.state != Initialized {
		g.mu.RUnlock()
		return nil, true, fmt.Errorf("%w: %s is %s", ErrNotInitialized, g.name, g.state)
	}
	return g.mu.RUnlock, true, nil
}

// LockWriteChecked acquires the write lock unconditionally, without a
// state check, for operations that mutate guarded state regardless of
// lifecycle phase. The transition methods take the lock directly.
func (g *StateGuard) LockWriteChecked() func() {
	g.mu.Lock()
	return g.mu.Unlock
}

// AwaitTermination blocks until the guard reaches Terminated.
func (g *StateGuard) AwaitTermination() {
	g.mu.RLock()
	ch := g.terminated
	g.mu.RUnlock()
	<-ch
}
