package kernel

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Service is anything the kernel brings up and tears down in
// dependency order: transport, seed manager, gossip engine, messaging
// gateway, lock regions, coordination processes.
type Service interface {
	// Name identifies the service in logs and error messages.
	Name() string
	// PreInitialize runs before any service's Initialize, giving every
	// service a chance to resolve cross-service references.
	PreInitialize(ctx context.Context) error
	// Initialize brings the service up.
	Initialize(ctx context.Context) error
	// PostInitialize runs after every service's Initialize has
	// returned successfully.
	PostInitialize(ctx context.Context) error
	// Terminate tears the service down. Called in reverse registration
	// order during shutdown.
	Terminate(ctx context.Context) error
}

// Kernel drives the preInitialize -> initialize -> postInitialize
// bring-up, and the mirrored shutdown, across a set of registered
// Services. There are no separate resolve or configure phases; services
// run in registration order. It is itself guarded by a
// StateGuard so Initialize/Terminate cannot race each other or run
// twice.
type Kernel struct {
	guard    *StateGuard
	log      zerolog.Logger
	services []Service
}

// New returns a Kernel that will log through log and bring up
// services in the order they are registered.
func New(log zerolog.Logger) *Kernel {
	return &Kernel{
		guard: NewStateGuard("kernel"),
		log:   log.With().Str("component", "kernel").Logger(),
	}
}

// Register adds a service to the bring-up/shutdown sequence. Must be
// called before Initialize.
func (k *Kernel) Register(s Service) {
	k.services = append(k.services, s)
}

// Initialize brings every registered service up in order, rolling
// back (terminating) any services already started if a later one
// fails.
func (k *Kernel) Initialize(ctx context.Context) error {
	if err := k.guard.BecomeInitializing(); err != nil {
		return err
	}

	started := make([]Service, 0, len(k.services))

	for _, s := range k.services {
		k.log.Debug().Str("service", s.Name()).Msg("pre-initializing")
		if err := s.PreInitialize(ctx); err != nil {
			k.rollback(ctx, started)
			return fmt.Errorf("kernel: pre-initialize %s: %w", s.Name(), err)
		}
	}

	for _, s := range k.services {
		k.log.Debug().Str("service", s.Name()).Msg("initializing")
		if err := s.Initialize(ctx); err != nil {
			k.rollback(ctx, started)
			return fmt.Errorf("kernel: initialize %s: %w", s.Name(), err)
		}
		started = append(started, s)
	}

	for _, s := range k.services {
		k.log.Debug().Str("service", s.Name()).Msg("post-initializing")
		if err := s.PostInitialize(ctx); err != nil {
			k.rollback(ctx, started)
			return fmt.Errorf("kernel: post-initialize %s: %w", s.Name(), err)
		}
	}

	return k.guard.BecomeInitialized()
}

func (k *Kernel) rollback(ctx context.Context, started []Service) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Terminate(ctx); err != nil {
			k.log.Warn().Str("service", started[i].Name()).Err(err).Msg("rollback terminate failed")
		}
	}
	k.guard.BecomeTerminated()
}

// Terminate tears services down in reverse registration order. Safe
// to call more than once; subsequent calls are no-ops.
func (k *Kernel) Terminate(ctx context.Context) error {
	if !k.guard.BecomeTerminating() {
		return nil
	}
	defer k.guard.BecomeTerminated()

	var firstErr error
	for i := len(k.services) - 1; i >= 0; i-- {
		s := k.services[i]
		k.log.Debug().Str("service", s.Name()).Msg("terminating")
		if err := s.Terminate(ctx); err != nil {
			k.log.Warn().Str("service", s.Name()).Err(err).Msg("terminate failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("kernel: terminate %s: %w", s.Name(), err)
			}
		}
	}
	return firstErr
}

// State exposes the kernel's own lifecycle state.
func (k *Kernel) State() State {
	return k.guard.State()
}

// AwaitTermination blocks until the kernel has fully terminated.
func (k *Kernel) AwaitTermination() {
	k.guard.AwaitTermination()
}
