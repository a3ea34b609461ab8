// Package seed implements the seed-node directory (component C): a
// pluggable Provider of candidate addresses to contact when joining,
// wrapped by a Manager that normalizes errors and runs periodic
// cleanup, plus a small persistent cache of last-known-good addresses
// so a restarting node can bootstrap even if its configured provider
// is momentarily unavailable.
package seed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Provider is the external-collaborator contract spec.md §4.C
// describes: applications plug in their own discovery mechanism
// (multicast, cloud API, static list, ...).
type Provider interface {
	SeedNodes(ctx context.Context, clusterName string) ([]string, error)
	StartDiscovery(ctx context.Context, clusterName string) error
	SuspendDiscovery(ctx context.Context) error
	StopDiscovery(ctx context.Context) error
	RegisterRemoteAddress(ctx context.Context, clusterName, address string) error
	UnregisterRemoteAddress(ctx context.Context, clusterName, address string) error
	CleanupInterval() time.Duration
}

// Error wraps a failure from a Provider with the operation that
// failed, matching spec.md §4.C's "Provider errors are wrapped, never
// propagated raw".
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("seed: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Manager wraps a Provider, falling back to the persisted cache when
// the provider fails, wrapping provider errors in *Error, and running
// the provider's cleanup cycle on its own schedule.
type Manager struct {
	provider Provider
	store    *Store
	cluster  string
	log      zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager wraps provider for clusterName, persisting discovered
// addresses into store (which may be nil to disable the cache).
func NewManager(provider Provider, store *Store, clusterName string, log zerolog.Logger) *Manager {
	return &Manager{
		provider: provider,
		store:    store,
		cluster:  clusterName,
		log:      log.With().Str("component", "seed").Logger(),
	}
}

// SeedNodes returns the current candidate address list. On provider
// failure it returns the persisted cache if that holds any addresses,
// since a transient discovery failure should not prevent a restarting
// node from finding peers it already knew about; otherwise it returns
// nil and the provider's error wrapped in *Error.
func (m *Manager) SeedNodes(ctx context.Context) ([]string, error) {
	addrs, err := m.provider.SeedNodes(ctx, m.cluster)
	if err != nil {
		m.log.Warn().Err(err).Msg("seed provider failed, falling back to cache")
		if m.store != nil {
			cached, cacheErr := m.store.Load(m.cluster)
			if cacheErr == nil && len(cached) > 0 {
				return cached, nil
			}
		}
		return nil, &Error{Op: "SeedNodes", Err: err}
	}

	if m.store != nil && len(addrs) > 0 {
		if err := m.store.Save(m.cluster, addrs); err != nil {
			m.log.Warn().Err(err).Msg("failed to persist seed cache")
		}
	}
	return addrs, nil
}

// StartDiscovery starts the provider's discovery mechanism and the
// manager's own periodic cleanup loop.
func (m *Manager) StartDiscovery(ctx context.Context) error {
	if err := m.provider.StartDiscovery(ctx, m.cluster); err != nil {
		return &Error{Op: "StartDiscovery", Err: err}
	}

	m.mu.Lock()
	m.stop = make(chan struct{})
	m.mu.Unlock()

	interval := m.provider.CleanupInterval()
	if interval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop(interval)
	}
	return nil
}

func (m *Manager) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.mu.Lock()
	stop := m.stop
	m.mu.Unlock()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if _, err := m.provider.SeedNodes(ctx, m.cluster); err != nil {
				m.log.Debug().Err(err).Msg("cleanup cycle's discovery refresh failed")
			}
			cancel()
		}
	}
}

// SuspendDiscovery pauses discovery without releasing resources
// (spec.md §4.C: used while the node briefly leaves and expects to
// rejoin).
func (m *Manager) SuspendDiscovery(ctx context.Context) error {
	if err := m.provider.SuspendDiscovery(ctx); err != nil {
		return &Error{Op: "SuspendDiscovery", Err: err}
	}
	return nil
}

// StopDiscovery stops the provider and the manager's own cleanup
// loop.
func (m *Manager) StopDiscovery(ctx context.Context) error {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
	}
	m.mu.Unlock()
	m.wg.Wait()

	if err := m.provider.StopDiscovery(ctx); err != nil {
		return &Error{Op: "StopDiscovery", Err: err}
	}
	return nil
}

// RegisterRemoteAddress tells the provider (and the cache) about an
// address learned out-of-band, e.g. from gossip.
func (m *Manager) RegisterRemoteAddress(ctx context.Context, address string) error {
	if err := m.provider.RegisterRemoteAddress(ctx, m.cluster, address); err != nil {
		return &Error{Op: "RegisterRemoteAddress", Err: err}
	}
	if m.store != nil {
		if err := m.store.Add(m.cluster, address); err != nil {
			m.log.Warn().Err(err).Msg("failed to add address to seed cache")
		}
	}
	return nil
}

// UnregisterRemoteAddress removes a previously registered address.
func (m *Manager) UnregisterRemoteAddress(ctx context.Context, address string) error {
	if err := m.provider.UnregisterRemoteAddress(ctx, m.cluster, address); err != nil {
		return &Error{Op: "UnregisterRemoteAddress", Err: err}
	}
	if m.store != nil {
		if err := m.store.Remove(m.cluster, address); err != nil {
			m.log.Warn().Err(err).Msg("failed to remove address from seed cache")
		}
	}
	return nil
}
