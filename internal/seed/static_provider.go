package seed

import (
	"context"
	"sync"
	"time"
)

// StaticProvider is the reference Provider: a fixed address list
// supplied at construction, with RegisterRemoteAddress/
// UnregisterRemoteAddress growing and shrinking it at runtime so nodes
// learned via gossip can be added without a restart.
type StaticProvider struct {
	mu        sync.Mutex
	addresses map[string]struct{}
	suspended bool
}

// NewStaticProvider returns a StaticProvider seeded with addrs.
func NewStaticProvider(addrs ...string) *StaticProvider {
	p := &StaticProvider{addresses: make(map[string]struct{})}
	for _, a := range addrs {
		p.addresses[a] = struct{}{}
	}
	return p
}

func (p *StaticProvider) SeedNodes(_ context.Context, _ string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.suspended {
		return nil, nil
	}

	out := make([]string, 0, len(p.addresses))
	for a := range p.addresses {
		out = append(out, a)
	}
	return out, nil
}

func (p *StaticProvider) StartDiscovery(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspended = false
	return nil
}

func (p *StaticProvider) SuspendDiscovery(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspended = true
	return nil
}

func (p *StaticProvider) StopDiscovery(_ context.Context) error {
	return nil
}

func (p *StaticProvider) RegisterRemoteAddress(_ context.Context, _, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addresses[address] = struct{}{}
	return nil
}

func (p *StaticProvider) UnregisterRemoteAddress(_ context.Context, _, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.addresses, address)
	return nil
}

func (p *StaticProvider) CleanupInterval() time.Duration {
	return 0
}
