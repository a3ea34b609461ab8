package seed

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestManagerSeedNodes(t *testing.T) {
	p := NewStaticProvider("10.0.0.1:7000", "10.0.0.2:7000")
	m := NewManager(p, nil, "main", zerolog.Nop())

	addrs, err := m.SeedNodes(context.Background())
	if err != nil {
		t.Fatalf("SeedNodes: %v", err)
	}
	sort.Strings(addrs)
	if len(addrs) != 2 {
		t.Fatalf("addrs = %v, want 2 entries", addrs)
	}
}

func TestManagerRegisterUnregister(t *testing.T) {
	p := NewStaticProvider()
	m := NewManager(p, nil, "main", zerolog.Nop())

	if err := m.RegisterRemoteAddress(context.Background(), "10.0.0.5:7000"); err != nil {
		t.Fatalf("RegisterRemoteAddress: %v", err)
	}
	addrs, _ := m.SeedNodes(context.Background())
	if len(addrs) != 1 || addrs[0] != "10.0.0.5:7000" {
		t.Fatalf("addrs = %v, want [10.0.0.5:7000]", addrs)
	}

	if err := m.UnregisterRemoteAddress(context.Background(), "10.0.0.5:7000"); err != nil {
		t.Fatalf("UnregisterRemoteAddress: %v", err)
	}
	addrs, _ = m.SeedNodes(context.Background())
	if len(addrs) != 0 {
		t.Fatalf("addrs = %v, want empty", addrs)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "hekate-seed-store-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := OpenStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if err := store.Add("main", "10.0.0.1:7000"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add("main", "10.0.0.2:7000"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	addrs, err := store.Load("main")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("addrs = %v, want 2 entries", addrs)
	}

	if err := store.Remove("main", "10.0.0.1:7000"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	addrs, _ = store.Load("main")
	if len(addrs) != 1 || addrs[0] != "10.0.0.2:7000" {
		t.Fatalf("addrs after remove = %v, want [10.0.0.2:7000]", addrs)
	}
}

func TestManagerFallsBackToCacheOnProviderFailure(t *testing.T) {
	dir, err := os.MkdirTemp("", "hekate-seed-store-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := OpenStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if err := store.Save("main", []string{"10.0.0.9:7000"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m := NewManager(failingProvider{}, store, "main", zerolog.Nop())
	addrs, err := m.SeedNodes(context.Background())
	if err != nil {
		t.Fatalf("SeedNodes should fall back to cache without error, got %v", err)
	}
	if len(addrs) != 1 || addrs[0] != "10.0.0.9:7000" {
		t.Fatalf("addrs = %v, want cached [10.0.0.9:7000]", addrs)
	}
}

type failingProvider struct{}

func (failingProvider) SeedNodes(context.Context, string) ([]string, error) {
	return nil, errProviderDown
}
func (failingProvider) StartDiscovery(context.Context, string) error { return nil }
func (failingProvider) SuspendDiscovery(context.Context) error       { return nil }
func (failingProvider) StopDiscovery(context.Context) error          { return nil }
func (failingProvider) RegisterRemoteAddress(context.Context, string, string) error {
	return nil
}
func (failingProvider) UnregisterRemoteAddress(context.Context, string, string) error {
	return nil
}
func (failingProvider) CleanupInterval() time.Duration { return 0 }

var errProviderDown = &testError{"provider unavailable"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
