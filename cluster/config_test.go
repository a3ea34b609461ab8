package hekate

import (
	"errors"
	"testing"

	"github.com/hekate-project/hekate/internal/coordination"
	"github.com/hekate-project/hekate/internal/seed"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.ClusterName = "test-cluster"
	cfg.Node = NodeIdentity{Name: "node-1"}
	cfg.Cluster.SeedNodeProvider = seed.NewStaticProvider()
	return cfg
}

func TestConfigValidateRequiresIdentity(t *testing.T) {
	cfg := validConfig()
	cfg.ClusterName = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing cluster name")
	}

	cfg = validConfig()
	cfg.Node.Name = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing node name")
	}

	cfg = validConfig()
	cfg.Network.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive port")
	}

	cfg = validConfig()
	cfg.Cluster.SeedNodeProvider = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing seed node provider")
	}
}

func TestConfigValidateDuplicateNames(t *testing.T) {
	cfg := validConfig()
	cfg.Messaging = []MessagingChannelConfig{{Name: "orders"}, {Name: "orders"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate channel name")
	}

	cfg = validConfig()
	cfg.Locks.Regions = []string{"east", "east"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate lock region")
	}

	cfg = validConfig()
	cfg.Coordination.Processes = []CoordinationProcessConfig{
		{Name: "rebalance", Handler: noopHandler{}},
		{Name: "rebalance", Handler: noopHandler{}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate coordination process name")
	}
}

// noopHandler is a minimal coordination.Handler for exercising
// Config.Validate without standing up an actual coordination round.
type noopHandler struct{}

func (noopHandler) Prepare(cc *coordination.Context)                                 {}
func (noopHandler) Process(cc *coordination.Context, request []byte) ([]byte, error) { return nil, nil }
func (noopHandler) Cancel(cc *coordination.Context)                                  {}

func TestConfigValidateCoordinationRequiresHandler(t *testing.T) {
	cfg := validConfig()
	cfg.Coordination.Processes = []CoordinationProcessConfig{{Name: "rebalance"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing handler")
	}
	var f *Failure
	if !errors.As(err, &f) || f.Kind != Configuration {
		t.Fatalf("expected Configuration failure, got %v", err)
	}
}

func TestConfigValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
