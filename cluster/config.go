package hekate

import (
	"fmt"
	"time"

	"github.com/hekate-project/hekate/internal/balancer"
	"github.com/hekate-project/hekate/internal/coordination"
	"github.com/hekate-project/hekate/internal/gossip"
	"github.com/hekate-project/hekate/internal/messaging"
	"github.com/hekate-project/hekate/internal/seed"
	"github.com/hekate-project/hekate/internal/wire"
)

// NodeIdentity carries the cluster.name/node.name/node.roles/
// node.properties options of spec.md §6.
type NodeIdentity struct {
	Name       string
	Roles      []string
	Properties map[string]string
}

// NetworkConfig carries spec.md §6's network.* options. Socket-level
// knobs Go's net package does not expose a portable way to set
// per-accept (soBacklog, soReuseAddress, the auto|epoll|nio transport
// choice) are accepted here for configuration-surface fidelity but
// are not checked by Validate, and net.Listen's own default behavior already matches
// their intent on every platform this module targets — see DESIGN.md.
type NetworkConfig struct {
	Host                string
	Port                int
	PortRange           int
	ConnectTimeout      time.Duration
	AcceptRetryInterval time.Duration
	NIOThreads          int
	Transport           string // auto|epoll|nio
	TCPNoDelay          bool
	SOReceiveBuffer     int
	SOSendBuffer        int
	SOReuseAddress      bool
	SOBacklog           int
	SSLTrustFile        string
	SSLKeyFile          string

	HeartbeatInterval      time.Duration
	HeartbeatLossThreshold int
}

func (n NetworkConfig) addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// ClusterConfig carries spec.md §6's cluster.seedNodeProvider /
// splitBrainDetector / splitBrainAction / joinValidators options.
type ClusterConfig struct {
	SeedNodeProvider   seed.Provider
	SeedCachePath      string
	SplitBrainDetector gossip.SplitBrainDetector
	SplitBrainAction   gossip.SplitBrainAction
	JoinValidators     []gossip.JoinValidator
	FailureQuorum      float64
	GossipInterval     time.Duration
	GossipFanout       int
}

// MessagingChannelConfig carries one entry of spec.md §6's
// messaging.channels[*] option group.
type MessagingChannelConfig struct {
	Name             string
	Sockets          int
	WorkerThreads    int
	IdleTimeout      time.Duration
	Codec            wire.Codec
	Receiver         messaging.Receiver
	LoadBalancer     balancer.LoadBalancer
	FailoverPolicy   balancer.FailoverPolicy
	BackpressureHigh int
	BackpressureLow  int
	RequestTimeout   time.Duration
}

// LocksConfig carries spec.md §6's locks.regions[*] option group.
type LocksConfig struct {
	Regions []string
}

// CoordinationProcessConfig carries one entry of spec.md §6's
// coordination.processes[*] option group.
type CoordinationProcessConfig struct {
	Name    string
	Handler coordination.Handler
}

// CoordinationConfig carries spec.md §6's coordination.processes[*]
// option group.
type CoordinationConfig struct {
	Processes []CoordinationProcessConfig
}

// Config is the full spec.md §6 configuration surface, validated once
// by Validate (called by New before any service starts).
type Config struct {
	ClusterName string
	Node        NodeIdentity

	Network      NetworkConfig
	Cluster      ClusterConfig
	Messaging    []MessagingChannelConfig
	Locks        LocksConfig
	Coordination CoordinationConfig

	AdminListenAddr string // empty disables the admin service entirely
}

// DefaultConfig returns a Config with every interval/threshold/pool
// size and the network address defaulted, leaving identity and the
// seed node provider to fill in.
func DefaultConfig() Config {
	return Config{
		Network: NetworkConfig{
			Host:                   "0.0.0.0",
			Port:                   7000,
			ConnectTimeout:         5 * time.Second,
			AcceptRetryInterval:    time.Second,
			TCPNoDelay:             true,
			SOReuseAddress:         true,
			HeartbeatInterval:      10 * time.Second,
			HeartbeatLossThreshold: 3,
		},
		Cluster: ClusterConfig{
			SplitBrainAction: gossip.Rejoin,
			FailureQuorum:    gossip.DefaultFailureQuorum,
			GossipInterval:   gossip.DefaultGossipInterval,
			GossipFanout:     gossip.DefaultFanout,
		},
	}
}

// Validate checks the configuration surface per spec.md §7's
// Configuration failure kind: "bad option, duplicate name ... fail
// before join."
func (c Config) Validate() error {
	if c.ClusterName == "" {
		return NewFailure(Configuration, fmt.Errorf("cluster.name is required"))
	}
	if c.Node.Name == "" {
		return NewFailure(Configuration, fmt.Errorf("node.name is required"))
	}
	if c.Network.Host == "" {
		return NewFailure(Configuration, fmt.Errorf("network.host is required"))
	}
	if c.Network.Port <= 0 {
		return NewFailure(Configuration, fmt.Errorf("network.port must be positive"))
	}
	if c.Cluster.SeedNodeProvider == nil {
		return NewFailure(Configuration, fmt.Errorf("cluster.seedNodeProvider is required"))
	}

	seen := make(map[string]struct{})
	for _, ch := range c.Messaging {
		if ch.Name == "" {
			return NewFailure(Configuration, fmt.Errorf("messaging.channels[*].name must not be empty"))
		}
		if _, dup := seen["channel:"+ch.Name]; dup {
			return NewFailure(Configuration, fmt.Errorf("duplicate messaging channel name %q", ch.Name))
		}
		seen["channel:"+ch.Name] = struct{}{}
	}
	for _, region := range c.Locks.Regions {
		if region == "" {
			return NewFailure(Configuration, fmt.Errorf("locks.regions[*] must not be empty"))
		}
		if _, dup := seen["region:"+region]; dup {
			return NewFailure(Configuration, fmt.Errorf("duplicate lock region name %q", region))
		}
		seen["region:"+region] = struct{}{}
	}
	for _, proc := range c.Coordination.Processes {
		if proc.Name == "" {
			return NewFailure(Configuration, fmt.Errorf("coordination.processes[*].name must not be empty"))
		}
		if proc.Handler == nil {
			return NewFailure(Configuration, fmt.Errorf("coordination.processes[%q].handler is required", proc.Name))
		}
		if _, dup := seen["process:"+proc.Name]; dup {
			return NewFailure(Configuration, fmt.Errorf("duplicate coordination process name %q", proc.Name))
		}
		seen["process:"+proc.Name] = struct{}{}
	}

	return nil
}
