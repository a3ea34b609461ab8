package hekate

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/admin"
	"github.com/hekate-project/hekate/internal/coordination"
	"github.com/hekate-project/hekate/internal/gossip"
	"github.com/hekate-project/hekate/internal/kernel"
	"github.com/hekate-project/hekate/internal/lock"
	"github.com/hekate-project/hekate/internal/messaging"
	"github.com/hekate-project/hekate/internal/metrics"
	"github.com/hekate-project/hekate/internal/seed"
	"github.com/hekate-project/hekate/internal/topology"
	"github.com/hekate-project/hekate/internal/transport"
	"github.com/hekate-project/hekate/internal/wire"
)

// messagingAddrProperty carries the messaging connector's address in a
// gossiped node's Properties. gossip.Node.Address is the *gossip*
// connector's address; the two connectors are deliberately separate
// listeners (network.port for gossip, network.port+1 for messaging)
// since internal/transport.Listener accepts exactly one Handshake
// protocol per listener and the gossip/messaging wire formats are
// unrelated — see DESIGN.md.
const messagingAddrProperty = "hekate.messaging.addr"

// messagingProtocol is the messaging connector's handshake protocol,
// distinct from gossipProtocol (cluster/gossip_transport.go) so the
// two listeners never cross-accept each other's connections.
const messagingProtocol = "hekate-messaging/1"

// leaveGraceMultiple is how many gossip intervals Leave waits after
// announcing StatusLeaving before removing the local node from its own
// roster, giving the LEAVING rumor a chance to propagate first.
const leaveGraceMultiple = 3

// Node is the cluster façade: one local process's handle
// on every subsystem spec.md names, wired together and brought up or
// down as a unit through a kernel.Kernel.
type Node struct {
	cfg Config
	log zerolog.Logger

	self topology.Node

	metrics *metrics.Registry
	kernel  *kernel.Kernel

	topo        *topology.View
	topoVersion atomic.Uint64

	gossipAddr     string
	messagingAddr  string
	gossipLn       net.Listener
	gossipListener *transport.Listener
	gossipXport    *gossipTransport
	engine         *gossip.Engine
	heartbeat      transport.HeartbeatConfig

	seedStore *seed.Store
	seedMgr   *seed.Manager

	msgLn       net.Listener
	msgListener *transport.Listener
	gateway     *messaging.Gateway

	lockMgr  *lock.Manager
	coordMgr *coordination.Manager

	adminSvc *admin.Service

	runCtx    context.Context
	runCancel context.CancelFunc

	leaveOnce sync.Once
}

// New validates cfg and wires every subsystem it names. It starts
// nothing by itself: call Initialize to bring services up and Join to
// enter the cluster.
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.InfoLevel).With().
		Timestamp().Str("cluster", cfg.ClusterName).Str("node", cfg.Node.Name).Logger()

	n := &Node{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewRegistry(),
		kernel:  kernel.New(log),
		topo:    topology.NewView(),
	}

	// Listeners are bound here, before any gossip/topology identity is
	// built, because spec.md §4.A's port-range bind-failover can move
	// the actual bound port away from cfg.Network.Port: the node's
	// gossiped address must reflect where it is really listening, not
	// where it was asked to.
	gossipLn, err := transport.ResolveListener(cfg.Network.Host, cfg.Network.Port, cfg.Network.PortRange)
	if err != nil {
		return nil, NewFailure(Network, err)
	}
	msgLn, err := transport.ResolveListener(cfg.Network.Host, cfg.Network.Port+1, cfg.Network.PortRange)
	if err != nil {
		gossipLn.Close()
		return nil, NewFailure(Network, err)
	}
	n.gossipLn = gossipLn
	n.msgLn = msgLn
	n.gossipAddr = gossipLn.Addr().String()
	n.messagingAddr = msgLn.Addr().String()
	n.heartbeat = transport.HeartbeatConfig{
		Interval:      cfg.Network.HeartbeatInterval,
		LossThreshold: cfg.Network.HeartbeatLossThreshold,
	}

	nodeID := gossip.NewNodeID()
	props := n.buildProperties()

	gossipSelf := gossip.Node{ID: nodeID, Address: n.gossipAddr, Roles: cfg.Node.Roles, Properties: props}
	n.self = topology.Node{
		ID: string(nodeID), Address: n.messagingAddr,
		Roles: cfg.Node.Roles, Properties: props, Status: topology.StatusJoining,
	}

	n.gossipXport = newGossipTransport(gossipSelf, cfg.ClusterName, log)
	n.engine = gossip.New(gossip.Config{
		Self:           gossipSelf,
		ClusterName:    cfg.ClusterName,
		Exchanger:      n.gossipXport,
		Detector:       cfg.Cluster.SplitBrainDetector,
		OnSplitBrain:   n.onSplitBrain,
		Action:         cfg.Cluster.SplitBrainAction,
		Validators:     cfg.Cluster.JoinValidators,
		FailureQuorum:  cfg.Cluster.FailureQuorum,
		GossipInterval: cfg.Cluster.GossipInterval,
		Fanout:         cfg.Cluster.GossipFanout,
	})
	n.engine.SetLogger(log)
	n.gossipXport.bind(n.engine)
	n.engine.Subscribe(n.onGossipEntry)

	if cfg.Cluster.SeedCachePath != "" {
		store, err := seed.OpenStore(cfg.Cluster.SeedCachePath, log)
		if err != nil {
			return nil, NewFailure(Configuration, fmt.Errorf("seed cache: %w", err))
		}
		n.seedStore = store
	}
	n.seedMgr = seed.NewManager(cfg.Cluster.SeedNodeProvider, n.seedStore, cfg.ClusterName, log)

	n.gateway = messaging.New(n.dialMessaging, n.resolveNode, 1, log)
	n.registerMessagingChannels()
	n.registerLocks()
	n.registerCoordination()

	if cfg.AdminListenAddr != "" {
		n.adminSvc = admin.New(n.topo, n.lockMgr, n.coordMgr, n.Leave, log)
	}

	n.registerServices()

	return n, nil
}

// buildProperties merges the configured node properties with the ones
// the façade itself must gossip: the messaging connector's address and
// the lock region / coordination process names this node has
// registered interest in (spec.md §4.H/§4.I: "registers ... as a
// service property").
func (n *Node) buildProperties() map[string]string {
	props := make(map[string]string, len(n.cfg.Node.Properties)+3)
	for k, v := range n.cfg.Node.Properties {
		props[k] = v
	}
	props[messagingAddrProperty] = n.messagingAddr

	if regions := n.cfg.Locks.Regions; len(regions) > 0 {
		props[lock.RegionsProperty] = strings.Join(regions, ",")
	}
	if procs := n.cfg.Coordination.Processes; len(procs) > 0 {
		names := make([]string, len(procs))
		for i, p := range procs {
			names[i] = p.Name
		}
		props[coordination.ProcessesProperty] = strings.Join(names, ",")
	}
	return props
}

func (n *Node) registerMessagingChannels() {
	for _, mc := range n.cfg.Messaging {
		codec := mc.Codec
		if codec == nil {
			codec = wire.JSONCodec{}
		}
		ch := n.gateway.RegisterChannel(messaging.ChannelConfig{
			Name:           mc.Name,
			Codec:          codec,
			PoolSize:       orDefault(mc.Sockets, 1),
			WorkerCount:    orDefault(mc.WorkerThreads, 4),
			MaxInFlight:    orDefault(mc.BackpressureHigh, 256),
			Balancer:       mc.LoadBalancer,
			Failover:       mc.FailoverPolicy,
			RequestTimeout: mc.RequestTimeout,
		})
		if mc.Receiver != nil {
			ch.SetReceiver(mc.Receiver)
		}
	}
}

func (n *Node) registerLocks() {
	if len(n.cfg.Locks.Regions) == 0 {
		return
	}

	ch := n.gateway.RegisterChannel(messaging.ChannelConfig{
		Name: "hekate.locks", Codec: wire.JSONCodec{}, PoolSize: 1, WorkerCount: 4, MaxInFlight: 256,
	})
	xport := &lock.ChannelTransport{Channel: ch}
	n.lockMgr = lock.New(n.self, xport, n.log)
	ch.SetReceiver(n.lockMgr.Receiver())

	for _, region := range n.cfg.Locks.Regions {
		filtered := n.topo.Filtered(lock.RegionNodeFilter{Region: region}.Accept)
		n.lockMgr.RegisterRegion(region, filtered)
	}
}

func (n *Node) registerCoordination() {
	if len(n.cfg.Coordination.Processes) == 0 {
		return
	}

	ch := n.gateway.RegisterChannel(messaging.ChannelConfig{
		Name: "hekate.coordination", Codec: wire.JSONCodec{}, PoolSize: 1, WorkerCount: 4, MaxInFlight: 256,
	})
	xport := &coordination.ChannelTransport{Channel: ch}
	n.coordMgr = coordination.New(n.self, xport, n.log)
	ch.SetReceiver(n.coordMgr.Receiver())

	for _, proc := range n.cfg.Coordination.Processes {
		filtered := n.topo.Filtered(coordination.ProcessNodeFilter{Process: proc.Name}.Accept)
		n.coordMgr.RegisterProcess(proc.Name, proc.Handler, filtered)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// dialMessaging is the messaging.Dialer wired into the Gateway: it
// opens a connection on the messaging connector, distinct from the
// gossip connector gossipTransport dials.
func (n *Node) dialMessaging(ctx context.Context, addr string, handler transport.Handler) (*transport.Client, error) {
	hs := transport.Handshake{Protocol: messagingProtocol, ClusterName: n.cfg.ClusterName, NodeID: n.self.ID}
	return transport.Connect(ctx, addr, hs, handler, n.log)
}

// resolveNode is the messaging.NodeResolver wired into the Gateway.
func (n *Node) resolveNode(id string) (topology.Node, bool) {
	return n.topo.Current().Get(id)
}

// onGossipEntry fires on every membership change the gossip engine
// observes. It rebuilds the full topology.Snapshot from the roster
// (cheap: roster sizes are cluster sizes, not traffic volumes) and
// publishes it, plus the cross-subsystem side effects that follow
// from a status change.
func (n *Node) onGossipEntry(changed gossip.Entry) {
	entries := n.engine.Roster().Snapshot()
	nodes := make([]topology.Node, 0, len(entries))
	for _, e := range entries {
		nodes = append(nodes, gossipEntryToNode(e))
	}

	n.topo.Publish(topology.Snapshot{Version: n.topoVersion.Add(1), Nodes: nodes})

	switch changed.Status {
	case gossip.StatusFailed, gossip.StatusDown:
		n.gateway.RemoveNode(string(changed.Node.ID))
	case gossip.StatusUp:
		if changed.Node.ID != n.engine.Self().ID {
			if err := n.seedMgr.RegisterRemoteAddress(context.Background(), changed.Node.Address); err != nil {
				n.log.Debug().Err(err).Msg("failed to register peer address with seed provider")
			}
		}
	}
}

// gossipEntryToNode translates one gossip.Entry into the topology
// package's own Node shape. The address published to the rest of the
// module is the messaging connector's address (see
// messagingAddrProperty), not the gossip entry's own Address field,
// since every consumer of topology.Node.Address (messaging, lock,
// coordination) dials the messaging connector.
func gossipEntryToNode(e gossip.Entry) topology.Node {
	addr := e.Node.Address
	if m, ok := e.Node.Properties[messagingAddrProperty]; ok && m != "" {
		addr = m
	}
	return topology.Node{
		ID:         string(e.Node.ID),
		Address:    addr,
		JoinOrder:  e.Node.JoinOrder,
		Status:     gossipStatusToTopology(e.Status),
		Roles:      e.Node.Roles,
		Properties: e.Node.Properties,
	}
}

func gossipStatusToTopology(s gossip.Status) topology.NodeStatus {
	switch s {
	case gossip.StatusJoining:
		return topology.StatusJoining
	case gossip.StatusUp:
		return topology.StatusUp
	case gossip.StatusLeaving:
		return topology.StatusLeaving
	case gossip.StatusDown:
		return topology.StatusDown
	case gossip.StatusFailed:
		return topology.StatusFailed
	default:
		return topology.StatusDown
	}
}

// onSplitBrain is the gossip.Engine's OnSplitBrain callback.
func (n *Node) onSplitBrain(action gossip.SplitBrainAction) {
	n.log.Warn().Stringer("action", action).Msg("split-brain detected")
	switch action {
	case gossip.Rejoin:
		go n.rejoin(context.Background())
	case gossip.Terminate:
		go func() {
			if err := n.Terminate(context.Background()); err != nil {
				n.log.Error().Err(err).Msg("terminate after split-brain failed")
			}
		}()
	}
}

// rejoin discards every known peer and re-runs the join sequence
// rather than trying to reconcile a diverged view. The node keeps its
// node id and running services; only its roster and join order change.
func (n *Node) rejoin(ctx context.Context) {
	self := n.engine.Self()
	for _, e := range n.engine.Roster().Snapshot() {
		if e.Node.ID != self.ID {
			n.engine.Roster().Remove(e.Node.ID)
		}
	}
	if err := n.Join(ctx); err != nil {
		n.log.Error().Err(err).Msg("rejoin failed")
	}
}

// Topology returns the node's live cluster membership view.
func (n *Node) Topology() *topology.View { return n.topo }

// Locks returns the node's lock manager, or nil if no regions were
// configured.
func (n *Node) Locks() *lock.Manager { return n.lockMgr }

// Coordination returns the node's coordination manager, or nil if no
// processes were configured.
func (n *Node) Coordination() *coordination.Manager { return n.coordMgr }

// Channel returns a registered messaging channel by name.
func (n *Node) Channel(name string) (*messaging.Channel, bool) { return n.gateway.Channel(name) }

// Metrics returns the node's metric registry.
func (n *Node) Metrics() *metrics.Registry { return n.metrics }

// Initialize brings every wired service up, in dependency order, but
// does not join the cluster; call Join afterward.
func (n *Node) Initialize(ctx context.Context) error {
	return n.kernel.Initialize(ctx)
}

// InitializeAsync is the Future-returning sibling of Initialize.
func (n *Node) InitializeAsync(ctx context.Context) *Future[struct{}] {
	f := NewFuture[struct{}]()
	go func() { f.complete(struct{}{}, n.Initialize(ctx)) }()
	return f
}

// Join performs spec.md §4.D's JOIN handshake: resolve seed addresses,
// contact the first one that answers, and adopt its JoinResponse. If
// no seed address resolves (this is the first node in the cluster), it
// becomes UP immediately, assigning itself the next join order the
// same way HandleJoinRequest would (roster max + 1 — the roster holds
// only self at this point, so this is always 1) rather than a
// hardcoded value, so the founder's order is derived through the
// identical mechanism every later joiner gets.
func (n *Node) Join(ctx context.Context) error {
	seeds, err := n.seedMgr.SeedNodes(ctx)
	if err != nil {
		return NewFailure(Network, err)
	}

	if len(seeds) == 0 {
		order := n.engine.Roster().PutJoining(n.engine.Self())
		return n.engine.Join(gossip.JoinResponse{
			Accepted: true, JoinOrder: order, Roster: n.engine.Roster().Snapshot(),
		})
	}

	req := gossip.JoinRequest{Node: n.engine.Self(), ClusterName: n.cfg.ClusterName}

	var lastErr error
	for _, addr := range seeds {
		resp, err := n.gossipXport.sendJoin(ctx, addr, req)
		if err != nil {
			lastErr = err
			continue
		}
		if !resp.Accepted {
			return NewJoinRejected(resp.Reason, addr)
		}
		return n.engine.Join(resp)
	}
	return NewFailure(Network, fmt.Errorf("no seed node accepted the join attempt: %w", lastErr))
}

// JoinAsync is the Future-returning sibling of Join.
func (n *Node) JoinAsync(ctx context.Context) *Future[struct{}] {
	f := NewFuture[struct{}]()
	go func() { f.complete(struct{}{}, n.Join(ctx)) }()
	return f
}

// Leave performs spec.md §4.D's LEAVE handshake: announce StatusLeaving,
// give the rumor a few gossip intervals to propagate, then drop the
// local node from its own roster entirely. Safe to call more than
// once; only the first call has any effect.
func (n *Node) Leave(ctx context.Context) error {
	n.leaveOnce.Do(func() {
		n.engine.Leave()

		grace := leaveGraceMultiple * n.cfg.Cluster.GossipInterval
		if grace <= 0 {
			grace = leaveGraceMultiple * gossip.DefaultGossipInterval
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}

		n.engine.Roster().Remove(n.engine.Self().ID)
	})
	return nil
}

// LeaveAsync is the Future-returning sibling of Leave.
func (n *Node) LeaveAsync(ctx context.Context) *Future[struct{}] {
	f := NewFuture[struct{}]()
	go func() { f.complete(struct{}{}, n.Leave(ctx)) }()
	return f
}

// Terminate tears every wired service down in reverse dependency
// order. Safe to call more than once.
func (n *Node) Terminate(ctx context.Context) error {
	return n.kernel.Terminate(ctx)
}

// TerminateAsync is the Future-returning sibling of Terminate.
func (n *Node) TerminateAsync(ctx context.Context) *Future[struct{}] {
	f := NewFuture[struct{}]()
	go func() { f.complete(struct{}{}, n.Terminate(ctx)) }()
	return f
}
