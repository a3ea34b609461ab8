package hekate

import (
	"context"

	"github.com/hekate-project/hekate/internal/transport"
)

// funcService adapts a set of lifecycle closures to kernel.Service,
// since none of this module's subsystems (gossip.Engine,
// messaging.Gateway, seed.Manager, transport.Listener) implement the
// kernel's interface directly — each owns a narrower lifecycle of its
// own (Run/Stop, StartDiscovery/StopDiscovery, Listen/Close) that the
// façade adapts rather than widens.
type funcService struct {
	name string
	init func(ctx context.Context) error
	term func(ctx context.Context) error
}

func (s *funcService) Name() string { return s.name }

func (s *funcService) PreInitialize(ctx context.Context) error { return nil }

func (s *funcService) Initialize(ctx context.Context) error {
	if s.init == nil {
		return nil
	}
	return s.init(ctx)
}

func (s *funcService) PostInitialize(ctx context.Context) error { return nil }

func (s *funcService) Terminate(ctx context.Context) error {
	if s.term == nil {
		return nil
	}
	return s.term(ctx)
}

// registerServices builds the kernel.Service bring-up/shutdown
// sequence in dependency order: seed discovery, the gossip connector,
// the gossip engine's background loop, the messaging connector, then
// the optional admin service. The messaging gateway's channels, lock regions, and
// coordination processes need no separate lifecycle step: they start
// serving as soon as their listener is up, and Gateway.Close handles
// their teardown.
func (n *Node) registerServices() {
	n.kernel.Register(&funcService{
		name: "seed",
		init: func(ctx context.Context) error {
			if err := n.seedMgr.StartDiscovery(ctx); err != nil {
				return NewFailure(Network, err)
			}
			return nil
		},
		term: func(ctx context.Context) error {
			err := n.seedMgr.StopDiscovery(ctx)
			if n.seedStore != nil {
				if closeErr := n.seedStore.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}
			return err
		},
	})

	n.kernel.Register(&funcService{
		name: "gossip-listener",
		init: func(ctx context.Context) error {
			hs := transport.Handshake{Protocol: gossipProtocol, ClusterName: n.cfg.ClusterName, NodeID: n.self.ID}
			n.gossipListener = transport.Listen(n.gossipLn, hs, n.heartbeat, n.gossipXport, n.log)
			return nil
		},
		term: func(ctx context.Context) error {
			if n.gossipListener == nil {
				return nil
			}
			return n.gossipListener.Close()
		},
	})

	n.kernel.Register(&funcService{
		name: "gossip-engine",
		init: func(ctx context.Context) error {
			n.runCtx, n.runCancel = context.WithCancel(context.Background())
			go n.engine.Run(n.runCtx)
			return nil
		},
		term: func(ctx context.Context) error {
			if n.runCancel != nil {
				n.runCancel()
			}
			n.engine.Stop()
			return nil
		},
	})

	n.kernel.Register(&funcService{
		name: "messaging-listener",
		init: func(ctx context.Context) error {
			hs := transport.Handshake{Protocol: messagingProtocol, ClusterName: n.cfg.ClusterName, NodeID: n.self.ID}
			n.msgListener = transport.Listen(n.msgLn, hs, n.heartbeat, n.gateway, n.log)
			return nil
		},
		term: func(ctx context.Context) error {
			n.gateway.Close()
			if n.msgListener == nil {
				return nil
			}
			return n.msgListener.Close()
		},
	})

	if n.adminSvc != nil {
		n.kernel.Register(&funcService{
			name: "admin",
			init: func(ctx context.Context) error {
				go func() {
					if err := n.adminSvc.Run(n.cfg.AdminListenAddr); err != nil {
						n.log.Debug().Err(err).Msg("admin service stopped")
					}
				}()
				return nil
			},
			term: func(ctx context.Context) error {
				return n.adminSvc.Stop()
			},
		})
	}
}
