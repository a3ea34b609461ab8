package messaging

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/topology"
	"github.com/hekate-project/hekate/internal/transport"
)

// NodeResolver maps a node id to the topology.Node record needed to
// populate Message.From on delivery. Supplied by the cluster façade.
type NodeResolver func(id string) (topology.Node, bool)

// Gateway is the messaging service (component G) for one local node:
// it owns the shared connection pool and dispatches every received
// transport frame to the Channel its envelope names.
type Gateway struct {
	dial    Dialer
	resolve NodeResolver
	pool    *connectionPool
	log     zerolog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
}

// New returns a Gateway. dial is used to open outbound connections;
// resolve maps a node id to its topology.Node for inbound Message.From
// population.
func New(dial Dialer, resolve NodeResolver, poolSize int, log zerolog.Logger) *Gateway {
	g := &Gateway{
		dial:     dial,
		resolve:  resolve,
		log:      log.With().Str("component", "messaging-gateway").Logger(),
		channels: make(map[string]*Channel),
	}
	g.pool = newConnectionPool(dial, g, poolSize, log)
	return g
}

// RegisterChannel creates and returns a new named channel. Registering
// the same name twice replaces the previous channel, closing its
// worker pool first.
func (g *Gateway) RegisterChannel(cfg ChannelConfig) *Channel {
	ch := newChannel(cfg, g.pool, g.log)

	g.mu.Lock()
	if old, ok := g.channels[cfg.Name]; ok {
		old.Close()
	}
	g.channels[cfg.Name] = ch
	g.mu.Unlock()

	return ch
}

// Channel returns a previously registered channel by name.
func (g *Gateway) Channel(name string) (*Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ch, ok := g.channels[name]
	return ch, ok
}

// RemoveNode drops every pooled connection to a node that has left
// the cluster.
func (g *Gateway) RemoveNode(id string) {
	g.pool.RemoveNode(id)
}

// Close shuts down every registered channel's worker pool.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ch := range g.channels {
		ch.Close()
	}
}

// --- transport.Handler implementation: the Gateway is the single
// handler installed on every pooled connection, and fans inbound
// frames out to the right Channel by envelope name. ---

func (g *Gateway) HandleFrame(c *transport.Client, frameType uint8, body []byte) {
	env, err := decodeEnvelope(body)
	if err != nil {
		g.log.Warn().Err(err).Msg("dropping frame with unparseable envelope")
		return
	}

	ch, ok := g.Channel(env.Channel)
	if !ok {
		g.log.Debug().Str("channel", env.Channel).Msg("no such channel, dropping frame")
		return
	}

	from := topology.Node{ID: c.PeerNodeID(), Address: c.RemoteAddr()}
	if g.resolve != nil {
		if resolved, ok := g.resolve(c.PeerNodeID()); ok {
			from = resolved
		}
	}

	ch.dispatchInbound(context.Background(), from, c, frameType, env)
}

func (g *Gateway) HandleClosed(c *transport.Client, cause error) {
	if cause != nil {
		g.log.Debug().Str("peer", c.PeerNodeID()).Err(cause).Msg("connection closed")
	}
	g.pool.Drop(c.PeerNodeID(), c)
}
