package messaging

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/balancer"
	"github.com/hekate-project/hekate/internal/topology"
	"github.com/hekate-project/hekate/internal/wire"
)

// ReplyKind distinguishes the three reply shapes spec.md §4.G allows:
// any number of partial replies followed by exactly one final reply,
// or a single error reply in place of the final one.
type ReplyKind int

const (
	ReplyPartial ReplyKind = iota
	ReplyFinal
	ReplyError
)

// Reply is one reply delivered to a Request caller.
type Reply struct {
	Kind    ReplyKind
	Payload []byte
	Err     error
}

// Message is one inbound unit of work delivered to a Receiver: either
// a fire-and-forget Send or a Request awaiting a reply via Respond.
type Message struct {
	From        topology.Node
	AffinityKey string
	Payload     []byte

	channel       *Channel
	conn          connSender
	correlationID CorrelationID
	isRequest     bool
	replied       atomic.Bool
}

type connSender interface {
	Send(frameType uint8, body []byte) error
}

// IsRequest reports whether this message expects a reply via Respond.
// A fire-and-forget Send message returns false.
func (m *Message) IsRequest() bool { return m.isRequest }

// Respond sends a reply to a Request message. Calling it on a
// fire-and-forget Send is a programmer error and returns an error
// without sending anything. A Final or Error reply may only be sent
// once; subsequent calls return an error.
func (m *Message) Respond(reply Reply) error {
	if !m.isRequest {
		return fmt.Errorf("messaging: cannot respond to a one-way message")
	}
	if reply.Kind != ReplyPartial && !m.replied.CompareAndSwap(false, true) {
		return fmt.Errorf("messaging: final/error reply already sent")
	}

	var frameType uint8
	var payload []byte
	switch reply.Kind {
	case ReplyPartial:
		frameType = frameReplyPartial
		payload = reply.Payload
	case ReplyFinal:
		frameType = frameReplyFinal
		payload = reply.Payload
	case ReplyError:
		frameType = frameReplyError
		errMsg := ""
		if reply.Err != nil {
			errMsg = reply.Err.Error()
		}
		payload = []byte(errMsg)
	}

	body := encodeEnvelope(envelope{Channel: m.channel.name, CorrelationID: m.correlationID, Payload: payload})
	return m.conn.Send(frameType, body)
}

// Receiver handles inbound messages for a channel. Implementations
// must not block for long: the workerPool only preserves per-affinity
// ordering, it does not grow to absorb slow receivers.
type Receiver interface {
	HandleMessage(ctx context.Context, msg *Message)
}

// ReceiverFunc adapts a function to a Receiver.
type ReceiverFunc func(ctx context.Context, msg *Message)

func (f ReceiverFunc) HandleMessage(ctx context.Context, msg *Message) { f(ctx, msg) }

// pendingRequest tracks one in-flight Request awaiting reply frames.
type pendingRequest struct {
	replies chan Reply
	done    chan struct{}
}

// ChannelConfig configures a Channel at registration time.
type ChannelConfig struct {
	Name           string
	Codec          wire.Codec
	PoolSize       int
	WorkerCount    int
	MaxInFlight    int
	Balancer       balancer.LoadBalancer
	Failover       balancer.FailoverPolicy
	RequestTimeout time.Duration
}

// Channel is one named messaging channel: a connection pool, worker
// pool, load balancer/failover policy, and the registered receiver for
// inbound messages, matching spec.md §4.G.
type Channel struct {
	name           string
	pool           *connectionPool
	workers        *workerPool
	pressure       *SendPressureGuard
	lb             balancer.LoadBalancer
	failover       balancer.FailoverPolicy
	requestTimeout time.Duration
	log            zerolog.Logger

	receiver Receiver

	mu      sync.Mutex
	pending map[CorrelationID]*pendingRequest
	nextID  uint32
}

func newChannel(cfg ChannelConfig, pool *connectionPool, log zerolog.Logger) *Channel {
	lb := cfg.Balancer
	if lb == nil {
		lb = &balancer.RoundRobin{}
	}
	failover := cfg.Failover
	if failover == nil {
		failover = balancer.NewRetry(3, 100*time.Millisecond)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Channel{
		name:           cfg.Name,
		pool:           pool,
		workers:        newWorkerPool(cfg.WorkerCount, 128, log),
		pressure:       NewSendPressureGuard(cfg.MaxInFlight),
		lb:             lb,
		failover:       failover,
		requestTimeout: timeout,
		log:            log.With().Str("channel", cfg.Name).Logger(),
		pending:        make(map[CorrelationID]*pendingRequest),
	}
}

// SetReceiver installs the handler for inbound messages on this
// channel. Must be called before traffic arrives; not safe to change
// concurrently with message delivery.
func (c *Channel) SetReceiver(r Receiver) {
	c.receiver = r
}

// Close releases the channel's worker pool. The underlying connection
// pool is owned by the Gateway and outlives individual channels.
func (c *Channel) Close() {
	c.workers.Close()
}

func (c *Channel) allocateCorrelationID() CorrelationID {
	id := atomic.AddUint32(&c.nextID, 1) % uint32(maxCorrelationID)
	return CorrelationID(id)
}

// dispatchInbound routes one received, already-decoded envelope
// either to a pending Request (for reply frames) or to the registered
// Receiver (for Send/Request frames), on the channel's worker pool
// keyed by affinity so ordering is preserved per spec.md §5.
func (c *Channel) dispatchInbound(ctx context.Context, from topology.Node, conn connSender, frameType uint8, env envelope) {
	switch frameType {
	case frameReplyPartial, frameReplyFinal, frameReplyError:
		c.deliverReply(env, frameType)
		return
	case frameSend, frameRequest:
		if c.receiver == nil {
			c.log.Debug().Msg("no receiver registered, dropping message")
			return
		}
		msg := &Message{
			From:          from,
			AffinityKey:   env.AffinityKey,
			Payload:       env.Payload,
			channel:       c,
			conn:          conn,
			correlationID: env.CorrelationID,
			isRequest:     frameType == frameRequest,
		}
		c.workers.Submit(msg.AffinityKey, func() {
			c.receiver.HandleMessage(ctx, msg)
		})
	default:
		c.log.Warn().Uint8("frameType", frameType).Msg("unknown messaging frame type")
	}
}

func (c *Channel) deliverReply(env envelope, frameType uint8) {
	c.mu.Lock()
	pending, ok := c.pending[env.CorrelationID]
	c.mu.Unlock()
	if !ok {
		return
	}

	var reply Reply
	switch frameType {
	case frameReplyPartial:
		reply = Reply{Kind: ReplyPartial, Payload: env.Payload}
	case frameReplyFinal:
		reply = Reply{Kind: ReplyFinal, Payload: env.Payload}
	case frameReplyError:
		reply = Reply{Kind: ReplyError, Err: fmt.Errorf("messaging: remote error: %s", string(env.Payload))}
	}

	select {
	case pending.replies <- reply:
	case <-pending.done:
	}

	if reply.Kind == ReplyFinal || reply.Kind == ReplyError {
		c.mu.Lock()
		delete(c.pending, env.CorrelationID)
		c.mu.Unlock()
	}
}

// Send fires a one-way message with no reply expected, choosing a
// target via the channel's load balancer (and affinity key for
// connection-pool routing).
func (c *Channel) Send(ctx context.Context, req balancer.Request, addr string, payload []byte) error {
	if err := c.pressure.Acquire(ctx); err != nil {
		return err
	}
	defer c.pressure.Release()

	return c.sendWithFailover(ctx, req, addr, payload, frameSend, 0)
}

// Request sends payload and returns a channel of replies: zero or
// more ReplyPartial followed by exactly one ReplyFinal or ReplyError.
// The returned channel is closed once the final/error reply has been
// delivered or ctx is done.
func (c *Channel) Request(ctx context.Context, req balancer.Request, addr string, payload []byte) (<-chan Reply, error) {
	if err := c.pressure.Acquire(ctx); err != nil {
		return nil, err
	}

	id := c.allocateCorrelationID()
	pending := &pendingRequest{replies: make(chan Reply, 8), done: make(chan struct{})}

	c.mu.Lock()
	c.pending[id] = pending
	c.mu.Unlock()

	out := make(chan Reply, 8)

	if err := c.sendWithFailover(ctx, req, addr, payload, frameRequest, id); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.pressure.Release()
		close(pending.done)
		return nil, err
	}

	go func() {
		defer c.pressure.Release()
		defer close(out)

		timeout := time.NewTimer(c.requestTimeout)
		defer timeout.Stop()

		for {
			select {
			case reply, ok := <-pending.replies:
				if !ok {
					return
				}
				out <- reply
				if reply.Kind == ReplyFinal || reply.Kind == ReplyError {
					close(pending.done)
					return
				}
			case <-ctx.Done():
				close(pending.done)
				c.mu.Lock()
				delete(c.pending, id)
				c.mu.Unlock()
				out <- Reply{Kind: ReplyError, Err: ctx.Err()}
				return
			case <-timeout.C:
				close(pending.done)
				c.mu.Lock()
				delete(c.pending, id)
				c.mu.Unlock()
				out <- Reply{Kind: ReplyError, Err: fmt.Errorf("messaging: request timed out")}
				return
			}
		}
	}()

	return out, nil
}

func (c *Channel) sendWithFailover(ctx context.Context, req balancer.Request, addr string, payload []byte, frameType uint8, corrID CorrelationID) error {
	attempt := 0
	var lastErr error

	for {
		target, ok := c.lb.Pick(ctx, req)
		if !ok {
			return fmt.Errorf("messaging: no candidate nodes to send to")
		}

		conn, err := c.pool.Get(ctx, target.ID, addr, req.AffinityKey)
		if err == nil {
			env := envelope{Channel: c.name, CorrelationID: corrID, AffinityKey: req.AffinityKey, Payload: payload}
			err = conn.client.Send(frameType, encodeEnvelope(env))
		}
		if err == nil {
			return nil
		}

		lastErr = err
		attempt++
		info := balancer.FailureInfo{Attempt: attempt, Cause: err, AffinityKey: req.AffinityKey}
		delay, retry := c.failover.ShouldRetry(ctx, info)
		if !retry {
			return fmt.Errorf("messaging: send failed after %d attempts: %w", attempt, lastErr)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
