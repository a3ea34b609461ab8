package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/wire"
)

// Frame type bytes used by the transport's own control protocol.
// Application protocols built on top (messaging, gossip, lock,
// coordination) pick their own type bytes, which travel as the first
// byte of a frameData body and so may reuse these values.
const (
	frameHandshake = iota
	frameHandshakeAck
	frameHeartbeat
	frameData
	frameDisconnect
)

// DefaultHeartbeatInterval matches spec.md §4.A's periodic heartbeat
// requirement when no application traffic has flowed recently.
const DefaultHeartbeatInterval = 10 * time.Second

// DefaultHeartbeatLossThreshold is how many consecutive missed
// heartbeat intervals of silence a connection tolerates before being
// treated as dead.
const DefaultHeartbeatLossThreshold = 3

// HeartbeatConfig is a connection's heartbeat cadence. The accepting
// side's configuration always wins: Listen echoes its HeartbeatConfig
// back to every peer in the handshake ack (spec.md §4.A's
// HandshakeAccept), and Connect adopts whatever its peer sent rather
// than deciding for itself, so both ends of one connection run
// identical timing.
type HeartbeatConfig struct {
	Interval      time.Duration
	LossThreshold int
	Disabled      bool
}

func (h HeartbeatConfig) orDefault() HeartbeatConfig {
	if h.Interval <= 0 {
		h.Interval = DefaultHeartbeatInterval
	}
	if h.LossThreshold <= 0 {
		h.LossThreshold = DefaultHeartbeatLossThreshold
	}
	return h
}

func (h HeartbeatConfig) timeout() time.Duration {
	return h.Interval * time.Duration(h.LossThreshold)
}

// Handshake identifies a connecting peer's protocol and cluster. A
// Listener rejects connections whose handshake does not match its own.
type Handshake struct {
	Protocol    string
	ClusterName string
	NodeID      string
}

// Handler receives application frames read off an established Client.
type Handler interface {
	// HandleFrame is invoked from the connection's receive loop for
	// every application-level frame. It must not block for long: slow
	// work should be handed off to the caller's own worker pool.
	HandleFrame(c *Client, frameType uint8, body []byte)
	// HandleClosed is invoked once, when the connection is torn down.
	HandleClosed(c *Client, cause error)
}

// Listener accepts inbound connections on one address and performs
// the handshake before handing accepted connections to a Handler.
type Listener struct {
	ln       net.Listener
	expected Handshake
	hb       HeartbeatConfig
	handler  Handler
	log      zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// ResolveListener binds host:port, and on failure retries at
// host:(port+1), host:(port+2), ..., host:(port+portRange-1), per
// spec.md §4.A's "on bind failure, retry with port+1, up to
// initPort+portRange-1". portRange<=0 is treated as 1 (no retry).
// port==0 asks the OS for an ephemeral port and is tried exactly once,
// since retrying at successive fixed ports makes no sense for an
// OS-assigned bind.
func ResolveListener(host string, port, portRange int) (net.Listener, error) {
	if port == 0 {
		return net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	}
	if portRange <= 0 {
		portRange = 1
	}

	var lastErr error
	for i := 0; i < portRange; i++ {
		candidate := fmt.Sprintf("%s:%d", host, port+i)
		ln, err := net.Listen("tcp", candidate)
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, newError(KindDial, fmt.Sprintf("%s:%d-%d", host, port, port+portRange-1), lastErr)
}

// Listen wraps an already-bound net.Listener (typically the result of
// ResolveListener) with the handshake/heartbeat protocol. expected's
// Protocol/ClusterName are checked against every inbound handshake;
// hb is this listener's heartbeat cadence, echoed back to every
// accepted peer in the handshake ack.
func Listen(ln net.Listener, expected Handshake, hb HeartbeatConfig, handler Handler, log zerolog.Logger) *Listener {
	l := &Listener{
		ln:       ln,
		expected: expected,
		hb:       hb.orDefault(),
		handler:  handler,
		log:      log.With().Str("component", "transport").Str("addr", ln.Addr().String()).Logger(),
	}

	go l.acceptLoop()

	return l
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				l.log.Warn().Err(err).Msg("accept failed")
			}
			return
		}
		go l.handleInbound(conn)
	}
}

func (l *Listener) handleInbound(conn net.Conn) {
	hs, err := readHandshake(conn)
	if err != nil {
		l.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("handshake read failed")
		conn.Close()
		return
	}

	if hs.Protocol != l.expected.Protocol || hs.ClusterName != l.expected.ClusterName {
		l.log.Warn().
			Str("remote", conn.RemoteAddr().String()).
			Str("gotProtocol", hs.Protocol).
			Str("gotCluster", hs.ClusterName).
			Msg("rejecting handshake: protocol/cluster mismatch")
		writeHandshakeAck(conn, false, HeartbeatConfig{})
		conn.Close()
		return
	}

	if err := writeHandshakeAck(conn, true, l.hb); err != nil {
		conn.Close()
		return
	}

	c := newClient(conn, l.handler, l.hb, l.log)
	c.peerNodeID = hs.NodeID
	c.start()
}

// Close stops accepting new connections. Already-accepted Clients are
// unaffected.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.ln.Close()
}

// Connect dials addr, performs the handshake, and returns a live
// Client whose received frames are delivered to handler. The
// connection's heartbeat cadence is whatever the peer's handshake ack
// specifies, not anything Connect itself decides.
func Connect(ctx context.Context, addr string, hs Handshake, handler Handler, log zerolog.Logger) (*Client, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(KindDial, addr, err)
	}

	if err := writeHandshakeFrame(conn, hs); err != nil {
		conn.Close()
		return nil, newError(KindHandshake, addr, err)
	}

	ack, err := readHandshakeAck(conn)
	if err != nil {
		conn.Close()
		return nil, newError(KindHandshake, addr, err)
	}
	if !ack.accepted {
		conn.Close()
		return nil, newError(KindHandshake, addr, fmt.Errorf("handshake rejected by peer"))
	}

	hb := HeartbeatConfig{
		Interval:      time.Duration(ack.heartbeatMS) * time.Millisecond,
		LossThreshold: int(ack.lossThreshold),
		Disabled:      ack.disabled,
	}

	c := newClient(conn, handler, hb, log.With().Str("component", "transport").Str("addr", addr).Logger())
	c.start()
	return c, nil
}

// --- handshake wire helpers (kept deliberately separate from the
// generic Writer/Reader in internal/wire, since the handshake precedes
// any negotiated application framing) ---

func writeHandshakeFrame(conn net.Conn, hs Handshake) error {
	body := wire.NewWriter().PutString(hs.Protocol).PutString(hs.ClusterName).PutString(hs.NodeID).Bytes()
	return wire.WriteFrame(conn, wire.Frame{Type: frameHandshake, Body: body})
}

func readHandshake(conn net.Conn) (Handshake, error) {
	f, err := wire.ReadFrame(conn)
	if err != nil {
		return Handshake{}, err
	}
	if f.Type != frameHandshake {
		return Handshake{}, fmt.Errorf("transport: expected handshake frame, got type %d", f.Type)
	}
	r := wire.NewReader(f.Body)
	protocol, err := r.GetString()
	if err != nil {
		return Handshake{}, err
	}
	cluster, err := r.GetString()
	if err != nil {
		return Handshake{}, err
	}
	nodeID, err := r.GetString()
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{Protocol: protocol, ClusterName: cluster, NodeID: nodeID}, nil
}

// handshakeAck is the accepting side's reply: whether the handshake
// was accepted, and (spec.md §4.A's HandshakeAccept) the heartbeat
// cadence the connecting side must adopt.
type handshakeAck struct {
	accepted      bool
	heartbeatMS   uint64
	lossThreshold uint32
	disabled      bool
}

func writeHandshakeAck(conn net.Conn, accepted bool, hb HeartbeatConfig) error {
	var acceptedByte, disabledByte uint8
	if accepted {
		acceptedByte = 1
	}
	if hb.Disabled {
		disabledByte = 1
	}
	body := wire.NewWriter().
		PutUint8(acceptedByte).
		PutUint64(uint64(hb.Interval / time.Millisecond)).
		PutUint32(uint32(hb.LossThreshold)).
		PutUint8(disabledByte).
		Bytes()
	return wire.WriteFrame(conn, wire.Frame{Type: frameHandshakeAck, Body: body})
}

func readHandshakeAck(conn net.Conn) (handshakeAck, error) {
	f, err := wire.ReadFrame(conn)
	if err != nil {
		return handshakeAck{}, err
	}
	if f.Type != frameHandshakeAck {
		return handshakeAck{}, fmt.Errorf("transport: expected handshake-ack frame, got type %d", f.Type)
	}
	r := wire.NewReader(f.Body)
	acceptedByte, err := r.GetUint8()
	if err != nil {
		return handshakeAck{}, err
	}
	ms, err := r.GetUint64()
	if err != nil {
		return handshakeAck{}, err
	}
	loss, err := r.GetUint32()
	if err != nil {
		return handshakeAck{}, err
	}
	disabledByte, err := r.GetUint8()
	if err != nil {
		return handshakeAck{}, err
	}
	return handshakeAck{
		accepted:      acceptedByte == 1,
		heartbeatMS:   ms,
		lossThreshold: loss,
		disabled:      disabledByte == 1,
	}, nil
}

// --- Client ---

// Client is one established, handshaken connection. Frames received
// from the peer are dispatched to the Handler supplied at
// construction; sends are safe to call concurrently from any number of
// goroutines.
type Client struct {
	conn       net.Conn
	handler    Handler
	log        zerolog.Logger
	peerNodeID string
	hb         HeartbeatConfig

	writeMu sync.Mutex

	pauseMu  sync.Mutex
	paused   bool
	resumeCh chan struct{}

	closed     atomic.Bool
	closeOnce  sync.Once
	lastActive atomic.Int64 // unix nanos
	done       chan struct{}
}

func newClient(conn net.Conn, handler Handler, hb HeartbeatConfig, log zerolog.Logger) *Client {
	resumed := make(chan struct{})
	close(resumed)
	c := &Client{
		conn:     conn,
		handler:  handler,
		hb:       hb.orDefault(),
		log:      log,
		resumeCh: resumed,
		done:     make(chan struct{}),
	}
	c.lastActive.Store(time.Now().UnixNano())
	return c
}

func (c *Client) start() {
	go c.receiveLoop()
	if !c.hb.Disabled {
		go c.heartbeatLoop()
	}
}

// PeerNodeID returns the node id the peer presented at handshake time,
// if any.
func (c *Client) PeerNodeID() string { return c.peerNodeID }

// RemoteAddr returns the underlying connection's remote address.
func (c *Client) RemoteAddr() string {
	if c.conn.RemoteAddr() == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Send writes one application frame. frameType is carried inside a
// frameData body (see prependAppType), so any value is allowed,
// including those of the frame* control constants above.
func (c *Client) Send(frameType uint8, body []byte) error {
	if c.closed.Load() {
		return newError(KindSend, c.RemoteAddr(), fmt.Errorf("connection closed"))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := wire.WriteFrame(c.conn, wire.Frame{Type: frameData, Body: prependAppType(frameType, body)}); err != nil {
		return newError(KindSend, c.RemoteAddr(), err)
	}
	return nil
}

// prependAppType multiplexes application frame types under the single
// reserved frameData wire type; the application's own type byte
// travels as the first byte of the frame body.
func prependAppType(appType uint8, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = appType
	copy(out[1:], body)
	return out
}

// PauseReceiving suspends dispatch of received application frames:
// receiveLoop blocks before its next read rather than reading and
// discarding, so unread bytes accumulate in the OS socket buffer and
// the sender's own writes eventually block on a full buffer — real
// TCP-level backpressure, matching spec.md §4.A's pause/resume
// primitive. The connection's own heartbeat loop keeps writing
// outbound pings and skips the read-staleness check while paused, so
// a long pause is never mistaken for a dead connection on either end.
func (c *Client) PauseReceiving() {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if !c.paused {
		c.paused = true
		c.resumeCh = make(chan struct{})
	}
}

// ResumeReceiving resumes dispatch of received application frames.
func (c *Client) ResumeReceiving() {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resumeCh)
	}
}

func (c *Client) isPaused() bool {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.paused
}

func (c *Client) resumeSignal() <-chan struct{} {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.resumeCh
}

// Disconnect closes the connection and notifies the handler.
func (c *Client) Disconnect() error {
	return c.disconnect(nil)
}

func (c *Client) disconnect(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.conn.Close()
		c.handler.HandleClosed(c, cause)
	})
	return err
}

func (c *Client) receiveLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.resumeSignal():
		}

		f, err := wire.ReadFrame(c.conn)
		if err != nil {
			c.disconnect(newError(KindReceive, c.RemoteAddr(), err))
			return
		}
		c.lastActive.Store(time.Now().UnixNano())

		// A read already in progress when PauseReceiving was called
		// holds its frame here until ResumeReceiving.
		select {
		case <-c.done:
			return
		case <-c.resumeSignal():
		}

		switch f.Type {
		case frameHeartbeat:
			// no-op: receipt alone resets lastActive above.
		case frameDisconnect:
			c.disconnect(nil)
			return
		default:
			if len(f.Body) == 0 {
				continue
			}
			c.handler.HandleFrame(c, f.Body[0], f.Body[1:])
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.hb.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if !c.isPaused() {
				last := time.Unix(0, c.lastActive.Load())
				if time.Since(last) > c.hb.timeout() {
					c.disconnect(newError(KindTimeout, c.RemoteAddr(), fmt.Errorf("heartbeat timeout")))
					return
				}
			}

			c.writeMu.Lock()
			err := wire.WriteFrame(c.conn, wire.Frame{Type: frameHeartbeat})
			c.writeMu.Unlock()
			if err != nil {
				c.disconnect(newError(KindSend, c.RemoteAddr(), err))
				return
			}
		}
	}
}
