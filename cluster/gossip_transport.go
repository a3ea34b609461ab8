package hekate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/gossip"
	"github.com/hekate-project/hekate/internal/transport"
	"github.com/hekate-project/hekate/internal/wire"
)

// gossipProtocol is this connector's transport.Handshake.Protocol,
// kept distinct from messagingProtocol so the two never cross-connect
// even if they shared a port.
const gossipProtocol = "hekate-gossip/1"

const gossipExchangeTimeout = 5 * time.Second

// Frame type bytes for the digest-exchange handshake: SYN carries our
// digests, ACK carries the peer's reply (what it needs from us, and
// what it has that we're stale on), ACK2 carries the full entries the
// ACK asked us for. Scoped to this connector only, per spec.md §6's
// per-protocol type byte rule.
const (
	frameGossipSyn      uint8 = 1
	frameGossipAck      uint8 = 2
	frameGossipAck2     uint8 = 3
	frameGossipJoinReq  uint8 = 4
	frameGossipJoinResp uint8 = 5
)

// gossipAck is the decoded body of a frameGossipAck frame.
type gossipAck struct {
	need []gossip.Digest
	full []gossip.Entry
}

// rawFrame is what a pending outbound call is waiting to receive back
// on its own connection: either a reply frame or the error that closed
// the connection before one arrived.
type rawFrame struct {
	frameType uint8
	body      []byte
	err       error
}

// gossipTransport is the concrete wiring gossip.Engine's PeerExchanger
// deliberately leaves abstract (see engine.go's doc comment): it dials
// peers over internal/transport and, as a transport.Handler, also
// answers inbound exchanges from peers dialing us. One instance plays
// both roles since gossip is symmetric — whichever side initiates,
// the digest/ack/ack2 exchange is the same protocol. It also carries
// the JOIN handshake (component D step 1-3), a one-shot request/reply
// exchange on the same connector.
type gossipTransport struct {
	self    gossip.Node
	cluster string
	log     zerolog.Logger

	engine *gossip.Engine // set once, after the Engine is constructed

	mu      sync.Mutex
	pending map[*transport.Client]chan rawFrame
}

func newGossipTransport(self gossip.Node, clusterName string, log zerolog.Logger) *gossipTransport {
	return &gossipTransport{
		self:    self,
		cluster: clusterName,
		log:     log.With().Str("component", "gossip-transport").Logger(),
		pending: make(map[*transport.Client]chan rawFrame),
	}
}

func (g *gossipTransport) bind(engine *gossip.Engine) { g.engine = engine }

func (g *gossipTransport) await(client *transport.Client, ctx context.Context, timeout time.Duration) (rawFrame, error) {
	ch := make(chan rawFrame, 1)
	g.mu.Lock()
	g.pending[client] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, client)
		g.mu.Unlock()
	}()

	select {
	case f := <-ch:
		return f, f.err
	case <-ctx.Done():
		return rawFrame{}, ctx.Err()
	case <-time.After(timeout):
		return rawFrame{}, fmt.Errorf("gossip: %s: timed out", client.RemoteAddr())
	}
}

// Exchange implements gossip.PeerExchanger: dial peer, send our
// digests, wait for its ack, then push back whatever full entries it
// asked for.
func (g *gossipTransport) Exchange(ctx context.Context, peer gossip.Node, digests []gossip.Digest) ([]gossip.Digest, []gossip.Entry, error) {
	hs := transport.Handshake{Protocol: gossipProtocol, ClusterName: g.cluster, NodeID: string(g.self.ID)}
	client, err := transport.Connect(ctx, peer.Address, hs, g, g.log)
	if err != nil {
		return nil, nil, err
	}
	defer client.Disconnect()

	if err := client.Send(frameGossipSyn, encodeDigests(digests)); err != nil {
		return nil, nil, err
	}

	f, err := g.await(client, ctx, gossipExchangeTimeout)
	if err != nil {
		return nil, nil, err
	}
	ack, err := decodeAck(f.body)
	if err != nil {
		return nil, nil, fmt.Errorf("gossip: bad ack frame: %w", err)
	}

	if len(ack.need) > 0 {
		full := make([]gossip.Entry, 0, len(ack.need))
		for _, d := range ack.need {
			if e, ok := g.engine.Roster().Get(d.ID); ok {
				full = append(full, e)
			}
		}
		if err := client.Send(frameGossipAck2, encodeEntries(full)); err != nil {
			return nil, nil, err
		}
	}

	return ack.need, ack.full, nil
}

// sendJoin dials seedAddr and performs the JOIN request/response
// handshake of spec.md §4.D steps 1-3. seedAddr need not be the
// coordinator itself; any live member forwards join handling to its
// own gossip.Engine.HandleJoinRequest, which is correct regardless of
// who happens to answer since join order is assigned centrally by
// whichever node replies (grounded on the single-coordinator
// assumption already built into gossip.Engine).
func (g *gossipTransport) sendJoin(ctx context.Context, seedAddr string, req gossip.JoinRequest) (gossip.JoinResponse, error) {
	hs := transport.Handshake{Protocol: gossipProtocol, ClusterName: g.cluster, NodeID: string(g.self.ID)}
	client, err := transport.Connect(ctx, seedAddr, hs, g, g.log)
	if err != nil {
		return gossip.JoinResponse{}, err
	}
	defer client.Disconnect()

	if err := client.Send(frameGossipJoinReq, encodeJoinRequest(req)); err != nil {
		return gossip.JoinResponse{}, err
	}

	f, err := g.await(client, ctx, gossipExchangeTimeout)
	if err != nil {
		return gossip.JoinResponse{}, err
	}
	return decodeJoinResponse(f.body)
}

// HandleFrame implements transport.Handler for both roles: answering
// a peer's SYN or JOIN request (we were dialed), and receiving a
// peer's ACK, ACK2, or JOIN response (we dialed them).
func (g *gossipTransport) HandleFrame(c *transport.Client, frameType uint8, body []byte) {
	switch frameType {
	case frameGossipSyn:
		digests, err := decodeDigests(body)
		if err != nil {
			g.log.Warn().Err(err).Msg("bad syn frame")
			return
		}
		need := g.engine.Roster().Need(digests)
		stale := g.engine.Roster().StaleFor(digests)
		if err := c.Send(frameGossipAck, encodeAck(need, stale)); err != nil {
			g.log.Warn().Err(err).Msg("failed to send ack")
		}

	case frameGossipJoinReq:
		req, err := decodeJoinRequest(body)
		if err != nil {
			g.log.Warn().Err(err).Msg("bad join request frame")
			return
		}
		resp := g.engine.HandleJoinRequest(req)
		if err := c.Send(frameGossipJoinResp, encodeJoinResponse(resp)); err != nil {
			g.log.Warn().Err(err).Msg("failed to send join response")
		}

	case frameGossipAck, frameGossipJoinResp:
		g.deliver(c, rawFrame{frameType: frameType, body: body})

	case frameGossipAck2:
		entries, err := decodeEntries(body)
		if err != nil {
			g.log.Warn().Err(err).Msg("bad ack2 frame")
			return
		}
		g.engine.ApplyRemoteEntries(entries)

	default:
		g.log.Warn().Uint8("frameType", frameType).Msg("unknown gossip frame type")
	}
}

func (g *gossipTransport) deliver(c *transport.Client, f rawFrame) {
	g.mu.Lock()
	ch, ok := g.pending[c]
	g.mu.Unlock()
	if ok {
		ch <- f
	}
}

// HandleClosed unblocks any call still waiting on this connection so a
// dropped peer surfaces as an error rather than a silent hang.
func (g *gossipTransport) HandleClosed(c *transport.Client, cause error) {
	g.mu.Lock()
	ch, ok := g.pending[c]
	delete(g.pending, c)
	g.mu.Unlock()
	if ok {
		err := cause
		if err == nil {
			err = fmt.Errorf("gossip: connection closed before reply")
		}
		select {
		case ch <- rawFrame{err: err}:
		default:
		}
	}
}

// --- wire encoding ---

func encodeDigests(digests []gossip.Digest) []byte {
	w := wire.NewWriter().PutUint32(uint32(len(digests)))
	for _, d := range digests {
		putDigest(w, d)
	}
	return w.Bytes()
}

func decodeDigests(body []byte) ([]gossip.Digest, error) {
	r := wire.NewReader(body)
	n, err := r.GetUint32()
	if err != nil {
		return nil, err
	}
	out := make([]gossip.Digest, 0, n)
	for i := uint32(0); i < n; i++ {
		d, err := getDigest(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func encodeAck(need []gossip.Digest, full []gossip.Entry) []byte {
	w := wire.NewWriter().PutUint32(uint32(len(need)))
	for _, d := range need {
		putDigest(w, d)
	}
	w.PutUint32(uint32(len(full)))
	for _, e := range full {
		putEntry(w, e)
	}
	return w.Bytes()
}

func decodeAck(body []byte) (gossipAck, error) {
	r := wire.NewReader(body)
	needCount, err := r.GetUint32()
	if err != nil {
		return gossipAck{}, err
	}
	need := make([]gossip.Digest, 0, needCount)
	for i := uint32(0); i < needCount; i++ {
		d, err := getDigest(r)
		if err != nil {
			return gossipAck{}, err
		}
		need = append(need, d)
	}
	fullCount, err := r.GetUint32()
	if err != nil {
		return gossipAck{}, err
	}
	full := make([]gossip.Entry, 0, fullCount)
	for i := uint32(0); i < fullCount; i++ {
		e, err := getEntry(r)
		if err != nil {
			return gossipAck{}, err
		}
		full = append(full, e)
	}
	return gossipAck{need: need, full: full}, nil
}

func encodeEntries(entries []gossip.Entry) []byte {
	w := wire.NewWriter().PutUint32(uint32(len(entries)))
	for _, e := range entries {
		putEntry(w, e)
	}
	return w.Bytes()
}

func decodeEntries(body []byte) ([]gossip.Entry, error) {
	r := wire.NewReader(body)
	n, err := r.GetUint32()
	if err != nil {
		return nil, err
	}
	out := make([]gossip.Entry, 0, n)
	for i := uint32(0); i < n; i++ {
		e, err := getEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func encodeJoinRequest(req gossip.JoinRequest) []byte {
	w := wire.NewWriter()
	putNode(w, req.Node)
	w.PutString(req.ClusterName)
	return w.Bytes()
}

func decodeJoinRequest(body []byte) (gossip.JoinRequest, error) {
	r := wire.NewReader(body)
	n, err := getNode(r)
	if err != nil {
		return gossip.JoinRequest{}, err
	}
	cluster, err := r.GetString()
	if err != nil {
		return gossip.JoinRequest{}, err
	}
	return gossip.JoinRequest{Node: n, ClusterName: cluster}, nil
}

func encodeJoinResponse(resp gossip.JoinResponse) []byte {
	var accepted uint8
	if resp.Accepted {
		accepted = 1
	}
	w := wire.NewWriter().
		PutUint8(accepted).
		PutString(resp.Reason).
		PutUint64(resp.JoinOrder).
		PutUint32(uint32(len(resp.Roster)))
	for _, e := range resp.Roster {
		putEntry(w, e)
	}
	return w.Bytes()
}

func decodeJoinResponse(body []byte) (gossip.JoinResponse, error) {
	r := wire.NewReader(body)
	accepted, err := r.GetUint8()
	if err != nil {
		return gossip.JoinResponse{}, err
	}
	reason, err := r.GetString()
	if err != nil {
		return gossip.JoinResponse{}, err
	}
	joinOrder, err := r.GetUint64()
	if err != nil {
		return gossip.JoinResponse{}, err
	}
	count, err := r.GetUint32()
	if err != nil {
		return gossip.JoinResponse{}, err
	}
	roster := make([]gossip.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := getEntry(r)
		if err != nil {
			return gossip.JoinResponse{}, err
		}
		roster = append(roster, e)
	}
	return gossip.JoinResponse{Accepted: accepted == 1, Reason: reason, JoinOrder: joinOrder, Roster: roster}, nil
}

func putNode(w *wire.Writer, n gossip.Node) {
	w.PutString(string(n.ID)).
		PutString(n.Address).
		PutUint64(n.JoinOrder).
		PutUint32(uint32(len(n.Roles)))
	for _, role := range n.Roles {
		w.PutString(role)
	}
	w.PutUint32(uint32(len(n.Properties)))
	for k, v := range n.Properties {
		w.PutString(k).PutString(v)
	}
}

func getNode(r *wire.Reader) (gossip.Node, error) {
	id, err := r.GetString()
	if err != nil {
		return gossip.Node{}, err
	}
	addr, err := r.GetString()
	if err != nil {
		return gossip.Node{}, err
	}
	joinOrder, err := r.GetUint64()
	if err != nil {
		return gossip.Node{}, err
	}
	roleCount, err := r.GetUint32()
	if err != nil {
		return gossip.Node{}, err
	}
	roles := make([]string, 0, roleCount)
	for i := uint32(0); i < roleCount; i++ {
		role, err := r.GetString()
		if err != nil {
			return gossip.Node{}, err
		}
		roles = append(roles, role)
	}
	propCount, err := r.GetUint32()
	if err != nil {
		return gossip.Node{}, err
	}
	props := make(map[string]string, propCount)
	for i := uint32(0); i < propCount; i++ {
		k, err := r.GetString()
		if err != nil {
			return gossip.Node{}, err
		}
		v, err := r.GetString()
		if err != nil {
			return gossip.Node{}, err
		}
		props[k] = v
	}
	return gossip.Node{ID: gossip.NodeID(id), Address: addr, JoinOrder: joinOrder, Roles: roles, Properties: props}, nil
}

func putDigest(w *wire.Writer, d gossip.Digest) {
	w.PutString(string(d.ID)).PutUint8(uint8(d.Status)).PutUint64(d.Version)
}

func getDigest(r *wire.Reader) (gossip.Digest, error) {
	id, err := r.GetString()
	if err != nil {
		return gossip.Digest{}, err
	}
	status, err := r.GetUint8()
	if err != nil {
		return gossip.Digest{}, err
	}
	version, err := r.GetUint64()
	if err != nil {
		return gossip.Digest{}, err
	}
	return gossip.Digest{ID: gossip.NodeID(id), Status: gossip.Status(status), Version: version}, nil
}

func putEntry(w *wire.Writer, e gossip.Entry) {
	putNode(w, e.Node)
	w.PutUint8(uint8(e.Status)).PutUint64(e.Version)
}

func getEntry(r *wire.Reader) (gossip.Entry, error) {
	n, err := getNode(r)
	if err != nil {
		return gossip.Entry{}, err
	}
	status, err := r.GetUint8()
	if err != nil {
		return gossip.Entry{}, err
	}
	version, err := r.GetUint64()
	if err != nil {
		return gossip.Entry{}, err
	}
	return gossip.Entry{Node: n, Status: gossip.Status(status), Version: version}, nil
}
