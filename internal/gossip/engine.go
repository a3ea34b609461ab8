package gossip

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultGossipInterval is how often the engine picks peers and
// exchanges digests, per spec.md §5's "Gossip goroutine".
const DefaultGossipInterval = time.Second

// DefaultFanout is how many peers one gossip round contacts.
const DefaultFanout = 3

// DefaultFailureQuorum is the default fraction of UP members whose
// suspicion is required before a node is declared FAILED (spec.md §9
// Open Question, resolved as a configurable fraction; see DESIGN.md).
const DefaultFailureQuorum = 0.5

// PeerExchanger is the engine's view of a remote node it can gossip with:
// enough to dial and exchange digests/entries. The concrete transport
// wiring (dial, frame encode/decode) lives in the cluster façade, kept
// out of this package so gossip's merge logic has no network
// dependency to mock in tests.
type PeerExchanger interface {
	// Exchange sends our digests to peer and returns the entries peer
	// decided we need in full (because our digest for those nodes was
	// stale), and learns from peer's reply which additional full
	// entries it needs from us — see round for how these are applied.
	Exchange(ctx context.Context, peer Node, digests []Digest) (needFromPeer []Digest, fullFromPeer []Entry, err error)
}

// Listener is notified whenever the engine's view of a node's status
// changes (including a brand-new node appearing, or one being
// removed). The coordination/lock/topology layers subscribe to this to
// rebuild their own views.
type Listener func(Entry)

// Engine runs the gossip protocol for one local node.
type Engine struct {
	self      Node
	cluster   string
	roster    *Roster
	exchanger PeerExchanger
	detector  SplitBrainDetector
	onSplit   func(SplitBrainAction)

	validators     []JoinValidator
	failureQuorum  float64
	gossipInterval time.Duration
	fanout         int
	action         SplitBrainAction

	log zerolog.Logger

	mu        sync.Mutex
	listeners []Listener

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config configures a new Engine.
type Config struct {
	Self           Node
	ClusterName    string
	Exchanger      PeerExchanger
	Detector       SplitBrainDetector
	OnSplitBrain   func(SplitBrainAction)
	Action         SplitBrainAction
	Validators     []JoinValidator
	FailureQuorum  float64
	GossipInterval time.Duration
	Fanout         int
}

// New constructs an Engine. The returned engine's roster already
// contains an entry for Self in StatusJoining; call Run to start the
// background gossip loop once the JOIN handshake (see Join) has
// completed.
func New(cfg Config) *Engine {
	if cfg.FailureQuorum <= 0 {
		cfg.FailureQuorum = DefaultFailureQuorum
	}
	if cfg.GossipInterval <= 0 {
		cfg.GossipInterval = DefaultGossipInterval
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = DefaultFanout
	}
	if cfg.Detector == nil {
		cfg.Detector = QuorumDetector{MinQuorum: 0.5}
	}
	if len(cfg.Validators) == 0 {
		cfg.Validators = []JoinValidator{ClusterNameValidator, AddressFamilyValidator}
	}

	e := &Engine{
		self:           cfg.Self,
		cluster:        cfg.ClusterName,
		roster:         NewRoster(),
		exchanger:      cfg.Exchanger,
		detector:       cfg.Detector,
		onSplit:        cfg.OnSplitBrain,
		validators:     cfg.Validators,
		failureQuorum:  cfg.FailureQuorum,
		gossipInterval: cfg.GossipInterval,
		fanout:         cfg.Fanout,
		action:         cfg.Action,
		stop:           make(chan struct{}),
		log:            zerolog.Nop(),
	}
	e.roster.Put(cfg.Self, StatusJoining)
	return e
}

// SetLogger installs the logger the engine reports through.
func (e *Engine) SetLogger(log zerolog.Logger) {
	e.log = log.With().Str("component", "gossip").Str("node", string(e.self.ID)).Logger()
}

// Self returns the local node record.
func (e *Engine) Self() Node { return e.self }

// Roster exposes the underlying membership table, primarily for the
// topology package to translate into Snapshots.
func (e *Engine) Roster() *Roster { return e.roster }

// Subscribe registers fn to be called on every entry change observed
// by this engine (merges, status transitions, removals).
func (e *Engine) Subscribe(fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) notify(entry Entry) {
	e.mu.Lock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()
	for _, l := range listeners {
		l(entry)
	}
}

// Run starts the background gossip loop. It returns once Stop is
// called or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(1)
	defer e.wg.Done()

	ticker := time.NewTicker(e.gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.round(ctx)
		}
	}
}

// Stop halts the background loop and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// round performs one gossip exchange with up to fanout randomly chosen
// peers, merges the results, and re-evaluates failure/split-brain
// state.
func (e *Engine) round(ctx context.Context) {
	peers := e.candidatePeers()
	if len(peers) == 0 {
		return
	}

	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	if len(peers) > e.fanout {
		peers = peers[:e.fanout]
	}

	digests := e.roster.Digests()

	for _, peer := range peers {
		needFromPeer, fullFromPeer, err := e.exchanger.Exchange(ctx, peer, digests)
		if err != nil {
			e.onExchangeFailure(peer, err)
			continue
		}
		_ = needFromPeer // the exchanger is expected to have already pushed these back to peer
		for _, full := range fullFromPeer {
			e.applyFullEntry(full)
		}
		e.roster.ClearSuspicion(peer.ID)
	}

	e.evaluateSplitBrain()
}

func (e *Engine) applyFullEntry(full Entry) {
	if e.roster.MergeEntry(full.Node, full.Status, full.Version) {
		merged, _ := e.roster.Get(full.Node.ID)
		e.notify(merged)
	}
}

// ApplyRemoteEntries merges entries pushed unsolicited by a peer (the
// second ack of a digest exchange, see PeerExchanger) into the local
// roster, notifying listeners of whatever actually changed.
func (e *Engine) ApplyRemoteEntries(entries []Entry) {
	for _, full := range entries {
		e.applyFullEntry(full)
	}
}

func (e *Engine) candidatePeers() []Node {
	entries := e.roster.Snapshot()
	out := make([]Node, 0, len(entries))
	for _, en := range entries {
		if en.Node.ID == e.self.ID {
			continue
		}
		if en.Status == StatusUp || en.Status == StatusJoining {
			out = append(out, en.Node)
		}
	}
	return out
}

// onExchangeFailure records a suspicion against peer and, once the
// configured failure quorum of UP members have independently
// suspected it, declares it FAILED. This is the failure-detection half
// of spec.md §4.D.
func (e *Engine) onExchangeFailure(peer Node, err error) {
	e.log.Debug().Str("peer", string(peer.ID)).Err(err).Msg("gossip exchange failed")

	count := e.roster.Suspect(peer.ID, e.self.ID)
	upCount := e.roster.CountByStatus(StatusUp)
	if upCount == 0 {
		upCount = 1
	}

	if float64(count)/float64(upCount) > e.failureQuorum {
		e.roster.SetStatus(peer.ID, StatusFailed)
		entry, _ := e.roster.Get(peer.ID)
		e.log.Warn().Str("peer", string(peer.ID)).Msg("failure quorum reached, marking node FAILED")
		e.notify(entry)
	}
}

func (e *Engine) evaluateSplitBrain() {
	if e.detector == nil || e.onSplit == nil {
		return
	}
	if !e.detector.IsValid(e.self.ID, e.roster) {
		e.log.Warn().Stringer("action", e.action).Msg("split-brain detected")
		e.onSplit(e.action)
	}
}

// Join performs the local half of the JOIN sequence of spec.md §4.D:
// it rejects a response the coordinator did not accept, records the
// assigned join order with the local entry as JOINING, seeds the roster
// from the returned membership list, then marks the local entry UP.
// The JoinPhase values are not tracked here.
func (e *Engine) Join(resp JoinResponse) error {
	if !resp.Accepted {
		return fmt.Errorf("gossip: join rejected: %s", resp.Reason)
	}

	e.self.JoinOrder = resp.JoinOrder
	e.roster.Put(e.self, StatusJoining)

	for _, entry := range resp.Roster {
		e.roster.MergeEntry(entry.Node, entry.Status, entry.Version)
	}

	e.roster.SetStatus(e.self.ID, StatusUp)
	entry, _ := e.roster.Get(e.self.ID)
	e.notify(entry)
	return nil
}

// HandleJoinRequest is invoked by whichever node is acting as
// coordinator when a JoinRequest arrives. It runs the validator chain
// and, if accepted, assigns the next join order and returns the
// current roster.
func (e *Engine) HandleJoinRequest(req JoinRequest) JoinResponse {
	if err := RunValidators(e.validators, req, e.self, e.cluster); err != nil {
		return JoinResponse{Accepted: false, Reason: err.Error()}
	}

	order := e.roster.PutJoining(req.Node)

	return JoinResponse{
		Accepted:  true,
		JoinOrder: order,
		Roster:    e.roster.Snapshot(),
	}
}

// Leave performs the local half of the LEAVE handshake: marks the
// local node LEAVING (propagated by the next gossip rounds) then, once
// callers are done draining in-flight work, Remove should be called to
// drop it from the roster entirely.
func (e *Engine) Leave() {
	e.roster.SetStatus(e.self.ID, StatusLeaving)
	entry, _ := e.roster.Get(e.self.ID)
	e.notify(entry)
}
