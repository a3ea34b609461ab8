package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/topology"
)

// Process drives one coordination process's rounds: it watches a
// topology view, becomes coordinator when it is the oldest member,
// and runs every Handler callback on its own single-threaded executor
// (spec.md §5: "Coordination executor: one single-threaded worker per
// coordination process").
type Process struct {
	name      string
	self      topology.Node
	handler   Handler
	transport Transport
	log       zerolog.Logger

	mu       sync.Mutex
	current  *round
	roundSeq uint64
	lastSnap topology.Snapshot

	exec   chan func()
	closed chan struct{}
}

func newProcess(name string, self topology.Node, handler Handler, transport Transport, log zerolog.Logger) *Process {
	p := &Process{
		name:      name,
		self:      self,
		handler:   handler,
		transport: transport,
		log:       log.With().Str("process", name).Logger(),
		exec:      make(chan func(), 64),
		closed:    make(chan struct{}),
	}
	go p.runExecutor()
	return p
}

func (p *Process) runExecutor() {
	for {
		select {
		case fn := <-p.exec:
			fn()
		case <-p.closed:
			return
		}
	}
}

func (p *Process) enqueue(fn func()) {
	select {
	case p.exec <- fn:
	case <-p.closed:
	}
}

// Close stops the executor. Pending enqueued work is dropped.
func (p *Process) Close() { close(p.closed) }

// ProcessSnapshot is a read-only view of a Process's current round, for
// the admin introspection service.
type ProcessSnapshot struct {
	Name        string
	Coordinator string
	RoundID     uint64
	Done        bool
	Cancelled   bool
}

// Snapshot returns this process's current round state, if any.
func (p *Process) Snapshot() (ProcessSnapshot, bool) {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()
	if r == nil {
		return ProcessSnapshot{}, false
	}
	return ProcessSnapshot{
		Name:        p.name,
		Coordinator: r.coordinator,
		RoundID:     r.id,
		Done:        r.isDone(),
		Cancelled:   r.isCancelled(),
	}, true
}

// onTopologyChange evaluates whether this node is now the coordinator
// for a fresh round, and cancels any round left over from a previous
// coordinator or membership set (spec.md §4.I recovery: "the
// next-oldest member detects this via topology change ... begins a
// fresh round. There is no attempt to resume the previous round").
func (p *Process) onTopologyChange(snap topology.Snapshot) {
	p.mu.Lock()
	p.lastSnap = snap
	cur := p.current
	p.mu.Unlock()

	if cur != nil && !cur.isDone() && !cur.isCancelled() {
		cur.markCancelled()
		p.enqueue(func() { p.handler.Cancel(&Context{proc: p, rnd: cur}) })
	}

	oldest, ok := snap.Oldest()
	if !ok || oldest.ID != p.self.ID {
		return
	}
	go p.startRound(snap)
}

// startRound runs on the newly elected coordinator: it creates the
// round locally and calls Prepare on every member, including itself.
func (p *Process) startRound(snap topology.Snapshot) {
	p.mu.Lock()
	p.roundSeq++
	r := newRound(p.roundSeq, p.self.ID, snap)
	p.current = r
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range r.members {
		m := m
		if m.ID == p.self.ID {
			done := make(chan struct{})
			p.enqueue(func() {
				p.handler.Prepare(&Context{proc: p, rnd: r})
				close(done)
			})
			<-done
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _ := json.Marshal(wireEnvelope{Op: opPrepare, Process: p.name, RoundID: r.id})
			if _, err := p.transport.Call(context.Background(), m.Node, body); err != nil {
				p.log.Debug().Err(err).Str("member", m.ID).Msg("prepare failed, excluding from round")
			}
		}()
	}
	wg.Wait()

	done := make(chan struct{})
	p.enqueue(func() {
		p.handler.Prepare(&Context{proc: p, rnd: r})
		close(done)
	})
	<-done
}

// broadcast implements Context.Broadcast: fan out request to every
// member (local member handled in-process, remote members via
// Transport.Call), then run callback on this process's executor once
// every reply is in.
func (p *Process) broadcast(r *round, request []byte, callback BroadcastCallback) {
	if r.isCancelled() {
		p.enqueue(func() { callback(nil, fmt.Errorf("coordination: round %d was cancelled", r.id)) })
		return
	}

	replies := make(map[string][]byte, len(r.members))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, m := range r.members {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := p.callMember(r, m, request)
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			replies[m.ID] = body
			mu.Unlock()
		}()
	}
	wg.Wait()

	p.enqueue(func() { callback(replies, firstErr) })
}

func (p *Process) callMember(r *round, m Member, request []byte) ([]byte, error) {
	if m.ID == p.self.ID {
		return p.handler.Process(&Context{proc: p, rnd: r}, request)
	}

	body, err := json.Marshal(wireEnvelope{Op: opProcess, Process: p.name, RoundID: r.id, Payload: request})
	if err != nil {
		return nil, err
	}
	raw, err := p.transport.Call(context.Background(), m.Node, body)
	if err != nil {
		return nil, err
	}
	var resp wireEnvelope
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Op == "error" {
		return nil, fmt.Errorf("coordination: %s", string(resp.Payload))
	}
	return resp.Payload, nil
}

func (p *Process) complete(r *round) { r.markDone() }

// HandleMessage is the inbound entry point for Prepare/Process/Cancel
// RPCs arriving from another node's coordinator (or, for Process, from
// a coordinator broadcasting to this member).
func (p *Process) HandleMessage(ctx context.Context, body []byte) []byte {
	var env wireEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errorEnvelope(err)
	}

	switch env.Op {
	case opPrepare:
		return p.handlePrepare(env)
	case opProcess:
		return p.handleProcess(env)
	case opCancel:
		p.handleCancel(env)
		return nil
	default:
		return errorEnvelope(fmt.Errorf("coordination: unknown op %q", env.Op))
	}
}

func (p *Process) handlePrepare(env wireEnvelope) []byte {
	p.mu.Lock()
	snap := p.lastSnap
	p.mu.Unlock()

	// The sender of a Prepare message is always that round's
	// coordinator; this node's own oldest-member view should agree,
	// since Prepare only follows a topology change both sides observed.
	coordinator, _ := snap.Oldest()

	r := newRound(env.RoundID, coordinator.ID, snap)
	p.mu.Lock()
	p.current = r
	p.mu.Unlock()

	done := make(chan struct{})
	p.enqueue(func() {
		p.handler.Prepare(&Context{proc: p, rnd: r})
		close(done)
	})
	<-done
	return nil
}

func (p *Process) handleProcess(env wireEnvelope) []byte {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()

	if r == nil || r.id != env.RoundID {
		return errorEnvelope(fmt.Errorf("coordination: no such round %d", env.RoundID))
	}

	reply, err := p.handler.Process(&Context{proc: p, rnd: r}, env.Payload)
	if err != nil {
		return errorEnvelope(err)
	}
	body, _ := json.Marshal(wireEnvelope{Op: "ok", Payload: reply})
	return body
}

func (p *Process) handleCancel(env wireEnvelope) {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()
	if r == nil || r.id != env.RoundID {
		return
	}
	r.markCancelled()
	p.enqueue(func() { p.handler.Cancel(&Context{proc: p, rnd: r}) })
}

func errorEnvelope(err error) []byte {
	body, _ := json.Marshal(wireEnvelope{Op: "error", Payload: []byte(err.Error())})
	return body
}
