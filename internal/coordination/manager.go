package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/topology"
)

// Manager is the coordination service (component I) for one local
// node: it owns every registered Process and dispatches inbound
// messages to the one the envelope names.
type Manager struct {
	self      topology.Node
	transport Transport
	log       zerolog.Logger

	mu        sync.RWMutex
	processes map[string]*Process
}

// New returns a Manager for self.
func New(self topology.Node, transport Transport, log zerolog.Logger) *Manager {
	return &Manager{
		self:      self,
		transport: transport,
		log:       log.With().Str("component", "coordination-manager").Logger(),
		processes: make(map[string]*Process),
	}
}

// RegisterProcess creates a coordination process and subscribes it to
// view, a topology view already filtered to the members participating
// in this process name (spec.md §4.I: "each participating node
// registers the name as a service property").
func (m *Manager) RegisterProcess(name string, handler Handler, view *topology.View) *Process {
	p := newProcess(name, m.self, handler, m.transport, m.log)
	view.Subscribe(p.onTopologyChange)

	m.mu.Lock()
	m.processes[name] = p
	m.mu.Unlock()

	return p
}

// Snapshot returns the current round state of every registered process
// that has started at least one round.
func (m *Manager) Snapshot() []ProcessSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ProcessSnapshot, 0, len(m.processes))
	for _, p := range m.processes {
		if snap, ok := p.Snapshot(); ok {
			out = append(out, snap)
		}
	}
	return out
}

func (m *Manager) process(name string) (*Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.processes[name]
	return p, ok
}

// HandleMessage dispatches an inbound request to the process its
// envelope names.
func (m *Manager) HandleMessage(ctx context.Context, body []byte) []byte {
	var env wireEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errorEnvelope(err)
	}
	p, ok := m.process(env.Process)
	if !ok {
		return errorEnvelope(fmt.Errorf("coordination: unknown process %q", env.Process))
	}
	return p.HandleMessage(ctx, body)
}
