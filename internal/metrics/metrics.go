// Package metrics implements the in-process counters/gauges that
// every other component publishes into, and the narrow Sink contract
// an external collaborator (statsd, JMX, ...) implements to drain
// them. Grounded on original_source's
// metrics.local.{CounterMetric,LocalMetricsService}: a flat registry
// of named numeric values, snapshotted on demand rather than pushed
// per update.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing value (bytes sent, messages
// processed, errors observed).
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Add(delta int64) { c.v.Add(delta) }
func (c *Counter) Inc()            { c.v.Add(1) }
func (c *Counter) Value() int64    { return c.v.Load() }

// Gauge is a point-in-time value that can move in either direction
// (queue depth, connection count).
type Gauge struct {
	v atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.v.Store(v) }
func (g *Gauge) Add(d int64)  { g.v.Add(d) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Snapshot is a point-in-time dump of every registered metric,
// suitable for handing to a Sink.
type Snapshot struct {
	Counters map[string]int64
	Gauges   map[string]int64
}

// Sink is the external-collaborator contract: something that accepts
// periodic snapshots. Concrete sinks (statsd, JMX) are out of scope
// per spec.md §1; LogSink below is the one reference implementation
// this module ships, useful for tests and the CLI.
type Sink interface {
	Publish(Snapshot)
}

// Registry holds every named counter/gauge a process has created.
// Safe for concurrent use; intended to be a per-node singleton handed
// to each component at construction.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

// Counter returns the named counter, creating it on first use.
func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		c = &Counter{}
		r.counters[name] = c
	}
	return c
}

// Gauge returns the named gauge, creating it on first use.
func (r *Registry) Gauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gauges[name]
	if !ok {
		g = &Gauge{}
		r.gauges[name] = g
	}
	return g
}

// Snapshot dumps every registered metric's current value.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Counters: make(map[string]int64, len(r.counters)),
		Gauges:   make(map[string]int64, len(r.gauges)),
	}
	for name, c := range r.counters {
		snap.Counters[name] = c.Value()
	}
	for name, g := range r.gauges {
		snap.Gauges[name] = g.Value()
	}
	return snap
}
