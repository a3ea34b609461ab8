package metrics

import "testing"

func TestRegistryCounterGauge(t *testing.T) {
	r := NewRegistry()

	r.Counter("messages.sent").Add(3)
	r.Counter("messages.sent").Inc()
	r.Gauge("connections.open").Set(5)
	r.Gauge("connections.open").Add(-1)

	snap := r.Snapshot()
	if snap.Counters["messages.sent"] != 4 {
		t.Fatalf("messages.sent = %d, want 4", snap.Counters["messages.sent"])
	}
	if snap.Gauges["connections.open"] != 4 {
		t.Fatalf("connections.open = %d, want 4", snap.Gauges["connections.open"])
	}
}

func TestRegistrySameNameReturnsSameCounter(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("x")
	b := r.Counter("x")
	a.Inc()
	if b.Value() != 1 {
		t.Fatalf("b.Value() = %d, want 1 (same underlying counter)", b.Value())
	}
}
