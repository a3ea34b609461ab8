package messaging

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := envelope{Channel: "locks", CorrelationID: 42, AffinityKey: "region-a", Payload: []byte("payload")}
	got, err := decodeEnvelope(encodeEnvelope(e))
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if got.Channel != e.Channel || got.CorrelationID != e.CorrelationID || got.AffinityKey != e.AffinityKey || string(got.Payload) != string(e.Payload) {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestSendPressureGuardBounds(t *testing.T) {
	g := NewSendPressureGuard(1)
	if !g.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if g.TryAcquire() {
		t.Fatal("expected second acquire to fail while bound is held")
	}
	g.Release()
	if !g.TryAcquire() {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestWorkerPoolPreservesPerKeyOrder(t *testing.T) {
	wp := newWorkerPool(4, 64, zerolog.Nop())
	defer wp.Close()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		i := i
		wp.Submit("same-key", func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d (same affinity key must preserve submission order)", i, v, i)
		}
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	wp := newWorkerPool(1, 8, zerolog.Nop())
	defer wp.Close()

	done := make(chan struct{})
	wp.Submit("k", func() { panic("boom") })
	wp.Submit("k", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker pool did not recover from panic and continue processing")
	}
}
