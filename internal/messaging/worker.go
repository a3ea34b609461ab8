package messaging

import (
	"hash/fnv"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// task is one unit of work dispatched to a workerPool worker.
type task struct {
	affinityKey string
	run         func()
}

// workerPool runs received-message handlers on a fixed set of
// goroutines, assigning each affinity key to the same worker via
// hash(affinity) mod workerCount for as long as the pool lives, which
// is what gives per-key ordering: two messages with the same affinity
// key are always processed by the same goroutine, so the second never
// starts before the first finishes (spec.md §4.G / §5).
type workerPool struct {
	queues []chan task
	log    zerolog.Logger
	done   chan struct{}
}

func newWorkerPool(workerCount int, queueDepth int, log zerolog.Logger) *workerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}

	wp := &workerPool{
		queues: make([]chan task, workerCount),
		log:    log.With().Str("component", "messaging-workers").Logger(),
		done:   make(chan struct{}),
	}
	for i := range wp.queues {
		wp.queues[i] = make(chan task, queueDepth)
		go wp.run(i)
	}
	return wp
}

func (wp *workerPool) run(idx int) {
	for {
		select {
		case t, ok := <-wp.queues[idx]:
			if !ok {
				return
			}
			wp.exec(t)
		case <-wp.done:
			return
		}
	}
}

func (wp *workerPool) exec(t task) {
	defer func() {
		if r := recover(); r != nil {
			wp.log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("receiver panicked")
		}
	}()
	t.run()
}

// Submit enqueues fn to run on the worker owning affinityKey. It
// blocks if that worker's queue is full, which is itself a form of
// backpressure distinct from SendPressureGuard (that one bounds
// outbound sends; this one bounds inbound processing).
func (wp *workerPool) Submit(affinityKey string, fn func()) {
	idx := int(workerHash(affinityKey) % uint32(len(wp.queues)))
	select {
	case wp.queues[idx] <- task{affinityKey: affinityKey, run: fn}:
	case <-wp.done:
	}
}

func workerHash(affinityKey string) uint32 {
	if affinityKey == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(affinityKey))
	return h.Sum32()
}

// Close stops every worker goroutine. Queued tasks are dropped.
func (wp *workerPool) Close() {
	close(wp.done)
}
