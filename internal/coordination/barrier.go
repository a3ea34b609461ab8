package coordination

import (
	"sync"
	"time"
)

const barrierPollInterval = 50 * time.Millisecond

// Barrier is the reference application-defined-barrier Handler
// (spec.md §1): it completes once N distinct members have called
// Await on their local Barrier instance. The coordinator polls every
// member's local arrival flag via repeated Broadcast rounds rather
// than members pushing arrival themselves, since Handler.Process only
// runs in response to a coordinator-initiated broadcast.
type Barrier struct {
	n int

	mu      sync.Mutex
	arrived bool
}

// NewBarrier returns a Barrier that completes once n members have
// called Await.
func NewBarrier(n int) *Barrier {
	return &Barrier{n: n}
}

// Await marks the local member as having reached the barrier.
func (b *Barrier) Await() {
	b.mu.Lock()
	b.arrived = true
	b.mu.Unlock()
}

func (b *Barrier) Prepare(cc *Context) {
	if cc.IsCoordinator() {
		go b.poll(cc)
	}
}

func (b *Barrier) poll(cc *Context) {
	for !cc.IsDone() {
		cc.Broadcast(nil, func(replies map[string][]byte, err error) {
			if err != nil {
				return
			}
			arrived := 0
			for _, r := range replies {
				if len(r) == 1 && r[0] == 1 {
					arrived++
				}
			}
			if arrived >= b.n {
				cc.Complete()
			}
		})
		if cc.IsDone() {
			return
		}
		time.Sleep(barrierPollInterval)
	}
}

func (b *Barrier) Process(_ *Context, _ []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.arrived {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (b *Barrier) Cancel(*Context) {}
