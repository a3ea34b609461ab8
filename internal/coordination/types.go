// Package coordination implements the coordination kernel (component
// I): per-process-name oldest-member-is-coordinator election, repeated
// prepare/broadcast/process/complete rounds driven by a coordinator,
// and coordinator-failure recovery via a fresh round.
//
// Context is a direct port of the method surface of original_source's
// CoordinationContext.java. Process is grounded on spec.md §4.I and
// reuses internal/lock's "H and I use G's messaging for application
// traffic but maintain their own state machines" wiring (spec.md §2):
// a Transport adapts a messaging.Channel the same way
// lock.ChannelTransport does.
package coordination

import "github.com/hekate-project/hekate/internal/topology"

// Member is one participant in a coordination process.
type Member struct {
	ID   string
	Node topology.Node
}

// Handler implements one coordination process's application logic.
// Process runs on every member (including the coordinator) once per
// Context.Broadcast call; handlers must be idempotent since a
// coordinator failure restarts the round from Prepare rather than
// resuming it (spec.md §4.I).
type Handler interface {
	// Prepare runs once per round on every member before any broadcast.
	Prepare(cc *Context)
	// Process handles one broadcast request and returns this member's
	// reply.
	Process(cc *Context, request []byte) ([]byte, error)
	// Cancel runs if the round is aborted before Complete.
	Cancel(cc *Context)
}

// BroadcastCallback receives every member's reply once all have
// arrived, keyed by member id. err is the first error from any member,
// if any.
type BroadcastCallback func(replies map[string][]byte, err error)
