package lock

import (
	"context"

	"github.com/hekate-project/hekate/internal/topology"
)

// Transport carries lock-service traffic between nodes. Deliberately
// narrow and network-agnostic, the same way internal/gossip's
// PeerExchanger keeps the gossip engine free of a transport
// dependency: production wiring adapts a messaging.Channel (component
// G) registered under a well-known name to this interface; tests use
// an in-memory fake.
//
// Call is request/response: forwarding a client op to the node the
// ring names as manager, and the migration Prepare phase. Notify is
// fire-and-forget: the migration Apply phase, which expects no reply.
type Transport interface {
	Call(ctx context.Context, to topology.Node, body []byte) ([]byte, error)
	Notify(ctx context.Context, to topology.Node, body []byte) error
}

// Op names carried in the "op" field of every encoded request so a
// single Manager.HandleMessage/HandleNotify entry point can dispatch
// on it without a separate frame type per operation.
const (
	opTryLock = "lock.try"
	opUnlock  = "lock.unlock"
	opQuery   = "lock.query"
	opPrepare = "lock.prepare"
	opApply   = "lock.apply"
)

type opEnvelope struct {
	Op string `json:"op"`
}

type clientOpRequest struct {
	Op                    string   `json:"op"`
	Region                string   `json:"region"`
	Name                  string   `json:"name"`
	TimeoutMillis         int64    `json:"timeout_ms,omitempty"`
	ThreadID              int64    `json:"thread_id,omitempty"`
	LockID                int64    `json:"lock_id,omitempty"`
	RequesterTopologyHash [16]byte `json:"requester_topology_hash"`
}

type clientOpResponse struct {
	Status      Status `json:"status"`
	Owner       string `json:"owner,omitempty"`
	OwnerThread int64  `json:"owner_thread,omitempty"`
	LockID      int64  `json:"lock_id,omitempty"`
}

type prepareRequest struct {
	Op           string       `json:"op"`
	Region       string       `json:"region"`
	Key          MigrationKey `json:"key"`
	FirstPass    bool         `json:"first_pass"`
	TopologyHash [16]byte     `json:"topology_hash"`
	Locks        []Lock       `json:"locks"`
}

type prepareResponse struct {
	TopologyHash [16]byte `json:"topology_hash"`
	Locks        []Lock   `json:"locks"`
}

type applyRequest struct {
	Op     string       `json:"op"`
	Region string       `json:"region"`
	Key    MigrationKey `json:"key"`
	Locks  []Lock       `json:"locks"`
}
