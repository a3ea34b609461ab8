package coordination

import (
	"context"

	"github.com/hekate-project/hekate/internal/topology"
)

// Transport carries coordination traffic between nodes: the
// coordinator's Prepare fan-out and each Broadcast round's
// request/reply exchange. Deliberately narrow, like lock.Transport,
// so this package has no direct dependency on a wire format; adapted
// in production from a messaging.Channel.
type Transport interface {
	Call(ctx context.Context, to topology.Node, body []byte) ([]byte, error)
}

const (
	opPrepare = "coordination.prepare"
	opProcess = "coordination.process"
	opCancel  = "coordination.cancel"
)

type wireEnvelope struct {
	Op      string `json:"op"`
	Process string `json:"process"`
	RoundID uint64 `json:"round_id"`
	Payload []byte `json:"payload,omitempty"`
}
