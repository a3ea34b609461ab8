package coordination

import (
	"context"
	"fmt"

	"github.com/hekate-project/hekate/internal/balancer"
	"github.com/hekate-project/hekate/internal/messaging"
	"github.com/hekate-project/hekate/internal/topology"
)

// ChannelTransport adapts a messaging.Channel (component G) to this
// package's Transport interface, the same pattern as
// lock.ChannelTransport: "I ... use G's messaging for application
// traffic but maintain their own state machine" (spec.md §2).
type ChannelTransport struct {
	Channel *messaging.Channel
}

func (t *ChannelTransport) Call(ctx context.Context, to topology.Node, body []byte) ([]byte, error) {
	req := balancer.Request{Candidates: []topology.Node{to}}
	replies, err := t.Channel.Request(ctx, req, to.Address, body)
	if err != nil {
		return nil, err
	}
	for reply := range replies {
		switch reply.Kind {
		case messaging.ReplyFinal:
			return reply.Payload, nil
		case messaging.ReplyError:
			return nil, reply.Err
		}
	}
	return nil, fmt.Errorf("coordination: no reply from %s", to.ID)
}

// Receiver returns the messaging.Receiver to register on the
// coordination channel so inbound requests reach this Manager.
func (m *Manager) Receiver() messaging.Receiver {
	return messaging.ReceiverFunc(func(ctx context.Context, msg *messaging.Message) {
		resp := m.HandleMessage(ctx, msg.Payload)
		if msg.IsRequest() {
			_ = msg.Respond(messaging.Reply{Kind: messaging.ReplyFinal, Payload: resp})
		}
	})
}
