package lock

import (
	"context"
	"fmt"

	"github.com/hekate-project/hekate/internal/balancer"
	"github.com/hekate-project/hekate/internal/messaging"
	"github.com/hekate-project/hekate/internal/topology"
)

// ChannelTransport adapts a messaging.Channel (component G) to this
// package's Transport interface, per spec.md §2: "H and I use G's
// messaging for application traffic but maintain their own state
// machines." The lock service neither dials sockets nor decodes frames
// itself; it only speaks in request/notify terms and leaves pooling,
// affinity routing, and failover to the channel it is handed.
type ChannelTransport struct {
	Channel *messaging.Channel
}

// Call forwards a client op or a migration Prepare request and waits
// for the single final reply.
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
	return nil, fmt.Errorf("lock: no reply from %s", to.ID)
}

// Notify sends a migration Apply message with no reply expected.
func (t *ChannelTransport) Notify(ctx context.Context, to topology.Node, body []byte) error {
	req := balancer.Request{Candidates: []topology.Node{to}}
	return t.Channel.Send(ctx, req, to.Address, body)
}

// Receiver returns the messaging.Receiver to register on the lock
// channel so inbound Requests/Sends reach this Manager.
func (m *Manager) Receiver() messaging.Receiver {
	return messaging.ReceiverFunc(func(ctx context.Context, msg *messaging.Message) {
		if !msg.IsRequest() {
			m.HandleNotify(ctx, msg.Payload)
			return
		}
		resp := m.HandleMessage(ctx, msg.Payload)
		_ = msg.Respond(messaging.Reply{Kind: messaging.ReplyFinal, Payload: resp})
	})
}
