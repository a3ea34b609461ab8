// Package messaging implements the messaging gateway (component G):
// named channels with affinity-routed connection pools, correlation-id
// tracked requests, partial/final/error reply semantics, backpressure,
// failover, and a worker pool that preserves per-affinity-key
// ordering. Built directly on internal/transport, per spec.md §2's
// requirement that messaging use the transport layer for its own
// protocol rather than a third-party RPC abstraction.
package messaging

import (
	"fmt"

	"github.com/hekate-project/hekate/internal/wire"
)

// Frame type bytes for messaging's own protocol, carried as the
// application frame type of internal/transport.Client.Send.
const (
	frameSend         uint8 = 1 // fire-and-forget, no reply expected
	frameRequest      uint8 = 2 // expects one or more replies
	frameReplyPartial uint8 = 3
	frameReplyFinal   uint8 = 4
	frameReplyError   uint8 = 5
)

// CorrelationID identifies one outstanding request. Spec.md §4.G
// specifies a 31-bit space so it can be carried alongside a sign bit
// used internally by some transports; this module does not need the
// sign bit but keeps the same range for wire compatibility with that
// description.
type CorrelationID uint32

const maxCorrelationID CorrelationID = 1<<31 - 1

// envelope is the common header every messaging frame carries: which
// channel it belongs to, the affinity key used for connection-pool and
// worker routing, and, for requests/replies, the correlation id.
type envelope struct {
	Channel       string
	CorrelationID CorrelationID
	AffinityKey   string
	Payload       []byte
}

func encodeEnvelope(e envelope) []byte {
	return wire.NewWriter().
		PutString(e.Channel).
		PutUint32(uint32(e.CorrelationID)).
		PutString(e.AffinityKey).
		PutBytes(e.Payload).
		Bytes()
}

func decodeEnvelope(body []byte) (envelope, error) {
	r := wire.NewReader(body)

	channel, err := r.GetString()
	if err != nil {
		return envelope{}, fmt.Errorf("messaging: decode channel: %w", err)
	}
	corr, err := r.GetUint32()
	if err != nil {
		return envelope{}, fmt.Errorf("messaging: decode correlation id: %w", err)
	}
	affinityKey, err := r.GetString()
	if err != nil {
		return envelope{}, fmt.Errorf("messaging: decode affinity key: %w", err)
	}
	payload, err := r.GetBytes()
	if err != nil {
		return envelope{}, fmt.Errorf("messaging: decode payload: %w", err)
	}

	return envelope{Channel: channel, CorrelationID: CorrelationID(corr), AffinityKey: affinityKey, Payload: payload}, nil
}
