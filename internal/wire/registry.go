package wire

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Codec marshals and unmarshals application payloads carried inside a
// Frame body. Codecs are registered under a protocol id so a connector
// (see internal/transport) can negotiate which one a channel speaks.
type Codec interface {
	ID() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Registry holds the set of codecs a node knows about, keyed by
// protocol id. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register adds a codec under its own ID. Registering the same ID
// twice replaces the previous codec.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.ID()] = c
}

// Lookup returns the codec registered under id, if any.
func (r *Registry) Lookup(id string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[id]
	return c, ok
}

// MustLookup is like Lookup but returns an error instead of a bool,
// for call sites that cannot proceed without the codec.
func (r *Registry) MustLookup(id string) (Codec, error) {
	c, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("wire: no codec registered for protocol %q", id)
	}
	return c, nil
}

// JSONCodec is the reference stateless codec shipped with this
// module, mirroring the teacher's own choice of encoding/json for its
// wire DTOs.
type JSONCodec struct{}

// ProtocolJSON is the protocol id JSONCodec registers under.
const ProtocolJSON = "hekate/json/v1"

func (JSONCodec) ID() string { return ProtocolJSON }

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// DefaultRegistry returns a Registry pre-populated with JSONCodec.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(JSONCodec{})
	return r
}
