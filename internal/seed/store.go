package seed

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"
)

// Store is a small embedded-KV cache of last-known-good seed
// addresses, keyed by cluster name. Adapted from the teacher's
// internal/storage.PebbleStore: same pebble.Open/Get/Set idiom,
// retargeted from holding application data to holding bootstrap
// address lists only, which does not conflict with spec.md's "no
// durable cluster state" non-goal.
type Store struct {
	db  *pebble.DB
	log zerolog.Logger
}

// OpenStore opens (creating if absent) a pebble database at path for
// seed-address caching.
func OpenStore(path string, log zerolog.Logger) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("seed: open cache at %s: %w", path, err)
	}
	return &Store{db: db, log: log.With().Str("component", "seed-store").Logger()}, nil
}

// Load returns the cached address list for clusterName, or an empty
// slice if nothing has been cached yet.
func (s *Store) Load(clusterName string) ([]string, error) {
	value, closer, err := s.db.Get(key(clusterName))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("seed: load cache: %w", err)
	}
	defer func() {
		if cerr := closer.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("failed to close pebble reader")
		}
	}()

	var addrs []string
	if err := json.Unmarshal(value, &addrs); err != nil {
		return nil, fmt.Errorf("seed: decode cache: %w", err)
	}
	return addrs, nil
}

// Save overwrites the cached address list for clusterName.
func (s *Store) Save(clusterName string, addrs []string) error {
	data, err := json.Marshal(addrs)
	if err != nil {
		return fmt.Errorf("seed: encode cache: %w", err)
	}
	if err := s.db.Set(key(clusterName), data, pebble.Sync); err != nil {
		return fmt.Errorf("seed: save cache: %w", err)
	}
	return nil
}

// Add appends address to clusterName's cached list if not already
// present.
func (s *Store) Add(clusterName, address string) error {
	addrs, err := s.Load(clusterName)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if a == address {
			return nil
		}
	}
	addrs = append(addrs, address)
	sort.Strings(addrs)
	return s.Save(clusterName, addrs)
}

// Remove drops address from clusterName's cached list.
func (s *Store) Remove(clusterName, address string) error {
	addrs, err := s.Load(clusterName)
	if err != nil {
		return err
	}
	out := addrs[:0]
	for _, a := range addrs {
		if a != address {
			out = append(out, a)
		}
	}
	return s.Save(clusterName, out)
}

// Close releases the underlying pebble database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(clusterName string) []byte {
	return []byte("seeds/" + clusterName)
}
