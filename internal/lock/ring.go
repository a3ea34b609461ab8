package lock

import (
	"hash/fnv"

	"github.com/buraksezer/consistent"

	"github.com/hekate-project/hekate/internal/topology"
)

// ringMember adapts a node id to consistent.Member, whose only
// requirement is a stable String().
type ringMember string

func (m ringMember) String() string { return string(m) }

// fnvHasher satisfies consistent.Hasher. The teacher hand-rolls the
// same FNV-1a accumulator in internal/cluster/cluster.go's Hasher;
// hash/fnv is the stdlib equivalent and is used directly here rather
// than duplicating the loop.
type fnvHasher struct{}

func (fnvHasher) Sum64(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}

// ring is one region's manager-resolution ring: a consistent-hash ring
// over the region's current candidate members (Up, and accepted by the
// region's RegionNodeFilter), rebuilt wholesale on every topology
// change the same way internal/cluster/manager.go's UpdateState
// replaces its ring rather than incrementally adding/removing members.
type ring struct {
	c       *consistent.Consistent
	members int
}

func newRing(nodes []topology.Node) *ring {
	cfg := consistent.Config{
		PartitionCount:    271,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            fnvHasher{},
	}
	c := consistent.New(nil, cfg)
	count := 0
	for _, n := range nodes {
		if n.Status != topology.StatusUp {
			continue
		}
		c.Add(ringMember(n.ID))
		count++
	}
	return &ring{c: c, members: count}
}

// locate returns the node id responsible for name, or false if the
// ring has no members.
func (r *ring) locate(name string) (string, bool) {
	if r == nil || r.members == 0 {
		return "", false
	}
	m := r.c.LocateKey([]byte(name))
	if m == nil {
		return "", false
	}
	return m.String(), true
}
