package lock

import (
	"strings"

	"github.com/hekate-project/hekate/internal/topology"
)

// RegionsProperty is the topology.Node.Properties key a node's lock
// service populates (as a comma-separated list) with the region names
// it has registered interest in. Gossiped like any other property, so
// every node's topology view carries every other node's registered
// regions without a separate control channel. Exported so the cluster
// façade can populate it on the local node's identity.
const RegionsProperty = "lock.regions"

// RegionNodeFilter restricts a region's candidate manager set to
// cluster members that registered interest in that specific region,
// ported from original_source's LockRegionNodeFilter.java: a node that
// never configured a region never hosts lock state for it, rather than
// every Up node in the cluster being a candidate.
type RegionNodeFilter struct {
	Region string
}

// Accept reports whether n has registered interest in this filter's
// region.
func (f RegionNodeFilter) Accept(n topology.Node) bool {
	regions, ok := n.Properties[RegionsProperty]
	if !ok {
		return false
	}
	for _, part := range strings.Split(regions, ",") {
		if part == f.Region {
			return true
		}
	}
	return false
}
