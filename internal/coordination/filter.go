package coordination

import (
	"strings"

	"github.com/hekate-project/hekate/internal/topology"
)

// ProcessesProperty is the topology.Node.Properties key a node's
// coordination manager populates (comma-separated) with the process
// names it has registered, mirroring lock.RegionsProperty — spec.md
// §4.I: "each participating node registers the name as a service
// property." Exported so the cluster façade can populate it on the
// local node's identity.
const ProcessesProperty = "coordination.processes"

// ProcessNodeFilter restricts a process's round membership to cluster
// members that registered interest in that specific process name.
type ProcessNodeFilter struct {
	Process string
}

// Accept reports whether n has registered interest in this filter's
// process.
func (f ProcessNodeFilter) Accept(n topology.Node) bool {
	processes, ok := n.Properties[ProcessesProperty]
	if !ok {
		return false
	}
	for _, part := range strings.Split(processes, ",") {
		if part == f.Process {
			return true
		}
	}
	return false
}
