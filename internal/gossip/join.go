package gossip

import "fmt"

// JoinRequest is sent by a node attempting to join the cluster to the
// coordinator (the oldest UP member, or any seed contact if no
// coordinator is yet known) per spec.md §4.D step 1-3.
type JoinRequest struct {
	Node        Node
	ClusterName string
}

// JoinValidator inspects a JoinRequest against local state and may
// reject it, e.g. for a cluster-name mismatch or an address family
// mismatch (spec.md §4.D step 3). Validators run in registration
// order; the first rejection wins.
type JoinValidator func(req JoinRequest, local Node, localClusterName string) error

// ClusterNameValidator rejects a join whose ClusterName does not
// match the local node's cluster name.
func ClusterNameValidator(req JoinRequest, local Node, localClusterName string) error {
	if req.ClusterName != localClusterName {
		return fmt.Errorf("gossip: cluster name mismatch: got %q, want %q", req.ClusterName, localClusterName)
	}
	return nil
}

// AddressFamilyValidator rejects a join whose address looks like a
// different network family than the local node's (a crude but cheap
// IPv4-vs-IPv6 textual check, sufficient to catch misconfiguration
// without a full parse).
func AddressFamilyValidator(req JoinRequest, local Node, _ string) error {
	remoteV6 := looksIPv6(req.Node.Address)
	localV6 := looksIPv6(local.Address)
	if remoteV6 != localV6 {
		return fmt.Errorf("gossip: address family mismatch: %q vs %q", req.Node.Address, local.Address)
	}
	return nil
}

func looksIPv6(addr string) bool {
	colons := 0
	for _, c := range addr {
		if c == ':' {
			colons++
		}
	}
	return colons > 1
}

// RunValidators applies every validator in order, returning the first
// error encountered, if any.
func RunValidators(validators []JoinValidator, req JoinRequest, local Node, localClusterName string) error {
	for _, v := range validators {
		if err := v(req, local, localClusterName); err != nil {
			return err
		}
	}
	return nil
}

// JoinResponse is the coordinator's reply: either acceptance (carrying
// the assigned join order and the current roster so the joining node
// can seed its own state) or rejection with a reason.
type JoinResponse struct {
	Accepted  bool
	Reason    string
	JoinOrder uint64
	Roster    []Entry
}
