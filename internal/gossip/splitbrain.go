package gossip

// SplitBrainAction is what a node does upon detecting that it has been
// isolated from the cluster it believes it belongs to (e.g. every peer
// it can reach disagrees about membership, or it cannot reach a
// majority of previously-UP nodes). Ported from original_source's
// cluster.split.SplitBrainAction.
type SplitBrainAction int

const (
	// Rejoin drops every known peer and re-runs the join sequence. The
	// node keeps its node id and is assigned a new join order; its
	// services are not torn down or restarted.
	Rejoin SplitBrainAction = iota
	// Terminate stops the node immediately without attempting to
	// rejoin.
	Terminate
)

func (a SplitBrainAction) String() string {
	switch a {
	case Rejoin:
		return "REJOIN"
	case Terminate:
		return "TERMINATE"
	default:
		return "UNKNOWN"
	}
}

// SplitBrainDetector decides, given the locally known roster, whether
// the local node should be considered split from the cluster. The
// reference implementation checks whether a quorum of previously-UP
// members are now unreachable; applications may supply their own.
type SplitBrainDetector interface {
	IsValid(self NodeID, roster *Roster) bool
}

// QuorumDetector is the reference SplitBrainDetector: the local node
// considers itself valid as long as the fraction of its UP, DOWN and
// FAILED peers that are still UP is at least MinQuorum (so with the
// 0.5 default, exactly half is enough). It is driven by the engine's
// own failure-quorum bookkeeping, so it needs no network access of its
// own.
type QuorumDetector struct {
	// MinQuorum is the minimum fraction (0, 1] of previously-UP peers
	// that must still be reachable for the local view to be considered
	// valid. Matches the FailureQuorum config knob's role but applied
	// to reachability rather than failure declaration.
	MinQuorum float64
}

func (d QuorumDetector) IsValid(self NodeID, roster *Roster) bool {
	entries := roster.Snapshot()

	total := 0
	reachable := 0
	for _, e := range entries {
		if e.Node.ID == self {
			continue
		}
		if e.Status != StatusUp && e.Status != StatusFailed && e.Status != StatusDown {
			continue
		}
		total++
		if e.Status == StatusUp {
			reachable++
		}
	}

	if total == 0 {
		return true
	}

	quorum := d.MinQuorum
	if quorum <= 0 {
		quorum = 0.5
	}
	return float64(reachable)/float64(total) >= quorum
}
