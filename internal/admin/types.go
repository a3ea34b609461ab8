// Package admin implements the operator-facing introspection service
// (component L, added in SPEC_FULL.md §4.L): read-only topology/lock/
// coordination snapshots plus a graceful-leave op, exposed over arpc on
// a listener deliberately separate from the cluster's own wire
// protocol. Grounded on the teacher's internal/server + internal/client
// arpc idiom.
package admin

import (
	"github.com/hekate-project/hekate/internal/coordination"
	"github.com/hekate-project/hekate/internal/lock"
)

// LocksResponse is the reply to /admin/locks.
type LocksResponse struct {
	Regions []lock.RegionSnapshot
}

// CoordinationResponse is the reply to /admin/coordination.
type CoordinationResponse struct {
	Processes []coordination.ProcessSnapshot
}

// LeaveResponse is the reply to /admin/leave. Error is set instead of
// using arpc's own error channel so a CLI caller always gets a typed
// response to print.
type LeaveResponse struct {
	Error string
}
