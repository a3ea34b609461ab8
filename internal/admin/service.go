package admin

import (
	"context"
	"fmt"

	"github.com/lesismal/arpc"
	"github.com/rs/zerolog"

	"github.com/hekate-project/hekate/internal/coordination"
	"github.com/hekate-project/hekate/internal/lock"
	"github.com/hekate-project/hekate/internal/topology"
)

// LeaveFunc triggers a graceful cluster leave; wired by the cluster
// façade from Node.Leave.
type LeaveFunc func(ctx context.Context) error

// Service is the operator-facing admin RPC service for one local node.
// locks and coord may be nil on a node that does not run those
// subsystems; the corresponding handlers then report an empty snapshot.
type Service struct {
	topo  *topology.View
	locks *lock.Manager
	coord *coordination.Manager
	leave LeaveFunc

	server *arpc.Server
	log    zerolog.Logger
}

// New returns a Service bound to the given components.
func New(topo *topology.View, locks *lock.Manager, coord *coordination.Manager, leave LeaveFunc, log zerolog.Logger) *Service {
	s := &Service{
		topo:   topo,
		locks:  locks,
		coord:  coord,
		leave:  leave,
		server: arpc.NewServer(),
		log:    log.With().Str("component", "admin").Logger(),
	}

	s.server.Handler.Handle("/admin/topology", s.handleTopology)
	s.server.Handler.Handle("/admin/locks", s.handleLocks)
	s.server.Handler.Handle("/admin/coordination", s.handleCoordination)
	s.server.Handler.Handle("/admin/leave", s.handleLeave)

	return s
}

// Run starts the admin listener on addr, blocking until it stops.
func (s *Service) Run(addr string) error {
	return s.server.Run(addr)
}

// Stop shuts the admin listener down.
func (s *Service) Stop() error {
	return s.server.Stop()
}

func (s *Service) handleTopology(ctx *arpc.Context) {
	snap := s.topo.Current()
	if err := ctx.Write(&snap); err != nil {
		s.log.Error().Err(err).Str("handler", "topology").Msg("failed to write response")
	}
}

func (s *Service) handleLocks(ctx *arpc.Context) {
	resp := &LocksResponse{}
	if s.locks != nil {
		resp.Regions = s.locks.Snapshot()
	}
	if err := ctx.Write(resp); err != nil {
		s.log.Error().Err(err).Str("handler", "locks").Msg("failed to write response")
	}
}

func (s *Service) handleCoordination(ctx *arpc.Context) {
	resp := &CoordinationResponse{}
	if s.coord != nil {
		resp.Processes = s.coord.Snapshot()
	}
	if err := ctx.Write(resp); err != nil {
		s.log.Error().Err(err).Str("handler", "coordination").Msg("failed to write response")
	}
}

func (s *Service) handleLeave(ctx *arpc.Context) {
	if s.leave == nil {
		if err := ctx.Write(&LeaveResponse{Error: "admin: node does not support remote leave"}); err != nil {
			s.log.Error().Err(err).Str("handler", "leave").Msg("failed to write response")
		}
		return
	}

	if err := s.leave(context.Background()); err != nil {
		if err := ctx.Write(&LeaveResponse{Error: fmt.Sprintf("%v", err)}); err != nil {
			s.log.Error().Err(err).Str("handler", "leave").Msg("failed to write response")
		}
		return
	}

	if err := ctx.Write(&LeaveResponse{}); err != nil {
		s.log.Error().Err(err).Str("handler", "leave").Msg("failed to write response")
	}
}
