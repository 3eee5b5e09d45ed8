// Package integrity runs the periodic full-graph acyclicity sweep. The
// insertion path keeps the graph acyclic on its own; the sweep exists to
// catch drift from out-of-band writes (manual SQL, restores from backup) and
// to make violations visible in the audit log.
package integrity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"

	"github.com/taskweave/taskweave/domain/audit"
	"github.com/taskweave/taskweave/domain/graph"
	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/pkg/logger"
)

var Module = fx.Module("integrity",
	fx.Provide(NewSweeper),
	fx.Invoke(RunSweeper),
)

// Sweeper checks every project's dependency graph on a schedule.
type Sweeper struct {
	graphs *graph.Service
	audit  *audit.Service
	cfg    config.IntegrityConfig
	log    *slog.Logger
	cron   *cron.Cron
}

func NewSweeper(graphs *graph.Service, auditSvc *audit.Service, cfg *config.Config, log *slog.Logger) *Sweeper {
	return &Sweeper{
		graphs: graphs,
		audit:  auditSvc,
		cfg:    cfg.Integrity,
		log:    log.With(logger.Scope("integrity")),
	}
}

// RunSweeper wires the sweeper into the application lifecycle.
func RunSweeper(lc fx.Lifecycle, s *Sweeper) {
	if !s.cfg.SweepEnabled {
		s.log.Info("integrity sweep disabled")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.start()
		},
		OnStop: func(ctx context.Context) error {
			s.stop()
			return nil
		},
	})
}

func (s *Sweeper) start() error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.SweepSchedule, func() {
		s.SweepAll(context.Background())
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("integrity sweep scheduled", slog.String("schedule", s.cfg.SweepSchedule))
	return nil
}

func (s *Sweeper) stop() {
	if s.cron == nil {
		return
	}
	// Stop returns after in-flight sweep jobs finish.
	<-s.cron.Stop().Done()
	s.log.Info("integrity sweep stopped")
}

// SweepAll checks every project and records a violation event for each cycle
// found. Per-project failures are logged and do not stop the sweep.
func (s *Sweeper) SweepAll(ctx context.Context) {
	projectIDs, err := s.graphs.ProjectIDs(ctx)
	if err != nil {
		s.log.Error("integrity sweep failed to list projects", logger.Error(err))
		return
	}

	violations := 0
	for _, projectID := range projectIDs {
		if ctx.Err() != nil {
			return
		}
		if s.sweepProject(ctx, projectID) {
			violations++
		}
	}

	s.log.Info("integrity sweep complete",
		slog.Int("projects", len(projectIDs)),
		slog.Int("violations", violations),
	)
}

func (s *Sweeper) sweepProject(ctx context.Context, projectID uuid.UUID) bool {
	err := s.graphs.CheckAcyclic(ctx, projectID)
	if err == nil {
		return false
	}

	var cycleErr *graph.CycleDetectedError
	if errors.As(err, &cycleErr) {
		s.log.Warn("integrity sweep found a cycle",
			slog.String("project_id", projectID.String()),
			slog.String("cycle_path", cycleErr.PathText),
		)
		s.audit.RecordIntegrityViolation(ctx, projectID, cycleErr.PathText)
		return true
	}

	s.log.Error("integrity sweep failed for project",
		slog.String("project_id", projectID.String()),
		logger.Error(err),
	)
	return false
}
