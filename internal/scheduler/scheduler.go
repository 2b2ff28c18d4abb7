package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	cashdomain "github.com/smallbiznis/cashstation/internal/cashsession/domain"
	"github.com/smallbiznis/cashstation/internal/clock"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	inventorydomain "github.com/smallbiznis/cashstation/internal/inventory/domain"
	obscontext "github.com/smallbiznis/cashstation/internal/observability/context"
	obsmetrics "github.com/smallbiznis/cashstation/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobPosRetry        = "pos_retry"
	JobInventoryLevels = "inventory_levels"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	Deposits  depositdomain.Service
	Inventory inventorydomain.Service
	Sessions  cashdomain.Controller `optional:"true"`
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    Config `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	deposits  depositdomain.Service
	inventory inventorydomain.Service
	sessions  cashdomain.Controller
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Deposits == nil || p.Inventory == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		deposits:  p.Deposits,
		inventory: p.Inventory,
		sessions:  p.Sessions,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadlines are soft; the next tick picks the work up again.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once. Job errors are joined so one failing
// job does not starve the others.
func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		name    string
		timeout time.Duration
		fn      func(ctx context.Context) error
	}{
		{JobPosRetry, s.cfg.PosRetryTimeout, s.PosRetryJob},
		{JobInventoryLevels, s.cfg.InventoryTimeout, s.InventoryLevelsJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.name) {
			continue
		}
		if parent.Err() != nil {
			return errors.Join(err, parent.Err())
		}
		err = errors.Join(err, s.runJob(parent, job.name, job.timeout, job.fn))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// PosRetryJob sweeps queued POS deliveries.
func (s *Scheduler) PosRetryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPosRetry)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	processed, err := s.deposits.RetryPending(ctx)
	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobPosRetry, "pos_jobs", processed)
	return err
}

// InventoryLevelsJob refreshes the stock gauges. It skips while a session
// owns the recycler so the status poll is not interleaved with a read.
func (s *Scheduler) InventoryLevelsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobInventoryLevels)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	if s.sessions != nil && s.sessions.Current().State.Active() {
		s.logger(ctx).Debug("inventory refresh skipped, session active")
		return nil
	}

	snapshot, err := s.inventory.RefreshGauges(ctx)
	if err != nil {
		if errors.Is(err, inventorydomain.ErrInventoryUnavailable) {
			s.logSchedulerError(ctx, run, "scheduler.inventory.unavailable", JobInventoryLevels, err)
			return nil
		}
		return err
	}
	processed := len(snapshot.Units())
	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobInventoryLevels, "denominations", processed)
	return nil
}
