package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskpool/taskpool/internal/config"
	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

// Sweeper enforces time-based transitions: expiring tasks past their
// deadline and auto-approving executions that sat in review past the
// timeout. Both passes are idempotent batches; the state guards on every
// write make overlapping sweep cycles harmless.
type Sweeper struct {
	store      repository.Store
	tasks      *TaskService
	executions *ExecutionService
	clock      Clock

	interval      time.Duration
	reviewTimeout time.Duration
	batchSize     int
}

func NewSweeper(store repository.Store, tasks *TaskService, executions *ExecutionService, clock Clock, cfg *config.Config) *Sweeper {
	return &Sweeper{
		store:         store,
		tasks:         tasks,
		executions:    executions,
		clock:         clock,
		interval:      cfg.SweepInterval,
		reviewTimeout: cfg.ReviewTimeout,
		batchSize:     config.SweepBatchSize,
	}
}

// SweepReport summarizes one pass so operators can audit sweep health.
type SweepReport struct {
	Processed int
	Succeeded int
	Errors    []error
}

// Run loops both passes on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("sweeper started", "interval", s.interval, "review_timeout", s.reviewTimeout)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-ticker.C:
			expiry := s.RunExpirySweep(ctx)
			slog.Info("expiry sweep finished",
				"processed", expiry.Processed, "expired", expiry.Succeeded, "errors", len(expiry.Errors))
			auto := s.RunAutoApprovalSweep(ctx)
			slog.Info("auto-approval sweep finished",
				"processed", auto.Processed, "approved", auto.Succeeded, "errors", len(auto.Errors))
		}
	}
}

// RunExpirySweep expires active tasks past their deadline, refunding unused
// escrow. One task's failure is logged and skipped; the batch continues.
func (s *Sweeper) RunExpirySweep(ctx context.Context) SweepReport {
	var report SweepReport

	tasks, err := s.store.ListExpiredTasks(ctx, s.clock.Now(), s.batchSize)
	if err != nil {
		report.Errors = append(report.Errors, err)
		return report
	}

	for _, t := range tasks {
		report.Processed++
		if err := s.tasks.Expire(ctx, t.ID); err != nil {
			if domain.IsTransitionConflict(err) {
				// Someone else already ended this task; nothing to do.
				slog.Debug("task already resolved", "task_id", t.ID)
				continue
			}
			slog.Error("expire task failed", "task_id", t.ID, "error", err)
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Succeeded++
	}
	return report
}

// RunAutoApprovalSweep accepts executions whose review timed out, paying the
// worker as if a moderator had approved. Biased deliberately toward the
// worker: an unresponsive author cannot withhold payment indefinitely.
func (s *Sweeper) RunAutoApprovalSweep(ctx context.Context) SweepReport {
	var report SweepReport

	cutoff := s.clock.Now().Add(-s.reviewTimeout)
	execs, err := s.store.ListReviewTimeouts(ctx, cutoff, s.batchSize)
	if err != nil {
		report.Errors = append(report.Errors, err)
		return report
	}

	for _, e := range execs {
		report.Processed++
		if err := s.executions.AutoApprove(ctx, e.ID); err != nil {
			if domain.IsTransitionConflict(err) {
				slog.Debug("execution already resolved", "execution_id", e.ID)
				continue
			}
			slog.Error("auto-approve failed", "execution_id", e.ID, "error", err)
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Succeeded++
	}
	return report
}
