package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/config"
	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

// ModerationService is the read side of review: a ranked, enriched view of
// executions awaiting a human decision. It writes nothing; bulk decisions go
// through ExecutionService.
type ModerationService struct {
	store   repository.Store
	anomaly *AnomalyService
	clock   Clock
}

func NewModerationService(store repository.Store, anomaly *AnomalyService, clock Clock) *ModerationService {
	return &ModerationService{store: store, anomaly: anomaly, clock: clock}
}

type QueuePage struct {
	Items   []domain.ModerationQueueItem
	Total   int
	HasMore bool
}

// ListPending returns the moderation queue, oldest submissions first unless
// the filter overrides the sort. Each item carries the submitter's and the
// task's track record so a moderator can judge plausibility at a glance.
func (s *ModerationService) ListPending(ctx context.Context, f repository.QueueFilter) (*QueuePage, error) {
	if f.Limit <= 0 {
		f.Limit = config.QueuePageLimit
	}
	if f.Limit > config.QueuePageLimitMax {
		f.Limit = config.QueuePageLimitMax
	}

	execs, total, err := s.store.ListQueue(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	now := s.clock.Now()
	statsSince := now.Add(-config.AnomalyWindow)

	items := make([]domain.ModerationQueueItem, 0, len(execs))
	for _, exec := range execs {
		task, err := s.store.GetTask(ctx, exec.TaskID)
		if err != nil {
			return nil, fmt.Errorf("load task %d: %w", exec.TaskID, err)
		}
		userStats, err := s.store.UserStats(ctx, exec.UserID, statsSince)
		if err != nil {
			return nil, fmt.Errorf("submitter stats for user %d: %w", exec.UserID, err)
		}
		taskStats, err := s.store.TaskStats(ctx, exec.TaskID)
		if err != nil {
			return nil, fmt.Errorf("task stats for task %d: %w", exec.TaskID, err)
		}
		author, err := s.store.GetUser(ctx, task.AuthorID)
		if err != nil {
			return nil, fmt.Errorf("load author %d: %w", task.AuthorID, err)
		}
		report, err := s.anomaly.ReportFor(ctx, exec.UserID)
		if err != nil {
			return nil, fmt.Errorf("anomaly report for user %d: %w", exec.UserID, err)
		}

		resolved := taskStats.Approved + taskStats.Rejected
		item := domain.ModerationQueueItem{
			Execution:              exec,
			Task:                   *task,
			SubmitterSuccessRate:   userStats.SuccessRate(),
			SubmitterAvgCompletion: userStats.AvgCompletion,
			SubmitterFlags:         report.Flags,
			AuthorSpent:            author.TotalSpent,
			TimeInQueue:            now.Sub(exec.CreatedAt),
		}
		if resolved > 0 {
			item.TaskApprovalRate = float64(taskStats.Approved) / float64(resolved)
			item.TaskRejectionRate = float64(taskStats.Rejected) / float64(resolved)
		}
		item.Priority = ClassifyPriority(item.TimeInQueue, author.TotalSpent, report.Flagged())
		items = append(items, item)
	}

	return &QueuePage{
		Items:   items,
		Total:   total,
		HasMore: f.Offset+len(items) < total,
	}, nil
}

// ClassifyPriority ranks a queue item. Flagged submitters sink to low so
// they get a closer look rather than a quick rubber stamp; stale items and
// high-spend authors rise.
func ClassifyPriority(timeInQueue time.Duration, authorSpent decimal.Decimal, submitterFlagged bool) domain.Priority {
	if submitterFlagged {
		return domain.PriorityLow
	}
	if timeInQueue >= config.QueueUrgentAfter || authorSpent.GreaterThanOrEqual(decimal.NewFromInt(config.QueueHighSpend)) {
		return domain.PriorityHigh
	}
	return domain.PriorityNormal
}
