package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/config"
	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/ledger"
	"github.com/taskpool/taskpool/internal/repository"
)

// TaskService owns the task status state machine and its escrow fields.
// Escrow accounting here is the source of truth for how much of a task's
// money is still reserved; it is never inferred from account balances.
type TaskService struct {
	store      repository.Store
	ledger     AccountLedger
	notifier   Notifier
	authorizer Authorizer
	clock      Clock

	commissionRate  decimal.Decimal
	promotionFee    decimal.Decimal
	cancellationFee decimal.Decimal
}

func NewTaskService(store repository.Store, acc AccountLedger, notifier Notifier, authorizer Authorizer, clock Clock, cfg *config.Config) *TaskService {
	return &TaskService{
		store:           store,
		ledger:          acc,
		notifier:        notifier,
		authorizer:      authorizer,
		clock:           clock,
		commissionRate:  decimal.NewFromFloat(cfg.CommissionRate),
		promotionFee:    decimal.NewFromFloat(cfg.PromotionFee),
		cancellationFee: decimal.NewFromFloat(cfg.CancellationFee),
	}
}

// CreateTaskSpec is a fully-validated task request; the engine never receives
// raw front-end input.
type CreateTaskSpec struct {
	Title           string
	CheckType       domain.CheckType
	Target          string
	Reward          decimal.Decimal
	TotalExecutions int
	Promote         bool
	Lifetime        time.Duration
}

func (s *TaskService) validate(spec CreateTaskSpec) error {
	if spec.Title == "" {
		return domain.Validationf("title", "must not be empty")
	}
	switch spec.CheckType {
	case domain.CheckTypeLink, domain.CheckTypeMembership:
		if spec.Target == "" {
			return domain.Validationf("target", "required for check type %q", spec.CheckType)
		}
	case domain.CheckTypeManual:
	default:
		return domain.Validationf("checkType", "unknown check type %q", spec.CheckType)
	}
	if spec.Reward.LessThan(decimal.NewFromInt(config.MinReward)) || spec.Reward.GreaterThan(decimal.NewFromInt(config.MaxReward)) {
		return domain.Validationf("reward", "must be between %d and %d, got %s", config.MinReward, config.MaxReward, spec.Reward)
	}
	if spec.TotalExecutions < config.MinExecutions || spec.TotalExecutions > config.MaxExecutions {
		return domain.Validationf("totalExecutions", "must be between %d and %d, got %d", config.MinExecutions, config.MaxExecutions, spec.TotalExecutions)
	}
	if spec.Lifetime < config.MinTaskLifetime || spec.Lifetime > config.MaxTaskLifetime {
		return domain.Validationf("lifetime", "must be between %s and %s, got %s", config.MinTaskLifetime, config.MaxTaskLifetime, spec.Lifetime)
	}
	return nil
}

// Create funds a task: the author is debited the full cost atomically with
// the task insert, and only the rewards portion becomes refundable escrow.
func (s *TaskService) Create(ctx context.Context, authorID int64, spec CreateTaskSpec) (*domain.Task, error) {
	if err := s.validate(spec); err != nil {
		return nil, err
	}

	cost := ledger.ComputeTaskCost(spec.Reward, spec.TotalExecutions, s.commissionRate, spec.Promote, s.promotionFee)
	now := s.clock.Now()

	var created *domain.Task
	err := s.store.RunInTx(ctx, func(tx repository.Store) error {
		t, err := tx.CreateTask(ctx, &domain.Task{
			AuthorID:            authorID,
			Title:               spec.Title,
			CheckType:           spec.CheckType,
			Target:              spec.Target,
			Reward:              spec.Reward,
			TotalExecutions:     spec.TotalExecutions,
			RemainingExecutions: spec.TotalExecutions,
			TotalCost:           cost.Total,
			Commission:          cost.Commission,
			PromotionCost:       cost.PromotionCost,
			SpentAmount:         decimal.Zero,
			FrozenAmount:        cost.RewardsCost,
			RefundedAmount:      decimal.Zero,
			Status:              domain.TaskStatusActive,
			ExpiresAt:           now.Add(spec.Lifetime),
		})
		if err != nil {
			return err
		}
		if err := s.ledger.Debit(ctx, tx, authorID, cost.Total, &t.ID, fmt.Sprintf("task funding: %s", spec.Title)); err != nil {
			return err
		}
		if err := tx.AddUserSpent(ctx, authorID, cost.Total); err != nil {
			return err
		}
		if err := recordPlatformFee(ctx, tx, t.ID, cost.Commission, "task commission"); err != nil {
			return err
		}
		if err := recordPlatformFee(ctx, tx, t.ID, cost.PromotionCost, "promotion fee"); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.TaskFunded(created)
	return created, nil
}

// Get returns a task by id.
func (s *TaskService) Get(ctx context.Context, taskID int64) (*domain.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

// SettleExecution moves reward from frozen escrow to spent within the
// caller's transaction. When the last execution settles the task completes
// and any residual escrow (rounding remainder) goes back to the author.
// Called only by the execution pipeline on acceptance.
func (s *TaskService) SettleExecution(ctx context.Context, tx repository.Store, taskID int64, reward decimal.Decimal) (*domain.Task, error) {
	t, err := tx.SettleTask(ctx, taskID, reward)
	if err != nil {
		return nil, err
	}

	if t.RemainingExecutions == 0 {
		residual := t.FrozenAmount
		if err := tx.CloseTask(ctx, taskID, domain.TaskStatusActive, domain.TaskStatusCompleted, residual); err != nil {
			return nil, err
		}
		if residual.IsPositive() {
			if err := s.ledger.Credit(ctx, tx, t.AuthorID, residual, &taskID, "task completed: residual escrow refund"); err != nil {
				return nil, err
			}
		}
		t.Status = domain.TaskStatusCompleted
		t.FrozenAmount = decimal.Zero
		t.RefundedAmount = t.RefundedAmount.Add(residual)
	}
	return t, nil
}

// Pause suspends a task without financial effect.
func (s *TaskService) Pause(ctx context.Context, taskID int64, reason string) error {
	now := s.clock.Now()
	return s.store.UpdateTaskStatus(ctx, taskID, domain.TaskStatusActive, domain.TaskStatusPaused, &now, reason)
}

// Resume reactivates a paused task.
func (s *TaskService) Resume(ctx context.Context, taskID int64) error {
	return s.store.UpdateTaskStatus(ctx, taskID, domain.TaskStatusPaused, domain.TaskStatusActive, nil, "")
}

// Cancel ends a task at the author's request. The unspent escrow is split
// into a refund and the cancellation fee; a second call observes the
// terminal status and fails the guard, so the refund can never double.
func (s *TaskService) Cancel(ctx context.Context, taskID int64, actorID int64) (*domain.Task, error) {
	var cancelled *domain.Task
	var refund decimal.Decimal

	err := s.store.RunInTx(ctx, func(tx repository.Store) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status != domain.TaskStatusActive && t.Status != domain.TaskStatusPaused {
			return &domain.TransitionError{Entity: "task", ID: taskID, From: string(t.Status), To: string(domain.TaskStatusCancelled)}
		}

		split := ledger.ComputeCancellationRefund(t.FrozenAmount, s.cancellationFee)

		// Guard on the status we read; a concurrent transition loses here.
		if err := tx.CloseTask(ctx, taskID, t.Status, domain.TaskStatusCancelled, split.Refund); err != nil {
			return err
		}
		if split.Refund.IsPositive() {
			if err := s.ledger.Credit(ctx, tx, t.AuthorID, split.Refund, &taskID, "task cancelled: escrow refund"); err != nil {
				return err
			}
		}
		if err := recordPlatformFee(ctx, tx, taskID, split.Fee, "cancellation fee"); err != nil {
			return err
		}

		t.Status = domain.TaskStatusCancelled
		t.FrozenAmount = decimal.Zero
		t.RefundedAmount = t.RefundedAmount.Add(split.Refund)
		cancelled = t
		refund = split.Refund
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("task cancelled", "task_id", taskID, "actor_id", actorID, "refund", refund)
	s.notifier.TaskCancelled(cancelled, refund)
	return cancelled, nil
}

// ForceComplete ends a task by operator decision: full refund of the
// remaining escrow, no cancellation fee.
func (s *TaskService) ForceComplete(ctx context.Context, taskID int64, actorID int64, reason string) (*domain.Task, error) {
	ok, err := s.authorizer.CanModerate(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if !ok {
		return nil, domain.ErrNotModerator
	}

	var completed *domain.Task
	err = s.store.RunInTx(ctx, func(tx repository.Store) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status != domain.TaskStatusActive && t.Status != domain.TaskStatusPaused {
			return &domain.TransitionError{Entity: "task", ID: taskID, From: string(t.Status), To: string(domain.TaskStatusCompleted)}
		}

		refund := t.FrozenAmount
		if err := tx.CloseTask(ctx, taskID, t.Status, domain.TaskStatusCompleted, refund); err != nil {
			return err
		}
		if refund.IsPositive() {
			if err := s.ledger.Credit(ctx, tx, t.AuthorID, refund, &taskID, fmt.Sprintf("task force-completed: %s", reason)); err != nil {
				return err
			}
		}

		t.Status = domain.TaskStatusCompleted
		t.RemainingExecutions = 0
		t.FrozenAmount = decimal.Zero
		t.RefundedAmount = t.RefundedAmount.Add(refund)
		completed = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("task force-completed", "task_id", taskID, "actor_id", actorID, "reason", reason)
	return completed, nil
}

// Expire ends a task past its deadline: full refund, no fee. Invoked by the
// sweeper; the status guard makes overlapping sweeps harmless.
func (s *TaskService) Expire(ctx context.Context, taskID int64) error {
	var expired *domain.Task
	var refund decimal.Decimal

	err := s.store.RunInTx(ctx, func(tx repository.Store) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status != domain.TaskStatusActive {
			return &domain.TransitionError{Entity: "task", ID: taskID, From: string(t.Status), To: string(domain.TaskStatusExpired)}
		}

		refund = t.FrozenAmount
		if err := tx.CloseTask(ctx, taskID, domain.TaskStatusActive, domain.TaskStatusExpired, refund); err != nil {
			return err
		}
		if refund.IsPositive() {
			if err := s.ledger.Credit(ctx, tx, t.AuthorID, refund, &taskID, "task expired: escrow refund"); err != nil {
				return err
			}
		}

		t.Status = domain.TaskStatusExpired
		t.FrozenAmount = decimal.Zero
		t.RefundedAmount = t.RefundedAmount.Add(refund)
		expired = t
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.TaskExpired(expired, refund)
	return nil
}
