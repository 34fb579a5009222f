package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/ledger"
	"github.com/taskpool/taskpool/internal/repository"
)

// ExecutionService drives a submission from pending through verification or
// moderation to a terminal status. Every terminal transition is guarded on
// the expected prior status, so concurrent resolutions of the same execution
// settle exactly once.
type ExecutionService struct {
	store      repository.Store
	tasks      *TaskService
	ledger     AccountLedger
	verifier   Verifier
	notifier   Notifier
	authorizer Authorizer
	clock      Clock
}

func NewExecutionService(store repository.Store, tasks *TaskService, acc AccountLedger, verifier Verifier, notifier Notifier, authorizer Authorizer, clock Clock) *ExecutionService {
	return &ExecutionService{
		store:      store,
		tasks:      tasks,
		ledger:     acc,
		verifier:   verifier,
		notifier:   notifier,
		authorizer: authorizer,
		clock:      clock,
	}
}

// Proof is optional submission evidence for manual review.
type Proof struct {
	ScreenshotURL string
	Comment       string
}

// Submit records a user's attempt on a task. The reward is snapshotted here:
// the earn multiplier is applied once and never re-evaluated at payout.
func (s *ExecutionService) Submit(ctx context.Context, taskID, userID int64, proof Proof) (*domain.TaskExecution, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AuthorID == userID {
		return nil, domain.ErrSelfExecution
	}
	now := s.clock.Now()
	if !task.Selectable(now) {
		return nil, domain.ErrTaskNotSelectable
	}

	status := domain.ExecutionStatusInReview
	if task.CheckType.Automatic() {
		status = domain.ExecutionStatusPending
	}

	exec, err := s.store.CreateExecution(ctx, &domain.TaskExecution{
		TaskID:        taskID,
		UserID:        userID,
		Status:        status,
		RewardAmount:  ledger.SnapshotReward(task.Reward, user.EarnMultiplier),
		ScreenshotURL: proof.ScreenshotURL,
		Comment:       proof.Comment,
		StartedAt:     now,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	if status == domain.ExecutionStatusPending {
		if err := s.verifier.RequestCheck(ctx, exec.ID, task.CheckType, task.Target, userID); err != nil {
			// The check request is fire-and-forget for the submitter; a
			// failed enqueue demotes the execution to manual review so it
			// cannot sit in pending forever.
			slog.Warn("check request failed, routing to manual review",
				"execution_id", exec.ID, "task_id", taskID, "error", err)
			demoted, derr := s.store.TransitionExecution(ctx, exec.ID,
				domain.ExecutionStatusPending, domain.ExecutionStatusInReview, repository.ExecutionUpdate{})
			if derr != nil {
				if domain.IsTransitionConflict(derr) {
					return s.store.GetExecution(ctx, exec.ID)
				}
				return nil, derr
			}
			return demoted, nil
		}
	}
	return exec, nil
}

// ApplyAutoCheckResult completes the asynchronous verification started by
// Submit. A failed check is not a rejection: the execution goes to manual
// review so a flaky verifier cannot cost a worker their reward.
func (s *ExecutionService) ApplyAutoCheckResult(ctx context.Context, executionID int64, passed bool, details string) error {
	if passed {
		return s.accept(ctx, executionID, domain.ExecutionStatusPending, domain.ExecutionStatusCompleted, domain.SystemCheckerID)
	}

	slog.Debug("auto check failed, routing to manual review", "execution_id", executionID, "details", details)
	_, err := s.store.TransitionExecution(ctx, executionID,
		domain.ExecutionStatusPending, domain.ExecutionStatusInReview, repository.ExecutionUpdate{})
	return err
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Moderate applies a human decision to an in-review execution.
func (s *ExecutionService) Moderate(ctx context.Context, executionID, moderatorID int64, decision Decision, reason string) error {
	ok, err := s.authorizer.CanModerate(ctx, moderatorID)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	if !ok {
		return domain.ErrNotModerator
	}

	switch decision {
	case DecisionApprove:
		return s.accept(ctx, executionID, domain.ExecutionStatusInReview, domain.ExecutionStatusCompleted, moderatorID)
	case DecisionReject:
		return s.reject(ctx, executionID, moderatorID, reason)
	default:
		return domain.Validationf("decision", "unknown decision %q", decision)
	}
}

func (s *ExecutionService) reject(ctx context.Context, executionID, moderatorID int64, reason string) error {
	now := s.clock.Now()
	exec, err := s.store.TransitionExecution(ctx, executionID,
		domain.ExecutionStatusInReview, domain.ExecutionStatusRejected, repository.ExecutionUpdate{
			CheckedAt:       &now,
			CheckedByID:     &moderatorID,
			RejectionReason: reason,
		})
	if err != nil {
		return err
	}
	s.notifier.ExecutionRejected(exec, reason)
	return nil
}

// BulkResult reports per-item outcomes of a bulk moderation.
type BulkResult struct {
	Successful []int64
	Failed     []BulkFailure
}

type BulkFailure struct {
	ExecutionID int64
	Err         error
}

// BulkModerate applies one decision to many executions independently; a
// single stale item never aborts the batch.
func (s *ExecutionService) BulkModerate(ctx context.Context, executionIDs []int64, moderatorID int64, decision Decision, reason string) (*BulkResult, error) {
	ok, err := s.authorizer.CanModerate(ctx, moderatorID)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if !ok {
		return nil, domain.ErrNotModerator
	}

	result := &BulkResult{}
	for _, id := range executionIDs {
		if err := s.Moderate(ctx, id, moderatorID, decision, reason); err != nil {
			result.Failed = append(result.Failed, BulkFailure{ExecutionID: id, Err: err})
			continue
		}
		result.Successful = append(result.Successful, id)
	}
	return result, nil
}

// AutoApprove resolves an execution whose review timed out, paying out as if
// a moderator had approved it. Called by the sweeper.
func (s *ExecutionService) AutoApprove(ctx context.Context, executionID int64) error {
	return s.accept(ctx, executionID, domain.ExecutionStatusInReview, domain.ExecutionStatusAutoApproved, domain.SystemCheckerID)
}

// accept is the single acceptance path shared by auto-check pass, moderator
// approval and auto-approval. The execution transition, the user credit and
// the task settlement land in one atomic unit; if any step fails nothing is
// applied and the execution stays exactly where it was.
func (s *ExecutionService) accept(ctx context.Context, executionID int64, from, terminal domain.ExecutionStatus, checkedByID int64) error {
	now := s.clock.Now()

	var exec *domain.TaskExecution
	var task *domain.Task
	err := s.store.RunInTx(ctx, func(tx repository.Store) error {
		e, err := tx.TransitionExecution(ctx, executionID, from, terminal, repository.ExecutionUpdate{
			RewardPaid:   true,
			RewardPaidAt: &now,
			CheckedAt:    &now,
			CheckedByID:  &checkedByID,
			CompletedAt:  &now,
		})
		if err != nil {
			return err
		}
		t, err := s.tasks.SettleExecution(ctx, tx, e.TaskID, e.RewardAmount)
		if err != nil {
			return err
		}
		if err := s.ledger.Credit(ctx, tx, e.UserID, e.RewardAmount, &e.TaskID, "execution reward"); err != nil {
			return err
		}
		exec, task = e, t
		return nil
	})
	if err != nil {
		if domain.IsTransitionConflict(err) {
			slog.Debug("acceptance lost the state guard", "execution_id", executionID, "from", from, "to", terminal)
		}
		return err
	}

	s.notifier.ExecutionAccepted(exec, task)
	return nil
}

// Get returns an execution by id.
func (s *ExecutionService) Get(ctx context.Context, executionID int64) (*domain.TaskExecution, error) {
	return s.store.GetExecution(ctx, executionID)
}
