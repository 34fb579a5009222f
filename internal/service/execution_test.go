package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpool/taskpool/internal/domain"
)

func (e *env) newLinkTask(t *testing.T, authorID int64, reward int64, count int) *domain.Task {
	t.Helper()
	task, err := e.tasks.Create(context.Background(), authorID, CreateTaskSpec{
		Title:           "visit the landing page",
		CheckType:       domain.CheckTypeLink,
		Target:          "https://example.com/landing",
		Reward:          d(reward),
		TotalExecutions: count,
		Lifetime:        7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return task
}

func TestSubmitManualTask(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	worker := e.newUser(t, 0)
	task := e.newTask(t, author.ID, 100, 10)

	exec, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{ScreenshotURL: "https://cdn/shot.png", Comment: "done"})
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusInReview, exec.Status)
	assert.True(t, exec.RewardAmount.Equal(d(100)))
	assert.False(t, exec.RewardPaid)
	assert.Equal(t, "https://cdn/shot.png", exec.ScreenshotURL)
	// manual tasks never reach the verifier
	assert.Empty(t, e.verifier.requests)
}

func TestSubmitAutoTaskGoesPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	worker := e.newUser(t, 0)
	task := e.newLinkTask(t, author.ID, 100, 10)

	exec, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusPending, exec.Status)
	require.Len(t, e.verifier.requests, 1)
	req := e.verifier.requests[0]
	assert.Equal(t, exec.ID, req.ExecutionID)
	assert.Equal(t, domain.CheckTypeLink, req.CheckType)
	assert.Equal(t, "https://example.com/landing", req.Target)
	assert.Equal(t, worker.ID, req.UserID)
}

func TestSubmitEnqueueFailureDemotesToReview(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	worker := e.newUser(t, 0)
	task := e.newLinkTask(t, author.ID, 100, 10)

	e.verifier.err = errors.New("check queue unavailable")

	exec, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusInReview, exec.Status)
}

func TestSubmitEligibility(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 10_000)
	worker := e.newUser(t, 0)

	t.Run("self execution", func(t *testing.T) {
		task := e.newTask(t, author.ID, 100, 10)
		_, err := e.executions.Submit(ctx, task.ID, author.ID, Proof{})
		require.ErrorIs(t, err, domain.ErrSelfExecution)
	})

	t.Run("duplicate submission", func(t *testing.T) {
		task := e.newTask(t, author.ID, 100, 10)
		_, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
		require.NoError(t, err)
		_, err = e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
		require.ErrorIs(t, err, domain.ErrExecutionExists)
	})

	t.Run("paused task", func(t *testing.T) {
		task := e.newTask(t, author.ID, 100, 10)
		require.NoError(t, e.tasks.Pause(ctx, task.ID, "hold"))
		_, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
		require.ErrorIs(t, err, domain.ErrTaskNotSelectable)
	})

	t.Run("cancelled task", func(t *testing.T) {
		task := e.newTask(t, author.ID, 100, 10)
		_, err := e.tasks.Cancel(ctx, task.ID, author.ID)
		require.NoError(t, err)
		_, err = e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
		require.ErrorIs(t, err, domain.ErrTaskNotSelectable)
	})

	t.Run("past deadline", func(t *testing.T) {
		task := e.newTask(t, author.ID, 100, 10)
		e.clock.Advance(8 * 24 * time.Hour)
		_, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
		require.ErrorIs(t, err, domain.ErrTaskNotSelectable)
	})
}

func TestSubmitSnapshotsRewardWithMultiplier(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	worker := e.newUser(t, 0, withMultiplier(1.25))
	task := e.newTask(t, author.ID, 100, 10)

	exec, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)
	// floor(100 * 1.25)
	assert.True(t, exec.RewardAmount.Equal(d(125)), "reward %s", exec.RewardAmount)

	// changing the multiplier after submission does not move the snapshot
	worker.EarnMultiplier = decimal.NewFromInt(3)
	got, err := e.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.True(t, got.RewardAmount.Equal(d(125)))
}

func TestAutoCheckPassPaysOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	worker := e.newUser(t, 0)
	task := e.newLinkTask(t, author.ID, 100, 10)

	exec, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)

	require.NoError(t, e.executions.ApplyAutoCheckResult(ctx, exec.ID, true, "title matched"))

	got, err := e.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, got.Status)
	assert.True(t, got.RewardPaid)
	require.NotNil(t, got.CheckedByID)
	assert.Equal(t, domain.SystemCheckerID, *got.CheckedByID)

	assert.True(t, e.balance(t, worker.ID).Equal(d(100)))

	updated, err := e.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, updated.SpentAmount.Equal(d(100)))
	assert.True(t, updated.FrozenAmount.Equal(d(900)))
	assert.Equal(t, 9, updated.RemainingExecutions)
	requireEscrowConserved(t, e, task.ID)
	assert.Equal(t, 1, e.notifier.accepted)
}

func TestAutoCheckFailGoesToReviewNotRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	worker := e.newUser(t, 0)
	task := e.newLinkTask(t, author.ID, 100, 10)

	exec, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)

	require.NoError(t, e.executions.ApplyAutoCheckResult(ctx, exec.ID, false, "page not found"))

	got, err := e.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusInReview, got.Status)
	assert.False(t, got.RewardPaid)
	assert.True(t, e.balance(t, worker.ID).IsZero())
	assert.Equal(t, 0, e.notifier.rejected)
}

func TestModerateApprove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	worker := e.newUser(t, 0)
	mod := e.newUser(t, 0, asModerator)
	task := e.newTask(t, author.ID, 100, 10)

	exec, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)

	require.NoError(t, e.executions.Moderate(ctx, exec.ID, mod.ID, DecisionApprove, ""))

	got, err := e.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, got.Status)
	assert.True(t, got.RewardPaid)
	require.NotNil(t, got.CheckedByID)
	assert.Equal(t, mod.ID, *got.CheckedByID)
	assert.True(t, e.balance(t, worker.ID).Equal(d(100)))
	requireEscrowConserved(t, e, task.ID)
}

func TestModerateReject(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	worker := e.newUser(t, 0)
	mod := e.newUser(t, 0, asModerator)
	task := e.newTask(t, author.ID, 100, 10)

	exec, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)

	require.NoError(t, e.executions.Moderate(ctx, exec.ID, mod.ID, DecisionReject, "screenshot does not match"))

	got, err := e.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusRejected, got.Status)
	assert.False(t, got.RewardPaid)
	assert.Equal(t, "screenshot does not match", got.RejectionReason)

	// rejection releases nothing from escrow
	assert.True(t, e.balance(t, worker.ID).IsZero())
	updated, err := e.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, updated.FrozenAmount.Equal(d(1000)))
	assert.Equal(t, 10, updated.RemainingExecutions)
	assert.Equal(t, 1, e.notifier.rejected)
}

func TestModerateRequiresModerator(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	worker := e.newUser(t, 0)
	task := e.newTask(t, author.ID, 100, 10)

	exec, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)

	err = e.executions.Moderate(ctx, exec.ID, worker.ID, DecisionApprove, "")
	require.ErrorIs(t, err, domain.ErrNotModerator)
}

func TestDoubleSettlementBlocked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	worker := e.newUser(t, 0)
	mod := e.newUser(t, 0, asModerator)
	task := e.newTask(t, author.ID, 100, 10)

	exec, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)

	require.NoError(t, e.executions.Moderate(ctx, exec.ID, mod.ID, DecisionApprove, ""))

	// a racing auto-approval of the same execution loses the state guard
	err = e.executions.AutoApprove(ctx, exec.ID)
	require.True(t, domain.IsTransitionConflict(err))

	// exactly one payout happened
	assert.True(t, e.balance(t, worker.ID).Equal(d(100)))
	updated, err := e.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, updated.SpentAmount.Equal(d(100)))
	assert.Equal(t, 1, e.notifier.accepted)
	requireEscrowConserved(t, e, task.ID)
}

func TestBulkModeratePartialFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	mod := e.newUser(t, 0, asModerator)
	task := e.newTask(t, author.ID, 100, 10)

	var ids []int64
	for i := 0; i < 3; i++ {
		w := e.newUser(t, 0)
		exec, err := e.executions.Submit(ctx, task.ID, w.ID, Proof{})
		require.NoError(t, err)
		ids = append(ids, exec.ID)
	}
	// resolve the middle one first so the batch hits a stale item
	require.NoError(t, e.executions.Moderate(ctx, ids[1], mod.ID, DecisionReject, "duplicate account"))

	result, err := e.executions.BulkModerate(ctx, ids, mod.ID, DecisionApprove, "")
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{ids[0], ids[2]}, result.Successful)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, ids[1], result.Failed[0].ExecutionID)
	assert.True(t, domain.IsTransitionConflict(result.Failed[0].Err))
}

func TestLastSettlementCompletesTask(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 2000)
	mod := e.newUser(t, 0, asModerator)
	boosted := e.newUser(t, 0, withMultiplier(0.97))

	task := e.newTask(t, author.ID, 100, 2)
	authorAfterFunding := e.balance(t, author.ID)

	w1 := e.newUser(t, 0)
	e1, err := e.executions.Submit(ctx, task.ID, w1.ID, Proof{})
	require.NoError(t, err)
	require.NoError(t, e.executions.Moderate(ctx, e1.ID, mod.ID, DecisionApprove, ""))

	// floor(100 * 0.97) = 97 leaves 3 of escrow unspendable
	e2, err := e.executions.Submit(ctx, task.ID, boosted.ID, Proof{})
	require.NoError(t, err)
	require.NoError(t, e.executions.Moderate(ctx, e2.ID, mod.ID, DecisionApprove, ""))

	updated, err := e.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, updated.Status)
	assert.Equal(t, 0, updated.RemainingExecutions)
	assert.True(t, updated.FrozenAmount.IsZero())
	assert.True(t, updated.SpentAmount.Equal(d(197)))
	// the rounding residual went back to the author
	assert.True(t, updated.RefundedAmount.Equal(d(3)))
	assert.True(t, e.balance(t, author.ID).Equal(authorAfterFunding.Add(d(3))))
	requireEscrowConserved(t, e, task.ID)
}
