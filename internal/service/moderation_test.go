package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

func TestListPendingOldestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 5000)
	task := e.newTask(t, author.ID, 100, 10)

	var order []int64
	for i := 0; i < 3; i++ {
		w := e.newUser(t, 0)
		exec, err := e.executions.Submit(ctx, task.ID, w.ID, Proof{})
		require.NoError(t, err)
		order = append(order, exec.ID)
		e.clock.Advance(time.Hour)
	}

	page, err := e.moderation.ListPending(ctx, repository.QueueFilter{})
	require.NoError(t, err)

	require.Len(t, page.Items, 3)
	assert.Equal(t, 3, page.Total)
	assert.False(t, page.HasMore)
	for i, item := range page.Items {
		assert.Equal(t, order[i], item.Execution.ID)
	}
	// the oldest submission has waited the longest
	assert.Equal(t, 3*time.Hour, page.Items[0].TimeInQueue)
	assert.Equal(t, time.Hour, page.Items[2].TimeInQueue)
}

func TestListPendingPagination(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 20_000)
	task := e.newTask(t, author.ID, 100, 50)

	for i := 0; i < 5; i++ {
		w := e.newUser(t, 0)
		_, err := e.executions.Submit(ctx, task.ID, w.ID, Proof{})
		require.NoError(t, err)
		e.clock.Advance(time.Minute)
	}

	page, err := e.moderation.ListPending(ctx, repository.QueueFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)

	last, err := e.moderation.ListPending(ctx, repository.QueueFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, last.Items, 1)
	assert.False(t, last.HasMore)
}

func TestListPendingEnrichment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 10_000)
	worker := e.newUser(t, 0)
	other := e.newUser(t, 0)
	mod := e.newUser(t, 0, asModerator)
	task := e.newTask(t, author.ID, 100, 10)

	// build the worker a track record: one approved, one rejected
	past := e.newTask(t, author.ID, 50, 5)
	p1, err := e.executions.Submit(ctx, past.ID, worker.ID, Proof{})
	require.NoError(t, err)
	require.NoError(t, e.executions.Moderate(ctx, p1.ID, mod.ID, DecisionApprove, ""))
	p2, err := e.executions.Submit(ctx, task.ID, other.ID, Proof{})
	require.NoError(t, err)
	require.NoError(t, e.executions.Moderate(ctx, p2.ID, mod.ID, DecisionReject, "bad"))

	pending, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)

	page, err := e.moderation.ListPending(ctx, repository.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	item := page.Items[0]
	assert.Equal(t, pending.ID, item.Execution.ID)
	assert.Equal(t, task.ID, item.Task.ID)
	// the worker's only resolved execution was approved
	assert.Equal(t, 1.0, item.SubmitterSuccessRate)
	// this task has one approval and one rejection so far
	assert.Equal(t, 0.0, item.TaskApprovalRate)
	assert.Equal(t, 1.0, item.TaskRejectionRate)
	// author funded both tasks: 1100 + 275
	assert.True(t, item.AuthorSpent.Equal(d(1375)), "author spent %s", item.AuthorSpent)
	assert.Empty(t, item.SubmitterFlags)
	assert.Equal(t, domain.PriorityNormal, item.Priority)
}

func TestListPendingFlagsSuspiciousSubmitter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := e.newUser(t, 5000)
	worker := e.newUser(t, 0)
	task := e.newTask(t, author.ID, 100, 10)

	// an implausibly fast history sinks the item to low priority
	base := e.clock.Now().Add(-24 * time.Hour)
	for i := 0; i < 5; i++ {
		e.seedExecution(t, worker.ID, int64(5000+i), domain.ExecutionStatusCompleted,
			base.Add(time.Duration(i)*5*time.Hour), time.Second)
	}

	_, err := e.executions.Submit(ctx, task.ID, worker.ID, Proof{})
	require.NoError(t, err)

	page, err := e.moderation.ListPending(ctx, repository.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Contains(t, page.Items[0].SubmitterFlags, "timing")
	assert.Equal(t, domain.PriorityLow, page.Items[0].Priority)
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		name        string
		timeInQueue time.Duration
		authorSpent int64
		flagged     bool
		want        domain.Priority
	}{
		{"fresh ordinary item", time.Hour, 500, false, domain.PriorityNormal},
		{"stale item", 13 * time.Hour, 500, false, domain.PriorityHigh},
		{"high spend author", time.Hour, 10_000, false, domain.PriorityHigh},
		{"flagged submitter", time.Hour, 500, true, domain.PriorityLow},
		{"flagged outranks stale", 13 * time.Hour, 10_000, true, domain.PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyPriority(tt.timeInQueue, d(tt.authorSpent), tt.flagged)
			assert.Equal(t, tt.want, got)
		})
	}
}
