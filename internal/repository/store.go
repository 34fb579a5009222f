package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/domain"
)

// ExecutionUpdate carries the fields written alongside a status transition.
type ExecutionUpdate struct {
	RewardPaid      bool
	RewardPaidAt    *time.Time
	CheckedAt       *time.Time
	CheckedByID     *int64
	RejectionReason string
	CompletedAt     *time.Time
}

// QueueFilter selects and pages in-review executions for moderators.
type QueueFilter struct {
	Statuses  []domain.ExecutionStatus
	Limit     int
	Offset    int
	SortBy    string // "created_at" or "reward_amount"
	SortOrder string // "asc" or "desc"
}

// UserReviewStats aggregates a submitter's resolved executions.
type UserReviewStats struct {
	Resolved      int
	Accepted      int
	AvgCompletion time.Duration
}

// SuccessRate returns accepted/resolved, zero when nothing resolved yet.
func (s UserReviewStats) SuccessRate() float64 {
	if s.Resolved == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Resolved)
}

// TaskReviewStats aggregates resolved executions of one task.
type TaskReviewStats struct {
	Approved int
	Rejected int
}

// Store is the persistence contract of the escrow engine. Every mutation is
// conditional on the expected prior state: a write whose guard does not match
// returns *domain.TransitionError (or a typed sentinel) instead of applying.
// Financial operations that touch several entities run inside RunInTx so they
// land atomically or not at all.
type Store interface {
	// RunInTx runs fn with a transaction-scoped Store. Nested calls reuse
	// the surrounding transaction.
	RunInTx(ctx context.Context, fn func(Store) error) error

	// Users
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) (*domain.User, error)
	// AdjustUserBalance applies delta (negative = debit). A debit that would
	// take the balance below zero returns domain.ErrInsufficientBalance and
	// writes nothing. Returns the new balance.
	AdjustUserBalance(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error)
	AddUserSpent(ctx context.Context, userID int64, amount decimal.Decimal) error
	CreateTransaction(ctx context.Context, t *domain.Transaction) error

	// Tasks
	CreateTask(ctx context.Context, t *domain.Task) (*domain.Task, error)
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	// UpdateTaskStatus moves a task from -> to, recording pause metadata
	// when pausing. Guard mismatch returns *domain.TransitionError.
	UpdateTaskStatus(ctx context.Context, id int64, from, to domain.TaskStatus, pausedAt *time.Time, pausedReason string) error
	// SettleTask atomically moves reward from frozen to spent and decrements
	// the remaining count, guarded on active status, remaining > 0 and
	// sufficient frozen escrow. Returns the updated task.
	SettleTask(ctx context.Context, id int64, reward decimal.Decimal) (*domain.Task, error)
	// CloseTask moves a task into a terminal status, zeroes frozen escrow
	// and books the refunded amount. Guard mismatch returns
	// *domain.TransitionError.
	CloseTask(ctx context.Context, id int64, from, to domain.TaskStatus, refunded decimal.Decimal) error
	ListExpiredTasks(ctx context.Context, now time.Time, limit int) ([]domain.Task, error)

	// Executions
	// CreateExecution inserts a new execution; a second row for the same
	// (task, user) pair returns domain.ErrExecutionExists.
	CreateExecution(ctx context.Context, e *domain.TaskExecution) (*domain.TaskExecution, error)
	GetExecution(ctx context.Context, id int64) (*domain.TaskExecution, error)
	// TransitionExecution applies upd while moving from -> to; the guard on
	// the prior status makes concurrent resolutions lose cleanly.
	TransitionExecution(ctx context.Context, id int64, from, to domain.ExecutionStatus, upd ExecutionUpdate) (*domain.TaskExecution, error)
	ListQueue(ctx context.Context, f QueueFilter) (items []domain.TaskExecution, total int, err error)
	ListReviewTimeouts(ctx context.Context, before time.Time, limit int) ([]domain.TaskExecution, error)
	ListExecutionsSince(ctx context.Context, since time.Time) ([]domain.TaskExecution, error)
	ListUserExecutionsSince(ctx context.Context, userID int64, since time.Time) ([]domain.TaskExecution, error)
	UserStats(ctx context.Context, userID int64, since time.Time) (UserReviewStats, error)
	TaskStats(ctx context.Context, taskID int64) (TaskReviewStats, error)
}
