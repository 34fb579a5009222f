package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionStatus string

const (
	ExecutionStatusPending      ExecutionStatus = "pending"
	ExecutionStatusInReview     ExecutionStatus = "in_review"
	ExecutionStatusCompleted    ExecutionStatus = "completed"
	ExecutionStatusRejected     ExecutionStatus = "rejected"
	ExecutionStatusAutoApproved ExecutionStatus = "auto_approved"
)

// IsTerminal reports whether the execution has been resolved.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusRejected, ExecutionStatusAutoApproved:
		return true
	}
	return false
}

// Accepted reports whether the status pays out the reward.
func (s ExecutionStatus) Accepted() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusAutoApproved
}

// SystemCheckerID marks resolutions applied by the engine itself (auto check,
// auto-approval sweep) rather than a human moderator.
const SystemCheckerID int64 = 0

// TaskExecution is one user's attempt to complete a task. Exactly one
// execution exists per (task, user) pair. Executions are never deleted;
// resolved rows are permanent audit records.
type TaskExecution struct {
	ID     int64
	TaskID int64
	UserID int64

	Status       ExecutionStatus
	RewardAmount decimal.Decimal // snapshotted at submission
	RewardPaid   bool
	RewardPaidAt *time.Time

	ScreenshotURL   string
	Comment         string
	CheckedAt       *time.Time
	CheckedByID     *int64
	RejectionReason string

	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// Duration returns completion time for anomaly analysis, zero when unresolved.
func (e *TaskExecution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}
