package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "active"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusExpired   TaskStatus = "expired"
)

// IsTerminal reports whether no further financial mutation is allowed.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusExpired:
		return true
	}
	return false
}

type CheckType string

const (
	// CheckTypeLink is verified automatically by fetching the target URL.
	CheckTypeLink CheckType = "auto_link"
	// CheckTypeMembership is verified automatically via chat membership.
	CheckTypeMembership CheckType = "auto_membership"
	// CheckTypeManual requires screenshot proof and a human decision.
	CheckTypeManual CheckType = "manual_review"
)

// Automatic reports whether executions of this type start with an async check.
func (c CheckType) Automatic() bool {
	return c == CheckTypeLink || c == CheckTypeMembership
}

// Task is a funded unit of work. The author's money is always accounted for
// as frozen, spent, or refunded; commission and promotion fee are platform
// revenue booked at creation and never enter the escrow.
type Task struct {
	ID        int64
	AuthorID  int64
	Title     string
	CheckType CheckType
	Target    string // URL or channel ID the verifier checks

	Reward              decimal.Decimal // payout per accepted execution
	TotalExecutions     int
	RemainingExecutions int
	TotalCost           decimal.Decimal // debited from the author at creation
	Commission          decimal.Decimal
	PromotionCost       decimal.Decimal
	SpentAmount         decimal.Decimal
	FrozenAmount        decimal.Decimal
	RefundedAmount      decimal.Decimal

	Status       TaskStatus
	ExpiresAt    time.Time
	PausedAt     *time.Time
	PausedReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Selectable reports whether the task can accept a new execution at now.
func (t *Task) Selectable(now time.Time) bool {
	return t.Status == TaskStatusActive && t.RemainingExecutions > 0 && now.Before(t.ExpiresAt)
}
