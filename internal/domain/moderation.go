package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ModerationQueueItem is a read projection over an in-review execution,
// enriched for a human moderator. Never persisted.
type ModerationQueueItem struct {
	Execution TaskExecution
	Task      Task

	SubmitterSuccessRate   float64 // accepted / resolved, trailing window
	SubmitterAvgCompletion time.Duration
	SubmitterFlags         []string // anomaly flags carried by the submitter
	TaskApprovalRate       float64
	TaskRejectionRate      float64
	AuthorSpent            decimal.Decimal

	TimeInQueue time.Duration
	Priority    Priority
}

type Recommendation string

const (
	RecommendMonitor  Recommendation = "monitor"
	RecommendWarn     Recommendation = "warn"
	RecommendRestrict Recommendation = "restrict"
	RecommendBan      Recommendation = "ban"
)

// SuspiciousActivityReport is a per-user advisory aggregate over a trailing
// window. It never drives state changes on its own.
type SuspiciousActivityReport struct {
	UserID       int64
	WindowStart  time.Time
	WindowEnd    time.Time
	SampleSize   int
	TasksPerDay  float64
	AvgExecution time.Duration
	SuccessRate  float64

	Flags          []string // speed, pattern, success_rate, timing
	Recommendation Recommendation
	Confidence     float64 // 0..1
	Details        string
}

// Flagged reports whether any suspicion flag was raised.
func (r *SuspiciousActivityReport) Flagged() bool {
	return len(r.Flags) > 0
}
