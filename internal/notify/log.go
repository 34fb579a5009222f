// Package notify delivers best-effort state-transition events. Failures are
// logged and swallowed: a lost notification must never roll back the
// financial transition that produced it.
package notify

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/service"
)

// LogNotifier writes events to the structured log. It is the default sink
// when no Telegram channel is configured.
type LogNotifier struct{}

func NewLog() *LogNotifier { return &LogNotifier{} }

var _ service.Notifier = (*LogNotifier)(nil)

func (*LogNotifier) TaskFunded(task *domain.Task) {
	slog.Info("task funded",
		"task_id", task.ID, "author_id", task.AuthorID,
		"total_cost", task.TotalCost, "frozen", task.FrozenAmount)
}

func (*LogNotifier) TaskCancelled(task *domain.Task, refund decimal.Decimal) {
	slog.Info("task cancelled", "task_id", task.ID, "author_id", task.AuthorID, "refund", refund)
}

func (*LogNotifier) TaskExpired(task *domain.Task, refund decimal.Decimal) {
	slog.Info("task expired", "task_id", task.ID, "author_id", task.AuthorID, "refund", refund)
}

func (*LogNotifier) ExecutionAccepted(exec *domain.TaskExecution, task *domain.Task) {
	slog.Info("execution accepted",
		"execution_id", exec.ID, "task_id", task.ID, "user_id", exec.UserID,
		"status", exec.Status, "reward", exec.RewardAmount)
}

func (*LogNotifier) ExecutionRejected(exec *domain.TaskExecution, reason string) {
	slog.Info("execution rejected",
		"execution_id", exec.ID, "task_id", exec.TaskID, "user_id", exec.UserID, "reason", reason)
}
