package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/config"
	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/service"
)

const maxMessageLen = 4096

type EventType string

const (
	EventTaskFunded        EventType = "taskFunded"
	EventExecutionAccepted EventType = "executionAccepted"
	EventExecutionRejected EventType = "executionRejected"
	EventTaskExpired       EventType = "taskExpired"
	EventError             EventType = "error"
)

// TelegramNotifier posts engine events into per-topic threads of an
// operations chat. Sends are best-effort with their own timeout.
type TelegramNotifier struct {
	bot *bot.Bot
	cfg *config.Config
}

func NewTelegram(b *bot.Bot, cfg *config.Config) *TelegramNotifier {
	return &TelegramNotifier{bot: b, cfg: cfg}
}

var _ service.Notifier = (*TelegramNotifier)(nil)

func (n *TelegramNotifier) send(event EventType, message string) {
	if n.cfg.LogChatID == 0 {
		return
	}
	topicID := n.topicID(event)
	if topicID == 0 {
		return
	}

	if len([]rune(message)) > maxMessageLen {
		message = string([]rune(message)[:maxMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.NotifyTimeout)
	defer cancel()

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          n.cfg.LogChatID,
		Text:            message,
		ParseMode:       "Markdown",
		MessageThreadID: topicID,
	})
	if err != nil {
		slog.Error("failed to send telegram notification", "event", event, "error", err)
	}
}

func (n *TelegramNotifier) topicID(event EventType) int {
	switch event {
	case EventTaskFunded:
		return n.cfg.LogTopicFunded
	case EventExecutionAccepted:
		return n.cfg.LogTopicPayout
	case EventExecutionRejected:
		return n.cfg.LogTopicReject
	case EventTaskExpired:
		return n.cfg.LogTopicExpired
	case EventError:
		return n.cfg.LogTopicError
	default:
		return 0
	}
}

func (n *TelegramNotifier) TaskFunded(task *domain.Task) {
	n.send(EventTaskFunded, fmt.Sprintf(
		"📋 *Task Funded*\n\n*Task:* %s\n*Author:* `%d`\n*Cost:* %s\n*Escrow:* %s\n*Executions:* %d",
		task.Title, task.AuthorID, task.TotalCost, task.FrozenAmount, task.TotalExecutions))
}

func (n *TelegramNotifier) TaskCancelled(task *domain.Task, refund decimal.Decimal) {
	n.send(EventTaskExpired, fmt.Sprintf(
		"🚫 *Task Cancelled*\n\n*Task:* %s\n*Author:* `%d`\n*Refund:* %s",
		task.Title, task.AuthorID, refund))
}

func (n *TelegramNotifier) TaskExpired(task *domain.Task, refund decimal.Decimal) {
	n.send(EventTaskExpired, fmt.Sprintf(
		"⌛ *Task Expired*\n\n*Task:* %s\n*Author:* `%d`\n*Refund:* %s",
		task.Title, task.AuthorID, refund))
}

func (n *TelegramNotifier) ExecutionAccepted(exec *domain.TaskExecution, task *domain.Task) {
	n.send(EventExecutionAccepted, fmt.Sprintf(
		"💰 *Reward Paid*\n\n*Task:* %s\n*User:* `%d`\n*Reward:* %s\n*Status:* %s",
		task.Title, exec.UserID, exec.RewardAmount, exec.Status))
}

func (n *TelegramNotifier) ExecutionRejected(exec *domain.TaskExecution, reason string) {
	n.send(EventExecutionRejected, fmt.Sprintf(
		"❌ *Execution Rejected*\n\n*Execution:* `%d`\n*User:* `%d`\n*Reason:* %s",
		exec.ID, exec.UserID, reason))
}
