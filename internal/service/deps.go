package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/config"
	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

// Clock abstracts wall time so deadline and timeout comparisons are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production clock.
var SystemClock Clock = systemClock{}

// Notifier receives state-transition events. Implementations are best-effort:
// they must never block a financial transition or report failure into it.
type Notifier interface {
	TaskFunded(task *domain.Task)
	TaskCancelled(task *domain.Task, refund decimal.Decimal)
	TaskExpired(task *domain.Task, refund decimal.Decimal)
	ExecutionAccepted(exec *domain.TaskExecution, task *domain.Task)
	ExecutionRejected(exec *domain.TaskExecution, reason string)
}

// Verifier performs automatic checks. The result arrives later through
// ExecutionService.ApplyAutoCheckResult, never synchronously.
type Verifier interface {
	RequestCheck(ctx context.Context, executionID int64, checkType domain.CheckType, target string, userID int64) error
}

// Authorizer decides who may moderate. Injected rather than read from a
// global admin list.
type Authorizer interface {
	CanModerate(ctx context.Context, userID int64) (bool, error)
}

type storeAuthorizer struct {
	store repository.Store
	cfg   *config.Config
}

// NewAuthorizer allows users flagged as moderators in storage plus the
// configured moderator IDs.
func NewAuthorizer(store repository.Store, cfg *config.Config) Authorizer {
	return &storeAuthorizer{store: store, cfg: cfg}
}

func (a *storeAuthorizer) CanModerate(ctx context.Context, userID int64) (bool, error) {
	if a.cfg != nil && a.cfg.IsModerator(userID) {
		return true, nil
	}
	u, err := a.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.IsModerator, nil
}
