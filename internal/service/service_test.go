package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/taskpool/taskpool/internal/config"
	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository/memory"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(by time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(by)
}

type recordingNotifier struct {
	mu       sync.Mutex
	funded   int
	accepted int
	rejected int
	expired  int
	cancels  int
}

func (n *recordingNotifier) TaskFunded(*domain.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.funded++
}

func (n *recordingNotifier) TaskCancelled(*domain.Task, decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancels++
}

func (n *recordingNotifier) TaskExpired(*domain.Task, decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired++
}

func (n *recordingNotifier) ExecutionAccepted(*domain.TaskExecution, *domain.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accepted++
}

func (n *recordingNotifier) ExecutionRejected(*domain.TaskExecution, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected++
}

type checkRequest struct {
	ExecutionID int64
	CheckType   domain.CheckType
	Target      string
	UserID      int64
}

type stubVerifier struct {
	mu       sync.Mutex
	requests []checkRequest
	err      error
}

func (v *stubVerifier) RequestCheck(_ context.Context, executionID int64, checkType domain.CheckType, target string, userID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return v.err
	}
	v.requests = append(v.requests, checkRequest{executionID, checkType, target, userID})
	return nil
}

type env struct {
	store    *memory.Store
	clock    *fakeClock
	notifier *recordingNotifier
	verifier *stubVerifier

	users      *UserService
	tasks      *TaskService
	executions *ExecutionService
	moderation *ModerationService
	anomaly    *AnomalyService
	sweeper    *Sweeper
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := &config.Config{
		CommissionRate:  0.10,
		PromotionFee:    50,
		CancellationFee: 0.10,
		SweepInterval:   time.Minute,
		ReviewTimeout:   24 * time.Hour,
	}

	e := &env{
		store:    memory.New(),
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
		verifier: &stubVerifier{},
	}

	accounts := NewBillingLedger()
	authorizer := NewAuthorizer(e.store, cfg)
	e.users = NewUserService(e.store)
	e.tasks = NewTaskService(e.store, accounts, e.notifier, authorizer, e.clock, cfg)
	e.executions = NewExecutionService(e.store, e.tasks, accounts, e.verifier, e.notifier, authorizer, e.clock)
	e.anomaly = NewAnomalyService(e.store, e.clock)
	e.moderation = NewModerationService(e.store, e.anomaly, e.clock)
	e.sweeper = NewSweeper(e.store, e.tasks, e.executions, e.clock, cfg)
	return e
}

func (e *env) newUser(t *testing.T, balance int64, opts ...func(*domain.User)) *domain.User {
	t.Helper()
	u := &domain.User{
		TelegramID:     time.Now().UnixNano(),
		Balance:        d(balance),
		EarnMultiplier: decimal.NewFromInt(1),
		Level:          1,
	}
	for _, opt := range opts {
		opt(u)
	}
	created, err := e.store.CreateUser(context.Background(), u)
	require.NoError(t, err)
	return created
}

func asModerator(u *domain.User) { u.IsModerator = true }

func withMultiplier(m float64) func(*domain.User) {
	return func(u *domain.User) { u.EarnMultiplier = decimal.NewFromFloat(m) }
}

func (e *env) newTask(t *testing.T, authorID int64, reward int64, count int) *domain.Task {
	t.Helper()
	task, err := e.tasks.Create(context.Background(), authorID, CreateTaskSpec{
		Title:           "subscribe to channel",
		CheckType:       domain.CheckTypeManual,
		Reward:          d(reward),
		TotalExecutions: count,
		Lifetime:        7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return task
}

// requireEscrowConserved asserts the rewards escrow is always fully
// accounted for as frozen, spent, or refunded.
func requireEscrowConserved(t *testing.T, e *env, taskID int64) {
	t.Helper()
	task, err := e.store.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	rewardsEscrow := task.TotalCost.Sub(task.Commission).Sub(task.PromotionCost)
	sum := task.FrozenAmount.Add(task.SpentAmount).Add(task.RefundedAmount)
	require.True(t, sum.Equal(rewardsEscrow),
		"escrow not conserved: frozen %s + spent %s + refunded %s != %s",
		task.FrozenAmount, task.SpentAmount, task.RefundedAmount, rewardsEscrow)
}

func (e *env) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	u, err := e.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}
