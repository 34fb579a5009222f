// Package memory implements repository.Store with in-process maps. It mirrors
// the conditional-update semantics of the postgres store (state guards, unique
// (task, user) executions, non-negative balances) so the engine's services can
// be exercised without a database.
package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

type Store struct {
	mu   *sync.Mutex
	d    *data
	inTx bool
}

type data struct {
	users map[int64]*domain.User
	tasks map[int64]*domain.Task
	execs map[int64]*domain.TaskExecution
	txs   []domain.Transaction

	execByTaskUser map[[2]int64]int64

	nextUser int64
	nextTask int64
	nextExec int64
	nextTx   int64
}

func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		d: &data{
			users:          make(map[int64]*domain.User),
			tasks:          make(map[int64]*domain.Task),
			execs:          make(map[int64]*domain.TaskExecution),
			execByTaskUser: make(map[[2]int64]int64),
		},
	}
}

var _ repository.Store = (*Store)(nil)

// lock serializes access unless already inside a transaction, which holds the
// mutex for its whole scope.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx serializes the whole unit under the store mutex and rolls the data
// back to a snapshot when fn fails, so multi-entity money moves land all or
// nothing. Nested calls join the surrounding transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.d.clone()
	if err := fn(&Store{mu: s.mu, d: s.d, inTx: true}); err != nil {
		*s.d = *snap
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := &data{
		users:          make(map[int64]*domain.User, len(d.users)),
		tasks:          make(map[int64]*domain.Task, len(d.tasks)),
		execs:          make(map[int64]*domain.TaskExecution, len(d.execs)),
		txs:            make([]domain.Transaction, len(d.txs)),
		execByTaskUser: make(map[[2]int64]int64, len(d.execByTaskUser)),
		nextUser:       d.nextUser,
		nextTask:       d.nextTask,
		nextExec:       d.nextExec,
		nextTx:         d.nextTx,
	}
	for id, u := range d.users {
		c.users[id] = cloneUser(u)
	}
	for id, t := range d.tasks {
		c.tasks[id] = cloneTask(t)
	}
	for id, e := range d.execs {
		c.execs[id] = cloneExecution(e)
	}
	copy(c.txs, d.txs)
	for k, v := range d.execByTaskUser {
		c.execByTaskUser[k] = v
	}
	return c
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	return &c
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.PausedAt != nil {
		v := *t.PausedAt
		c.PausedAt = &v
	}
	return &c
}

func cloneExecution(e *domain.TaskExecution) *domain.TaskExecution {
	c := *e
	if e.RewardPaidAt != nil {
		v := *e.RewardPaidAt
		c.RewardPaidAt = &v
	}
	if e.CheckedAt != nil {
		v := *e.CheckedAt
		c.CheckedAt = &v
	}
	if e.CheckedByID != nil {
		v := *e.CheckedByID
		c.CheckedByID = &v
	}
	if e.CompletedAt != nil {
		v := *e.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// Users

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	defer s.lock()()
	u, ok := s.d.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	defer s.lock()()
	for _, u := range s.d.users {
		if u.TelegramID == telegramID {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	defer s.lock()()
	s.d.nextUser++
	c := cloneUser(u)
	c.ID = s.d.nextUser
	s.d.users[c.ID] = c
	return cloneUser(c), nil
}

func (s *Store) AdjustUserBalance(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	defer s.lock()()
	u, ok := s.d.users[userID]
	if !ok {
		return decimal.Zero, domain.ErrUserNotFound
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, domain.ErrInsufficientBalance
	}
	u.Balance = next
	return next, nil
}

func (s *Store) AddUserSpent(ctx context.Context, userID int64, amount decimal.Decimal) error {
	defer s.lock()()
	u, ok := s.d.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.TotalSpent = u.TotalSpent.Add(amount)
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	defer s.lock()()
	s.d.nextTx++
	c := *t
	c.ID = s.d.nextTx
	s.d.txs = append(s.d.txs, c)
	return nil
}

// Transactions returns a copy of all recorded transactions, oldest first.
// Test helper, not part of repository.Store.
func (s *Store) Transactions() []domain.Transaction {
	defer s.lock()()
	out := make([]domain.Transaction, len(s.d.txs))
	copy(out, s.d.txs)
	return out
}
