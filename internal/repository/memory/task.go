package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/domain"
)

func (s *Store) CreateTask(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	defer s.lock()()
	s.d.nextTask++
	c := cloneTask(t)
	c.ID = s.d.nextTask
	s.d.tasks[c.ID] = c
	return cloneTask(c), nil
}

func (s *Store) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	defer s.lock()()
	t, ok := s.d.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, from, to domain.TaskStatus, pausedAt *time.Time, pausedReason string) error {
	defer s.lock()()
	t, ok := s.d.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.Status != from {
		return &domain.TransitionError{Entity: "task", ID: id, From: string(from), To: string(to)}
	}
	t.Status = to
	if pausedAt != nil {
		v := *pausedAt
		t.PausedAt = &v
		t.PausedReason = pausedReason
	} else {
		t.PausedAt = nil
		t.PausedReason = ""
	}
	return nil
}

func (s *Store) SettleTask(ctx context.Context, id int64, reward decimal.Decimal) (*domain.Task, error) {
	defer s.lock()()
	t, ok := s.d.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusActive || t.RemainingExecutions <= 0 || t.FrozenAmount.LessThan(reward) {
		return nil, &domain.TransitionError{Entity: "task", ID: id, From: string(domain.TaskStatusActive), To: "settled"}
	}
	t.FrozenAmount = t.FrozenAmount.Sub(reward)
	t.SpentAmount = t.SpentAmount.Add(reward)
	t.RemainingExecutions--
	return cloneTask(t), nil
}

func (s *Store) CloseTask(ctx context.Context, id int64, from, to domain.TaskStatus, refunded decimal.Decimal) error {
	defer s.lock()()
	t, ok := s.d.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.Status != from {
		return &domain.TransitionError{Entity: "task", ID: id, From: string(from), To: string(to)}
	}
	t.Status = to
	t.FrozenAmount = decimal.Zero
	t.RefundedAmount = t.RefundedAmount.Add(refunded)
	if to == domain.TaskStatusCompleted {
		t.RemainingExecutions = 0
	}
	return nil
}

func (s *Store) ListExpiredTasks(ctx context.Context, now time.Time, limit int) ([]domain.Task, error) {
	defer s.lock()()
	var out []domain.Task
	for _, t := range s.d.tasks {
		if t.Status == domain.TaskStatusActive && !t.ExpiresAt.After(now) {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
