package memory

import (
	"context"
	"sort"
	"time"

	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

func (s *Store) CreateExecution(ctx context.Context, e *domain.TaskExecution) (*domain.TaskExecution, error) {
	defer s.lock()()
	key := [2]int64{e.TaskID, e.UserID}
	if _, ok := s.d.execByTaskUser[key]; ok {
		return nil, domain.ErrExecutionExists
	}
	s.d.nextExec++
	c := cloneExecution(e)
	c.ID = s.d.nextExec
	s.d.execs[c.ID] = c
	s.d.execByTaskUser[key] = c.ID
	return cloneExecution(c), nil
}

func (s *Store) GetExecution(ctx context.Context, id int64) (*domain.TaskExecution, error) {
	defer s.lock()()
	e, ok := s.d.execs[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return cloneExecution(e), nil
}

func (s *Store) TransitionExecution(ctx context.Context, id int64, from, to domain.ExecutionStatus, upd repository.ExecutionUpdate) (*domain.TaskExecution, error) {
	defer s.lock()()
	e, ok := s.d.execs[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	if e.Status != from {
		return nil, &domain.TransitionError{Entity: "execution", ID: id, From: string(from), To: string(to)}
	}
	e.Status = to
	if upd.RewardPaid {
		e.RewardPaid = true
	}
	if upd.RewardPaidAt != nil {
		v := *upd.RewardPaidAt
		e.RewardPaidAt = &v
	}
	if upd.CheckedAt != nil {
		v := *upd.CheckedAt
		e.CheckedAt = &v
	}
	if upd.CheckedByID != nil {
		v := *upd.CheckedByID
		e.CheckedByID = &v
	}
	if upd.RejectionReason != "" {
		e.RejectionReason = upd.RejectionReason
	}
	if upd.CompletedAt != nil {
		v := *upd.CompletedAt
		e.CompletedAt = &v
	}
	return cloneExecution(e), nil
}

func (s *Store) ListQueue(ctx context.Context, f repository.QueueFilter) ([]domain.TaskExecution, int, error) {
	defer s.lock()()

	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []domain.ExecutionStatus{domain.ExecutionStatusInReview}
	}
	match := func(st domain.ExecutionStatus) bool {
		for _, want := range statuses {
			if st == want {
				return true
			}
		}
		return false
	}

	var all []domain.TaskExecution
	for _, e := range s.d.execs {
		if match(e.Status) {
			all = append(all, *cloneExecution(e))
		}
	}

	desc := f.SortOrder == "desc"
	switch f.SortBy {
	case "reward_amount":
		sort.Slice(all, func(i, j int) bool {
			less := all[i].RewardAmount.LessThan(all[j].RewardAmount)
			if desc {
				return !less && !all[i].RewardAmount.Equal(all[j].RewardAmount)
			}
			return less
		})
	case "", "created_at": // oldest first unless overridden
		sort.Slice(all, func(i, j int) bool {
			before := all[i].CreatedAt.Before(all[j].CreatedAt)
			if desc {
				return !before && !all[i].CreatedAt.Equal(all[j].CreatedAt)
			}
			return before
		})
	default:
		return nil, 0, domain.Validationf("sortBy", "unknown sort column %q", f.SortBy)
	}

	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			return nil, total, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (s *Store) ListReviewTimeouts(ctx context.Context, before time.Time, limit int) ([]domain.TaskExecution, error) {
	defer s.lock()()
	var out []domain.TaskExecution
	for _, e := range s.d.execs {
		if e.Status == domain.ExecutionStatusInReview && !e.CreatedAt.After(before) {
			out = append(out, *cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListExecutionsSince(ctx context.Context, since time.Time) ([]domain.TaskExecution, error) {
	defer s.lock()()
	var out []domain.TaskExecution
	for _, e := range s.d.execs {
		if !e.CreatedAt.Before(since) {
			out = append(out, *cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListUserExecutionsSince(ctx context.Context, userID int64, since time.Time) ([]domain.TaskExecution, error) {
	defer s.lock()()
	var out []domain.TaskExecution
	for _, e := range s.d.execs {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			out = append(out, *cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UserStats(ctx context.Context, userID int64, since time.Time) (repository.UserReviewStats, error) {
	defer s.lock()()
	var stats repository.UserReviewStats
	var totalCompletion time.Duration
	var completed int
	for _, e := range s.d.execs {
		if e.UserID != userID || e.CreatedAt.Before(since) || !e.Status.IsTerminal() {
			continue
		}
		stats.Resolved++
		if e.Status.Accepted() {
			stats.Accepted++
		}
		if e.CompletedAt != nil {
			totalCompletion += e.CompletedAt.Sub(e.StartedAt)
			completed++
		}
	}
	if completed > 0 {
		stats.AvgCompletion = totalCompletion / time.Duration(completed)
	}
	return stats, nil
}

func (s *Store) TaskStats(ctx context.Context, taskID int64) (repository.TaskReviewStats, error) {
	defer s.lock()()
	var stats repository.TaskReviewStats
	for _, e := range s.d.execs {
		if e.TaskID != taskID {
			continue
		}
		switch {
		case e.Status.Accepted():
			stats.Approved++
		case e.Status == domain.ExecutionStatusRejected:
			stats.Rejected++
		}
	}
	return stats, nil
}
