package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

const executionColumns = `id, task_id, user_id, status, reward_amount::text,
	reward_paid, reward_paid_at, screenshot_url, comment,
	checked_at, checked_by_id, rejection_reason,
	started_at, completed_at, created_at`

func scanExecution(row pgx.Row) (*domain.TaskExecution, error) {
	var e domain.TaskExecution
	var status, reward string
	if err := row.Scan(
		&e.ID, &e.TaskID, &e.UserID, &status, &reward,
		&e.RewardPaid, &e.RewardPaidAt, &e.ScreenshotURL, &e.Comment,
		&e.CheckedAt, &e.CheckedByID, &e.RejectionReason,
		&e.StartedAt, &e.CompletedAt, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Status = domain.ExecutionStatus(status)
	d, err := parseDecimal(reward)
	if err != nil {
		return nil, fmt.Errorf("parse reward amount: %w", err)
	}
	e.RewardAmount = d
	return &e, nil
}

func (s *Store) CreateExecution(ctx context.Context, e *domain.TaskExecution) (*domain.TaskExecution, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO task_executions (task_id, user_id, status, reward_amount,
			screenshot_url, comment, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+executionColumns,
		e.TaskID, e.UserID, string(e.Status), e.RewardAmount.String(),
		e.ScreenshotURL, e.Comment, e.StartedAt, e.CreatedAt)
	created, err := scanExecution(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrExecutionExists
		}
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return created, nil
}

func (s *Store) GetExecution(ctx context.Context, id int64) (*domain.TaskExecution, error) {
	row := s.q.QueryRow(ctx, `SELECT `+executionColumns+` FROM task_executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

func (s *Store) TransitionExecution(ctx context.Context, id int64, from, to domain.ExecutionStatus, upd repository.ExecutionUpdate) (*domain.TaskExecution, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE task_executions
		SET status = $3,
		    reward_paid = reward_paid OR $4,
		    reward_paid_at = COALESCE($5, reward_paid_at),
		    checked_at = COALESCE($6, checked_at),
		    checked_by_id = COALESCE($7, checked_by_id),
		    rejection_reason = CASE WHEN $8 <> '' THEN $8 ELSE rejection_reason END,
		    completed_at = COALESCE($9, completed_at)
		WHERE id = $1 AND status = $2
		RETURNING `+executionColumns,
		id, string(from), string(to),
		upd.RewardPaid, upd.RewardPaidAt, upd.CheckedAt, upd.CheckedByID,
		upd.RejectionReason, upd.CompletedAt)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, gerr := s.GetExecution(ctx, id); gerr != nil {
				return nil, gerr
			}
			return nil, &domain.TransitionError{Entity: "execution", ID: id, From: string(from), To: string(to)}
		}
		return nil, fmt.Errorf("transition execution: %w", err)
	}
	return e, nil
}

var queueSortColumns = map[string]string{
	"":              "created_at",
	"created_at":    "created_at",
	"reward_amount": "reward_amount",
}

func (s *Store) ListQueue(ctx context.Context, f repository.QueueFilter) ([]domain.TaskExecution, int, error) {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []domain.ExecutionStatus{domain.ExecutionStatusInReview}
	}
	strStatuses := make([]string, len(statuses))
	for i, st := range statuses {
		strStatuses[i] = string(st)
	}

	sortCol, ok := queueSortColumns[f.SortBy]
	if !ok {
		return nil, 0, domain.Validationf("sortBy", "unknown sort column %q", f.SortBy)
	}
	order := "ASC"
	if f.SortOrder == "desc" {
		order = "DESC"
	}

	var total int
	if err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM task_executions WHERE status = ANY($1)`, strStatuses,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+executionColumns+` FROM task_executions
		WHERE status = ANY($1)
		ORDER BY `+sortCol+` `+order+`
		LIMIT $2 OFFSET $3`,
		strStatuses, limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var out []domain.TaskExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

func (s *Store) ListReviewTimeouts(ctx context.Context, before time.Time, limit int) ([]domain.TaskExecution, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+executionColumns+` FROM task_executions
		WHERE status = 'in_review' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("list review timeouts: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (s *Store) ListExecutionsSince(ctx context.Context, since time.Time) ([]domain.TaskExecution, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+executionColumns+` FROM task_executions
		WHERE created_at >= $1
		ORDER BY created_at`,
		since)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (s *Store) ListUserExecutionsSince(ctx context.Context, userID int64, since time.Time) ([]domain.TaskExecution, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+executionColumns+` FROM task_executions
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("list user executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func collectExecutions(rows pgx.Rows) ([]domain.TaskExecution, error) {
	var out []domain.TaskExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) UserStats(ctx context.Context, userID int64, since time.Time) (repository.UserReviewStats, error) {
	var stats repository.UserReviewStats
	var avgSeconds float64
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status IN ('completed', 'rejected', 'auto_approved')),
		       COUNT(*) FILTER (WHERE status IN ('completed', 'auto_approved')),
		       COALESCE(EXTRACT(EPOCH FROM AVG(completed_at - started_at) FILTER (WHERE completed_at IS NOT NULL))::float8, 0)
		FROM task_executions
		WHERE user_id = $1 AND created_at >= $2`,
		userID, since).Scan(&stats.Resolved, &stats.Accepted, &avgSeconds)
	if err != nil {
		return stats, fmt.Errorf("user stats: %w", err)
	}
	stats.AvgCompletion = time.Duration(avgSeconds * float64(time.Second))
	return stats, nil
}

func (s *Store) TaskStats(ctx context.Context, taskID int64) (repository.TaskReviewStats, error) {
	var stats repository.TaskReviewStats
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status IN ('completed', 'auto_approved')),
		       COUNT(*) FILTER (WHERE status = 'rejected')
		FROM task_executions
		WHERE task_id = $1`,
		taskID).Scan(&stats.Approved, &stats.Rejected)
	if err != nil {
		return stats, fmt.Errorf("task stats: %w", err)
	}
	return stats, nil
}
