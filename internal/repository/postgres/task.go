package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/domain"
)

const taskColumns = `id, author_id, title, check_type, target,
	reward::text, total_executions, remaining_executions,
	total_cost::text, commission::text, promotion_cost::text,
	spent_amount::text, frozen_amount::text, refunded_amount::text,
	status, expires_at, paused_at, paused_reason, created_at, updated_at`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var reward, totalCost, commission, promo, spent, frozen, refunded string
	var checkType, status string
	if err := row.Scan(
		&t.ID, &t.AuthorID, &t.Title, &checkType, &t.Target,
		&reward, &t.TotalExecutions, &t.RemainingExecutions,
		&totalCost, &commission, &promo,
		&spent, &frozen, &refunded,
		&status, &t.ExpiresAt, &t.PausedAt, &t.PausedReason, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.CheckType = domain.CheckType(checkType)
	t.Status = domain.TaskStatus(status)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&t.Reward, reward}, {&t.TotalCost, totalCost}, {&t.Commission, commission},
		{&t.PromotionCost, promo}, {&t.SpentAmount, spent}, {&t.FrozenAmount, frozen},
		{&t.RefundedAmount, refunded},
	} {
		d, err := parseDecimal(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse task amount: %w", err)
		}
		*f.dst = d
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO tasks (author_id, title, check_type, target,
			reward, total_executions, remaining_executions,
			total_cost, commission, promotion_cost,
			spent_amount, frozen_amount, refunded_amount,
			status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+taskColumns,
		t.AuthorID, t.Title, string(t.CheckType), t.Target,
		t.Reward.String(), t.TotalExecutions, t.RemainingExecutions,
		t.TotalCost.String(), t.Commission.String(), t.PromotionCost.String(),
		t.SpentAmount.String(), t.FrozenAmount.String(), t.RefundedAmount.String(),
		string(t.Status), t.ExpiresAt)
	created, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return created, nil
}

func (s *Store) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	row := s.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, from, to domain.TaskStatus, pausedAt *time.Time, pausedReason string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE tasks
		SET status = $3, paused_at = $4, paused_reason = $5, updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), pausedAt, pausedReason)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.GetTask(ctx, id); gerr != nil {
			return gerr
		}
		return &domain.TransitionError{Entity: "task", ID: id, From: string(from), To: string(to)}
	}
	return nil
}

func (s *Store) SettleTask(ctx context.Context, id int64, reward decimal.Decimal) (*domain.Task, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE tasks
		SET frozen_amount = frozen_amount - $2,
		    spent_amount = spent_amount + $2,
		    remaining_executions = remaining_executions - 1,
		    updated_at = now()
		WHERE id = $1 AND status = 'active' AND remaining_executions > 0 AND frozen_amount >= $2
		RETURNING `+taskColumns,
		id, reward.String())
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, gerr := s.GetTask(ctx, id); gerr != nil {
				return nil, gerr
			}
			return nil, &domain.TransitionError{Entity: "task", ID: id, From: string(domain.TaskStatusActive), To: "settled"}
		}
		return nil, fmt.Errorf("settle task: %w", err)
	}
	return t, nil
}

func (s *Store) CloseTask(ctx context.Context, id int64, from, to domain.TaskStatus, refunded decimal.Decimal) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE tasks
		SET status = $3,
		    frozen_amount = 0,
		    refunded_amount = refunded_amount + $4,
		    remaining_executions = CASE WHEN $3 = 'completed' THEN 0 ELSE remaining_executions END,
		    updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), refunded.String())
	if err != nil {
		return fmt.Errorf("close task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.GetTask(ctx, id); gerr != nil {
			return gerr
		}
		return &domain.TransitionError{Entity: "task", ID: id, From: string(from), To: string(to)}
	}
	return nil
}

func (s *Store) ListExpiredTasks(ctx context.Context, now time.Time, limit int) ([]domain.Task, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
