// Package postgres implements repository.Store on pgx. Every status change is
// a single conditional UPDATE guarded on the expected prior state, so racing
// writers resolve at the database: exactly one wins, the rest observe a
// transition conflict.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool // nil when transaction-scoped
	q    querier
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

var _ repository.Store = (*Store)(nil)

// RunInTx wraps fn in a database transaction; nested calls reuse the
// surrounding one.
func (s *Store) RunInTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Users

const userColumns = `id, telegram_id, username, is_moderator, balance::text, earn_multiplier::text, level, total_spent::text, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var balance, mult, spent string
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.IsModerator, &balance, &mult, &u.Level, &spent, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if u.Balance, err = parseDecimal(balance); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	if u.EarnMultiplier, err = parseDecimal(mult); err != nil {
		return nil, fmt.Errorf("parse earn multiplier: %w", err)
	}
	if u.TotalSpent, err = parseDecimal(spent); err != nil {
		return nil, fmt.Errorf("parse total spent: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	row := s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by telegram id: %w", err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO users (telegram_id, username, is_moderator, balance, earn_multiplier, level, total_spent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		u.TelegramID, u.Username, u.IsModerator, u.Balance.String(), u.EarnMultiplier.String(), u.Level, u.TotalSpent.String())
	created, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (s *Store) AdjustUserBalance(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := s.q.QueryRow(ctx, `
		UPDATE users
		SET balance = balance + $2, updated_at = now()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance::text`,
		userID, delta.String()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing row from a guard failure.
			if _, gerr := s.GetUser(ctx, userID); gerr != nil {
				return decimal.Zero, gerr
			}
			return decimal.Zero, domain.ErrInsufficientBalance
		}
		return decimal.Zero, fmt.Errorf("adjust balance: %w", err)
	}
	return parseDecimal(balance)
}

func (s *Store) AddUserSpent(ctx context.Context, userID int64, amount decimal.Decimal) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE users SET total_spent = total_spent + $2, updated_at = now() WHERE id = $1`,
		userID, amount.String())
	if err != nil {
		return fmt.Errorf("add user spent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO transactions (user_id, task_id, order_key, amount, tx_type, description)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.UserID, t.TaskID, t.OrderKey, t.Amount.String(), string(t.TxType), t.Description)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}
