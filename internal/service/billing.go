package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

// AccountLedger posts balance mutations. Callers pass their transaction-scoped
// store so the posting lands atomically with the escrow writes it belongs to.
type AccountLedger interface {
	Debit(ctx context.Context, s repository.Store, userID int64, amount decimal.Decimal, taskID *int64, description string) error
	Credit(ctx context.Context, s repository.Store, userID int64, amount decimal.Decimal, taskID *int64, description string) error
}

// BillingLedger is the default AccountLedger: every balance change writes the
// new balance and an immutable transaction row with a unique order key.
type BillingLedger struct{}

func NewBillingLedger() *BillingLedger { return &BillingLedger{} }

func (*BillingLedger) Debit(ctx context.Context, s repository.Store, userID int64, amount decimal.Decimal, taskID *int64, description string) error {
	if !amount.IsPositive() {
		return domain.Validationf("amount", "debit must be positive, got %s", amount)
	}
	if _, err := s.AdjustUserBalance(ctx, userID, amount.Neg()); err != nil {
		return err
	}
	err := s.CreateTransaction(ctx, &domain.Transaction{
		UserID:      &userID,
		TaskID:      taskID,
		OrderKey:    uuid.NewString(),
		Amount:      amount.Neg(),
		TxType:      domain.TxTypeDebit,
		Description: description,
	})
	if err != nil {
		return fmt.Errorf("record debit: %w", err)
	}
	return nil
}

func (*BillingLedger) Credit(ctx context.Context, s repository.Store, userID int64, amount decimal.Decimal, taskID *int64, description string) error {
	if !amount.IsPositive() {
		return domain.Validationf("amount", "credit must be positive, got %s", amount)
	}
	if _, err := s.AdjustUserBalance(ctx, userID, amount); err != nil {
		return err
	}
	err := s.CreateTransaction(ctx, &domain.Transaction{
		UserID:      &userID,
		TaskID:      taskID,
		OrderKey:    uuid.NewString(),
		Amount:      amount,
		TxType:      domain.TxTypeCredit,
		Description: description,
	})
	if err != nil {
		return fmt.Errorf("record credit: %w", err)
	}
	return nil
}

// recordPlatformFee books revenue that belongs to no user account
// (cancellation fees, commission): an audit row with a nil user.
func recordPlatformFee(ctx context.Context, s repository.Store, taskID int64, amount decimal.Decimal, description string) error {
	if amount.IsZero() {
		return nil
	}
	return s.CreateTransaction(ctx, &domain.Transaction{
		TaskID:      &taskID,
		OrderKey:    uuid.NewString(),
		Amount:      amount,
		TxType:      domain.TxTypeCredit,
		Description: description,
	})
}
