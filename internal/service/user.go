package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

// UserService manages the accounts the escrow engine pays into and out of.
type UserService struct {
	store repository.Store
}

func NewUserService(store repository.Store) *UserService {
	return &UserService{store: store}
}

// FindOrCreate looks up an account by telegram id, creating it with a zero
// balance and the default earn multiplier on first contact.
func (s *UserService) FindOrCreate(ctx context.Context, telegramID int64, username string) (*domain.User, bool, error) {
	u, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, false, fmt.Errorf("get user: %w", err)
	}

	created, err := s.store.CreateUser(ctx, &domain.User{
		TelegramID:     telegramID,
		Username:       username,
		Balance:        decimal.Zero,
		EarnMultiplier: decimal.NewFromInt(1),
		Level:          1,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return created, true, nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *UserService) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	return s.store.GetUserByTelegramID(ctx, telegramID)
}
