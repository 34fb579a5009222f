package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID          int64
	TelegramID  int64
	Username    string
	IsModerator bool

	Balance        decimal.Decimal
	EarnMultiplier decimal.Decimal // applied once, at execution submission
	Level          int
	TotalSpent     decimal.Decimal // lifetime task funding, used for queue weighting

	CreatedAt time.Time
	UpdatedAt time.Time
}
