package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TxType string

const (
	TxTypeDebit  TxType = "debit"
	TxTypeCredit TxType = "credit"
)

// Transaction is an immutable audit row; every balance mutation writes one.
type Transaction struct {
	ID          int64
	UserID      *int64
	TaskID      *int64
	OrderKey    string // uuid, unique per money movement
	Amount      decimal.Decimal
	TxType      TxType
	Description string
	CreatedAt   time.Time
}
