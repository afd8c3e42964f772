package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is the user's internal wallet in one currency.
// One row per (user, currency) pair, created lazily on first access.
//
// Amount must never be computed from a stale read: every mutation goes
// through BalanceRepo.AddAmount or happens under a row lock.
type Balance struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	CurrencyID uuid.UUID
	Amount     decimal.Decimal
}
