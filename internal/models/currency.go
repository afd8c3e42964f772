package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency exchange rates are stored relative to the base currency.
// The base currency is the one whose rate equals 1.
type Currency struct {
	ID     uuid.UUID
	Code   string
	Rate   decimal.Decimal
	Symbol string
}

func (c Currency) IsBase() bool {
	return c.Rate.Equal(decimal.NewFromInt(1))
}
