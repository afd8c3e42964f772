package currencyconv

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
)

// Converter converts amounts between currencies through the base currency.
// Currency rows are cached for the converter lifetime: payment flows convert
// the same pair many times per request, and rate updates are rare enough that
// callers construct a fresh converter per unit of work.
type Converter struct {
	currencies repository.CurrencyRepo

	mu     sync.Mutex
	byCode map[string]models.Currency
	byID   map[uuid.UUID]models.Currency
}

func New(currencies repository.CurrencyRepo) *Converter {
	return &Converter{
		currencies: currencies,
		byCode:     map[string]models.Currency{},
		byID:       map[uuid.UUID]models.Currency{},
	}
}

// Convert amount from one currency code to another.
// Result is rounded to 2 decimal places, half up.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, fromCode string, toCode string) (decimal.Decimal, error) {
	if fromCode == toCode {
		return amount, nil
	}

	from, err := c.GetByCode(ctx, fromCode)
	if err != nil {
		return decimal.Decimal{}, err
	}
	to, err := c.GetByCode(ctx, toCode)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return convert(amount, from, to), nil
}

// ConvertByID is Convert for currency ids, the form the engines mostly need
func (c *Converter) ConvertByID(ctx context.Context, amount decimal.Decimal, fromID uuid.UUID, toID uuid.UUID) (decimal.Decimal, error) {
	if fromID == toID {
		return amount, nil
	}

	from, err := c.GetByID(ctx, fromID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	to, err := c.GetByID(ctx, toID)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return convert(amount, from, to), nil
}

func (c *Converter) GetByCode(ctx context.Context, code string) (models.Currency, error) {
	c.mu.Lock()
	cached, ok := c.byCode[code]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	currency, err := c.currencies.GetByCode(ctx, code)
	if err != nil {
		return currency, fmt.Errorf("currency %q: %w", code, err)
	}

	c.store(currency)
	return currency, nil
}

func (c *Converter) GetByID(ctx context.Context, id uuid.UUID) (models.Currency, error) {
	c.mu.Lock()
	cached, ok := c.byID[id]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	currency, err := c.currencies.GetByID(ctx, id)
	if err != nil {
		return currency, fmt.Errorf("currency %s: %w", id, err)
	}

	c.store(currency)
	return currency, nil
}

func (c *Converter) store(currency models.Currency) {
	c.mu.Lock()
	c.byCode[currency.Code] = currency
	c.byID[currency.ID] = currency
	c.mu.Unlock()
}

// Both rates are relative to the base currency (rate == 1), so conversion
// goes amount -> base -> target
func convert(amount decimal.Decimal, from models.Currency, to models.Currency) decimal.Decimal {
	return amount.Mul(to.Rate).Div(from.Rate).Round(2)
}
