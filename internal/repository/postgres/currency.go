package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/models"
)

type CurrencyRepo struct {
	DB DBTX
}

const createCurrency = `-- name: CreateCurrency
INSERT INTO currencies (id, code, rate, symbol)
VALUES ($1, $2, $3, $4)
RETURNING id, code, rate, symbol
`

func (r *CurrencyRepo) Create(ctx context.Context, currency models.Currency) (models.Currency, error) {
	if currency.ID == uuid.Nil {
		currency.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, createCurrency, currency.ID, currency.Code, currency.Rate, currency.Symbol)
	c, err := pgx.CollectOneRow(rows, rowToCurrency)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return c, fmt.Errorf("currency code already exists: %w", err)
		}
		return c, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

const getCurrencyByCode = `-- name: GetCurrencyByCode
SELECT id, code, rate, symbol FROM currencies
WHERE code = $1
`

func (r *CurrencyRepo) GetByCode(ctx context.Context, code string) (models.Currency, error) {
	rows, _ := r.DB.Query(ctx, getCurrencyByCode, code)
	return collectCurrency(rows)
}

const getCurrencyByID = `-- name: GetCurrencyByID
SELECT id, code, rate, symbol FROM currencies
WHERE id = $1
`

func (r *CurrencyRepo) GetByID(ctx context.Context, id uuid.UUID) (models.Currency, error) {
	rows, _ := r.DB.Query(ctx, getCurrencyByID, id)
	return collectCurrency(rows)
}

const listCurrencies = `-- name: ListCurrencies
SELECT id, code, rate, symbol FROM currencies
ORDER BY code
`

func (r *CurrencyRepo) List(ctx context.Context) ([]models.Currency, error) {
	rows, _ := r.DB.Query(ctx, listCurrencies)
	currencies, err := pgx.CollectRows(rows, rowToCurrency)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return currencies, nil
}

const updateCurrencyRate = `-- name: UpdateCurrencyRate
UPDATE currencies
SET rate = $2
WHERE code = $1
RETURNING id, code, rate, symbol
`

func (r *CurrencyRepo) UpdateRate(ctx context.Context, code string, rate decimal.Decimal) (models.Currency, error) {
	rows, _ := r.DB.Query(ctx, updateCurrencyRate, code, rate)
	return collectCurrency(rows)
}

func collectCurrency(rows pgx.Rows) (models.Currency, error) {
	c, err := pgx.CollectOneRow(rows, rowToCurrency)

	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, pgx.ErrNoRows):
		return c, apperrors.ErrCurrencyNotFound
	default:
		return c, fmt.Errorf("db error: %w", err)
	}
}

func rowToCurrency(row pgx.CollectableRow) (models.Currency, error) {
	var c models.Currency
	err := row.Scan(&c.ID, &c.Code, &c.Rate, &c.Symbol)
	return c, err
}
