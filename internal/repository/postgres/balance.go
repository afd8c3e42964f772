package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/models"
)

type BalanceRepo struct {
	DB DBTX
}

// Create a zero balance for the (user, currency) pair or return the existing one
const getOrCreateBalance = `-- name: GetOrCreateBalance
WITH insert_balance AS (
	INSERT INTO balances (id, user_id, currency_id, amount)
	VALUES ($1, $2, $3, 0)
	ON CONFLICT (user_id, currency_id) DO NOTHING
	RETURNING id, user_id, currency_id, amount
)
SELECT * FROM insert_balance
UNION
SELECT id, user_id, currency_id, amount FROM balances
WHERE user_id = $2 AND currency_id = $3
`

func (r *BalanceRepo) GetOrCreate(ctx context.Context, userID uuid.UUID, currencyID uuid.UUID) (models.Balance, error) {
	rows, _ := r.DB.Query(ctx, getOrCreateBalance, uuid.New(), userID, currencyID)
	b, err := pgx.CollectOneRow(rows, rowToBalance)
	if err != nil {
		return b, fmt.Errorf("db error: %w", err)
	}
	return b, nil
}

const getBalance = `-- name: GetBalance
SELECT id, user_id, currency_id, amount FROM balances
WHERE user_id = $1 AND currency_id = $2
`

func (r *BalanceRepo) Get(ctx context.Context, userID uuid.UUID, currencyID uuid.UUID, forUpdate bool) (models.Balance, error) {
	sql := getBalance
	if forUpdate {
		sql += "FOR UPDATE\n"
	}

	rows, _ := r.DB.Query(ctx, sql, userID, currencyID)
	b, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, pgx.ErrNoRows):
		return b, apperrors.ErrBalanceNotFound
	default:
		return b, fmt.Errorf("db error: %w", err)
	}
}

// Amount is mutated database side so concurrent payments never lose updates
const addBalanceAmount = `-- name: AddBalanceAmount
UPDATE balances
SET amount = amount + $2
WHERE id = $1
RETURNING id, user_id, currency_id, amount
`

func (r *BalanceRepo) AddAmount(ctx context.Context, balanceID uuid.UUID, delta decimal.Decimal) (models.Balance, error) {
	rows, _ := r.DB.Query(ctx, addBalanceAmount, balanceID, delta)
	b, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, pgx.ErrNoRows):
		return b, apperrors.ErrBalanceNotFound
	default:
		return b, fmt.Errorf("db error: %w", err)
	}
}

func rowToBalance(row pgx.CollectableRow) (models.Balance, error) {
	var b models.Balance
	err := row.Scan(&b.ID, &b.UserID, &b.CurrencyID, &b.Amount)
	return b, err
}
