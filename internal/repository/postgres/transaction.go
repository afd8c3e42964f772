package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
)

type TransactionRepo struct {
	DB DBTX
}

const transactionColumns = `id, invoice_number, created_at, user_id, amount, currency_id,
	original_amount, original_currency_id, purpose, type, parent_id, cashback_to_id,
	target_kind, target_id, target_identifier, is_partial, from_balance_amount,
	from_balance_currency_id, completed, completed_at, completed_manually, is_deleted,
	payment_service, gateway_response, gateway_responded_at, metadata`

const createTransaction = `-- name: CreateTransaction
INSERT INTO transactions (id, invoice_number, created_at, user_id, amount, currency_id,
	original_amount, original_currency_id, purpose, type, parent_id, cashback_to_id,
	target_kind, target_id, target_identifier, is_partial, from_balance_amount,
	from_balance_currency_id, completed, completed_at, completed_manually, is_deleted,
	payment_service, gateway_response, gateway_responded_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
	$18, $19, $20, $21, $22, $23, $24, $25, $26)
RETURNING ` + transactionColumns

func (r *TransactionRepo) Create(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.InvoiceNumber == "" {
		t.InvoiceNumber = newInvoiceNumber()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createTransaction,
		t.ID, t.InvoiceNumber, t.CreatedAt, t.UserID, t.Amount, t.CurrencyID,
		t.OriginalAmount, t.OriginalCurrencyID, t.Purpose, t.Type, t.ParentID, t.CashbackToID,
		t.TargetKind, t.TargetID, t.TargetIdentifier, t.IsPartial, t.FromBalanceAmount,
		t.FromBalanceCurrencyID, t.Completed, t.CompletedAt, t.CompletedManually, t.IsDeleted,
		t.PaymentService, t.GatewayResponse, t.GatewayRespondedAt, t.Metadata,
	)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getTransaction = `-- name: GetTransaction
SELECT ` + transactionColumns + `
FROM transactions
WHERE id = $1
`

func (r *TransactionRepo) Get(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getTransaction, id)
	return collectTransaction(rows)
}

const getTransactionForUpdate = getTransaction + `FOR UPDATE
`

func (r *TransactionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getTransactionForUpdate, id)
	return collectTransaction(rows)
}

const updateTransaction = `-- name: UpdateTransaction
UPDATE transactions
SET user_id = $2, amount = $3, currency_id = $4, original_amount = $5,
	original_currency_id = $6, purpose = $7, type = $8, parent_id = $9,
	cashback_to_id = $10, target_kind = $11, target_id = $12, target_identifier = $13,
	is_partial = $14, from_balance_amount = $15, from_balance_currency_id = $16,
	completed = $17, completed_at = $18, completed_manually = $19, is_deleted = $20,
	payment_service = $21, gateway_response = $22, gateway_responded_at = $23, metadata = $24
WHERE id = $1
RETURNING ` + transactionColumns

func (r *TransactionRepo) Update(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, updateTransaction,
		t.ID, t.UserID, t.Amount, t.CurrencyID, t.OriginalAmount,
		t.OriginalCurrencyID, t.Purpose, t.Type, t.ParentID,
		t.CashbackToID, t.TargetKind, t.TargetID, t.TargetIdentifier,
		t.IsPartial, t.FromBalanceAmount, t.FromBalanceCurrencyID,
		t.Completed, t.CompletedAt, t.CompletedManually, t.IsDeleted,
		t.PaymentService, t.GatewayResponse, t.GatewayRespondedAt, t.Metadata,
	)
	return collectTransaction(rows)
}

const listChildren = `-- name: ListChildren
SELECT ` + transactionColumns + `
FROM transactions
WHERE parent_id = $1
	AND (is_deleted = false OR $2)
	AND (completed = false OR NOT $3)
ORDER BY created_at
`

func (r *TransactionRepo) ListChildren(ctx context.Context, parentID uuid.UUID, opts repository.ListChildrenOpts) ([]models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, listChildren, parentID, opts.IncludeDeleted, opts.OnlyPending)
	return collectTransactions(rows)
}

const listCashbacks = `-- name: ListCashbacks
SELECT ` + transactionColumns + `
FROM transactions
WHERE cashback_to_id = $1
	AND (is_deleted = false OR $2)
	AND (completed = false OR NOT $3)
ORDER BY created_at
`

func (r *TransactionRepo) ListCashbacks(ctx context.Context, cashbackToID uuid.UUID, opts repository.ListCashbacksOpts) ([]models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, listCashbacks, cashbackToID, opts.IncludeDeleted, opts.OnlyPending)
	return collectTransactions(rows)
}

const listCompletedByTarget = `-- name: ListCompletedByTarget
SELECT ` + transactionColumns + `
FROM transactions
WHERE target_identifier = $1 AND completed = true AND is_deleted = false
ORDER BY created_at
`

func (r *TransactionRepo) ListCompletedByTarget(ctx context.Context, targetIdentifier string) ([]models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, listCompletedByTarget, targetIdentifier)
	return collectTransactions(rows)
}

// Soft delete only: completed transactions are part of the audit trail and
// must never disappear
const softDeleteTransaction = `-- name: SoftDeleteTransaction
UPDATE transactions
SET is_deleted = true,
	metadata = coalesce(metadata, '{}'::jsonb) || jsonb_build_object('delete_reason', $2::text)
WHERE id = $1 AND completed = false
RETURNING ` + transactionColumns

func (r *TransactionRepo) SoftDelete(ctx context.Context, id uuid.UUID, reason string) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, softDeleteTransaction, id, reason)
	return collectTransaction(rows)
}

func newInvoiceNumber() string {
	id := uuid.New()
	return fmt.Sprintf("PL-%X", id[:8])
}

func collectTransaction(rows pgx.Rows) (models.Transaction, error) {
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return transactions, nil
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.InvoiceNumber, &t.CreatedAt, &t.UserID, &t.Amount, &t.CurrencyID,
		&t.OriginalAmount, &t.OriginalCurrencyID, &t.Purpose, &t.Type, &t.ParentID, &t.CashbackToID,
		&t.TargetKind, &t.TargetID, &t.TargetIdentifier, &t.IsPartial, &t.FromBalanceAmount,
		&t.FromBalanceCurrencyID, &t.Completed, &t.CompletedAt, &t.CompletedManually, &t.IsDeleted,
		&t.PaymentService, &t.GatewayResponse, &t.GatewayRespondedAt, &t.Metadata,
	)
	return t, err
}
