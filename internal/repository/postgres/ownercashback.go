package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/models"
)

type OwnerCashbackRepo struct {
	DB DBTX
}

// A reward may be enqueued at most once per transaction, repeated enqueue is
// a no-op so producers don't need their own dedup
const enqueueOwnerCashback = `-- name: EnqueueOwnerCashback
INSERT INTO owner_cashbacks (id, transaction_id, owner_id, friend_id, code, amount, currency_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (transaction_id) DO NOTHING
`

func (r *OwnerCashbackRepo) Enqueue(ctx context.Context, oc models.OwnerCashback) error {
	if oc.ID == uuid.Nil {
		oc.ID = uuid.New()
	}

	_, err := r.DB.Exec(ctx, enqueueOwnerCashback,
		oc.ID, oc.TransactionID, oc.OwnerID, oc.FriendID, oc.Code, oc.Amount, oc.CurrencyID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

const listPendingOwnerCashbacks = `-- name: ListPendingOwnerCashbacks
SELECT id, transaction_id, owner_id, friend_id, code, amount, currency_id, created_at, applied_at
FROM owner_cashbacks
WHERE applied_at IS NULL
ORDER BY created_at
LIMIT $1
`

func (r *OwnerCashbackRepo) ListPending(ctx context.Context, limit int) ([]models.OwnerCashback, error) {
	rows, _ := r.DB.Query(ctx, listPendingOwnerCashbacks, limit)
	pending, err := pgx.CollectRows(rows, rowToOwnerCashback)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return pending, nil
}

const markOwnerCashbackApplied = `-- name: MarkOwnerCashbackApplied
UPDATE owner_cashbacks
SET applied_at = now()
WHERE id = $1 AND applied_at IS NULL
RETURNING id
`

func (r *OwnerCashbackRepo) MarkApplied(ctx context.Context, id uuid.UUID) error {
	rows, _ := r.DB.Query(ctx, markOwnerCashbackApplied, id)
	_, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var got uuid.UUID
		err := row.Scan(&got)
		return got, err
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.ErrOwnerCashbackApplied
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

const countAppliedOwnerCashbacks = `-- name: CountAppliedOwnerCashbacks
SELECT count(*) FROM owner_cashbacks
WHERE owner_id = $1 AND friend_id = $2 AND applied_at IS NOT NULL
`

func (r *OwnerCashbackRepo) CountApplied(ctx context.Context, ownerID uuid.UUID, friendID uuid.UUID) (int, error) {
	var count int
	err := r.DB.QueryRow(ctx, countAppliedOwnerCashbacks, ownerID, friendID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func rowToOwnerCashback(row pgx.CollectableRow) (models.OwnerCashback, error) {
	var oc models.OwnerCashback
	err := row.Scan(&oc.ID, &oc.TransactionID, &oc.OwnerID, &oc.FriendID, &oc.Code,
		&oc.Amount, &oc.CurrencyID, &oc.CreatedAt, &oc.AppliedAt)
	return oc, err
}
