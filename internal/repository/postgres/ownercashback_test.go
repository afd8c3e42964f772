package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
	"github.com/nkiryanov/payledger/internal/testutil"
)

func TestOwnerCashback(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.WithTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	// Queue rows reference the rewarded transaction
	mustCreateReward := func(t *testing.T, storage repository.Storage) models.OwnerCashback {
		t.Helper()

		currency, err := storage.Currency().Create(t.Context(), models.Currency{Code: "USD", Rate: decimal.NewFromInt(1)})
		require.NoError(t, err)

		friendID := uuid.New()
		tr, err := storage.Transaction().Create(t.Context(), models.Transaction{
			UserID: friendID, Amount: decimal.NewFromInt(100), CurrencyID: currency.ID,
			Purpose: models.PurposeOrderPayment, Type: models.TypeBalance, Completed: true,
		})
		require.NoError(t, err)

		return models.OwnerCashback{
			TransactionID: tr.ID,
			OwnerID:       uuid.New(),
			FriendID:      friendID,
			Code:          "FRIEND10",
			Amount:        decimal.NewFromInt(10),
			CurrencyID:    currency.ID,
		}
	}

	t.Run("Enqueue", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			reward := mustCreateReward(t, storage)

			err := storage.OwnerCashback().Enqueue(t.Context(), reward)
			require.NoError(t, err, "reward has to be enqueued ok")

			t.Run("repeated enqueue is a no-op", func(t *testing.T) {
				err := storage.OwnerCashback().Enqueue(t.Context(), reward)
				require.NoError(t, err, "duplicate enqueue should not fail")

				pending, err := storage.OwnerCashback().ListPending(t.Context(), 10)
				require.NoError(t, err)
				require.Len(t, pending, 1, "only one queue row per transaction expected")
			})
		})
	})

	t.Run("ListPending", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			reward := mustCreateReward(t, storage)
			err := storage.OwnerCashback().Enqueue(t.Context(), reward)
			require.NoError(t, err)

			pending, err := storage.OwnerCashback().ListPending(t.Context(), 10)

			require.NoError(t, err)
			require.Len(t, pending, 1)
			require.Equal(t, reward.TransactionID, pending[0].TransactionID)
			require.Equal(t, "FRIEND10", pending[0].Code)
			require.Nil(t, pending[0].AppliedAt)
			require.False(t, pending[0].CreatedAt.IsZero())
		})
	})

	t.Run("MarkApplied", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			reward := mustCreateReward(t, storage)
			err := storage.OwnerCashback().Enqueue(t.Context(), reward)
			require.NoError(t, err)

			pending, err := storage.OwnerCashback().ListPending(t.Context(), 10)
			require.NoError(t, err)
			require.Len(t, pending, 1)

			t.Run("first time ok", func(t *testing.T) {
				err := storage.OwnerCashback().MarkApplied(t.Context(), pending[0].ID)

				require.NoError(t, err)

				left, err := storage.OwnerCashback().ListPending(t.Context(), 10)
				require.NoError(t, err)
				require.Empty(t, left, "applied reward must leave the queue")
			})

			t.Run("second time fails", func(t *testing.T) {
				err := storage.OwnerCashback().MarkApplied(t.Context(), pending[0].ID)

				require.ErrorIs(t, err, apperrors.ErrOwnerCashbackApplied, "reward must be applied at most once")
			})

			t.Run("unknown row fails", func(t *testing.T) {
				err := storage.OwnerCashback().MarkApplied(t.Context(), uuid.New())

				require.ErrorIs(t, err, apperrors.ErrOwnerCashbackApplied)
			})
		})
	})

	t.Run("CountApplied", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			reward := mustCreateReward(t, storage)
			err := storage.OwnerCashback().Enqueue(t.Context(), reward)
			require.NoError(t, err)

			count, err := storage.OwnerCashback().CountApplied(t.Context(), reward.OwnerID, reward.FriendID)
			require.NoError(t, err)
			require.Zero(t, count, "pending reward is not applied yet")

			pending, err := storage.OwnerCashback().ListPending(t.Context(), 10)
			require.NoError(t, err)
			err = storage.OwnerCashback().MarkApplied(t.Context(), pending[0].ID)
			require.NoError(t, err)

			count, err = storage.OwnerCashback().CountApplied(t.Context(), reward.OwnerID, reward.FriendID)
			require.NoError(t, err)
			require.Equal(t, 1, count)
		})
	})
}
