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

func TestCurrency(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.WithTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	usd := models.Currency{Code: "USD", Rate: decimal.NewFromInt(1), Symbol: "$"}

	t.Run("Create", func(t *testing.T) {
		t.Run("create ok", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				created, err := storage.Currency().Create(t.Context(), usd)

				require.NoError(t, err, "currency has to be created ok")
				require.NotEqual(t, uuid.Nil, created.ID, "id must be assigned")
				require.Equal(t, "USD", created.Code)
				require.True(t, created.Rate.Equal(decimal.NewFromInt(1)))
				require.True(t, created.IsBase(), "rate 1 currency is the base")
			})
		})

		t.Run("create duplicate code", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				_, err := storage.Currency().Create(t.Context(), usd)
				require.NoError(t, err, "first currency creation should be ok")

				_, err = storage.Currency().Create(t.Context(), usd)

				require.Error(t, err, "creating currency with same code twice should fail")
				require.Contains(t, err.Error(), "currency code already exists")
			})
		})
	})

	t.Run("Get", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			created, err := storage.Currency().Create(t.Context(), usd)
			require.NoError(t, err)

			t.Run("by code", func(t *testing.T) {
				got, err := storage.Currency().GetByCode(t.Context(), "USD")

				require.NoError(t, err)
				require.Equal(t, created.ID, got.ID)
			})

			t.Run("by id", func(t *testing.T) {
				got, err := storage.Currency().GetByID(t.Context(), created.ID)

				require.NoError(t, err)
				require.Equal(t, "USD", got.Code)
			})

			t.Run("nonexistent code", func(t *testing.T) {
				_, err := storage.Currency().GetByCode(t.Context(), "XXX")

				require.Error(t, err, "getting nonexistent currency should fail")
				require.ErrorIs(t, err, apperrors.ErrCurrencyNotFound, "should return well known error")
			})

			t.Run("nonexistent id", func(t *testing.T) {
				_, err := storage.Currency().GetByID(t.Context(), uuid.New())

				require.ErrorIs(t, err, apperrors.ErrCurrencyNotFound)
			})
		})
	})

	t.Run("List", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			_, err := storage.Currency().Create(t.Context(), usd)
			require.NoError(t, err)
			_, err = storage.Currency().Create(t.Context(), models.Currency{Code: "EUR", Rate: decimal.NewFromFloat(0.9)})
			require.NoError(t, err)

			currencies, err := storage.Currency().List(t.Context())

			require.NoError(t, err)
			require.Len(t, currencies, 2)
			require.Equal(t, "EUR", currencies[0].Code, "list must be ordered by code")
			require.Equal(t, "USD", currencies[1].Code)
		})
	})

	t.Run("UpdateRate", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			_, err := storage.Currency().Create(t.Context(), models.Currency{Code: "RUB", Rate: decimal.NewFromInt(90)})
			require.NoError(t, err)

			t.Run("update existing", func(t *testing.T) {
				updated, err := storage.Currency().UpdateRate(t.Context(), "RUB", decimal.NewFromInt(95))

				require.NoError(t, err)
				require.True(t, updated.Rate.Equal(decimal.NewFromInt(95)), "rate should be updated")
			})

			t.Run("update nonexistent", func(t *testing.T) {
				_, err := storage.Currency().UpdateRate(t.Context(), "XXX", decimal.NewFromInt(1))

				require.ErrorIs(t, err, apperrors.ErrCurrencyNotFound)
			})
		})
	})
}
