package postgres

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
	"github.com/nkiryanov/payledger/internal/testutil"
)

func TestStorageInTx(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	storage := NewStorage(pg.Pool)

	t.Run("commits on success", func(t *testing.T) {
		err := storage.InTx(t.Context(), func(s repository.Storage) error {
			_, err := s.Currency().Create(t.Context(), models.Currency{Code: "EUR", Rate: decimal.NewFromFloat(0.9)})
			return err
		})
		require.NoError(t, err)

		got, err := storage.Currency().GetByCode(t.Context(), "EUR")
		require.NoError(t, err, "currency created in committed tx must be visible")
		require.Equal(t, "EUR", got.Code)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")

		err := storage.InTx(t.Context(), func(s repository.Storage) error {
			if _, err := s.Currency().Create(t.Context(), models.Currency{Code: "GBP", Rate: decimal.NewFromFloat(0.8)}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom, "fn error must be returned as is")

		_, err = storage.Currency().GetByCode(t.Context(), "GBP")
		require.ErrorIs(t, err, apperrors.ErrCurrencyNotFound, "currency from rolled back tx must not exist")
	})
}
