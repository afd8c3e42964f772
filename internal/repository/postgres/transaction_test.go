package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
	"github.com/nkiryanov/payledger/internal/testutil"
)

func TestTransaction(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.WithTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	// Most subtests need a currency and a base transaction to work with
	mustCreateCurrency := func(t *testing.T, storage repository.Storage) models.Currency {
		t.Helper()
		currency, err := storage.Currency().Create(t.Context(), models.Currency{Code: "USD", Rate: decimal.NewFromInt(1)})
		require.NoError(t, err)
		return currency
	}

	t.Run("Create", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			currency := mustCreateCurrency(t, storage)

			t.Run("assigns identity", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					created, err := storage.Transaction().Create(t.Context(), models.Transaction{
						UserID:     uuid.New(),
						Amount:     decimal.NewFromInt(100),
						CurrencyID: currency.ID,
						Purpose:    models.PurposeOrderPayment,
						Type:       models.TypeBalance,
					})

					require.NoError(t, err, "transaction has to be created ok")
					require.NotEqual(t, uuid.Nil, created.ID, "id must be assigned")
					require.Regexp(t, `^PL-[0-9A-F]{16}$`, created.InvoiceNumber, "invoice number must be assigned")
					require.False(t, created.CreatedAt.IsZero(), "created at must be set")
					require.False(t, created.Completed)
				})
			})

			t.Run("keeps metadata", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					tr := models.Transaction{
						UserID:     uuid.New(),
						Amount:     decimal.NewFromInt(10),
						CurrencyID: currency.ID,
						Purpose:    models.PurposeCashback,
						Type:       models.TypeBalance,
					}
					tr.SetMeta(models.MetaCashbackKind, models.CashbackPromoCode)

					created, err := storage.Transaction().Create(t.Context(), tr)

					require.NoError(t, err)
					require.Equal(t, models.CashbackPromoCode, created.Metadata[models.MetaCashbackKind])
				})
			})
		})
	})

	t.Run("Get", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			currency := mustCreateCurrency(t, storage)
			created, err := storage.Transaction().Create(t.Context(), models.Transaction{
				UserID:     uuid.New(),
				Amount:     decimal.NewFromInt(100),
				CurrencyID: currency.ID,
				Purpose:    models.PurposeOrderPayment,
				Type:       models.TypeBalance,
			})
			require.NoError(t, err)

			t.Run("get existing", func(t *testing.T) {
				got, err := storage.Transaction().Get(t.Context(), created.ID)

				require.NoError(t, err)
				require.Equal(t, created.InvoiceNumber, got.InvoiceNumber)
				require.True(t, got.Amount.Equal(decimal.NewFromInt(100)))
			})

			t.Run("get with row lock", func(t *testing.T) {
				got, err := storage.Transaction().GetForUpdate(t.Context(), created.ID)

				require.NoError(t, err)
				require.Equal(t, created.ID, got.ID)
			})

			t.Run("get nonexistent", func(t *testing.T) {
				_, err := storage.Transaction().Get(t.Context(), uuid.New())

				require.Error(t, err, "getting nonexistent transaction should fail")
				require.ErrorIs(t, err, apperrors.ErrTransactionNotFound, "should return well known error")
			})
		})
	})

	t.Run("Update", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			currency := mustCreateCurrency(t, storage)
			created, err := storage.Transaction().Create(t.Context(), models.Transaction{
				UserID:     uuid.New(),
				Amount:     decimal.NewFromInt(100),
				CurrencyID: currency.ID,
				Purpose:    models.PurposeOrderPayment,
				Type:       models.TypeBalance,
			})
			require.NoError(t, err)

			t.Run("mutable fields", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					now := time.Now()
					original := decimal.NewFromInt(100)
					created.Amount = decimal.NewFromInt(90)
					created.OriginalAmount = &original
					created.OriginalCurrencyID = &currency.ID
					created.Completed = true
					created.CompletedAt = &now

					updated, err := storage.Transaction().Update(t.Context(), created)

					require.NoError(t, err)
					require.True(t, updated.Amount.Equal(decimal.NewFromInt(90)))
					require.NotNil(t, updated.OriginalAmount)
					require.True(t, updated.OriginalAmount.Equal(original), "original amount should be stamped")
					require.True(t, updated.Completed)
					require.NotNil(t, updated.CompletedAt)
					require.Equal(t, created.InvoiceNumber, updated.InvoiceNumber, "identity fields never change")
				})
			})

			t.Run("nonexistent", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					missing := created
					missing.ID = uuid.New()

					_, err := storage.Transaction().Update(t.Context(), missing)

					require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
				})
			})
		})
	})

	t.Run("ListChildren", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			currency := mustCreateCurrency(t, storage)
			userID := uuid.New()

			parent, err := storage.Transaction().Create(t.Context(), models.Transaction{
				UserID: userID, Amount: decimal.NewFromInt(200), CurrencyID: currency.ID,
				Purpose: models.PurposeMerged, Type: models.TypeBalance,
			})
			require.NoError(t, err)

			createChild := func(completed bool, deleted bool) models.Transaction {
				child, err := storage.Transaction().Create(t.Context(), models.Transaction{
					UserID: userID, Amount: decimal.NewFromInt(100), CurrencyID: currency.ID,
					Purpose: models.PurposeOrderPayment, Type: models.TypeBalance,
					ParentID: &parent.ID, Completed: completed, IsDeleted: deleted,
				})
				require.NoError(t, err)
				return child
			}

			pending := createChild(false, false)
			completed := createChild(true, false)
			deleted := createChild(false, true)

			ids := func(transactions []models.Transaction) []uuid.UUID {
				var got []uuid.UUID
				for _, tr := range transactions {
					got = append(got, tr.ID)
				}
				return got
			}

			t.Run("default skips deleted", func(t *testing.T) {
				children, err := storage.Transaction().ListChildren(t.Context(), parent.ID, repository.ListChildrenOpts{})

				require.NoError(t, err)
				require.ElementsMatch(t, []uuid.UUID{pending.ID, completed.ID}, ids(children))
			})

			t.Run("only pending", func(t *testing.T) {
				children, err := storage.Transaction().ListChildren(t.Context(), parent.ID, repository.ListChildrenOpts{OnlyPending: true})

				require.NoError(t, err)
				require.ElementsMatch(t, []uuid.UUID{pending.ID}, ids(children))
			})

			t.Run("include deleted", func(t *testing.T) {
				children, err := storage.Transaction().ListChildren(t.Context(), parent.ID, repository.ListChildrenOpts{IncludeDeleted: true})

				require.NoError(t, err)
				require.ElementsMatch(t, []uuid.UUID{pending.ID, completed.ID, deleted.ID}, ids(children))
			})
		})
	})

	t.Run("ListCashbacks", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			currency := mustCreateCurrency(t, storage)
			userID := uuid.New()

			payment, err := storage.Transaction().Create(t.Context(), models.Transaction{
				UserID: userID, Amount: decimal.NewFromInt(100), CurrencyID: currency.ID,
				Purpose: models.PurposeOrderPayment, Type: models.TypeBalance,
			})
			require.NoError(t, err)

			cb, err := storage.Transaction().Create(t.Context(), models.Transaction{
				UserID: userID, Amount: decimal.NewFromInt(10), CurrencyID: currency.ID,
				Purpose: models.PurposeCashback, Type: models.TypeBalance, CashbackToID: &payment.ID,
			})
			require.NoError(t, err)

			cashbacks, err := storage.Transaction().ListCashbacks(t.Context(), payment.ID, repository.ListCashbacksOpts{OnlyPending: true})

			require.NoError(t, err)
			require.Len(t, cashbacks, 1)
			require.Equal(t, cb.ID, cashbacks[0].ID)
		})
	})

	t.Run("ListCompletedByTarget", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			currency := mustCreateCurrency(t, storage)
			userID := uuid.New()

			create := func(identifier string, completed bool) models.Transaction {
				tr, err := storage.Transaction().Create(t.Context(), models.Transaction{
					UserID: userID, Amount: decimal.NewFromInt(100), CurrencyID: currency.ID,
					Purpose: models.PurposeOrderPayment, Type: models.TypeBalance,
					TargetKind: models.PayableOrder, TargetIdentifier: identifier, Completed: completed,
				})
				require.NoError(t, err)
				return tr
			}

			done := create("order-1", true)
			create("order-1", false)
			create("order-2", true)

			transactions, err := storage.Transaction().ListCompletedByTarget(t.Context(), "order-1")

			require.NoError(t, err)
			require.Len(t, transactions, 1, "only completed transactions of the order expected")
			require.Equal(t, done.ID, transactions[0].ID)
		})
	})

	t.Run("SoftDelete", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			currency := mustCreateCurrency(t, storage)

			t.Run("deletes pending", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					created, err := storage.Transaction().Create(t.Context(), models.Transaction{
						UserID: uuid.New(), Amount: decimal.NewFromInt(100), CurrencyID: currency.ID,
						Purpose: models.PurposeOrderPayment, Type: models.TypeBalance,
					})
					require.NoError(t, err)

					deleted, err := storage.Transaction().SoftDelete(t.Context(), created.ID, "duplicate")

					require.NoError(t, err)
					require.True(t, deleted.IsDeleted)
					require.Equal(t, "duplicate", deleted.Metadata[models.MetaDeleteReason], "reason must be recorded")
				})
			})

			t.Run("refuses completed", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					created, err := storage.Transaction().Create(t.Context(), models.Transaction{
						UserID: uuid.New(), Amount: decimal.NewFromInt(100), CurrencyID: currency.ID,
						Purpose: models.PurposeOrderPayment, Type: models.TypeBalance, Completed: true,
					})
					require.NoError(t, err)

					_, err = storage.Transaction().SoftDelete(t.Context(), created.ID, "oops")

					require.ErrorIs(t, err, apperrors.ErrTransactionNotFound, "completed transaction must not be deletable")
				})
			})
		})
	})
}
