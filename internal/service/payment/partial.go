package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
)

// MakePartial splits the charge between the customer's wallet and an
// external payment service: whatever the wallet holds is snapshotted as the
// balance part, the remainder becomes a card charge against the service.
//
// The transaction is reissued via copy first, since the gateway may already
// have seen the old invoice reference.
func (e *Engine) MakePartial(ctx context.Context, t models.Transaction, paymentService string) (models.Transaction, error) {
	var result models.Transaction

	err := e.storage.InTx(ctx, func(s repository.Storage) error {
		te := e.inTx(s)

		locked, err := te.s.Transaction().GetForUpdate(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		if locked.Completed {
			return apperrors.NewPaymentError(apperrors.ReasonAlreadyPaid)
		}
		if locked.IsDeleted {
			return apperrors.NewPaymentError(apperrors.ReasonDeleted)
		}

		locked, err = te.unmakePartial(ctx, locked)
		if err != nil {
			return err
		}

		locked, err = te.merger.Copy(ctx, locked, true)
		if err != nil {
			return err
		}

		required, err := te.merger.DiscountedAmount(ctx, locked)
		if err != nil {
			return err
		}

		available, err := te.walletAvailable(ctx, locked)
		if err != nil {
			return err
		}

		fromBank := required.Sub(available)
		if !fromBank.IsPositive() {
			return apperrors.NewPaymentError(apperrors.ReasonBalanceSufficient)
		}

		locked.Type = models.TypeCard
		locked.IsPartial = true
		locked.FromBalanceAmount = &available
		currencyID := locked.CurrencyID
		locked.FromBalanceCurrencyID = &currencyID
		locked.Amount = fromBank
		locked.PaymentService = &paymentService

		result, err = te.s.Transaction().Update(ctx, locked)
		if err != nil {
			return fmt.Errorf("save partial transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	return result, nil
}

// UnmakePartial undoes a previous split: the balance part returns into the
// amount and the transaction is payable from the wallet again. No-op for
// transactions that were never split.
func (e *Engine) UnmakePartial(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	var result models.Transaction

	err := e.storage.InTx(ctx, func(s repository.Storage) error {
		te := e.inTx(s)

		locked, err := te.s.Transaction().GetForUpdate(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}

		result, err = te.unmakePartial(ctx, locked)
		return err
	})
	if err != nil {
		return models.Transaction{}, err
	}

	return result, nil
}

func (te *txEngine) unmakePartial(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	if !t.IsPartial {
		return t, nil
	}

	back, err := te.converter.ConvertByID(ctx, *t.FromBalanceAmount, *t.FromBalanceCurrencyID, t.CurrencyID)
	if err != nil {
		return t, fmt.Errorf("convert balance part: %w", err)
	}

	t.Amount = t.Amount.Add(back)
	t.IsPartial = false
	t.FromBalanceAmount = nil
	t.FromBalanceCurrencyID = nil
	t.PaymentService = nil
	// Before the split the transaction was always payable from the wallet
	t.Type = models.TypeBalance

	t, err = te.s.Transaction().Update(ctx, t)
	if err != nil {
		return t, fmt.Errorf("save transaction: %w", err)
	}
	return t, nil
}

// walletAvailable is the wallet amount expressed in the transaction currency
func (te *txEngine) walletAvailable(ctx context.Context, t models.Transaction) (decimal.Decimal, error) {
	wallet, err := te.converter.GetByCode(ctx, te.walletCode)
	if err != nil {
		return decimal.Decimal{}, err
	}

	balance, err := te.s.Balance().GetOrCreate(ctx, t.UserID, wallet.ID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("get balance: %w", err)
	}

	return te.converter.ConvertByID(ctx, balance.Amount, wallet.ID, t.CurrencyID)
}
