package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
)

type CreatePendingParams struct {
	UserID       uuid.UUID
	Amount       decimal.Decimal
	CurrencyCode string
	Purpose      string
	Type         string
	Target       models.TargetRef
	TargetID     *uuid.UUID
}

// CreatePending records a new uncompleted charge against a payable object.
// The catalog workflow calls this when a payable is created or re-priced.
func (e *Engine) CreatePending(ctx context.Context, arg CreatePendingParams) (models.Transaction, error) {
	converter := e.inTx(e.storage).converter

	currency, err := converter.GetByCode(ctx, arg.CurrencyCode)
	if err != nil {
		return models.Transaction{}, err
	}

	txType := arg.Type
	if txType == "" {
		txType = models.TypeBalance
	}

	t, err := e.storage.Transaction().Create(ctx, models.Transaction{
		UserID:           arg.UserID,
		Amount:           arg.Amount.Round(2),
		CurrencyID:       currency.ID,
		Purpose:          arg.Purpose,
		Type:             txType,
		TargetKind:       arg.Target.Kind,
		TargetID:         arg.TargetID,
		TargetIdentifier: arg.Target.Identifier,
	})
	if err != nil {
		return t, fmt.Errorf("create pending transaction: %w", err)
	}

	return t, nil
}

// CollectCashback realizes pending cashbacks of the transaction into the
// payer's wallet and returns the collected amount. Normally this happens
// inside CompletePayments; the explicit call exists for staff tooling.
func (e *Engine) CollectCashback(ctx context.Context, t models.Transaction) (decimal.Decimal, error) {
	var collected decimal.Decimal

	err := e.storage.InTx(ctx, func(s repository.Storage) error {
		te := e.inTx(s)

		locked, err := te.s.Transaction().GetForUpdate(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}

		collected, err = te.cashback.Collect(ctx, locked)
		if err != nil {
			return err
		}

		if collected.IsPositive() {
			return te.creditWallet(ctx, locked.UserID, collected, locked.CurrencyID)
		}
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	return collected, nil
}

// MaterializeCashbacks turns the payable's pending grants into cashback
// transactions attached to t. Consumed by the payable post-save hook.
func (e *Engine) MaterializeCashbacks(ctx context.Context, t models.Transaction, grants []models.CashbackGrant) ([]models.Transaction, error) {
	var created []models.Transaction

	err := e.storage.InTx(ctx, func(s repository.Storage) error {
		te := e.inTx(s)

		var err error
		created, err = te.cashback.Materialize(ctx, t, grants)
		if err != nil {
			return err
		}

		for _, grant := range grants {
			if err := te.cashback.QueueOwnerReward(ctx, t, grant); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// RescaleCashbacks keeps invite-friend rewards proportional after the
// transaction amount changed (re-pricing of the payable object).
func (e *Engine) RescaleCashbacks(ctx context.Context, t models.Transaction, oldAmount decimal.Decimal) error {
	return e.storage.InTx(ctx, func(s repository.Storage) error {
		return e.inTx(s).cashback.UpdateRelated(ctx, t, oldAmount)
	})
}
