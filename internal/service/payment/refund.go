package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
)

// RefundOrder returns everything the customer paid for the order to their
// wallet and records one completed refund transaction for audit.
//
// The refundable sum runs over completed transactions of the order:
// payments count positive, remainder refunds negative (they already went
// back once).
func (e *Engine) RefundOrder(ctx context.Context, ref models.TargetRef) (models.Transaction, error) {
	paid, err := e.workflow.OrderPaid(ctx, ref.Identifier)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("check order paid: %w", err)
	}
	if !paid {
		return models.Transaction{}, fmt.Errorf("order %q is not paid: %w", ref.Identifier, apperrors.ErrInvalidAction)
	}

	refundable, err := e.workflow.OrderRefundable(ctx, ref.Identifier)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("check order refundable: %w", err)
	}
	if !refundable {
		return models.Transaction{}, fmt.Errorf("order %q is not refundable: %w", ref.Identifier, apperrors.ErrInvalidAction)
	}

	var refund models.Transaction

	err = e.storage.InTx(ctx, func(s repository.Storage) error {
		te := e.inTx(s)

		transactions, err := te.s.Transaction().ListCompletedByTarget(ctx, ref.Identifier)
		if err != nil {
			return fmt.Errorf("list order transactions: %w", err)
		}

		wallet, err := te.converter.GetByCode(ctx, te.walletCode)
		if err != nil {
			return err
		}

		total := decimal.Zero
		var found bool
		var userID uuid.UUID

		for _, t := range transactions {
			var sign decimal.Decimal
			switch t.Purpose {
			case models.PurposeOrderPayment, models.PurposeOrderRemainderPayment:
				sign = decimal.NewFromInt(1)
			case models.PurposeOrderRemainderRefund:
				sign = decimal.NewFromInt(-1)
			default:
				continue
			}

			converted, err := te.converter.ConvertByID(ctx, t.Amount, t.CurrencyID, wallet.ID)
			if err != nil {
				return err
			}

			total = total.Add(converted.Mul(sign))
			found = true
			userID = t.UserID
		}

		if !found {
			return fmt.Errorf("order %q has no completed payments: %w", ref.Identifier, apperrors.ErrInvalidAction)
		}

		if err := te.creditWalletConverted(ctx, userID, total); err != nil {
			return err
		}

		now := time.Now()
		refund, err = te.s.Transaction().Create(ctx, models.Transaction{
			UserID:           userID,
			Amount:           total,
			CurrencyID:       wallet.ID,
			Purpose:          models.PurposeOrderRefund,
			Type:             models.TypeBalance,
			TargetKind:       ref.Kind,
			TargetIdentifier: ref.Identifier,
			Completed:        true,
			CompletedAt:      &now,
		})
		if err != nil {
			return fmt.Errorf("create refund transaction: %w", err)
		}

		if err := te.workflow.ResetOrderPayment(ctx, ref.Identifier); err != nil {
			return fmt.Errorf("reset order payment: %w", err)
		}

		if err := te.workflow.NotifyRefund(ctx, ref.Identifier, total, wallet.Code); err != nil {
			te.logger.Warn("refund notification failed", "target", ref.Identifier, "error", err)
		}

		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	return refund, nil
}
