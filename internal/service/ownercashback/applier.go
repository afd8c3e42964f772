package ownercashback

import (
	"context"
	"fmt"
	"time"

	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
	"github.com/nkiryanov/payledger/internal/service/cashback"
	"github.com/nkiryanov/payledger/internal/service/currencyconv"
)

// Applier credits the promo code owner for one completed friend payment.
// The reward cap per friend keeps invite farming bounded.
type Applier struct {
	storage    repository.Storage
	policy     cashback.Policy
	walletCode string
}

// Apply rewards the owner once per queue row: the row is marked applied in
// the same unit of work as the balance credit, so redelivery never pays
// twice.
func (a *Applier) Apply(ctx context.Context, reward models.OwnerCashback) error {
	return a.storage.InTx(ctx, func(s repository.Storage) error {
		converter := currencyconv.New(s.Currency())
		wallet, err := converter.GetByCode(ctx, a.walletCode)
		if err != nil {
			return err
		}

		balance, err := s.Balance().GetOrCreate(ctx, reward.OwnerID, wallet.ID)
		if err != nil {
			return fmt.Errorf("get owner balance: %w", err)
		}
		// CountApplied sees committed rows only. Take the owner's wallet row
		// lock first so concurrent workers applying rewards for the same
		// owner serialize and each count includes the previous credit
		if _, err := s.Balance().Get(ctx, reward.OwnerID, wallet.ID, true); err != nil {
			return fmt.Errorf("lock owner balance: %w", err)
		}

		applied, err := s.OwnerCashback().CountApplied(ctx, reward.OwnerID, reward.FriendID)
		if err != nil {
			return err
		}

		// Marking the row applied even over the cap retires it from the queue
		if err := s.OwnerCashback().MarkApplied(ctx, reward.ID); err != nil {
			return err
		}

		if a.policy.MaxRewardedUses > 0 && applied >= a.policy.MaxRewardedUses {
			return nil
		}

		amount, err := converter.ConvertByID(ctx, reward.Amount, reward.CurrencyID, wallet.ID)
		if err != nil {
			return err
		}

		now := time.Now()
		cb, err := s.Transaction().Create(ctx, models.Transaction{
			UserID:      reward.OwnerID,
			Amount:      amount,
			CurrencyID:  wallet.ID,
			Purpose:     models.PurposeCashback,
			Type:        models.TypeBalance,
			Completed:   true,
			CompletedAt: &now,
			Metadata: map[string]string{
				models.MetaCashbackKind: models.CashbackInviteFriend,
				"promo_code":            reward.Code,
				"rewarded_for":          reward.TransactionID.String(),
			},
		})
		if err != nil {
			return fmt.Errorf("create owner cashback transaction: %w", err)
		}

		if _, err := s.Balance().AddAmount(ctx, balance.ID, cb.Amount); err != nil {
			return fmt.Errorf("credit owner balance: %w", err)
		}

		return nil
	})
}
