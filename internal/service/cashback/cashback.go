package cashback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
	"github.com/nkiryanov/payledger/internal/service/currencyconv"
)

// Policy is the promotional configuration the catalog workflow decides
// eligibility against. The engine only enforces it, product owns the numbers.
type Policy struct {
	PromoCodeEnabled    bool
	InviteFriendEnabled bool

	// Minimal payment amount (in the payment currency) for the invite
	// friend reward to apply
	InviteFriendMinAmount decimal.Decimal

	// How many rewarded uses a promo code owner may collect per registered
	// friend
	MaxRewardedUses int
}

// Applies reports whether the grant is eligible under the policy for a
// payment of the given amount.
func (p Policy) Applies(grant models.CashbackGrant, amount decimal.Decimal) bool {
	switch grant.Kind {
	case models.CashbackPromoCode:
		return p.PromoCodeEnabled
	case models.CashbackInviteFriend:
		return p.InviteFriendEnabled && amount.GreaterThanOrEqual(p.InviteFriendMinAmount)
	}
	return false
}

// Engine creates and realizes cashback sub-transactions. A cashback is a
// child transaction attached via cashback_to, pending until its parent is
// paid and collected into the payer's balance at completion.
type Engine struct {
	storage   repository.Storage
	converter *currencyconv.Converter
	policy    Policy
}

func New(storage repository.Storage, converter *currencyconv.Converter, policy Policy) *Engine {
	return &Engine{
		storage:   storage,
		converter: converter,
		policy:    policy,
	}
}

// MetaGrants is the payable metadata key pending grants are stored under.
const MetaGrants = "cashback_grants"

// GrantBag is a payable object whose metadata bag the ledger may write. The
// catalog workflow owns the object and its persistence; metadata access may
// round-trip to it.
type GrantBag interface {
	models.Payable

	Meta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key string, value string) error
}

// AddGrants appends the grants to the payable's metadata bag under
// MetaGrants, keeping whatever grants are already stored there. The grants
// stay on the object until its payment transaction is created; Materialize
// turns the parsed set into pending cashback transactions.
func (e *Engine) AddGrants(ctx context.Context, payable GrantBag, grants []models.CashbackGrant) error {
	if len(grants) == 0 {
		return nil
	}

	raw, err := payable.Meta(ctx, MetaGrants)
	if err != nil {
		return fmt.Errorf("read grants of %s %q: %w", payable.Kind(), payable.Identifier(), err)
	}
	existing, err := ParseGrants(raw)
	if err != nil {
		return fmt.Errorf("stored grants of %s %q: %w", payable.Kind(), payable.Identifier(), err)
	}

	serialized, err := SerializeGrants(append(existing, grants...))
	if err != nil {
		return err
	}
	if err := payable.SetMeta(ctx, MetaGrants, serialized); err != nil {
		return fmt.Errorf("store grants on %s %q: %w", payable.Kind(), payable.Identifier(), err)
	}

	return nil
}

// SerializeGrants encodes pending grants for the payable's metadata bag.
// The catalog workflow stores the string, the ledger parses it back when the
// transaction is saved.
func SerializeGrants(grants []models.CashbackGrant) (string, error) {
	raw, err := json.Marshal(grants)
	if err != nil {
		return "", fmt.Errorf("serialize cashback grants: %w", err)
	}
	return string(raw), nil
}

func ParseGrants(raw string) ([]models.CashbackGrant, error) {
	if raw == "" {
		return nil, nil
	}

	var grants []models.CashbackGrant
	if err := json.Unmarshal([]byte(raw), &grants); err != nil {
		return nil, fmt.Errorf("parse cashback grants: %w", err)
	}
	return grants, nil
}

// Materialize turns eligible grants into pending cashback transactions
// attached to t. Called by the payable's post-save hook consumer.
func (e *Engine) Materialize(ctx context.Context, t models.Transaction, grants []models.CashbackGrant) ([]models.Transaction, error) {
	var created []models.Transaction

	for _, grant := range grants {
		if !e.policy.Applies(grant, t.Amount) {
			continue
		}

		cb := models.Transaction{
			UserID:       t.UserID,
			Amount:       grant.Amount,
			CurrencyID:   t.CurrencyID,
			Purpose:      models.PurposeCashback,
			Type:         models.TypeBalance,
			CashbackToID: &t.ID,
		}
		cb.SetMeta(models.MetaCashbackKind, grant.Kind)
		if grant.Code != "" {
			cb.SetMeta("promo_code", grant.Code)
		}

		cb, err := e.storage.Transaction().Create(ctx, cb)
		if err != nil {
			return created, fmt.Errorf("create cashback transaction: %w", err)
		}

		created = append(created, cb)
	}

	return created, nil
}

// UpdateRelated rescales pending invite-friend cashbacks after the parent
// amount changed: the reward stays proportional to what the friend actually
// pays. Promo-code cashbacks are fixed and completed cashbacks are history,
// neither is touched.
func (e *Engine) UpdateRelated(ctx context.Context, t models.Transaction, oldAmount decimal.Decimal) error {
	if oldAmount.IsZero() || oldAmount.Equal(t.Amount) {
		return nil
	}

	cashbacks, err := e.storage.Transaction().ListCashbacks(ctx, t.ID, repository.ListCashbacksOpts{OnlyPending: true})
	if err != nil {
		return fmt.Errorf("list cashbacks: %w", err)
	}

	for _, cb := range cashbacks {
		if cb.Metadata[models.MetaCashbackKind] != models.CashbackInviteFriend {
			continue
		}

		cb.Amount = cb.Amount.Div(oldAmount).Mul(t.Amount).Round(2)
		if _, err := e.storage.Transaction().Update(ctx, cb); err != nil {
			return fmt.Errorf("rescale cashback: %w", err)
		}
	}

	return nil
}

// Collect realizes every pending cashback attached to t: marks them
// completed and returns the total in t's currency. The caller credits the
// payer's balance with the returned amount inside the same unit of work.
func (e *Engine) Collect(ctx context.Context, t models.Transaction) (decimal.Decimal, error) {
	cashbacks, err := e.storage.Transaction().ListCashbacks(ctx, t.ID, repository.ListCashbacksOpts{OnlyPending: true})
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("list cashbacks: %w", err)
	}

	now := time.Now()
	total := decimal.Zero

	for _, cb := range cashbacks {
		converted, err := e.converter.ConvertByID(ctx, cb.Amount, cb.CurrencyID, t.CurrencyID)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("convert cashback amount: %w", err)
		}

		cb.Completed = true
		cb.CompletedAt = &now
		if _, err := e.storage.Transaction().Update(ctx, cb); err != nil {
			return decimal.Decimal{}, fmt.Errorf("complete cashback: %w", err)
		}

		total = total.Add(converted)
	}

	return total, nil
}

// QueueOwnerReward enqueues the promo code owner's reward for the completed
// transaction. Applied asynchronously by the owner cashback dispatcher after
// the payment commits.
func (e *Engine) QueueOwnerReward(ctx context.Context, t models.Transaction, grant models.CashbackGrant) error {
	if grant.Kind != models.CashbackInviteFriend || grant.OwnerID == nil {
		return nil
	}

	err := e.storage.OwnerCashback().Enqueue(ctx, models.OwnerCashback{
		TransactionID: t.ID,
		OwnerID:       *grant.OwnerID,
		FriendID:      t.UserID,
		Code:          grant.Code,
		Amount:        grant.Amount,
		CurrencyID:    t.CurrencyID,
	})
	if err != nil {
		return fmt.Errorf("queue owner reward: %w", err)
	}

	return nil
}
