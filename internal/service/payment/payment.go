package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/logger"
	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
	"github.com/nkiryanov/payledger/internal/service/cashback"
	"github.com/nkiryanov/payledger/internal/service/currencyconv"
	"github.com/nkiryanov/payledger/internal/service/gateway"
	"github.com/nkiryanov/payledger/internal/service/merge"
)

// Workflow is the contract of the catalog/ordering subsystem the ledger
// reports to. The ledger never mutates payable objects itself.
type Workflow interface {
	// Mark payable objects paid and advance their status
	MarkPaid(ctx context.Context, refs []models.TargetRef) error

	// Reconcile promo data with the loyalty service. Best effort: errors
	// are reported alongside the payment result, never fail it
	ApplyPromoData(ctx context.Context, refs []models.TargetRef) error

	// Refund policy checks and order reset
	OrderPaid(ctx context.Context, identifier string) (bool, error)
	OrderRefundable(ctx context.Context, identifier string) (bool, error)
	ResetOrderPayment(ctx context.Context, identifier string) error

	// Notify the customer about the refund. Best effort
	NotifyRefund(ctx context.Context, identifier string, amount decimal.Decimal, currencyCode string) error
}

// Callback is invoked after the internal payment callback with the completed
// transactions and the payable references they cover.
type Callback func(ctx context.Context, completed []models.Transaction, refs []models.TargetRef) error

// CompleteOptions tune CompletePayments. The zero value is the default flow:
// currencies are normalized to force a merge and pre-existing partial state
// is undone first.
type CompleteOptions struct {
	// Pay as this type instead of the transactions' own type
	OverrideType string

	// Caller hook, runs after the internal payment callback in the same
	// unit of work
	Callback Callback

	// Don't normalize currencies when the transactions are not mergeable
	// as they are
	SkipMerge bool

	// Keep pre-existing partial state instead of undoing it first
	KeepPartial bool
}

// Result of a successful completion. SideErrors holds non-fatal errors from
// best-effort side effects (loyalty reconciliation): the payment succeeded,
// the caller decides whether to surface them.
type Result struct {
	Transaction models.Transaction
	Completed   []models.Transaction
	Refs        []models.TargetRef
	SideErrors  []error
}

// Engine completes payments: merges pending transactions when needed,
// resolves the payment type, applies balance effects atomically and cascades
// completion down the transaction tree.
//
// Customer wallets are held in a single platform currency; amounts in other
// currencies are converted at the stored rates on the way in and out.
type Engine struct {
	storage    repository.Storage
	discounts  merge.Discounter
	workflow   Workflow
	policy     cashback.Policy
	walletCode string
	logger     logger.Logger
}

func NewEngine(storage repository.Storage, discounts merge.Discounter, workflow Workflow, policy cashback.Policy, walletCode string, log logger.Logger) *Engine {
	if discounts == nil {
		discounts = merge.NoDiscounts
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Engine{
		storage:    storage,
		discounts:  discounts,
		workflow:   workflow,
		policy:     policy,
		walletCode: walletCode,
		logger:     log,
	}
}

// txEngine is the engine bound to one unit of work
type txEngine struct {
	*Engine
	s         repository.Storage
	converter *currencyconv.Converter
	merger    *merge.Engine
	cashback  *cashback.Engine
}

func (e *Engine) inTx(s repository.Storage) *txEngine {
	converter := currencyconv.New(s.Currency())
	return &txEngine{
		Engine:    e,
		s:         s,
		converter: converter,
		merger:    merge.New(s, converter, e.discounts),
		cashback:  cashback.New(s, converter, e.policy),
	}
}

// CompletePayments settles the transactions as one payment and returns the
// (possibly merged) completed transaction. A second call on the same
// transaction always fails: completed is a one-way, guarded transition.
func (e *Engine) CompletePayments(ctx context.Context, transactions []models.Transaction, opts CompleteOptions) (Result, error) {
	var result Result

	err := e.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		result, err = e.inTx(s).completePayments(ctx, transactions, opts)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	return result, nil
}

func (te *txEngine) completePayments(ctx context.Context, transactions []models.Transaction, opts CompleteOptions) (Result, error) {
	var result Result

	if len(transactions) == 0 {
		return result, apperrors.NewPaymentError(apperrors.ReasonEmptyInput)
	}

	// Re-read everything under row locks, in stable order to avoid
	// deadlocks between concurrent payments. The completed flag must be
	// checked under the same locks that guard the balance mutation.
	ids := make([]uuid.UUID, 0, len(transactions))
	seen := map[uuid.UUID]bool{}
	for _, t := range transactions {
		if !seen[t.ID] {
			seen[t.ID] = true
			ids = append(ids, t.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	locked := make([]models.Transaction, 0, len(ids))
	for _, id := range ids {
		t, err := te.s.Transaction().GetForUpdate(ctx, id)
		if err != nil {
			return result, fmt.Errorf("lock transaction %s: %w", id, err)
		}
		locked = append(locked, t)
	}

	// A parent supersedes its children within one call
	inInput := map[uuid.UUID]bool{}
	for _, t := range locked {
		inInput[t.ID] = true
	}
	pending := locked[:0]
	for _, t := range locked {
		if t.ParentID != nil && inInput[*t.ParentID] {
			continue
		}
		pending = append(pending, t)
	}

	for _, t := range pending {
		switch {
		case t.Completed:
			return result, apperrors.NewPaymentError(apperrors.ReasonAlreadyPaid)
		case t.Purpose == models.PurposeCashback:
			return result, apperrors.NewPaymentError(apperrors.ReasonCashbackDirectPay)
		case t.IsDeleted:
			return result, apperrors.NewPaymentError(apperrors.ReasonDeleted)
		}
	}

	if !opts.KeepPartial {
		for i, t := range pending {
			undone, err := te.unmakePartial(ctx, t)
			if err != nil {
				return result, err
			}
			pending[i] = undone
		}
	}

	var current models.Transaction
	if len(pending) > 1 {
		ok, txType, currencyID, userID := te.merger.AreMergeable(pending, opts.OverrideType)
		if !ok && !opts.SkipMerge {
			normalized, err := te.merger.Normalize(ctx, pending, nil)
			if err != nil {
				return result, err
			}
			pending = normalized
			ok, txType, currencyID, userID = te.merger.AreMergeable(pending, opts.OverrideType)
		}
		if !ok {
			return result, apperrors.NewPaymentError(apperrors.ReasonNotMergeable)
		}

		merged, err := te.merger.Merge(ctx, userID, txType, currencyID, pending)
		if err != nil {
			return result, err
		}
		current = merged
	} else {
		current = pending[0]
		if _, err := te.merger.DetachFromParent(ctx, &current, nil); err != nil {
			return result, err
		}
	}

	payType := current.Type
	if opts.OverrideType != "" {
		payType = opts.OverrideType
	}

	if err := te.applyBalanceEffects(ctx, current, payType); err != nil {
		return result, err
	}

	// Loyalty reconciliation must never fail a collected payment
	if current.TargetIdentifier != "" {
		ref := models.TargetRef{Kind: current.TargetKind, Identifier: current.TargetIdentifier}
		if err := te.workflow.ApplyPromoData(ctx, []models.TargetRef{ref}); err != nil {
			te.logger.Warn("promo data reconciliation failed", "target", ref.Identifier, "error", err)
			result.SideErrors = append(result.SideErrors, err)
		}
	}

	completed, refs, err := te.completeTree(ctx, current)
	if err != nil {
		return result, err
	}

	if err := te.workflow.MarkPaid(ctx, refs); err != nil {
		return result, fmt.Errorf("mark payables paid: %w", err)
	}
	if opts.Callback != nil {
		if err := opts.Callback(ctx, completed, refs); err != nil {
			return result, fmt.Errorf("payment callback: %w", err)
		}
	}

	// Cashback is a same-transaction self-reward: realized rewards top up
	// the payer's own wallet
	collected, err := te.cashback.Collect(ctx, current)
	if err != nil {
		return result, err
	}
	if collected.IsPositive() {
		if err := te.creditWallet(ctx, current.UserID, collected, current.CurrencyID); err != nil {
			return result, err
		}
	}

	current, err = te.s.Transaction().Get(ctx, current.ID)
	if err != nil {
		return result, fmt.Errorf("reload completed transaction: %w", err)
	}

	result.Transaction = current
	result.Completed = completed
	result.Refs = refs
	return result, nil
}

// applyBalanceEffects moves money for the resolved payment type
func (te *txEngine) applyBalanceEffects(ctx context.Context, t models.Transaction, payType string) error {
	switch payType {
	case models.TypeBalance:
		required, err := te.merger.DiscountedAmount(ctx, t)
		if err != nil {
			return err
		}
		return te.debitWallet(ctx, t.UserID, required, t.CurrencyID)

	case models.TypeCard:
		resp, ok := gateway.Confirmed(t)
		if !ok {
			return apperrors.NewPaymentError(apperrors.ReasonCardFailed)
		}
		return te.applyCollectedPayment(ctx, t, resp.CapturedAmount, resp.Currency)

	case models.TypeCash, models.TypeTerminal:
		// Staff collected the money in person, no gateway to confirm
		collected, err := te.merger.DiscountedAmount(ctx, t)
		if err != nil {
			return err
		}
		currency, err := te.converter.GetByID(ctx, t.CurrencyID)
		if err != nil {
			return err
		}
		return te.applyCollectedPayment(ctx, t, collected, currency.Code)

	default:
		return fmt.Errorf("unknown payment type %q", payType)
	}
}

// applyCollectedPayment handles money already collected outside the wallet
// (card capture, cash, terminal): top-ups and drawdowns move the captured
// amount, order payments only settle the partial wallet portion if any.
func (te *txEngine) applyCollectedPayment(ctx context.Context, t models.Transaction, collected decimal.Decimal, collectedCode string) error {
	if t.IsBalanceChange() {
		amount, err := te.walletAmount(ctx, collected, collectedCode)
		if err != nil {
			return err
		}
		if t.Purpose == models.PurposeBalanceDecrease {
			return te.debitWalletConverted(ctx, t.UserID, amount)
		}
		return te.creditWalletConverted(ctx, t.UserID, amount)
	}

	// Paying off an order/shipment: the captured part is already settled by
	// the gateway, only the balance part of a split charge moves here
	if t.IsPartial && t.FromBalanceAmount != nil {
		return te.debitWallet(ctx, t.UserID, *t.FromBalanceAmount, *t.FromBalanceCurrencyID)
	}

	return nil
}

// completeTree marks the transaction and its pending descendants completed.
// The tree is never deeper than two levels, traversal is bounded the same.
func (te *txEngine) completeTree(ctx context.Context, root models.Transaction) ([]models.Transaction, []models.TargetRef, error) {
	now := time.Now()
	var completed []models.Transaction
	var refs []models.TargetRef

	complete := func(t models.Transaction) error {
		t.Completed = true
		t.CompletedAt = &now
		t, err := te.s.Transaction().Update(ctx, t)
		if err != nil {
			return fmt.Errorf("complete transaction %s: %w", t.ID, err)
		}

		completed = append(completed, t)
		if t.TargetIdentifier != "" {
			refs = append(refs, models.TargetRef{Kind: t.TargetKind, Identifier: t.TargetIdentifier})
		}
		return nil
	}

	if err := complete(root); err != nil {
		return nil, nil, err
	}

	children, err := te.s.Transaction().ListChildren(ctx, root.ID, repository.ListChildrenOpts{OnlyPending: true})
	if err != nil {
		return nil, nil, fmt.Errorf("list children: %w", err)
	}

	for _, child := range children {
		if err := complete(child); err != nil {
			return nil, nil, err
		}

		grandchildren, err := te.s.Transaction().ListChildren(ctx, child.ID, repository.ListChildrenOpts{OnlyPending: true})
		if err != nil {
			return nil, nil, fmt.Errorf("list grandchildren: %w", err)
		}
		for _, gc := range grandchildren {
			if err := complete(gc); err != nil {
				return nil, nil, err
			}
		}
	}

	return completed, refs, nil
}

// walletAmount converts an amount in the given currency code to the wallet currency
func (te *txEngine) walletAmount(ctx context.Context, amount decimal.Decimal, code string) (decimal.Decimal, error) {
	return te.converter.Convert(ctx, amount, code, te.walletCode)
}

func (te *txEngine) creditWallet(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currencyID uuid.UUID) error {
	wallet, err := te.converter.GetByCode(ctx, te.walletCode)
	if err != nil {
		return err
	}
	converted, err := te.converter.ConvertByID(ctx, amount, currencyID, wallet.ID)
	if err != nil {
		return err
	}
	return te.creditWalletConverted(ctx, userID, converted)
}

func (te *txEngine) creditWalletConverted(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	wallet, err := te.converter.GetByCode(ctx, te.walletCode)
	if err != nil {
		return err
	}

	balance, err := te.s.Balance().GetOrCreate(ctx, userID, wallet.ID)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	if _, err := te.s.Balance().AddAmount(ctx, balance.ID, amount); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

// debitWallet withdraws the amount (given in the currency with the id) from
// the user's wallet, locking the balance row for the check-then-debit pair.
func (te *txEngine) debitWallet(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currencyID uuid.UUID) error {
	wallet, err := te.converter.GetByCode(ctx, te.walletCode)
	if err != nil {
		return err
	}
	converted, err := te.converter.ConvertByID(ctx, amount, currencyID, wallet.ID)
	if err != nil {
		return err
	}
	return te.debitWalletConverted(ctx, userID, converted)
}

func (te *txEngine) debitWalletConverted(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	wallet, err := te.converter.GetByCode(ctx, te.walletCode)
	if err != nil {
		return err
	}

	if _, err := te.s.Balance().GetOrCreate(ctx, userID, wallet.ID); err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	balance, err := te.s.Balance().Get(ctx, userID, wallet.ID, true)
	if err != nil {
		return fmt.Errorf("lock balance: %w", err)
	}

	if balance.Amount.LessThan(amount) {
		return &apperrors.InsufficientBalanceError{
			Currency: wallet.Code,
			Missing:  amount.Sub(balance.Amount),
		}
	}

	if _, err := te.s.Balance().AddAmount(ctx, balance.ID, amount.Neg()); err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	return nil
}

// IsPaymentError reports whether err is a business rule violation rather
// than an infrastructure failure.
func IsPaymentError(err error) bool {
	var pe *apperrors.PaymentError
	return errors.As(err, &pe)
}
