package merge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
	"github.com/nkiryanov/payledger/internal/service/currencyconv"
)

// Discounter exposes the percentage discounts attached to a payable object.
// The catalog workflow owns discounts, the ledger only applies them.
type Discounter interface {
	Discounts(ctx context.Context, kind string, identifier string) ([]decimal.Decimal, error)
}

// NoDiscounts is the Discounter for flows with no catalog attached (tests,
// pure balance operations).
var NoDiscounts Discounter = noDiscounts{}

type noDiscounts struct{}

func (noDiscounts) Discounts(context.Context, string, string) ([]decimal.Decimal, error) {
	return nil, nil
}

// Engine groups pending transactions into a parent/children tree and keeps
// the tree invariants: a parent's amount always equals the sum of its pending
// children's discounted amounts, and a parent never holds a single child.
//
// Construct one per unit of work over the (possibly tx-scoped) storage.
type Engine struct {
	storage   repository.Storage
	converter *currencyconv.Converter
	discounts Discounter
}

func New(storage repository.Storage, converter *currencyconv.Converter, discounts Discounter) *Engine {
	if discounts == nil {
		discounts = NoDiscounts
	}

	return &Engine{
		storage:   storage,
		converter: converter,
		discounts: discounts,
	}
}

// AreMergeable reports whether the transactions can be merged into one
// parent: non-empty list, same user, same currency and either the same type
// or an explicit override type.
func (e *Engine) AreMergeable(transactions []models.Transaction, overrideType string) (ok bool, txType string, currencyID uuid.UUID, userID uuid.UUID) {
	if len(transactions) == 0 {
		return false, "", uuid.Nil, uuid.Nil
	}

	first := transactions[0]
	txType = overrideType
	if txType == "" {
		txType = first.Type
	}

	for _, t := range transactions {
		if t.UserID != first.UserID || t.CurrencyID != first.CurrencyID {
			return false, "", uuid.Nil, uuid.Nil
		}
		if overrideType == "" && t.Type != txType {
			return false, "", uuid.Nil, uuid.Nil
		}
	}

	return true, txType, first.CurrencyID, first.UserID
}

// Normalize rewrites every transaction into the target currency, defaulting
// to the first transaction's currency. The original amount and currency are
// stamped only the first time the transaction changes currency, so repeated
// normalization keeps the audit values intact.
func (e *Engine) Normalize(ctx context.Context, transactions []models.Transaction, toCurrencyID *uuid.UUID) ([]models.Transaction, error) {
	if len(transactions) == 0 {
		return transactions, nil
	}

	target := transactions[0].CurrencyID
	if toCurrencyID != nil {
		target = *toCurrencyID
	}

	normalized := make([]models.Transaction, 0, len(transactions))
	for _, t := range transactions {
		if t.CurrencyID == target {
			normalized = append(normalized, t)
			continue
		}

		converted, err := e.converter.ConvertByID(ctx, t.Amount, t.CurrencyID, target)
		if err != nil {
			return nil, fmt.Errorf("normalize transaction %s: %w", t.ID, err)
		}

		if t.OriginalAmount == nil {
			amount := t.Amount
			currency := t.CurrencyID
			t.OriginalAmount = &amount
			t.OriginalCurrencyID = &currency
		}

		t.Amount = converted
		t.CurrencyID = target

		t, err = e.storage.Transaction().Update(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("normalize transaction: %w", err)
		}

		normalized = append(normalized, t)
	}

	return normalized, nil
}

// Merge combines the transactions under a new parent with purpose "merged".
// A single transaction is returned as is. Inputs are detached from any prior
// parents first; pending cashbacks of collapsed prior parents and of pending
// children are re-homed onto the new parent by copy, so the original reward
// rows stay in place for audit.
func (e *Engine) Merge(ctx context.Context, userID uuid.UUID, txType string, currencyID uuid.UUID, transactions []models.Transaction) (models.Transaction, error) {
	if len(transactions) == 1 {
		return transactions[0], nil
	}

	amount := decimal.Zero
	for _, t := range transactions {
		if t.Completed {
			continue
		}
		discounted, err := e.DiscountedAmount(ctx, t)
		if err != nil {
			return models.Transaction{}, err
		}
		amount = amount.Add(discounted)
	}

	parent, err := e.storage.Transaction().Create(ctx, models.Transaction{
		UserID:     userID,
		Amount:     amount,
		CurrencyID: currencyID,
		Purpose:    models.PurposeMerged,
		Type:       txType,
	})
	if err != nil {
		return parent, fmt.Errorf("create merged parent: %w", err)
	}

	for _, t := range transactions {
		oldParent, err := e.DetachFromParent(ctx, &t, nil)
		if err != nil {
			return parent, err
		}

		t.ParentID = &parent.ID
		t, err = e.storage.Transaction().Update(ctx, t)
		if err != nil {
			return parent, fmt.Errorf("reparent transaction: %w", err)
		}

		// Cashbacks of a parent that collapsed during detach would be
		// orphaned, carry them over to the merged transaction
		if oldParent != nil && oldParent.IsDeleted {
			if err := e.copyCashbacks(ctx, oldParent.ID, parent.ID); err != nil {
				return parent, err
			}
		}

		if !t.Completed && !t.IsDeleted {
			if err := e.copyCashbacks(ctx, t.ID, parent.ID); err != nil {
				return parent, err
			}
		}
	}

	return parent, nil
}

// copyCashbacks duplicates pending cashbacks of one transaction onto another
func (e *Engine) copyCashbacks(ctx context.Context, fromID uuid.UUID, toID uuid.UUID) error {
	cashbacks, err := e.storage.Transaction().ListCashbacks(ctx, fromID, repository.ListCashbacksOpts{OnlyPending: true})
	if err != nil {
		return fmt.Errorf("list cashbacks: %w", err)
	}

	for _, cb := range cashbacks {
		copied := cb
		copied.ID = uuid.Nil
		copied.InvoiceNumber = ""
		copied.CashbackToID = &toID
		copied.SetMeta(models.MetaCopiedFrom, cb.InvoiceNumber)

		if _, err := e.storage.Transaction().Create(ctx, copied); err != nil {
			return fmt.Errorf("copy cashback: %w", err)
		}
	}

	return nil
}

// DetachFromParent clears the transaction's parent and fixes up the old
// parent: with no pending children left it is soft deleted, with exactly one
// child left it collapses (the child is re-homed to fallbackParentID, usually
// nil), otherwise its amount is recomputed from the remaining children.
//
// Returns the final state of the old parent, nil if there was none.
func (e *Engine) DetachFromParent(ctx context.Context, t *models.Transaction, fallbackParentID *uuid.UUID) (*models.Transaction, error) {
	if t.ParentID == nil {
		return nil, nil
	}

	oldParentID := *t.ParentID
	t.ParentID = nil
	updated, err := e.storage.Transaction().Update(ctx, *t)
	if err != nil {
		return nil, fmt.Errorf("detach transaction: %w", err)
	}
	*t = updated

	remaining, err := e.storage.Transaction().ListChildren(ctx, oldParentID, repository.ListChildrenOpts{})
	if err != nil {
		return nil, fmt.Errorf("list remaining children: %w", err)
	}

	switch len(remaining) {
	case 0:
		deleted, err := e.storage.Transaction().SoftDelete(ctx, oldParentID, "empty after detach")
		if err != nil {
			return nil, fmt.Errorf("delete empty parent: %w", err)
		}
		return &deleted, nil

	case 1:
		// A parent over a single transaction has no reason to exist
		child := remaining[0]
		child.ParentID = fallbackParentID
		if _, err := e.storage.Transaction().Update(ctx, child); err != nil {
			return nil, fmt.Errorf("re-home last child: %w", err)
		}

		deleted, err := e.storage.Transaction().SoftDelete(ctx, oldParentID, "collapsed single child parent")
		if err != nil {
			return nil, fmt.Errorf("collapse parent: %w", err)
		}
		return &deleted, nil

	default:
		parent, err := e.storage.Transaction().Get(ctx, oldParentID)
		if err != nil {
			return nil, fmt.Errorf("get old parent: %w", err)
		}

		amount := decimal.Zero
		for _, child := range remaining {
			if child.Completed {
				continue
			}
			discounted, err := e.DiscountedAmount(ctx, child)
			if err != nil {
				return nil, err
			}
			converted, err := e.converter.ConvertByID(ctx, discounted, child.CurrencyID, parent.CurrencyID)
			if err != nil {
				return nil, fmt.Errorf("convert child amount: %w", err)
			}
			amount = amount.Add(converted)
		}

		parent.Amount = amount
		parent, err = e.storage.Transaction().Update(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("update old parent amount: %w", err)
		}
		return &parent, nil
	}
}

// Copy reissues the transaction under a fresh identity and invoice number.
// Payment gateways reject resubmission of a cancelled reference, so an
// already issued but unconfirmed transaction is never mutated in place: it is
// copied and the original soft deleted. Children and cashbacks move to the
// copy.
func (e *Engine) Copy(ctx context.Context, t models.Transaction, deleteOld bool) (models.Transaction, error) {
	copied := t
	copied.ID = uuid.Nil
	copied.InvoiceNumber = ""
	copied.Metadata = nil
	for k, v := range t.Metadata {
		copied.SetMeta(k, v)
	}
	copied.SetMeta(models.MetaCopiedFrom, t.InvoiceNumber)

	copied, err := e.storage.Transaction().Create(ctx, copied)
	if err != nil {
		return copied, fmt.Errorf("copy transaction: %w", err)
	}

	children, err := e.storage.Transaction().ListChildren(ctx, t.ID, repository.ListChildrenOpts{})
	if err != nil {
		return copied, fmt.Errorf("list children: %w", err)
	}
	for _, child := range children {
		child.ParentID = &copied.ID
		if _, err := e.storage.Transaction().Update(ctx, child); err != nil {
			return copied, fmt.Errorf("move child to copy: %w", err)
		}
	}

	cashbacks, err := e.storage.Transaction().ListCashbacks(ctx, t.ID, repository.ListCashbacksOpts{})
	if err != nil {
		return copied, fmt.Errorf("list cashbacks: %w", err)
	}
	for _, cb := range cashbacks {
		cb.CashbackToID = &copied.ID
		if _, err := e.storage.Transaction().Update(ctx, cb); err != nil {
			return copied, fmt.Errorf("move cashback to copy: %w", err)
		}
	}

	if deleteOld {
		reason := fmt.Sprintf("replaced by %s", copied.InvoiceNumber)
		if _, err := e.storage.Transaction().SoftDelete(ctx, t.ID, reason); err != nil {
			return copied, fmt.Errorf("delete copied transaction: %w", err)
		}
	}

	return copied, nil
}

// DiscountedAmount is the transaction amount after the percentage discounts
// of its payable object, applied in sequence and rounded at each step.
func (e *Engine) DiscountedAmount(ctx context.Context, t models.Transaction) (decimal.Decimal, error) {
	if t.TargetIdentifier == "" {
		return t.Amount, nil
	}

	discounts, err := e.discounts.Discounts(ctx, t.TargetKind, t.TargetIdentifier)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("discounts for %s %q: %w", t.TargetKind, t.TargetIdentifier, err)
	}

	hundred := decimal.NewFromInt(100)
	amount := t.Amount
	for _, percent := range discounts {
		amount = amount.Mul(hundred.Sub(percent)).Div(hundred).Round(2)
	}

	return amount, nil
}
