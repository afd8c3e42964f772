package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction purposes
const (
	PurposeOrderPayment          = "order_payment"
	PurposeShipmentPayment       = "shipment_payment"
	PurposeCourierOrderPayment   = "courier_order_payment"
	PurposeOrderRemainderPayment = "order_remainder_payment"
	PurposeOrderRemainderRefund  = "order_remainder_refund"
	PurposeOrderRefund           = "order_refund"
	PurposeShipmentRefund        = "shipment_refund"
	PurposeBalanceIncrease       = "balance_increase"
	PurposeBalanceDecrease       = "balance_decrease"
	PurposeCashback              = "cashback"
	PurposeMerged                = "merged"
)

// Transaction types (how the money moves)
const (
	TypeCard     = "card"
	TypeCash     = "cash"
	TypeBalance  = "balance"
	TypeTerminal = "terminal"
)

// Well known metadata keys
const (
	MetaCopiedFrom   = "copied_from"
	MetaDeleteReason = "delete_reason"
	MetaCashbackKind = "cashback_kind"
)

// Transaction is the central ledger entity.
//
// Transactions form a tree: a merged parent absorbs several pending
// transactions via ParentID, and cashback rewards attach to their source
// transaction via CashbackToID. The tree is never deeper than two levels.
type Transaction struct {
	ID            uuid.UUID
	InvoiceNumber string
	CreatedAt     time.Time

	UserID uuid.UUID

	Amount     decimal.Decimal
	CurrencyID uuid.UUID

	// Original amount/currency are stamped exactly once, the first time the
	// transaction is normalized to a different currency. Audit only.
	OriginalAmount     *decimal.Decimal
	OriginalCurrencyID *uuid.UUID

	Purpose string
	Type    string

	ParentID     *uuid.UUID
	CashbackToID *uuid.UUID

	// Reference to the payable object the transaction charges for.
	// TargetIdentifier is denormalized so the reference survives payable
	// row replacement.
	TargetKind       string
	TargetID         *uuid.UUID
	TargetIdentifier string

	// Partial payment: part of the charge is siphoned from the internal
	// balance, the remainder goes to an external payment service.
	IsPartial             bool
	FromBalanceAmount     *decimal.Decimal
	FromBalanceCurrencyID *uuid.UUID

	Completed         bool
	CompletedAt       *time.Time
	CompletedManually bool
	IsDeleted         bool

	PaymentService     *string
	GatewayResponse    []byte
	GatewayRespondedAt *time.Time

	Metadata map[string]string
}

// SetMeta stores a provenance annotation, allocating the bag on first use.
func (t *Transaction) SetMeta(key, value string) {
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	t.Metadata[key] = value
}

// IsBalanceChange reports whether the transaction is a pure wallet top-up or
// drawdown rather than a payment for a payable object.
func (t *Transaction) IsBalanceChange() bool {
	return t.Purpose == PurposeBalanceIncrease || t.Purpose == PurposeBalanceDecrease
}
