package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cashback grant kinds
const (
	CashbackPromoCode    = "promo_code"
	CashbackInviteFriend = "invite_friend"
)

// OwnerCashback is a queued reward for a promo code owner. Rows are written
// together with the paid transaction and applied asynchronously, exactly once.
type OwnerCashback struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	OwnerID       uuid.UUID
	FriendID      uuid.UUID
	Code          string
	Amount        decimal.Decimal
	CurrencyID    uuid.UUID
	CreatedAt     time.Time
	AppliedAt     *time.Time
}

// CashbackGrant is a pending reward attached to a payable object before it is
// materialized as a cashback transaction. Grants are serialized into the
// payable's metadata by the catalog workflow and consumed on transaction save.
type CashbackGrant struct {
	Kind    string          `json:"kind"`
	Amount  decimal.Decimal `json:"amount"`
	Code    string          `json:"code,omitempty"`
	OwnerID *uuid.UUID      `json:"owner_id,omitempty"`
}
