package models

import (
	"github.com/shopspring/decimal"
)

// Kinds of payable objects the ledger can charge for.
const (
	PayableOrder        = "order"
	PayableShipment     = "shipment"
	PayableCourierOrder = "courier_order"
)

// Payable is the contract of an order/shipment/courier order as seen from the
// ledger. The catalog workflow owns the real objects; the ledger only needs a
// stable identifier and the percentage discounts attached to the object.
type Payable interface {
	Identifier() string
	Kind() string
	Discounts() []decimal.Decimal
}

// TargetRef points at a payable object from a transaction.
type TargetRef struct {
	Kind       string
	Identifier string
}
