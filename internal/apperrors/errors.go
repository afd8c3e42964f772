package apperrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyNotFound = errors.New("currency not found")
	ErrBalanceNotFound  = errors.New("balance not found")

	ErrTransactionNotFound = errors.New("transaction not found")

	ErrOwnerCashbackApplied = errors.New("owner cashback already applied")

	// ErrInvalidAction is returned when a payable object is in the wrong
	// state for the requested operation (e.g. refunding an unpaid order).
	ErrInvalidAction = errors.New("invalid action for object state")
)

// Payment error reasons
const (
	ReasonEmptyInput        = "nothing to pay"
	ReasonAlreadyPaid       = "already paid"
	ReasonCashbackDirectPay = "cashback cannot be paid directly"
	ReasonDeleted           = "transaction is deleted"
	ReasonNotMergeable      = "types and currencies must match"
	ReasonCardFailed        = "card payment failed"
	ReasonBalanceSufficient = "balance already sufficient"
)

// PaymentError is a business rule violation during payment processing.
// The reason is stable and intended for support diagnostics, not for users.
type PaymentError struct {
	Reason string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment error: %s", e.Reason)
}

func NewPaymentError(reason string) *PaymentError {
	return &PaymentError{Reason: reason}
}

// InsufficientBalanceError carries the exact missing amount so the caller can
// offer the customer a top-up prompt before retrying.
type InsufficientBalanceError struct {
	Currency string
	Missing  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: missing %s %s", e.Missing.StringFixed(2), e.Currency)
}
