package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/models"
)

// Charge statuses the gateway adapters normalize their responses to
const (
	StatusSucceeded = "succeeded"
	StatusDeclined  = "declined"
	StatusPending   = "pending"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Response is the normalized payload a gateway adapter stores on the
// transaction once the charge attempt finishes. Completion never talks to the
// gateway network side, it only reads this stored payload.
type Response struct {
	Status         string          `json:"status" validate:"required"`
	CapturedAmount decimal.Decimal `json:"captured_amount"`
	Currency       string          `json:"currency" validate:"required,uppercase,len=3"`
	Reference      string          `json:"reference,omitempty"`
}

func ParseResponse(raw []byte) (Response, error) {
	var resp Response
	if len(raw) == 0 {
		return resp, fmt.Errorf("no gateway response stored")
	}

	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, fmt.Errorf("malformed gateway response: %w", err)
	}

	if err := validate.Struct(resp); err != nil {
		return resp, fmt.Errorf("invalid gateway response: %w", err)
	}

	return resp, nil
}

// Confirmed reports whether the stored gateway response confirms the charge
// and returns the parsed payload when it does.
func Confirmed(t models.Transaction) (Response, bool) {
	resp, err := ParseResponse(t.GatewayResponse)
	if err != nil {
		return resp, false
	}

	return resp, resp.Status == StatusSucceeded && resp.CapturedAmount.IsPositive()
}
