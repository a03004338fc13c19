package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ChargeRequest is a merchant-initiated charge against a stored instrument.
type ChargeRequest struct {
	Amount   decimal.Decimal
	Currency string
	// Token is the provider reference of the saved card.
	Token    string
	Customer string
	// IdempotencyKey must stay the same for retries of one renewal attempt.
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

type Receipt struct {
	Provider      string
	TransactionID string
}

// Gateway charges saved payment instruments.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Receipt, error)
}

// DeclineError is returned when the provider refused the charge.
type DeclineError struct {
	Provider string
	Code     string
	Message  string
}

func (e *DeclineError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s declined the charge: %s", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s declined the charge: %s (%s)", e.Provider, e.Code, e.Message)
}

// ErrPending is returned when the provider has not settled the charge synchronously.
var ErrPending = errors.New("payment is pending")

// FailureReason condenses a charge error into the value stored on the payment record.
func FailureReason(err error) string {
	var decline *DeclineError
	switch {
	case errors.As(err, &decline):
		return decline.Code
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrPending):
		return "pending"
	}
	return "error"
}
