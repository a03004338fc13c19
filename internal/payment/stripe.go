package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

const ProviderStripe = "stripe"

// StripeGateway charges saved cards with off-session PaymentIntents.
type StripeGateway struct{}

func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*Receipt, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(minorUnits(req.Amount, req.Currency)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.Token),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String(req.Description),
		Metadata:      req.Metadata,
	}
	if req.Customer != "" {
		params.Customer = stripe.String(req.Customer)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, stripeChargeError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("payment intent %s is %s: %w", pi.ID, pi.Status, ErrPending)
	}
	return &Receipt{Provider: ProviderStripe, TransactionID: pi.ID}, nil
}

// zeroDecimal lists the currencies Stripe takes in whole units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// minorUnits converts amount to the smallest unit Stripe expects for currency.
func minorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// stripeChargeError turns card errors into declines and wraps everything else.
func stripeChargeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		code := string(se.DeclineCode)
		if code == "" {
			code = string(se.Code)
		}
		return &DeclineError{Provider: ProviderStripe, Code: code, Message: se.Msg}
	}
	return fmt.Errorf("stripe charge: %w", err)
}
