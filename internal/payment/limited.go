package payment

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited throttles charges sent to the wrapped gateway.
type Limited struct {
	next    Gateway
	limiter *rate.Limiter
}

func NewLimited(next Gateway, perSecond float64) *Limited {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Charge(ctx context.Context, req ChargeRequest) (*Receipt, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Charge(ctx, req)
}
