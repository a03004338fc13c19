package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"recurring-orders/internal/subscription"
)

// ReasonTimeout is recorded for renewal attempts that held their claim too long.
const ReasonTimeout = "timeout"

// Watchdog forces stale claims out of renewing and counts them as failed renewals.
type Watchdog struct {
	processor *Processor
	ttl       time.Duration
}

func NewWatchdog(p *Processor, ttl time.Duration) *Watchdog {
	return &Watchdog{processor: p, ttl: ttl}
}

// Reap releases every claim taken before now minus the TTL.
func (w *Watchdog) Reap(ctx context.Context, now time.Time) (int, error) {
	p := w.processor
	ids, err := p.Store.StaleClaimIDs(ctx, now.Add(-w.ttl))
	if err != nil {
		return 0, fmt.Errorf("select stale claims: %w", err)
	}

	n := 0
	for _, id := range ids {
		sub, err := p.Store.GetSubscription(ctx, id)
		if err != nil {
			p.Log.Error("failed to load stale claim", zap.Uint("subscription_id", id), zap.Error(err))
			continue
		}
		if sub.State != subscription.StateRenewing {
			continue
		}

		res, err := p.fail(ctx, sub, sub.ClaimToken, now, ReasonTimeout)
		if errors.Is(err, ErrClaimLost) {
			// the processor finished just now
			continue
		}
		if err != nil {
			p.Log.Error("failed to release stale claim", zap.Uint("subscription_id", id), zap.Error(err))
			continue
		}
		p.Metrics.Outcomes.WithLabelValues(string(res.Outcome)).Inc()
		p.Metrics.Reaped.Inc()
		p.Log.Warn("stale renewal claim released",
			zap.Uint("subscription_id", id), zap.String("outcome", string(res.Outcome)), zap.Int("failure_count", res.FailureCount))
		n++
	}
	return n, nil
}
