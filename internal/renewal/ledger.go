package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recurring-orders/internal/models"
	"recurring-orders/internal/store"
	"recurring-orders/internal/subscription"
)

// Ledger records skip requests against upcoming renewals.
// At most one entry per subscription is active at a time.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s, now: time.Now}
}

// RequestSkip suppresses the subscription's next renewal. The entry is dated at
// the renewal it suppresses.
func (l *Ledger) RequestSkip(ctx context.Context, subscriptionID uint) (*models.SubscriptionSkip, error) {
	sub, err := l.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.State == subscription.StateCancelled {
		return nil, subscription.ErrTerminal
	}
	if sub.Interval <= 0 || sub.NextRenewalAt == nil {
		return nil, subscription.ErrNotRecurring
	}

	now := l.now()
	active, err := l.store.ActiveSkip(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		entry := active.Entry()
		if !subscription.CanSkip(&entry, now) {
			return nil, subscription.ErrSkipNotAllowed
		}
		// a stale entry is closed so it cannot suppress the new renewal date
		if err := l.store.UndoSkip(ctx, active.ID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("close stale skip %d: %w", active.ID, err)
		}
	}

	skip := &models.SubscriptionSkip{SubscriptionID: subscriptionID, SkipAt: *sub.NextRenewalAt}
	if err := l.store.CreateSkip(ctx, skip); err != nil {
		return nil, err
	}
	return skip, nil
}

func (l *Ledger) UndoSkip(ctx context.Context, subscriptionID uint) error {
	active, err := l.store.ActiveSkip(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if active == nil {
		return subscription.ErrNoActiveSkip
	}
	if err := l.store.UndoSkip(ctx, active.ID, l.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return subscription.ErrNoActiveSkip
		}
		return err
	}
	return nil
}

func (l *Ledger) IsSkipping(ctx context.Context, subscriptionID uint) (bool, error) {
	active, err := l.store.ActiveSkip(ctx, subscriptionID)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

// Consume closes the active entry after it suppressed a renewal.
func (l *Ledger) Consume(ctx context.Context, subscriptionID uint) error {
	active, err := l.store.ActiveSkip(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if active == nil {
		return subscription.ErrNoActiveSkip
	}
	if err := l.store.MarkSkipRenewed(ctx, active.ID, l.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return subscription.ErrNoActiveSkip
		}
		return err
	}
	return nil
}
