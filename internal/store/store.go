package store

import (
	"context"
	"errors"
	"time"

	"recurring-orders/internal/models"
	"recurring-orders/internal/subscription"
)

var ErrNotFound = errors.New("record not found")

// Transition is a conditional write of a subscription's lifecycle columns.
// It is applied only while the stored state still equals From and, when From
// is renewing, the stored claim token equals ClaimToken.
//
// Leaving renewing clears the claim; leaving paused clears ResumeAt.
type Transition struct {
	ID         uint
	From       subscription.State
	To         subscription.State
	ClaimToken string
	// NewClaim is stored as the claim token when To is renewing.
	NewClaim string
	At       time.Time

	FailureCount           *int
	StructuralFailureCount *int
	LastRenewalAt          *time.Time
	NextRenewalAt          *time.Time
	LastAttemptAt          *time.Time
	// ResumeAt is required when To is paused.
	ResumeAt *time.Time
}

// Store is the persistence boundary of the renewal core.
type Store interface {
	GetSubscription(ctx context.Context, id uint) (*models.Subscription, error)
	// CreateSubscription saves sub with its items and links it to the order
	// it was created from.
	CreateSubscription(ctx context.Context, sub *models.Subscription, orderID uint) error
	ListByTelegramID(ctx context.Context, telegramID int64) ([]models.Subscription, error)
	// FailingSubscriptions lists active or renewing subscriptions with failed
	// renewals, most recently renewed first.
	FailingSubscriptions(ctx context.Context) ([]models.Subscription, error)

	DueSubscriptionIDs(ctx context.Context, now time.Time, threshold int) ([]uint, error)
	ResumableSubscriptionIDs(ctx context.Context, now time.Time) ([]uint, error)
	StaleClaimIDs(ctx context.Context, claimedBefore time.Time) ([]uint, error)
	// UpcomingRenewals lists active subscriptions whose next renewal falls in [from, to].
	UpcomingRenewals(ctx context.Context, from, to time.Time) ([]models.Subscription, error)

	// Transition reports false when the precondition no longer holds.
	Transition(ctx context.Context, t Transition) (bool, error)
	// ReplaceCreditCard stores card, points the subscription at it and resets
	// the failure count.
	ReplaceCreditCard(ctx context.Context, subscriptionID uint, card *models.CreditCard) error
	AdjustSku(ctx context.Context, oldSku, newSku string) (int64, error)

	ActiveSkip(ctx context.Context, subscriptionID uint) (*models.SubscriptionSkip, error)
	CreateSkip(ctx context.Context, skip *models.SubscriptionSkip) error
	// UndoSkip and MarkSkipRenewed return ErrNotFound when the entry is no longer active.
	UndoSkip(ctx context.Context, skipID uint, at time.Time) error
	MarkSkipRenewed(ctx context.Context, skipID uint, at time.Time) error

	GetOrder(ctx context.Context, id uint) (*models.Order, error)
	// CreateOrder saves order with its line items and links it to the subscription.
	CreateOrder(ctx context.Context, order *models.Order, subscriptionID uint) error
	UpdateOrderState(ctx context.Context, orderID uint, state string, completedAt *time.Time) error
	ListOrders(ctx context.Context, subscriptionID uint) ([]models.Order, error)
	// SubscriptionIDsByOrder lists the subscriptions linked to an order.
	SubscriptionIDsByOrder(ctx context.Context, orderID uint) ([]uint, error)
	CreatePayment(ctx context.Context, p *models.Payment) error
}
