package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurring-orders/internal/models"
	"recurring-orders/internal/subscription"
)

var testNow = time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }
func ptrInt(n int) *int              { return &n }

func newSubscription(userID uint) *models.Subscription {
	return &models.Subscription{
		UserID:        userID,
		Email:         "buyer@example.com",
		State:         subscription.StateActive,
		Interval:      1,
		Currency:      "USD",
		LastRenewalAt: ptrTime(testNow.AddDate(0, -1, 0)),
		NextRenewalAt: ptrTime(testNow.Add(-time.Hour)),
		BillAddress:   models.Address{UserID: userID, FirstName: "Ann", City: "Berlin", Country: "DE"},
		ShipAddress:   models.Address{UserID: userID, FirstName: "Ann", City: "Berlin", Country: "DE"},
		Items: []models.SubscriptionItem{
			{VariantSKU: "TEA-1", Quantity: 2, Price: decimal.RequireFromString("4.50")},
		},
	}
}

func completedOrder(userID uint) *models.Order {
	return &models.Order{
		UserID:      userID,
		State:       models.OrderStateComplete,
		Currency:    "USD",
		Total:       decimal.RequireFromString("9.00"),
		CompletedAt: ptrTime(testNow.AddDate(0, -1, 0)),
	}
}

var seeded int

// seed stores a due subscription linked to a completed order.
func seed(t *testing.T, s Store, userID uint) *models.Subscription {
	t.Helper()
	ctx := context.Background()

	seeded++
	order := completedOrder(userID)
	order.Number = fmt.Sprintf("R-%d", seeded)
	require.NoError(t, s.CreateOrder(ctx, order, 0))

	sub := newSubscription(userID)
	require.NoError(t, s.CreateSubscription(ctx, sub, order.ID))
	require.NoError(t, s.ReplaceCreditCard(ctx, sub.ID, &models.CreditCard{GatewayToken: "pm_1", LastDigits: "4242"}))
	return sub
}

// runStoreTests exercises the behaviour every Store implementation shares.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get returns the full aggregate", func(t *testing.T) {
		s := newStore(t)
		sub := seed(t, s, 1)

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StateActive, got.State)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "TEA-1", got.Items[0].VariantSKU)
		assert.True(t, decimal.RequireFromString("9").Equal(got.Total()))
		require.NotNil(t, got.CreditCard)
		assert.Equal(t, "pm_1", got.CreditCard.GatewayToken)
		assert.Equal(t, "Berlin", got.ShipAddress.City)

		_, err = s.GetSubscription(ctx, 9999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("due selection", func(t *testing.T) {
		s := newStore(t)
		due := seed(t, s, 1)

		bad := seed(t, s, 1)
		ok, err := s.Transition(ctx, Transition{
			ID: bad.ID, From: subscription.StateActive, To: subscription.StateActive,
			At: testNow, FailureCount: ptrInt(6),
		})
		require.NoError(t, err)
		require.True(t, ok)

		noOrder := newSubscription(1)
		require.NoError(t, s.CreateSubscription(ctx, noOrder, 0))

		ids, err := s.DueSubscriptionIDs(ctx, testNow, subscription.DefaultCancellationThreshold)
		require.NoError(t, err)
		assert.Equal(t, []uint{due.ID}, ids)

		ids, err = s.DueSubscriptionIDs(ctx, testNow.Add(-2*time.Hour), subscription.DefaultCancellationThreshold)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("transition is conditional on state and claim", func(t *testing.T) {
		s := newStore(t)
		sub := seed(t, s, 1)

		claim := Transition{ID: sub.ID, From: subscription.StateActive, To: subscription.StateRenewing, NewClaim: "c1", At: testNow}
		ok, err := s.Transition(ctx, claim)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Transition(ctx, claim)
		require.NoError(t, err)
		assert.False(t, ok, "second claim must lose")

		ids, err := s.DueSubscriptionIDs(ctx, testNow, subscription.DefaultCancellationThreshold)
		require.NoError(t, err)
		assert.Empty(t, ids, "renewing subscriptions are never due")

		stale, err := s.StaleClaimIDs(ctx, testNow.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, []uint{sub.ID}, stale)

		ok, err = s.Transition(ctx, Transition{ID: sub.ID, From: subscription.StateRenewing, To: subscription.StateActive, ClaimToken: "other", At: testNow})
		require.NoError(t, err)
		assert.False(t, ok, "wrong claim token")

		next := testNow.AddDate(0, 1, 0)
		ok, err = s.Transition(ctx, Transition{
			ID: sub.ID, From: subscription.StateRenewing, To: subscription.StateActive, ClaimToken: "c1", At: testNow,
			FailureCount: ptrInt(0), LastRenewalAt: ptrTime(testNow), NextRenewalAt: &next, LastAttemptAt: ptrTime(testNow),
		})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StateActive, got.State)
		assert.Empty(t, got.ClaimToken)
		assert.Nil(t, got.ClaimedAt)
		require.NotNil(t, got.NextRenewalAt)
		assert.True(t, next.Equal(*got.NextRenewalAt))
	})

	t.Run("pause and resume", func(t *testing.T) {
		s := newStore(t)
		sub := seed(t, s, 1)

		resumeAt := testNow.Add(-time.Minute)
		ok, err := s.Transition(ctx, Transition{ID: sub.ID, From: subscription.StateActive, To: subscription.StatePaused, At: testNow, ResumeAt: &resumeAt})
		require.NoError(t, err)
		require.True(t, ok)

		ids, err := s.ResumableSubscriptionIDs(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, []uint{sub.ID}, ids)

		ok, err = s.Transition(ctx, Transition{ID: sub.ID, From: subscription.StatePaused, To: subscription.StateActive, At: testNow})
		require.NoError(t, err)
		require.True(t, ok)

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ResumeAt)
	})

	t.Run("skip ledger", func(t *testing.T) {
		s := newStore(t)
		sub := seed(t, s, 1)

		active, err := s.ActiveSkip(ctx, sub.ID)
		require.NoError(t, err)
		assert.Nil(t, active)

		skip := &models.SubscriptionSkip{SubscriptionID: sub.ID, SkipAt: testNow.AddDate(0, 0, 3)}
		require.NoError(t, s.CreateSkip(ctx, skip))

		active, err = s.ActiveSkip(ctx, sub.ID)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, skip.ID, active.ID)

		require.NoError(t, s.UndoSkip(ctx, skip.ID, testNow))
		assert.ErrorIs(t, s.UndoSkip(ctx, skip.ID, testNow), ErrNotFound)
		assert.ErrorIs(t, s.MarkSkipRenewed(ctx, skip.ID, testNow), ErrNotFound)

		active, err = s.ActiveSkip(ctx, sub.ID)
		require.NoError(t, err)
		assert.Nil(t, active)
	})

	t.Run("orders and payments", func(t *testing.T) {
		s := newStore(t)
		sub := seed(t, s, 1)

		order := &models.Order{
			Number: "R-renewal", UserID: 1, State: models.OrderStateCart, Currency: "USD",
			Total:     decimal.RequireFromString("9.00"),
			LineItems: []models.LineItem{{VariantSKU: "TEA-1", Quantity: 2, Price: decimal.RequireFromString("4.50")}},
		}
		require.NoError(t, s.CreateOrder(ctx, order, sub.ID))
		require.NoError(t, s.UpdateOrderState(ctx, order.ID, models.OrderStateComplete, ptrTime(testNow)))
		assert.ErrorIs(t, s.UpdateOrderState(ctx, 9999, models.OrderStateFailed, nil), ErrNotFound)

		orders, err := s.ListOrders(ctx, sub.ID)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, order.ID, orders[0].ID)
		assert.Equal(t, models.OrderStateComplete, orders[0].State)
		require.Len(t, orders[0].LineItems, 1)

		got, err := s.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.True(t, got.Complete())

		ids, err := s.SubscriptionIDsByOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, []uint{sub.ID}, ids)

		require.NoError(t, s.CreatePayment(ctx, &models.Payment{
			OrderID: order.ID, SubscriptionID: sub.ID, Amount: order.Total, Status: models.PaymentStatusSucceeded,
		}))
	})

	t.Run("replace credit card resets failures", func(t *testing.T) {
		s := newStore(t)
		sub := seed(t, s, 1)

		ok, err := s.Transition(ctx, Transition{ID: sub.ID, From: subscription.StateActive, To: subscription.StateActive, At: testNow, FailureCount: ptrInt(3)})
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.ReplaceCreditCard(ctx, sub.ID, &models.CreditCard{GatewayToken: "pm_2"}))

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Zero(t, got.FailureCount)
		require.NotNil(t, got.CreditCard)
		assert.Equal(t, "pm_2", got.CreditCard.GatewayToken)

		assert.ErrorIs(t, s.ReplaceCreditCard(ctx, 9999, &models.CreditCard{GatewayToken: "x"}), ErrNotFound)
	})

	t.Run("failing and adjust sku", func(t *testing.T) {
		s := newStore(t)
		sub := seed(t, s, 1)
		seed(t, s, 1)

		ok, err := s.Transition(ctx, Transition{ID: sub.ID, From: subscription.StateActive, To: subscription.StateActive, At: testNow, FailureCount: ptrInt(2)})
		require.NoError(t, err)
		require.True(t, ok)

		failing, err := s.FailingSubscriptions(ctx)
		require.NoError(t, err)
		require.Len(t, failing, 1)
		assert.Equal(t, sub.ID, failing[0].ID)

		n, err := s.AdjustSku(ctx, "TEA-1", "TEA-2")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, "TEA-2", got.Items[0].VariantSKU)
	})

	t.Run("upcoming renewals", func(t *testing.T) {
		s := newStore(t)
		sub := seed(t, s, 1)

		next := testNow.Add(24 * time.Hour)
		ok, err := s.Transition(ctx, Transition{ID: sub.ID, From: subscription.StateActive, To: subscription.StateActive, At: testNow, NextRenewalAt: &next})
		require.NoError(t, err)
		require.True(t, ok)

		subs, err := s.UpcomingRenewals(ctx, testNow.Add(23*time.Hour), testNow.Add(25*time.Hour))
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, sub.ID, subs[0].ID)

		subs, err = s.UpcomingRenewals(ctx, testNow.Add(48*time.Hour), testNow.Add(50*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreListByTelegramID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub := newSubscription(1)
	sub.User = models.User{ID: 1, TelegramID: 42}
	require.NoError(t, s.CreateSubscription(ctx, sub, 0))

	other := newSubscription(2)
	other.User = models.User{ID: 2, TelegramID: 7}
	require.NoError(t, s.CreateSubscription(ctx, other, 0))

	subs, err := s.ListByTelegramID(ctx, 42)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub.ID, subs[0].ID)
}
