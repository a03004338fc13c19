package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mymmrac/telego"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"recurring-orders/internal/models"
)

type fakeSender struct {
	sent []*telego.SendMessageParams
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	return &telego.Message{}, nil
}

func newTelegram(t *testing.T, sender *fakeSender) (*Telegram, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewTelegram(sender, rdb, -100, zaptest.NewLogger(t)), mr
}

func testSubscription() *models.Subscription {
	next := time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)
	attempt := time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)
	return &models.Subscription{
		ID:            3,
		User:          models.User{TelegramID: 42},
		Currency:      "RUB",
		FailureCount:  2,
		NextRenewalAt: &next,
		LastAttemptAt: &attempt,
		Items:         []models.SubscriptionItem{{VariantSKU: "TEA-1", Quantity: 1, Price: decimal.NewFromInt(500)}},
	}
}

func TestRenewalFailureSentOncePerAttempt(t *testing.T) {
	sender := &fakeSender{}
	n, _ := newTelegram(t, sender)
	ctx := context.Background()
	sub := testSubscription()

	require.NoError(t, n.NotifyRenewalFailure(ctx, sub, "insufficient_funds"))
	require.NoError(t, n.NotifyRenewalFailure(ctx, sub, "insufficient_funds"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].ChatID.ID)
	assert.Contains(t, sender.sent[0].Text, "insufficient_funds")

	next := sub.LastAttemptAt.AddDate(0, 1, 0)
	sub.LastAttemptAt = &next
	sub.FailureCount = 3
	require.NoError(t, n.NotifyRenewalFailure(ctx, sub, "insufficient_funds"))
	assert.Len(t, sender.sent, 2)
}

func TestRenewalFailureAfterCountReset(t *testing.T) {
	sender := &fakeSender{}
	n, _ := newTelegram(t, sender)
	ctx := context.Background()

	// first failure, then a new card resets the count and the next attempt fails again
	sub := testSubscription()
	sub.FailureCount = 1
	require.NoError(t, n.NotifyRenewalFailure(ctx, sub, "insufficient_funds"))

	retry := sub.LastAttemptAt.Add(6 * time.Hour)
	sub.LastAttemptAt = &retry
	sub.FailureCount = 1
	require.NoError(t, n.NotifyRenewalFailure(ctx, sub, "card_declined"))

	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[1].Text, "card_declined")
}

func TestUpcomingRenewalDedupKey(t *testing.T) {
	sender := &fakeSender{}
	n, mr := newTelegram(t, sender)
	ctx := context.Background()

	require.NoError(t, n.NotifyUpcomingRenewal(ctx, testSubscription()))
	require.NoError(t, n.NotifyUpcomingRenewal(ctx, testSubscription()))
	assert.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Text, "500.00 RUB")
	assert.Contains(t, sender.sent[0].Text, "16.10.2026")
	assert.True(t, mr.Exists("notified_upcoming_3_2026-10-16"))
	assert.Equal(t, dedupTTL, mr.TTL("notified_upcoming_3_2026-10-16"))
}

func TestEscalationGoesToAdminChat(t *testing.T) {
	sender := &fakeSender{}
	n, _ := newTelegram(t, sender)

	sub := testSubscription()
	sub.StructuralFailureCount = 3
	require.NoError(t, n.EscalateToOperator(context.Background(), sub, "no payment instrument"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(-100), sender.sent[0].ChatID.ID)
}

func TestFailedSendReleasesKey(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	n, mr := newTelegram(t, sender)

	err := n.NotifyRenewalFailure(context.Background(), testSubscription(), "card_declined")
	require.Error(t, err)
	assert.False(t, mr.Exists(failureKey(testSubscription())))

	sender.err = nil
	require.NoError(t, n.NotifyRenewalFailure(context.Background(), testSubscription(), "card_declined"))
	assert.Len(t, sender.sent, 1)
}
