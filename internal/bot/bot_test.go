package bot

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"recurring-orders/internal/models"
	"recurring-orders/internal/payment"
	"recurring-orders/internal/queue"
	"recurring-orders/internal/renewal"
	"recurring-orders/internal/store"
	"recurring-orders/internal/subscription"
)

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, queue.Task) error { return nil }

type fakeLinker struct {
	metadata map[string]string
	err      error
}

func (f *fakeLinker) CreatePayment(_ context.Context, amount, currency, _, _ string, metadata map[string]string) (*payment.PaymentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.metadata = metadata
	resp := &payment.PaymentResponse{ID: "pay_1", Amount: payment.Amount{Value: amount, Currency: currency}}
	resp.Confirmation.ConfirmationURL = "https://yoomoney.ru/checkout/pay_1"
	return resp, nil
}

func newTestBot(t *testing.T) (*Bot, *store.MemoryStore, *fakeLinker) {
	t.Helper()
	log := zaptest.NewLogger(t)
	s := store.NewMemoryStore()
	svc := renewal.NewService(s, renewal.NewLedger(s), nopQueue{}, log)
	linker := &fakeLinker{}
	return &Bot{Subscriptions: svc, Cards: linker, Currency: "RUB", log: log}, s, linker
}

func seedFor(t *testing.T, s *store.MemoryStore, telegramID int64) *models.Subscription {
	t.Helper()
	next := time.Now().Add(72 * time.Hour)
	sub := &models.Subscription{
		UserID:        uint(telegramID),
		User:          models.User{ID: uint(telegramID), TelegramID: telegramID},
		State:         subscription.StateActive,
		Interval:      1,
		Currency:      "RUB",
		NextRenewalAt: &next,
		Items:         []models.SubscriptionItem{{VariantSKU: "TEA", Quantity: 1, Price: decimal.NewFromInt(450)}},
	}
	require.NoError(t, s.CreateSubscription(context.Background(), sub, 0))
	return sub
}

func TestReplyListsSubscriptions(t *testing.T) {
	b, s, _ := newTestBot(t)
	ctx := context.Background()

	assert.Contains(t, b.reply(ctx, 42, "/subscriptions"), "нет подписок")

	sub := seedFor(t, s, 42)
	seedFor(t, s, 7)
	out := b.reply(ctx, 42, "/subscriptions@renewal_bot")
	assert.Contains(t, out, "#"+itoa(sub.ID))
	assert.Contains(t, out, "450.00 RUB")
	assert.Contains(t, out, "активна")
}

func TestReplySkipFlow(t *testing.T) {
	b, s, _ := newTestBot(t)
	ctx := context.Background()
	sub := seedFor(t, s, 42)
	id := itoa(sub.ID)

	assert.Contains(t, b.reply(ctx, 42, "/skip"), "Укажите номер")
	assert.Contains(t, b.reply(ctx, 42, "/skip abc"), "Некорректный")
	assert.Contains(t, b.reply(ctx, 42, "/undoskip "+id), "Пропусков нет")
	assert.Contains(t, b.reply(ctx, 42, "/skip "+id), "будет пропущен")
	assert.Contains(t, b.reply(ctx, 42, "/skip "+id), "уже пропущен")
	assert.Contains(t, b.reply(ctx, 42, "/subscriptions"), "(пропуск)")
	assert.Contains(t, b.reply(ctx, 42, "/undoskip "+id), "Пропуск отменён")
}

func TestReplyRejectsForeignSubscriptions(t *testing.T) {
	b, s, _ := newTestBot(t)
	ctx := context.Background()
	foreign := seedFor(t, s, 7)

	assert.Contains(t, b.reply(ctx, 42, "/cancel "+itoa(foreign.ID)), "не найдена")

	got, err := s.GetSubscription(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StateActive, got.State)
}

func TestReplyCancel(t *testing.T) {
	b, s, _ := newTestBot(t)
	ctx := context.Background()
	sub := seedFor(t, s, 42)

	assert.Contains(t, b.reply(ctx, 42, "/cancel "+itoa(sub.ID)), "отменена")
	assert.Contains(t, b.reply(ctx, 42, "/skip "+itoa(sub.ID)), "уже отменена")
}

func TestReplyCardLink(t *testing.T) {
	b, s, linker := newTestBot(t)
	ctx := context.Background()
	sub := seedFor(t, s, 42)

	out := b.reply(ctx, 42, "/card "+itoa(sub.ID))
	assert.Contains(t, out, "https://yoomoney.ru/checkout/pay_1")
	assert.Equal(t, itoa(sub.ID), linker.metadata["subscription_id"])
	assert.Equal(t, "42", linker.metadata["telegram_id"])

	linker.err = errors.New("boom")
	assert.Contains(t, b.reply(ctx, 42, "/card "+itoa(sub.ID)), "Ошибка при создании платежа")

	b.Cards = nil
	assert.Contains(t, b.reply(ctx, 42, "/card "+itoa(sub.ID)), "недоступна")
}

func TestReplyHelp(t *testing.T) {
	b, _, _ := newTestBot(t)
	assert.Equal(t, helpText, b.reply(context.Background(), 42, "/start"))
	assert.Equal(t, helpText, b.reply(context.Background(), 42, "   "))
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
