package renewal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"recurring-orders/internal/models"
	"recurring-orders/internal/orders"
	"recurring-orders/internal/payment"
	"recurring-orders/internal/queue"
	"recurring-orders/internal/store"
	"recurring-orders/internal/subscription"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []payment.ChargeRequest
	charge   func(ctx context.Context, req payment.ChargeRequest) (*payment.Receipt, error)
}

func (g *fakeGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Receipt, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	charge := g.charge
	g.mu.Unlock()
	if charge != nil {
		return charge(ctx, req)
	}
	return &payment.Receipt{Provider: "fake", TransactionID: "tx-" + req.IdempotencyKey}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func declineWith(code string) func(context.Context, payment.ChargeRequest) (*payment.Receipt, error) {
	return func(context.Context, payment.ChargeRequest) (*payment.Receipt, error) {
		return nil, &payment.DeclineError{Provider: "fake", Code: code}
	}
}

type notice struct {
	subscriptionID uint
	reason         string
}

type fakeNotifier struct {
	mu          sync.Mutex
	failures    []notice
	attempts    []time.Time
	upcoming    []uint
	escalations []notice
}

func (n *fakeNotifier) NotifyRenewalFailure(_ context.Context, sub *models.Subscription, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, notice{sub.ID, reason})
	if sub.LastAttemptAt != nil {
		n.attempts = append(n.attempts, *sub.LastAttemptAt)
	}
	return nil
}

func (n *fakeNotifier) NotifyUpcomingRenewal(_ context.Context, sub *models.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.upcoming = append(n.upcoming, sub.ID)
	return nil
}

func (n *fakeNotifier) EscalateToOperator(_ context.Context, sub *models.Subscription, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.escalations = append(n.escalations, notice{sub.ID, reason})
	return nil
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (q *fakeQueue) Enqueue(_ context.Context, task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

type fixture struct {
	now       time.Time
	store     *store.MemoryStore
	gateway   *fakeGateway
	notifier  *fakeNotifier
	queue     *fakeQueue
	ledger    *Ledger
	processor *Processor
	scheduler *Scheduler
	watchdog  *Watchdog
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	f := &fixture{
		now:      time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC),
		store:    store.NewMemoryStore(),
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
		queue:    &fakeQueue{},
	}
	clock := func() time.Time { return f.now }
	metrics := NewMetrics()
	policy := subscription.NewFailurePolicy(subscription.DefaultCancellationThreshold)

	f.ledger = NewLedger(f.store)
	f.ledger.now = clock
	f.processor = NewProcessor(f.store, f.ledger, orders.NewBuilder(f.store), f.gateway, f.notifier, policy, metrics, log)
	f.processor.now = clock
	f.scheduler = NewScheduler(f.store, policy, f.queue, metrics, log)
	f.watchdog = NewWatchdog(f.processor, 15*time.Minute)
	f.service = NewService(f.store, f.ledger, f.queue, log)
	f.service.now = clock
	return f
}

// seed stores a due monthly subscription whose first order completed a month ago.
func (f *fixture) seed(t *testing.T, mutate func(sub *models.Subscription)) *models.Subscription {
	t.Helper()
	ctx := context.Background()

	completed := f.now.AddDate(0, -1, 0)
	first := &models.Order{
		Number:      "first",
		UserID:      1,
		State:       models.OrderStateComplete,
		Currency:    "RUB",
		Total:       decimal.RequireFromString("9.00"),
		CompletedAt: &completed,
	}
	require.NoError(t, f.store.CreateOrder(ctx, first, 0))

	next := f.now.Add(-time.Hour)
	sub := &models.Subscription{
		UserID:        1,
		User:          models.User{ID: 1, TelegramID: 42},
		Email:         "buyer@example.com",
		State:         subscription.StateActive,
		Interval:      1,
		Currency:      "RUB",
		LastRenewalAt: &completed,
		NextRenewalAt: &next,
		CreditCard:    &models.CreditCard{UserID: 1, GatewayToken: "pm_1", LastDigits: "4242"},
		BillAddress:   models.Address{UserID: 1, FirstName: "Ann", City: "Berlin", Country: "DE"},
		ShipAddress:   models.Address{UserID: 1, FirstName: "Ann", City: "Berlin", Country: "DE"},
		Items: []models.SubscriptionItem{
			{VariantSKU: "TEA-1", Quantity: 2, Price: decimal.RequireFromString("4.50")},
		},
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, f.store.CreateSubscription(ctx, sub, first.ID))
	return sub
}

func (f *fixture) reload(t *testing.T, id uint) *models.Subscription {
	t.Helper()
	sub, err := f.store.GetSubscription(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (f *fixture) orders(t *testing.T, id uint) []models.Order {
	t.Helper()
	list, err := f.store.ListOrders(context.Background(), id)
	require.NoError(t, err)
	return list
}
