package renewal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"recurring-orders/internal/models"
	"recurring-orders/internal/queue"
	"recurring-orders/internal/store"
	"recurring-orders/internal/subscription"
)

var (
	// ErrOrderNotComplete is returned when subscriptions are requested for an unpaid order.
	ErrOrderNotComplete = errors.New("order is not complete")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// Service is the operation surface used by the admin API and the bot.
type Service struct {
	store  store.Store
	ledger *Ledger
	queue  queue.Queue
	log    *zap.Logger
	now    func() time.Time
}

func NewService(s store.Store, ledger *Ledger, q queue.Queue, log *zap.Logger) *Service {
	return &Service{store: s, ledger: ledger, queue: q, log: log, now: time.Now}
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

func (s *Service) ListForTelegramUser(ctx context.Context, telegramID int64) ([]models.Subscription, error) {
	return s.store.ListByTelegramID(ctx, telegramID)
}

func (s *Service) Skip(ctx context.Context, id uint) (*models.SubscriptionSkip, error) {
	skip, err := s.ledger.RequestSkip(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("renewal skip requested", zap.Uint("subscription_id", id), zap.Time("skip_at", skip.SkipAt))
	return skip, nil
}

func (s *Service) UndoSkip(ctx context.Context, id uint) error {
	if err := s.ledger.UndoSkip(ctx, id); err != nil {
		return err
	}
	s.log.Info("renewal skip undone", zap.Uint("subscription_id", id))
	return nil
}

// Cancel moves the subscription to cancelled from any live state. Cancelling a
// cancelled subscription succeeds without changes.
func (s *Service) Cancel(ctx context.Context, id uint) error {
	for attempt := 0; attempt < 3; attempt++ {
		sub, err := s.store.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		if sub.State == subscription.StateCancelled {
			return nil
		}
		to, err := subscription.Next(sub.State, subscription.EventCancel, sub.Facts())
		if err != nil {
			return err
		}
		ok, err := s.store.Transition(ctx, store.Transition{
			ID: id, From: sub.State, To: to, ClaimToken: sub.ClaimToken, At: s.now(),
		})
		if err != nil {
			return err
		}
		if ok {
			s.log.Info("subscription cancelled", zap.Uint("subscription_id", id), zap.String("from", string(sub.State)))
			return nil
		}
		// state moved under us, read it again
	}
	return fmt.Errorf("cancel subscription %d: state kept changing", id)
}

// Renew queues an immediate renewal that ignores the due date. The result of
// the attempt reaches the subscriber through the notifier.
func (s *Service) Renew(ctx context.Context, id uint) (queue.Task, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return queue.Task{}, err
	}
	if sub.State != subscription.StateRenewing {
		if _, err := subscription.Next(sub.State, subscription.EventStartRenewal, sub.Facts()); err != nil {
			return queue.Task{}, err
		}
	}

	task := queue.NewTask(queue.TypeRenew, id, true)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return queue.Task{}, err
	}
	s.log.Info("renewal requested", zap.Uint("subscription_id", id), zap.String("task_id", task.ID))
	return task, nil
}

// Pause stops renewals until resumeAt; the scheduler resumes the subscription then.
func (s *Service) Pause(ctx context.Context, id uint, resumeAt time.Time) error {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	facts := sub.Facts()
	if !resumeAt.IsZero() {
		facts.ResumeAt = &resumeAt
	} else {
		facts.ResumeAt = nil
	}
	to, err := subscription.Next(sub.State, subscription.EventPause, facts)
	if err != nil {
		return err
	}
	ok, err := s.store.Transition(ctx, store.Transition{
		ID: id, From: sub.State, To: to, At: s.now(), ResumeAt: facts.ResumeAt,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: subscription %d changed state", subscription.ErrIllegalTransition, id)
	}
	s.log.Info("subscription paused", zap.Uint("subscription_id", id), zap.Time("resume_at", resumeAt))
	return nil
}

// ReplaceCreditCard attaches a new payment instrument and clears the failure count.
func (s *Service) ReplaceCreditCard(ctx context.Context, id uint, card *models.CreditCard) error {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	if sub.State == subscription.StateCancelled {
		return subscription.ErrTerminal
	}
	if card.GatewayToken == "" {
		return fmt.Errorf("%w: credit card token is required", ErrInvalidArgument)
	}
	if err := s.store.ReplaceCreditCard(ctx, id, card); err != nil {
		return err
	}
	s.log.Info("credit card replaced", zap.Uint("subscription_id", id), zap.String("last_digits", card.LastDigits))
	return nil
}

// Failures lists live subscriptions with failed renewals, most recently renewed first.
func (s *Service) Failures(ctx context.Context) ([]models.Subscription, error) {
	return s.store.FailingSubscriptions(ctx)
}

// AdjustSku rewrites the variant of every subscription item pointing at oldSku.
func (s *Service) AdjustSku(ctx context.Context, oldSku, newSku string) (int64, error) {
	oldSku, newSku = strings.TrimSpace(oldSku), strings.TrimSpace(newSku)
	if oldSku == "" || newSku == "" {
		return 0, fmt.Errorf("%w: both skus are required", ErrInvalidArgument)
	}
	n, err := s.store.AdjustSku(ctx, oldSku, newSku)
	if err != nil {
		return 0, err
	}
	s.log.Info("sku adjusted", zap.String("old_sku", oldSku), zap.String("new_sku", newSku), zap.Int64("items", n))
	return n, nil
}

// RequestSubscriptions queues subscription creation for a completed checkout order.
func (s *Service) RequestSubscriptions(ctx context.Context, orderID uint) (queue.Task, error) {
	task := queue.NewTask(queue.TypeCreateSubscription, orderID, false)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return queue.Task{}, err
	}
	return task, nil
}

// CreateFromOrder starts one subscription per distinct renewal interval among the
// order's subscribable line items. The order becomes the subscriptions' first
// completed order. Repeated calls for the same order return the existing subscriptions.
func (s *Service) CreateFromOrder(ctx context.Context, orderID uint) ([]uint, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Complete() {
		return nil, ErrOrderNotComplete
	}
	if order.RepeatOrder {
		// renewal orders belong to the subscription that generated them
		return nil, nil
	}
	existing, err := s.store.SubscriptionIDsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}
	if order.BillAddressID == nil || order.ShipAddressID == nil {
		return nil, fmt.Errorf("order %d has no addresses", orderID)
	}

	byInterval := make(map[int][]models.SubscriptionItem)
	for _, li := range order.LineItems {
		if li.Interval <= 0 || !li.Subscribable {
			continue
		}
		byInterval[li.Interval] = append(byInterval[li.Interval], models.SubscriptionItem{
			VariantSKU: li.VariantSKU,
			Quantity:   li.Quantity,
			Price:      li.Price,
		})
	}
	intervals := make([]int, 0, len(byInterval))
	for interval := range byInterval {
		intervals = append(intervals, interval)
	}
	sort.Ints(intervals)

	now := s.now()
	last := now
	if order.CompletedAt != nil {
		last = *order.CompletedAt
	}

	var ids []uint
	for _, interval := range intervals {
		next := subscription.NextRenewal(last, interval, now)
		lastRenewal := last
		sub := &models.Subscription{
			UserID:        order.UserID,
			Email:         order.Email,
			State:         subscription.StateActive,
			Interval:      interval,
			Currency:      order.Currency,
			LastRenewalAt: &lastRenewal,
			NextRenewalAt: &next,
			CreditCardID:  order.CreditCardID,
			BillAddressID: *order.BillAddressID,
			ShipAddressID: *order.ShipAddressID,
			Items:         byInterval[interval],
		}
		if err := s.store.CreateSubscription(ctx, sub, order.ID); err != nil {
			return ids, fmt.Errorf("create subscription for interval %d: %w", interval, err)
		}
		s.log.Info("subscription created",
			zap.Uint("subscription_id", sub.ID), zap.Uint("order_id", order.ID), zap.Int("interval", interval))
		ids = append(ids, sub.ID)
	}
	return ids, nil
}
