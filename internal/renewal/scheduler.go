package renewal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"recurring-orders/internal/queue"
	"recurring-orders/internal/store"
	"recurring-orders/internal/subscription"
)

// Scheduler selects subscriptions that need work and hands them to the queue.
type Scheduler struct {
	store   store.Store
	policy  subscription.FailurePolicy
	queue   queue.Queue
	metrics *Metrics
	log     *zap.Logger
}

func NewScheduler(s store.Store, policy subscription.FailurePolicy, q queue.Queue, m *Metrics, log *zap.Logger) *Scheduler {
	return &Scheduler{store: s, policy: policy, queue: q, metrics: m, log: log}
}

// SelectDue returns the subscriptions whose renewal is due at now.
func (s *Scheduler) SelectDue(ctx context.Context, now time.Time) ([]uint, error) {
	return s.store.DueSubscriptionIDs(ctx, now, s.policy.Limit())
}

// SelectReadyToResume returns paused subscriptions whose resume date has come.
func (s *Scheduler) SelectReadyToResume(ctx context.Context, now time.Time) ([]uint, error) {
	return s.store.ResumableSubscriptionIDs(ctx, now)
}

// Dispatch enqueues one renew task per due subscription. A failed enqueue is
// logged and the subscription is picked up again by the next pass.
func (s *Scheduler) Dispatch(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.SelectDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("select due subscriptions: %w", err)
	}

	n := 0
	for _, id := range ids {
		if err := s.queue.Enqueue(ctx, queue.NewTask(queue.TypeRenew, id, false)); err != nil {
			s.log.Error("failed to enqueue renewal", zap.Uint("subscription_id", id), zap.Error(err))
			continue
		}
		n++
	}
	s.metrics.Dispatched.Add(float64(n))
	return n, nil
}

// ResumeReady moves paused subscriptions past their resume date back to active.
// Their next renewal keeps its own schedule.
func (s *Scheduler) ResumeReady(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.SelectReadyToResume(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("select resumable subscriptions: %w", err)
	}

	n := 0
	for _, id := range ids {
		to, err := subscription.Next(subscription.StatePaused, subscription.EventResume, subscription.Facts{})
		if err != nil {
			return n, err
		}
		ok, err := s.store.Transition(ctx, store.Transition{ID: id, From: subscription.StatePaused, To: to, At: now})
		if err != nil {
			s.log.Error("failed to resume subscription", zap.Uint("subscription_id", id), zap.Error(err))
			continue
		}
		if !ok {
			// cancelled or resumed by someone else in the meantime
			continue
		}
		s.log.Info("subscription resumed", zap.Uint("subscription_id", id))
		n++
	}
	s.metrics.Resumed.Add(float64(n))
	return n, nil
}
