package renewal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recurring-orders/internal/fulfillment"
	"recurring-orders/internal/models"
	"recurring-orders/internal/notify"
	"recurring-orders/internal/orders"
	"recurring-orders/internal/payment"
	"recurring-orders/internal/store"
	"recurring-orders/internal/subscription"
)

var (
	// ErrAlreadyTerminal is returned for cancelled subscriptions that reached the processor.
	ErrAlreadyTerminal = errors.New("subscription is already cancelled")
	// ErrClaimLost means the watchdog released the claim while the attempt was running.
	ErrClaimLost = errors.New("renewal claim lost")
)

type Outcome string

const (
	OutcomeRenewed    Outcome = "renewed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeInProgress Outcome = "in_progress"
	// OutcomeNoop covers attempts that changed nothing: not due, duplicate
	// delivery, paused, or an order that could not be built.
	OutcomeNoop Outcome = "noop"
)

type Result struct {
	Outcome      Outcome
	Reason       string
	OrderID      uint
	FailureCount int
}

// Request identifies one renewal task.
type Request struct {
	SubscriptionID uint
	// IssuedAt is when the task was created. Attempts recorded at or after it
	// mean the task is a redelivery and must not charge again.
	IssuedAt time.Time
	// Force bypasses the due date, not the skip or state checks.
	Force bool
}

type OrderBuilder interface {
	Build(ctx context.Context, sub *models.Subscription) (*models.Order, error)
}

type Fulfiller interface {
	Submit(ctx context.Context, order *models.Order) (*fulfillment.ShipmentResponse, error)
}

// Processor runs single renewal attempts. The only serialization point is the
// claim: the compare-and-set from active to renewing.
type Processor struct {
	Store    store.Store
	Ledger   *Ledger
	Orders   OrderBuilder
	Gateway  payment.Gateway
	Notifier notify.Notifier
	// Fulfillment is optional; paid orders are handed off when it is set.
	Fulfillment Fulfiller
	Policy      subscription.FailurePolicy

	ChargeTimeout time.Duration
	// EscalateAfter is the number of consecutive structural failures after
	// which an operator is alerted, and again every time the count is a multiple of it.
	EscalateAfter int

	Metrics *Metrics
	Log     *zap.Logger

	now func() time.Time
}

func NewProcessor(s store.Store, ledger *Ledger, builder OrderBuilder, gw payment.Gateway, n notify.Notifier, policy subscription.FailurePolicy, m *Metrics, log *zap.Logger) *Processor {
	return &Processor{
		Store:         s,
		Ledger:        ledger,
		Orders:        builder,
		Gateway:       gw,
		Notifier:      n,
		Policy:        policy,
		ChargeTimeout: 30 * time.Second,
		EscalateAfter: 3,
		Metrics:       m,
		Log:           log,
		now:           time.Now,
	}
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	res, err := p.process(ctx, req)
	p.Metrics.Outcomes.WithLabelValues(string(res.Outcome)).Inc()
	return res, err
}

func (p *Processor) process(ctx context.Context, req Request) (Result, error) {
	log := p.Log.With(zap.Uint("subscription_id", req.SubscriptionID))

	sub, err := p.Store.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return Result{Outcome: OutcomeNoop}, err
	}
	switch sub.State {
	case subscription.StateCancelled:
		log.Warn("cancelled subscription reached the renewal processor")
		return Result{Outcome: OutcomeNoop}, ErrAlreadyTerminal
	case subscription.StateRenewing:
		return Result{Outcome: OutcomeInProgress}, nil
	case subscription.StatePaused:
		log.Warn("paused subscription reached the renewal processor")
		return Result{Outcome: OutcomeNoop, Reason: "paused"}, nil
	}

	now := p.now()
	if reason := p.inapplicable(sub, req, now); reason != "" {
		log.Debug("renewal request ignored", zap.String("reason", reason))
		return Result{Outcome: OutcomeNoop, Reason: reason}, nil
	}

	to, err := subscription.Next(sub.State, subscription.EventStartRenewal, sub.Facts())
	if err != nil {
		return Result{Outcome: OutcomeNoop}, err
	}
	token := uuid.NewString()
	claimed, err := p.Store.Transition(ctx, store.Transition{
		ID: sub.ID, From: sub.State, To: to, NewClaim: token, At: now,
	})
	if err != nil {
		return Result{Outcome: OutcomeNoop}, err
	}
	if !claimed {
		return Result{Outcome: OutcomeInProgress}, nil
	}

	// reload under the claim, the first read may predate a concurrent attempt
	sub, err = p.Store.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return Result{Outcome: OutcomeNoop}, err
	}
	if sub.ClaimToken != token {
		return Result{Outcome: OutcomeNoop}, ErrClaimLost
	}
	if reason := p.inapplicable(sub, req, now); reason != "" {
		if err := p.finish(ctx, sub, token, subscription.EventRelease, store.Transition{}); err != nil {
			return Result{Outcome: OutcomeNoop}, err
		}
		return Result{Outcome: OutcomeNoop, Reason: reason}, nil
	}

	if sub.ActiveSkip() != nil {
		return p.skip(ctx, sub, token, now)
	}

	order, err := p.Orders.Build(ctx, sub)
	if err != nil {
		if errors.Is(err, orders.ErrOrderCreationFailed) {
			return p.structuralFailure(ctx, sub, token, now, err)
		}
		if relErr := p.finish(ctx, sub, token, subscription.EventRelease, store.Transition{}); relErr != nil {
			log.Error("failed to release claim", zap.Error(relErr))
		}
		return Result{Outcome: OutcomeNoop}, fmt.Errorf("build renewal order: %w", err)
	}

	receipt, chargeErr := p.charge(ctx, sub, order)
	p.recordPayment(ctx, sub, order, receipt, chargeErr)

	if chargeErr != nil {
		return p.paymentFailure(ctx, sub, token, now, order, chargeErr)
	}
	return p.paymentSuccess(ctx, sub, token, now, order)
}

// inapplicable explains why a request should not renew sub now, or returns "".
func (p *Processor) inapplicable(sub *models.Subscription, req Request, now time.Time) string {
	if sub.LastAttemptAt != nil && !req.IssuedAt.IsZero() && !sub.LastAttemptAt.Before(req.IssuedAt) {
		return "duplicate"
	}
	if req.Force {
		return ""
	}
	if !p.Policy.InGoodStanding(sub.FailureCount) {
		return "bad_standing"
	}
	if sub.PrepaidPeriodsRemaining > 0 {
		return "prepaid"
	}
	if sub.NextRenewalAt == nil || sub.NextRenewalAt.After(now) {
		return "not_due"
	}
	return ""
}

func (p *Processor) skip(ctx context.Context, sub *models.Subscription, token string, now time.Time) (Result, error) {
	if err := p.Ledger.Consume(ctx, sub.ID); err != nil && !errors.Is(err, subscription.ErrNoActiveSkip) {
		if relErr := p.finish(ctx, sub, token, subscription.EventRelease, store.Transition{}); relErr != nil {
			p.Log.Error("failed to release claim", zap.Uint("subscription_id", sub.ID), zap.Error(relErr))
		}
		return Result{Outcome: OutcomeNoop}, fmt.Errorf("consume skip: %w", err)
	}

	// the skipped date stands in for a renewal so next stays one interval past last
	base := now
	if sub.NextRenewalAt != nil {
		base = *sub.NextRenewalAt
	}
	next := subscription.NextRenewal(base, sub.Interval, now)
	err := p.finish(ctx, sub, token, subscription.EventRelease, store.Transition{
		LastRenewalAt: &base,
		NextRenewalAt: &next,
		LastAttemptAt: &now,
	})
	if err != nil {
		return Result{Outcome: OutcomeNoop}, err
	}

	p.Log.Info("renewal skipped", zap.Uint("subscription_id", sub.ID), zap.Time("next_renewal_at", next))
	return Result{Outcome: OutcomeSkipped, FailureCount: sub.FailureCount}, nil
}

func (p *Processor) structuralFailure(ctx context.Context, sub *models.Subscription, token string, now time.Time, cause error) (Result, error) {
	count := sub.StructuralFailureCount + 1
	err := p.finish(ctx, sub, token, subscription.EventRelease, store.Transition{
		StructuralFailureCount: &count,
		LastAttemptAt:          &now,
	})
	if err != nil {
		return Result{Outcome: OutcomeNoop}, err
	}

	p.Log.Error("renewal order could not be built",
		zap.Uint("subscription_id", sub.ID), zap.Int("structural_failures", count), zap.Error(cause))
	if p.EscalateAfter > 0 && count%p.EscalateAfter == 0 {
		sub.StructuralFailureCount = count
		if err := p.Notifier.EscalateToOperator(ctx, sub, cause.Error()); err != nil {
			p.Log.Error("failed to escalate", zap.Uint("subscription_id", sub.ID), zap.Error(err))
		}
	}
	return Result{Outcome: OutcomeNoop, Reason: cause.Error(), FailureCount: sub.FailureCount}, cause
}

func (p *Processor) charge(ctx context.Context, sub *models.Subscription, order *models.Order) (*payment.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, p.ChargeTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := p.Gateway.Charge(ctx, payment.ChargeRequest{
		Amount:         order.Total,
		Currency:       order.Currency,
		Token:          sub.CreditCard.GatewayToken,
		Customer:       sub.CreditCard.GatewayCustomer,
		IdempotencyKey: order.Number,
		Description:    fmt.Sprintf("Subscription #%d renewal", sub.ID),
		Metadata: map[string]string{
			"subscription_id": strconv.FormatUint(uint64(sub.ID), 10),
			"order_number":    order.Number,
		},
	})
	status := "succeeded"
	if err != nil {
		status = payment.FailureReason(err)
	}
	p.Metrics.ChargeDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return receipt, err
}

func (p *Processor) recordPayment(ctx context.Context, sub *models.Subscription, order *models.Order, receipt *payment.Receipt, chargeErr error) {
	rec := &models.Payment{
		OrderID:        order.ID,
		SubscriptionID: sub.ID,
		CreditCardID:   sub.CreditCardID,
		Amount:         order.Total,
		Status:         models.PaymentStatusSucceeded,
	}
	if receipt != nil {
		rec.Provider = receipt.Provider
		rec.TransactionID = receipt.TransactionID
	}
	if chargeErr != nil {
		rec.Status = models.PaymentStatusFailed
		rec.FailureReason = chargeErr.Error()
	}
	if err := p.Store.CreatePayment(ctx, rec); err != nil {
		p.Log.Error("failed to record payment", zap.Uint("order_id", order.ID), zap.Error(err))
	}
}

func (p *Processor) paymentSuccess(ctx context.Context, sub *models.Subscription, token string, now time.Time, order *models.Order) (Result, error) {
	if err := p.Store.UpdateOrderState(ctx, order.ID, models.OrderStateComplete, &now); err != nil {
		p.Log.Error("failed to complete order", zap.Uint("order_id", order.ID), zap.Error(err))
	}

	decision := p.Policy.Apply(sub.FailureCount, subscription.OutcomeSuccess)
	next := subscription.NextRenewal(now, sub.Interval, now)
	zero := 0
	err := p.finish(ctx, sub, token, decision.Event(subscription.OutcomeSuccess), store.Transition{
		FailureCount:           &decision.FailureCount,
		StructuralFailureCount: &zero,
		LastRenewalAt:          &now,
		NextRenewalAt:          &next,
		LastAttemptAt:          &now,
	})
	if err != nil {
		return Result{Outcome: OutcomeRenewed, OrderID: order.ID}, err
	}

	p.Log.Info("subscription renewed",
		zap.Uint("subscription_id", sub.ID), zap.Uint("order_id", order.ID), zap.Time("next_renewal_at", next))

	if p.Fulfillment != nil {
		order.State = models.OrderStateComplete
		if _, err := p.Fulfillment.Submit(ctx, order); err != nil {
			p.Log.Error("fulfillment hand-off failed", zap.Uint("order_id", order.ID), zap.Error(err))
		}
	}
	return Result{Outcome: OutcomeRenewed, OrderID: order.ID}, nil
}

func (p *Processor) paymentFailure(ctx context.Context, sub *models.Subscription, token string, now time.Time, order *models.Order, chargeErr error) (Result, error) {
	if err := p.Store.UpdateOrderState(ctx, order.ID, models.OrderStateFailed, nil); err != nil {
		p.Log.Error("failed to mark order failed", zap.Uint("order_id", order.ID), zap.Error(err))
	}

	reason := payment.FailureReason(chargeErr)
	res, err := p.fail(ctx, sub, token, now, reason)
	res.OrderID = order.ID
	if err != nil {
		return res, err
	}
	p.Log.Warn("renewal payment failed",
		zap.Uint("subscription_id", sub.ID), zap.Uint("order_id", order.ID),
		zap.String("outcome", string(res.Outcome)), zap.String("reason", reason), zap.Error(chargeErr))
	return res, nil
}

// fail applies the failure policy to a claimed subscription and ends the claim.
// The watchdog uses it for claims that timed out.
func (p *Processor) fail(ctx context.Context, sub *models.Subscription, token string, now time.Time, reason string) (Result, error) {
	decision := p.Policy.Apply(sub.FailureCount, subscription.OutcomeFailure)
	ev := decision.Event(subscription.OutcomeFailure)
	err := p.finish(ctx, sub, token, ev, store.Transition{
		FailureCount:  &decision.FailureCount,
		LastAttemptAt: &now,
	})
	if err != nil {
		return Result{Outcome: OutcomeFailed, Reason: reason}, err
	}

	sub.FailureCount = decision.FailureCount
	sub.LastAttemptAt = &now
	if decision.Hint == subscription.HintCancel {
		return Result{Outcome: OutcomeCancelled, Reason: reason, FailureCount: decision.FailureCount}, nil
	}
	if err := p.Notifier.NotifyRenewalFailure(ctx, sub, reason); err != nil {
		p.Log.Error("failed to notify subscriber", zap.Uint("subscription_id", sub.ID), zap.Error(err))
	}
	return Result{Outcome: OutcomeFailed, Reason: reason, FailureCount: decision.FailureCount}, nil
}

// finish ends the claim held under token by firing ev.
func (p *Processor) finish(ctx context.Context, sub *models.Subscription, token string, ev subscription.Event, t store.Transition) error {
	to, err := subscription.Next(subscription.StateRenewing, ev, sub.Facts())
	if err != nil {
		return err
	}
	t.ID = sub.ID
	t.From = subscription.StateRenewing
	t.To = to
	t.ClaimToken = token
	t.At = p.now()

	// the claim must be released even when the caller gave up
	ok, err := p.Store.Transition(context.WithoutCancel(ctx), t)
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}
