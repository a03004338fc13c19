package notify

import (
	"context"

	"go.uber.org/zap"

	"recurring-orders/internal/models"
)

// Notifier tells subscribers and operators about renewal events.
type Notifier interface {
	NotifyRenewalFailure(ctx context.Context, sub *models.Subscription, reason string) error
	NotifyUpcomingRenewal(ctx context.Context, sub *models.Subscription) error
	EscalateToOperator(ctx context.Context, sub *models.Subscription, reason string) error
}

// Log writes notifications to the log. Used when no bot token is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) NotifyRenewalFailure(_ context.Context, sub *models.Subscription, reason string) error {
	l.log.Info("renewal failure notice",
		zap.Uint("subscription_id", sub.ID), zap.Int("failure_count", sub.FailureCount), zap.String("reason", reason))
	return nil
}

func (l *Log) NotifyUpcomingRenewal(_ context.Context, sub *models.Subscription) error {
	l.log.Info("upcoming renewal notice", zap.Uint("subscription_id", sub.ID), zap.Timep("next_renewal_at", sub.NextRenewalAt))
	return nil
}

func (l *Log) EscalateToOperator(_ context.Context, sub *models.Subscription, reason string) error {
	l.log.Warn("operator escalation",
		zap.Uint("subscription_id", sub.ID), zap.Int("structural_failures", sub.StructuralFailureCount), zap.String("reason", reason))
	return nil
}
