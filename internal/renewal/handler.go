package renewal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"recurring-orders/internal/orders"
	"recurring-orders/internal/queue"
)

// NewTaskHandler routes queued tasks to the processor and the service.
// Failures already handled by the renewal flow are acknowledged, not retried.
func NewTaskHandler(p *Processor, svc *Service, log *zap.Logger) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		switch task.Type {
		case queue.TypeRenew:
			res, err := p.Process(ctx, Request{
				SubscriptionID: task.TargetID,
				IssuedAt:       task.IssuedAt,
				Force:          task.Force,
			})
			switch {
			case errors.Is(err, orders.ErrOrderCreationFailed), errors.Is(err, ErrAlreadyTerminal), errors.Is(err, ErrClaimLost):
				return nil
			case err != nil:
				return err
			}
			log.Debug("renew task done",
				zap.String("task_id", task.ID), zap.Uint("subscription_id", task.TargetID), zap.String("outcome", string(res.Outcome)))
			return nil

		case queue.TypeCreateSubscription:
			ids, err := svc.CreateFromOrder(ctx, task.TargetID)
			if err != nil {
				return err
			}
			log.Debug("create_subscription task done", zap.Uint("order_id", task.TargetID), zap.Uints("subscription_ids", ids))
			return nil
		}
		return fmt.Errorf("unknown task type %q", task.Type)
	}
}
