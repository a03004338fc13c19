package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"recurring-orders/internal/models"
)

// ErrOrderCreationFailed marks structural problems with a subscription that no
// payment retry can fix: missing items, instrument or addresses.
var ErrOrderCreationFailed = errors.New("order creation failed")

// Writer persists generated orders.
type Writer interface {
	CreateOrder(ctx context.Context, order *models.Order, subscriptionID uint) error
}

// Builder turns a subscription's item snapshot into a cart-state renewal order.
type Builder struct {
	orders Writer
}

func NewBuilder(orders Writer) *Builder {
	return &Builder{orders: orders}
}

func (b *Builder) Build(ctx context.Context, sub *models.Subscription) (*models.Order, error) {
	if err := validate(sub); err != nil {
		return nil, err
	}

	billID, shipID := sub.BillAddressID, sub.ShipAddressID
	order := &models.Order{
		Number:        uuid.NewString(),
		UserID:        sub.UserID,
		Email:         sub.Email,
		State:         models.OrderStateCart,
		Channel:       models.ChannelSubscription,
		RepeatOrder:   true,
		Currency:      sub.Currency,
		Total:         sub.Total(),
		BillAddressID: &billID,
		ShipAddressID: &shipID,
	}
	for _, item := range sub.Items {
		order.LineItems = append(order.LineItems, models.LineItem{
			VariantSKU:   item.VariantSKU,
			Quantity:     item.Quantity,
			Price:        item.Price,
			Interval:     sub.Interval,
			Subscribable: true,
		})
	}

	if err := b.orders.CreateOrder(ctx, order, sub.ID); err != nil {
		return nil, fmt.Errorf("save renewal order for subscription %d: %w", sub.ID, err)
	}
	order.BillAddress = &sub.BillAddress
	order.ShipAddress = &sub.ShipAddress
	return order, nil
}

func validate(sub *models.Subscription) error {
	if len(sub.Items) == 0 {
		return fmt.Errorf("%w: subscription %d has no items", ErrOrderCreationFailed, sub.ID)
	}
	for _, item := range sub.Items {
		if item.VariantSKU == "" || item.Quantity <= 0 {
			return fmt.Errorf("%w: subscription %d has invalid item %d", ErrOrderCreationFailed, sub.ID, item.ID)
		}
		if item.Price.IsNegative() {
			return fmt.Errorf("%w: subscription %d item %s has negative price", ErrOrderCreationFailed, sub.ID, item.VariantSKU)
		}
	}
	if sub.CreditCard == nil || sub.CreditCard.GatewayToken == "" {
		return fmt.Errorf("%w: subscription %d has no payment instrument", ErrOrderCreationFailed, sub.ID)
	}
	if sub.BillAddressID == 0 || sub.ShipAddressID == 0 {
		return fmt.Errorf("%w: subscription %d has no addresses", ErrOrderCreationFailed, sub.ID)
	}
	return nil
}
