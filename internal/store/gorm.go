package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"recurring-orders/internal/models"
	"recurring-orders/internal/subscription"
)

const completedOrderExists = `EXISTS (
	SELECT 1 FROM order_subscriptions os
	JOIN orders o ON o.id = os.order_id
	WHERE os.subscription_id = subscriptions.id AND o.state = ?)`

// GormStore persists the renewal core through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

func (s *GormStore) GetSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("CreditCard").
		Preload("BillAddress").
		Preload("ShipAddress").
		Preload("Items", orderByID).
		Preload("Skips", orderByID).
		First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription %d: %w", id, err)
	}
	return &sub, nil
}

func (s *GormStore) CreateSubscription(ctx context.Context, sub *models.Subscription, orderID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("User", "CreditCard").Create(sub).Error; err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		if orderID == 0 {
			return nil
		}
		link := models.OrderSubscription{OrderID: orderID, SubscriptionID: sub.ID}
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("link order %d: %w", orderID, err)
		}
		return nil
	})
}

func (s *GormStore) ListByTelegramID(ctx context.Context, telegramID int64) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = subscriptions.user_id").
		Where("users.telegram_id = ?", telegramID).
		Preload("Items", orderByID).
		Preload("Skips", orderByID).
		Order("subscriptions.id").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for telegram user %d: %w", telegramID, err)
	}
	return subs, nil
}

func (s *GormStore) FailingSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("state IN ? AND failure_count > 0", []string{
			string(subscription.StateActive), string(subscription.StateRenewing),
		}).
		Order("last_renewal_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list failing subscriptions: %w", err)
	}
	return subs, nil
}

func (s *GormStore) DueSubscriptionIDs(ctx context.Context, now time.Time, threshold int) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("state = ?", string(subscription.StateActive)).
		Where("interval_months > 0").
		Where("failure_count < ?", threshold).
		Where("prepaid_periods_remaining <= 0").
		Where("next_renewal_at IS NOT NULL AND next_renewal_at <= ?", now).
		Where(completedOrderExists, models.OrderStateComplete).
		Order("next_renewal_at").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("select due subscriptions: %w", err)
	}
	return ids, nil
}

func (s *GormStore) ResumableSubscriptionIDs(ctx context.Context, now time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("state = ? AND resume_at IS NOT NULL AND resume_at <= ?", string(subscription.StatePaused), now).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("select resumable subscriptions: %w", err)
	}
	return ids, nil
}

func (s *GormStore) StaleClaimIDs(ctx context.Context, claimedBefore time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("state = ? AND claimed_at IS NOT NULL AND claimed_at < ?", string(subscription.StateRenewing), claimedBefore).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("select stale claims: %w", err)
	}
	return ids, nil
}

func (s *GormStore) UpcomingRenewals(ctx context.Context, from, to time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("Skips").
		Where("state = ? AND next_renewal_at BETWEEN ? AND ?", string(subscription.StateActive), from, to).
		Order("id").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("select upcoming renewals: %w", err)
	}
	return subs, nil
}

func (s *GormStore) Transition(ctx context.Context, t Transition) (bool, error) {
	updates := map[string]any{
		"state":      string(t.To),
		"updated_at": t.At,
	}
	if t.To == subscription.StateRenewing {
		updates["claim_token"] = t.NewClaim
		updates["claimed_at"] = t.At
	} else {
		updates["claim_token"] = ""
		updates["claimed_at"] = nil
	}
	if t.To == subscription.StatePaused {
		updates["resume_at"] = t.ResumeAt
	} else {
		updates["resume_at"] = nil
	}
	if t.FailureCount != nil {
		updates["failure_count"] = *t.FailureCount
	}
	if t.StructuralFailureCount != nil {
		updates["structural_failure_count"] = *t.StructuralFailureCount
	}
	if t.LastRenewalAt != nil {
		updates["last_renewal_at"] = *t.LastRenewalAt
	}
	if t.NextRenewalAt != nil {
		updates["next_renewal_at"] = *t.NextRenewalAt
	}
	if t.LastAttemptAt != nil {
		updates["last_attempt_at"] = *t.LastAttemptAt
	}

	q := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND state = ?", t.ID, string(t.From))
	if t.From == subscription.StateRenewing {
		q = q.Where("claim_token = ?", t.ClaimToken)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("transition subscription %d %s->%s: %w", t.ID, t.From, t.To, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ReplaceCreditCard(ctx context.Context, subscriptionID uint, card *models.CreditCard) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := tx.Select("id", "user_id").First(&sub, subscriptionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load subscription %d: %w", subscriptionID, err)
		}
		if card.UserID == 0 {
			card.UserID = sub.UserID
		}
		if err := tx.Create(card).Error; err != nil {
			return fmt.Errorf("create credit card: %w", err)
		}
		err := tx.Model(&models.Subscription{}).Where("id = ?", subscriptionID).Updates(map[string]any{
			"credit_card_id": card.ID,
			"failure_count":  0,
		}).Error
		if err != nil {
			return fmt.Errorf("attach credit card: %w", err)
		}
		return nil
	})
}

func (s *GormStore) AdjustSku(ctx context.Context, oldSku, newSku string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.SubscriptionItem{}).
		Where("variant_sku = ?", oldSku).
		Update("variant_sku", newSku)
	if res.Error != nil {
		return 0, fmt.Errorf("adjust sku %s: %w", oldSku, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) ActiveSkip(ctx context.Context, subscriptionID uint) (*models.SubscriptionSkip, error) {
	var skip models.SubscriptionSkip
	err := s.db.WithContext(ctx).
		Where("subscription_id = ? AND undo_at IS NULL AND renewed_at IS NULL", subscriptionID).
		Order("id DESC").
		First(&skip).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active skip: %w", err)
	}
	return &skip, nil
}

func (s *GormStore) CreateSkip(ctx context.Context, skip *models.SubscriptionSkip) error {
	if err := s.db.WithContext(ctx).Create(skip).Error; err != nil {
		return fmt.Errorf("create skip: %w", err)
	}
	return nil
}

func (s *GormStore) closeSkip(ctx context.Context, skipID uint, column string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.SubscriptionSkip{}).
		Where("id = ? AND undo_at IS NULL AND renewed_at IS NULL", skipID).
		Update(column, at)
	if res.Error != nil {
		return fmt.Errorf("close skip %d: %w", skipID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) UndoSkip(ctx context.Context, skipID uint, at time.Time) error {
	return s.closeSkip(ctx, skipID, "undo_at", at)
}

func (s *GormStore) MarkSkipRenewed(ctx context.Context, skipID uint, at time.Time) error {
	return s.closeSkip(ctx, skipID, "renewed_at", at)
}

func (s *GormStore) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("LineItems", orderByID).
		Preload("BillAddress").
		Preload("ShipAddress").
		First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", id, err)
	}
	return &order, nil
}

func (s *GormStore) CreateOrder(ctx context.Context, order *models.Order, subscriptionID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if subscriptionID == 0 {
			return nil
		}
		link := models.OrderSubscription{OrderID: order.ID, SubscriptionID: subscriptionID}
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("link subscription %d: %w", subscriptionID, err)
		}
		return nil
	})
}

func (s *GormStore) UpdateOrderState(ctx context.Context, orderID uint, state string, completedAt *time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Updates(map[string]any{
		"state":        state,
		"completed_at": completedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("update order %d: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListOrders(ctx context.Context, subscriptionID uint) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Joins("JOIN order_subscriptions os ON os.order_id = orders.id").
		Where("os.subscription_id = ?", subscriptionID).
		Preload("LineItems", orderByID).
		Order("orders.id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders of subscription %d: %w", subscriptionID, err)
	}
	return orders, nil
}

func (s *GormStore) SubscriptionIDsByOrder(ctx context.Context, orderID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.OrderSubscription{}).
		Where("order_id = ?", orderID).
		Order("subscription_id").
		Pluck("subscription_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions of order %d: %w", orderID, err)
	}
	return ids, nil
}

func (s *GormStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}
