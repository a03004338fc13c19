package models

import (
	"time"

	"github.com/shopspring/decimal"

	"recurring-orders/internal/subscription"
)

type Subscription struct {
	ID                      uint               `gorm:"primaryKey"`
	UserID                  uint               `gorm:"not null;index"`
	User                    User               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Email                   string             `gorm:"size:255"`
	State                   subscription.State `gorm:"size:16;not null;default:'active';index"`
	Interval                int                `gorm:"column:interval_months;not null;default:0"`
	Currency                string             `gorm:"size:3;not null"`
	FailureCount            int                `gorm:"not null;default:0"`
	StructuralFailureCount  int                `gorm:"not null;default:0"`
	PrepaidPeriodsRemaining int                `gorm:"not null;default:0"`
	LastRenewalAt           *time.Time
	NextRenewalAt           *time.Time `gorm:"index"`
	LastAttemptAt           *time.Time
	ResumeAt                *time.Time
	ClaimToken              string `gorm:"size:36"`
	ClaimedAt               *time.Time
	CreditCardID            *uint
	CreditCard              *CreditCard
	BillAddressID           uint
	BillAddress             Address `gorm:"foreignKey:BillAddressID"`
	ShipAddressID           uint
	ShipAddress             Address            `gorm:"foreignKey:ShipAddressID"`
	Items                   []SubscriptionItem `gorm:"constraint:OnDelete:CASCADE;"`
	Skips                   []SubscriptionSkip `gorm:"constraint:OnDelete:CASCADE;"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Total is the amount charged for one renewal, from the captured item prices.
func (s *Subscription) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.Amount())
	}
	return total
}

// ActiveSkip returns the pending skip entry, if any.
func (s *Subscription) ActiveSkip() *SubscriptionSkip {
	for i := len(s.Skips) - 1; i >= 0; i-- {
		if s.Skips[i].Entry().Active() {
			return &s.Skips[i]
		}
	}
	return nil
}

// Candidate projects the record onto the scheduler's selection inputs.
func (s *Subscription) Candidate(hasCompletedOrder bool) subscription.Candidate {
	c := subscription.Candidate{
		State:                   s.State,
		Interval:                s.Interval,
		FailureCount:            s.FailureCount,
		PrepaidPeriodsRemaining: s.PrepaidPeriodsRemaining,
		HasCompletedOrder:       hasCompletedOrder,
	}
	if s.NextRenewalAt != nil {
		c.NextRenewalAt = *s.NextRenewalAt
	}
	return c
}

func (s *Subscription) Facts() subscription.Facts {
	return subscription.Facts{Interval: s.Interval, ResumeAt: s.ResumeAt}
}

// SubscriptionItem is the immutable item snapshot taken when the subscription was created.
type SubscriptionItem struct {
	ID             uint            `gorm:"primaryKey"`
	SubscriptionID uint            `gorm:"not null;index"`
	VariantSKU     string          `gorm:"size:64;not null;index"`
	Quantity       int             `gorm:"not null"`
	Price          decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	CreatedAt      time.Time
}

func (i SubscriptionItem) Amount() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type SubscriptionSkip struct {
	ID             uint      `gorm:"primaryKey"`
	SubscriptionID uint      `gorm:"not null;index"`
	SkipAt         time.Time `gorm:"not null"`
	UndoAt         *time.Time
	RenewedAt      *time.Time
	CreatedAt      time.Time
}

func (k SubscriptionSkip) Entry() subscription.SkipEntry {
	return subscription.SkipEntry{SkipAt: k.SkipAt, UndoAt: k.UndoAt, RenewedAt: k.RenewedAt}
}
