package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStateCart     = "cart"
	OrderStateComplete = "complete"
	OrderStateFailed   = "failed"
)

const ChannelSubscription = "subscription"

type Order struct {
	ID            uint            `gorm:"primaryKey"`
	Number        string          `gorm:"size:36;uniqueIndex"`
	UserID        uint            `gorm:"not null;index"`
	Email         string          `gorm:"size:255"`
	State         string          `gorm:"size:16;not null;default:'cart'"`
	Channel       string          `gorm:"size:32"`
	RepeatOrder   bool            `gorm:"not null;default:false"`
	Currency      string          `gorm:"size:3;not null"`
	Total         decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	CreditCardID  *uint
	BillAddressID *uint
	BillAddress   *Address `gorm:"foreignKey:BillAddressID"`
	ShipAddressID *uint
	ShipAddress   *Address   `gorm:"foreignKey:ShipAddressID"`
	LineItems     []LineItem `gorm:"constraint:OnDelete:CASCADE;"`
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (o *Order) Complete() bool {
	return o.State == OrderStateComplete
}

type LineItem struct {
	ID           uint            `gorm:"primaryKey"`
	OrderID      uint            `gorm:"not null;index"`
	VariantSKU   string          `gorm:"size:64;not null"`
	Quantity     int             `gorm:"not null"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Interval     int             `gorm:"column:interval_months;not null;default:0"`
	Subscribable bool            `gorm:"not null;default:false"`
}

func (l LineItem) Amount() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderSubscription links orders to the subscriptions that generated or started them.
type OrderSubscription struct {
	OrderID        uint `gorm:"primaryKey"`
	SubscriptionID uint `gorm:"primaryKey;index"`
}

func (OrderSubscription) TableName() string {
	return "order_subscriptions"
}
