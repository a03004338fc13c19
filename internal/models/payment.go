package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Payment records a single charge attempt for a renewal order.
type Payment struct {
	ID             uint `gorm:"primaryKey"`
	OrderID        uint `gorm:"not null;index"`
	SubscriptionID uint `gorm:"not null;index"`
	CreditCardID   *uint
	Amount         decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Status         string          `gorm:"default:'pending'"`
	Provider       string          `gorm:"size:32"`
	TransactionID  string          `gorm:"size:255"`
	FailureReason  string          `gorm:"size:512"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
