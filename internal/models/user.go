package models

import (
	"time"
)

type User struct {
	ID         uint   `gorm:"primaryKey"`
	TelegramID int64  `gorm:"index"`
	Email      string `gorm:"size:255"`
	Username   string `gorm:"size:255"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreditCard is the stored payment instrument a renewal is charged to.
// GatewayToken is the provider-side reference (YooKassa payment_method_id or Stripe payment method).
type CreditCard struct {
	ID              uint   `gorm:"primaryKey"`
	UserID          uint   `gorm:"not null;index"`
	GatewayToken    string `gorm:"size:255;not null"`
	GatewayCustomer string `gorm:"size:255"`
	LastDigits      string `gorm:"size:4"`
	Brand           string `gorm:"size:50"`
	ExpirationMonth int
	ExpirationYear  int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Address struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index"`
	FirstName string `gorm:"size:255"`
	LastName  string `gorm:"size:255"`
	Address1  string `gorm:"size:255"`
	Address2  string `gorm:"size:255"`
	City      string `gorm:"size:255"`
	Zipcode   string `gorm:"size:32"`
	Country   string `gorm:"size:2"`
	Phone     string `gorm:"size:64"`
	CreatedAt time.Time
}
