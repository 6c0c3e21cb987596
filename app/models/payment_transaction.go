package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment transaction states. Mirrors the provider-side payment lifecycle
// for audit and support; rows are written once on both the success and the
// failure path and never mutated.
const (
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

type PaymentTransaction struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	UserID            uint            `gorm:"not null;index" json:"user_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency          string          `gorm:"type:varchar(8);not null" json:"currency"`
	Status            string          `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentMethod     string          `gorm:"type:varchar(32)" json:"payment_method"`
	RazorpayOrderID   string          `gorm:"type:varchar(64);index" json:"razorpay_order_id"`
	RazorpayPaymentID string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_transactions_rzp_payment" json:"razorpay_payment_id"`
	FailureReason     string          `gorm:"type:text" json:"failure_reason"`
	MetadataJSON      string          `gorm:"type:text" json:"metadata_json"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}
