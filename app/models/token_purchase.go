package models

import "time"

// Token purchase lot states.
const (
	TokenPurchaseCompleted = "completed"
	TokenPurchaseExpired   = "expired"
)

// TokenPurchase is a usage-credit lot. TokensRemaining only ever decreases
// while the lot is active (consumption is owned by the usage-metering path).
// When a lot expires, TokensRemaining is frozen at its last value so the
// purchased vs. consumed vs. expired-unused breakdown stays reconstructible
// from the lots alone.
type TokenPurchase struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	RazorpayPaymentID *string    `gorm:"type:varchar(64);uniqueIndex:ux_token_purchases_rzp_payment" json:"razorpay_payment_id,omitempty"`
	TokenAmount       int64      `gorm:"not null" json:"token_amount"`
	TokensRemaining   int64      `gorm:"not null" json:"tokens_remaining"`
	Status            string     `gorm:"type:varchar(20);not null;default:'completed';index" json:"status"`
	PurchasedAt       time.Time  `gorm:"type:timestamp;not null" json:"purchased_at"`
	ExpiresAt         *time.Time `gorm:"type:timestamp;default:null;index" json:"expires_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
