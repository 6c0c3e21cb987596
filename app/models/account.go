package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's monetary state in the reference currency (USD).
// Balance is never written directly: every mutation goes through the ledger
// engine, which bumps Version as its optimistic-lock token and records a
// BalanceTransaction in the same database transaction.
type Account struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	UserID             uint            `gorm:"not null;uniqueIndex:ux_accounts_user" json:"user_id"`
	Balance            decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"`
	Version            uint64          `gorm:"not null;default:0" json:"-"`
	RazorpayCustomerID *string         `gorm:"type:varchar(64);uniqueIndex:ux_accounts_rzp_customer" json:"razorpay_customer_id,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
