package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance transaction types.
const (
	TransactionTypeTopup      = "TOPUP"
	TransactionTypeUsage      = "USAGE"
	TransactionTypeRefund     = "REFUND"
	TransactionTypeAdjustment = "ADJUSTMENT"
)

// BalanceTransaction is one immutable row of the append-only balance ledger.
// Invariant: BalanceAfter == BalanceBefore + Amount, decimal-exact. Rows are
// created once by the ledger engine and never updated or deleted.
type BalanceTransaction struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"not null;index" json:"user_id"`
	Reference     string          `gorm:"type:varchar(36);not null;uniqueIndex:ux_balance_transactions_ref" json:"reference"`
	Type          string          `gorm:"type:varchar(20);not null;index" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_after"`
	Description   string          `gorm:"type:varchar(255)" json:"description"`
	MetadataJSON  string          `gorm:"type:text" json:"metadata_json"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}
