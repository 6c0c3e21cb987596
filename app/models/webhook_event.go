package models

import "time"

// Webhook event processing states.
const (
	WebhookStatusPending   = "PENDING"
	WebhookStatusCompleted = "COMPLETED"
	WebhookStatusFailed    = "FAILED"
)

// Razorpay webhook event types handled by the dispatcher.
const (
	EventPaymentCaptured       = "payment.captured"
	EventPaymentFailed         = "payment.failed"
	EventOrderPaid             = "order.paid"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionCancelled = "subscription.cancelled"
)

// WebhookMaxRetries is the retry ceiling for FAILED events. Events at or
// above the ceiling are terminal and need operator intervention.
const WebhookMaxRetries = 3

// WebhookEvent stores provider webhook payloads with deduplication metadata
// for idempotent processing. EventID is the provider-assigned idempotency
// key; the unique index is what converts at-least-once delivery into
// at-most-once application.
type WebhookEvent struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	EventID      string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_event_id" json:"event_id"`
	EventType    string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON  string     `gorm:"type:longtext;not null" json:"payload_json"`
	Status       string     `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	RetryCount   int        `gorm:"not null;default:0" json:"retry_count"`
	ProcessedAt  *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
