package payments

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vibeforge/vibeforge/app/models"
)

// Repository provides DB operations used by the idempotency store, the
// account resolver and the dispatcher's audit writes.
type Repository interface {
	CreateWebhookEventIfNew(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	MarkWebhookCompleted(ctx context.Context, eventID string) error
	MarkWebhookFailed(ctx context.Context, eventID string, message string) error
	ListRetryableWebhooks(ctx context.Context, limit, maxRetries int) ([]models.WebhookEvent, error)

	GetAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	SaveCustomerMapping(ctx context.Context, accountID uint, customerID string) error

	CreatePaymentTransactionIfNew(ctx context.Context, record *models.PaymentTransaction) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payments repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNew(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkWebhookCompleted(ctx context.Context, eventID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":        models.WebhookStatusCompleted,
			"processed_at":  &now,
			"error_message": "",
		}).Error
}

func (r *gormRepository) MarkWebhookFailed(ctx context.Context, eventID string, message string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":        models.WebhookStatusFailed,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": message,
		}).Error
}

func (r *gormRepository) ListRetryableWebhooks(ctx context.Context, limit, maxRetries int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	q := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", models.WebhookStatusFailed, maxRetries).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

func (r *gormRepository) GetAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("razorpay_customer_id = ?", customerID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Joins("JOIN users ON users.id = accounts.user_id").
		Where("users.email = ? AND users.deleted_at IS NULL", email).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) SaveCustomerMapping(ctx context.Context, accountID uint, customerID string) error {
	return r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("razorpay_customer_id", customerID).Error
}

func (r *gormRepository) CreatePaymentTransactionIfNew(ctx context.Context, record *models.PaymentTransaction) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "razorpay_payment_id"}},
		DoNothing: true,
	}).Create(record)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
