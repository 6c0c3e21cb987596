package tokens

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vibeforge/vibeforge/app/models"
)

// Repository provides DB operations for token purchase lots.
type Repository interface {
	// CreateLotIfNew inserts the lot unless its razorpay_payment_id already
	// landed; false means an earlier insert won and the row was not created.
	CreateLotIfNew(ctx context.Context, lot *models.TokenPurchase) (bool, error)
	GetLotByPaymentID(ctx context.Context, paymentID string) (*models.TokenPurchase, error)
	ListExpiredActive(ctx context.Context, now time.Time) ([]models.TokenPurchase, error)
	// MarkExpired flips a completed lot to expired, leaving tokens_remaining
	// untouched. Returns false when the lot was already transitioned.
	MarkExpired(ctx context.Context, lotID uint) (bool, error)
	ListByUser(ctx context.Context, userID uint) ([]models.TokenPurchase, error)
	ListExpiringBetween(ctx context.Context, userID uint, from, to time.Time) ([]models.TokenPurchase, error)
	GetUserEmail(ctx context.Context, userID uint) (string, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a token purchase repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateLotIfNew(ctx context.Context, lot *models.TokenPurchase) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(lot)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) GetLotByPaymentID(ctx context.Context, paymentID string) (*models.TokenPurchase, error) {
	var lot models.TokenPurchase
	if err := r.db.WithContext(ctx).Where("razorpay_payment_id = ?", paymentID).First(&lot).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

func (r *gormRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]models.TokenPurchase, error) {
	var lots []models.TokenPurchase
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ? AND tokens_remaining > 0",
			models.TokenPurchaseCompleted, now).
		Order("expires_at ASC").
		Find(&lots).Error
	return lots, err
}

func (r *gormRepository) MarkExpired(ctx context.Context, lotID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.TokenPurchase{}).
		Where("id = ? AND status = ?", lotID, models.TokenPurchaseCompleted).
		Update("status", models.TokenPurchaseExpired)
	return res.RowsAffected > 0, res.Error
}

func (r *gormRepository) ListByUser(ctx context.Context, userID uint) ([]models.TokenPurchase, error) {
	var lots []models.TokenPurchase
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("purchased_at ASC").
		Find(&lots).Error
	return lots, err
}

func (r *gormRepository) ListExpiringBetween(ctx context.Context, userID uint, from, to time.Time) ([]models.TokenPurchase, error) {
	var lots []models.TokenPurchase
	q := r.db.WithContext(ctx).
		Where("status = ? AND tokens_remaining > 0 AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?",
			models.TokenPurchaseCompleted, from, to).
		Order("expires_at ASC")
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Find(&lots).Error
	return lots, err
}

func (r *gormRepository) GetUserEmail(ctx context.Context, userID uint) (string, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Select("email").Where("id = ?", userID).First(&user).Error; err != nil {
		return "", err
	}
	return user.Email, nil
}
