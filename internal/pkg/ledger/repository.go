package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vibeforge/vibeforge/app/models"
)

// Repository provides DB operations used by the ledger engine.
type Repository interface {
	GetAccountByUserID(ctx context.Context, userID uint) (*models.Account, error)
	// ApplyBalanceChange writes the new balance and the transaction record in
	// one atomic unit, guarded by a compare-and-swap on the account version.
	// A lost CAS returns errVersionConflict for the engine to retry; a
	// collision on the record's unique reference rolls the balance write back
	// and returns errReferenceExists.
	ApplyBalanceChange(ctx context.Context, account *models.Account, record *models.BalanceTransaction) error
	GetTransactionByReference(ctx context.Context, reference string) (*models.BalanceTransaction, error)
	ListTransactions(ctx context.Context, userID uint, limit int) ([]models.BalanceTransaction, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetAccountByUserID(ctx context.Context, userID uint) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) ApplyBalanceChange(ctx context.Context, account *models.Account, record *models.BalanceTransaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Account{}).
			Where("id = ? AND version = ?", account.ID, account.Version).
			Updates(map[string]interface{}{
				"balance": record.BalanceAfter,
				"version": account.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errVersionConflict
		}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(record)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errReferenceExists
		}
		return nil
	})
}

func (r *gormRepository) GetTransactionByReference(ctx context.Context, reference string) (*models.BalanceTransaction, error) {
	var record models.BalanceTransaction
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *gormRepository) ListTransactions(ctx context.Context, userID uint, limit int) ([]models.BalanceTransaction, error) {
	var records []models.BalanceTransaction
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&records).Error
	return records, err
}
