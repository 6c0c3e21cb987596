package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/vibeforge/vibeforge/app/models"
)

// Resolver maps provider-side payment identity back to a local account.
// Resolution order: stored customer id, then payer email. A hit via email
// backfills the customer mapping so the next lookup takes the fast path.
// It never fabricates an account: both paths missing is ErrAccountNotFound.
type Resolver struct {
	repo Repository
}

// NewResolver creates an account resolver over the payments repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the account for the given provider identity.
func (r *Resolver) Resolve(ctx context.Context, customerID, email string) (*models.Account, error) {
	customerID = strings.TrimSpace(customerID)
	email = strings.TrimSpace(strings.ToLower(email))

	if customerID != "" {
		account, err := r.repo.GetAccountByCustomerID(ctx, customerID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if email != "" {
		account, err := r.repo.GetAccountByEmail(ctx, email)
		if err == nil {
			if customerID != "" && (account.RazorpayCustomerID == nil || *account.RazorpayCustomerID != customerID) {
				// Best-effort backfill; resolution already succeeded.
				if mapErr := r.repo.SaveCustomerMapping(ctx, account.ID, customerID); mapErr != nil {
					log.Warnf("[Resolver] failed to backfill customer mapping %s for account %d: %v", customerID, account.ID, mapErr)
				} else {
					account.RazorpayCustomerID = &customerID
				}
			}
			return account, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, ErrAccountNotFound
}
