package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vibeforge/vibeforge/app/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeRepository backs the payments tests with the same uniqueness semantics
// the GORM repository gets from its unique indexes.
type fakeRepository struct {
	mu sync.Mutex

	events      map[string]*models.WebhookEvent
	eventOrder  []string
	accounts    []*models.Account
	emailByUser map[uint]string
	payments    map[string]*models.PaymentTransaction
	nextID      uint

	// paymentInsertFailures makes that many CreatePaymentTransactionIfNew
	// calls fail transiently, for partial-failure redelivery tests.
	paymentInsertFailures int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		events:      make(map[string]*models.WebhookEvent),
		emailByUser: make(map[uint]string),
		payments:    make(map[string]*models.PaymentTransaction),
	}
}

func (r *fakeRepository) seedAccount(userID uint, email, balance string, customerID *string) *models.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	account := &models.Account{
		ID:                 r.nextID,
		UserID:             userID,
		Balance:            dec(balance),
		RazorpayCustomerID: customerID,
	}
	r.accounts = append(r.accounts, account)
	r.emailByUser[userID] = email
	return account
}

func (r *fakeRepository) CreateWebhookEventIfNew(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.events[event.EventID]; ok {
		copied := *existing
		return false, &copied, nil
	}
	r.nextID++
	event.ID = r.nextID
	event.CreatedAt = time.Now()
	copied := *event
	r.events[event.EventID] = &copied
	r.eventOrder = append(r.eventOrder, event.EventID)
	stored := copied
	return true, &stored, nil
}

func (r *fakeRepository) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *event
	return &copied, nil
}

func (r *fakeRepository) MarkWebhookCompleted(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	event.Status = models.WebhookStatusCompleted
	event.ProcessedAt = &now
	event.ErrorMessage = ""
	return nil
}

func (r *fakeRepository) MarkWebhookFailed(ctx context.Context, eventID string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	event.Status = models.WebhookStatusFailed
	event.RetryCount++
	event.ErrorMessage = message
	return nil
}

func (r *fakeRepository) ListRetryableWebhooks(ctx context.Context, limit, maxRetries int) ([]models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookEvent
	for _, id := range r.eventOrder {
		event := r.events[id]
		if event.Status == models.WebhookStatusFailed && event.RetryCount < maxRetries {
			out = append(out, *event)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeRepository) GetAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.RazorpayCustomerID != nil && *account.RazorpayCustomerID == customerID {
			copied := *account
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if r.emailByUser[account.UserID] == email {
			copied := *account
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepository) SaveCustomerMapping(ctx context.Context, accountID uint, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.ID == accountID {
			id := customerID
			account.RazorpayCustomerID = &id
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepository) CreatePaymentTransactionIfNew(ctx context.Context, record *models.PaymentTransaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paymentInsertFailures > 0 {
		r.paymentInsertFailures--
		return false, errors.New("driver: bad connection")
	}
	if _, ok := r.payments[record.RazorpayPaymentID]; ok {
		return false, nil
	}
	r.nextID++
	record.ID = r.nextID
	copied := *record
	r.payments[record.RazorpayPaymentID] = &copied
	return true, nil
}
