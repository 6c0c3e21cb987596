package ledger

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vibeforge/vibeforge/app/models"
	"github.com/vibeforge/vibeforge/internal/pkg/retry"
)

// fakeRepository mimics the CAS semantics of the GORM repository: the
// balance write only lands when the caller still holds the current version,
// and a reference can land at most once.
type fakeRepository struct {
	mu       sync.Mutex
	accounts map[uint]*models.Account
	records  []models.BalanceTransaction
	byRef    map[string]models.BalanceTransaction

	// conflictRounds forces that many CAS failures before accepting a write.
	conflictRounds int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		accounts: make(map[uint]*models.Account),
		byRef:    make(map[string]models.BalanceTransaction),
	}
}

func (r *fakeRepository) seed(userID uint, balance string) {
	r.accounts[userID] = &models.Account{
		ID:      userID,
		UserID:  userID,
		Balance: dec(balance),
	}
}

func (r *fakeRepository) GetAccountByUserID(ctx context.Context, userID uint) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *fakeRepository) ApplyBalanceChange(ctx context.Context, account *models.Account, record *models.BalanceTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conflictRounds > 0 {
		r.conflictRounds--
		return errVersionConflict
	}

	current := r.accounts[account.UserID]
	if current == nil || current.Version != account.Version {
		return errVersionConflict
	}
	if _, ok := r.byRef[record.Reference]; ok {
		return errReferenceExists
	}
	current.Balance = record.BalanceAfter
	current.Version++
	r.records = append(r.records, *record)
	r.byRef[record.Reference] = *record
	return nil
}

func (r *fakeRepository) GetTransactionByReference(ctx context.Context, reference string) (*models.BalanceTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byRef[reference]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := record
	return &copied, nil
}

func (r *fakeRepository) ListTransactions(ctx context.Context, userID uint, limit int) ([]models.BalanceTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BalanceTransaction
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].UserID == userID {
			out = append(out, r.records[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestApplyDeltaRecordsBeforeAfterSnapshot(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(1, "10.00")
	engine := NewEngine(repo)

	record, err := engine.ApplyDelta(context.Background(), 1, dec("25.00"), models.TransactionTypeTopup, "Balance top-up", map[string]string{"payment_id": "pay_123"})
	require.NoError(t, err)

	assert.Equal(t, "10.00", record.BalanceBefore.StringFixed(2))
	assert.Equal(t, "35.00", record.BalanceAfter.StringFixed(2))
	assert.True(t, record.BalanceAfter.Equal(record.BalanceBefore.Add(record.Amount)))
	assert.NotEmpty(t, record.Reference)
	assert.Contains(t, record.MetadataJSON, "pay_123")

	balance, err := engine.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "35.00", balance.StringFixed(2))
}

// A reference that already landed must replay as a no-op, even when the
// caller re-runs the whole apply after a downstream failure.
func TestApplyDeltaWithReferenceReplaysIdempotently(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(1, "10.00")
	engine := NewEngine(repo)

	first, err := engine.ApplyDeltaWithReference(context.Background(), 1, dec("25.00"), models.TransactionTypeTopup, "rzp:pay_123", "Balance top-up", nil)
	require.NoError(t, err)
	assert.Equal(t, "35.00", first.BalanceAfter.StringFixed(2))

	second, err := engine.ApplyDeltaWithReference(context.Background(), 1, dec("25.00"), models.TransactionTypeTopup, "rzp:pay_123", "Balance top-up", nil)
	require.NoError(t, err)
	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, "35.00", second.BalanceAfter.StringFixed(2))

	balance, err := engine.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "35.00", balance.StringFixed(2), "replay must not move the balance")
	require.Len(t, repo.records, 1)
}

func TestApplyDeltaWithReferenceRequiresReference(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(1, "10.00")
	engine := NewEngine(repo)

	_, err := engine.ApplyDeltaWithReference(context.Background(), 1, dec("1.00"), models.TransactionTypeTopup, "", "", nil)
	assert.ErrorIs(t, err, ErrEmptyReference)
	assert.Empty(t, repo.records)
}

func TestApplyDeltaRejectsZeroDelta(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(1, "10.00")
	engine := NewEngine(repo)

	_, err := engine.ApplyDelta(context.Background(), 1, decimal.Zero, models.TransactionTypeTopup, "", nil)
	assert.ErrorIs(t, err, ErrZeroDelta)
	assert.Empty(t, repo.records)
}

func TestApplyDeltaAccountNotFound(t *testing.T) {
	engine := NewEngine(newFakeRepository())

	_, err := engine.ApplyDelta(context.Background(), 42, dec("5.00"), models.TransactionTypeTopup, "", nil)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestApplyDeltaGuardsNegativeBalance(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(1, "3.00")
	engine := NewEngine(repo)

	_, err := engine.ApplyDelta(context.Background(), 1, dec("-5.00"), models.TransactionTypeUsage, "", nil)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, repo.records)
}

func TestApplyDeltaRetriesVersionConflicts(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(1, "10.00")
	repo.conflictRounds = 2
	engine := NewEngine(repo)

	record, err := engine.ApplyDelta(context.Background(), 1, dec("1.00"), models.TransactionTypeTopup, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "11.00", record.BalanceAfter.StringFixed(2))
}

func TestApplyDeltaSurfacesLedgerConflictAtCeiling(t *testing.T) {
	repo := newFakeRepository()
	repo.seed(1, "10.00")
	repo.conflictRounds = 100
	engine := NewEngineWithPolicy(repo, retry.Policy{MaxAttempts: 3, Backoff: []time.Duration{time.Millisecond}})

	_, err := engine.ApplyDelta(context.Background(), 1, dec("1.00"), models.TransactionTypeTopup, "", nil)
	assert.ErrorIs(t, err, ErrLedgerConflict)
}

// Two concurrent deltas for the same user must both land exactly once no
// matter how the CAS rounds interleave.
func TestApplyDeltaConcurrentDeltasCommute(t *testing.T) {
	for round := 0; round < 20; round++ {
		repo := newFakeRepository()
		repo.seed(1, "100.00")
		engine := NewEngineWithPolicy(repo, retry.Policy{MaxAttempts: 50, Backoff: []time.Duration{time.Millisecond}})

		deltas := []string{"25.00", "-10.00", "3.37", "-0.01", "41.20"}
		var wg sync.WaitGroup
		for _, d := range deltas {
			wg.Add(1)
			go func(amount string) {
				defer wg.Done()
				time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
				_, err := engine.ApplyDelta(context.Background(), 1, dec(amount), models.TransactionTypeAdjustment, "", nil)
				assert.NoError(t, err)
			}(d)
		}
		wg.Wait()

		balance, err := engine.GetBalance(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "159.56", balance.StringFixed(2))

		records, err := engine.ListTransactions(context.Background(), 1, 0)
		require.NoError(t, err)
		require.Len(t, records, len(deltas))
		for _, rec := range records {
			assert.True(t, rec.BalanceAfter.Equal(rec.BalanceBefore.Add(rec.Amount)),
				"ledger invariant broken for record %s", rec.Reference)
		}
	}
}
