package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vibeforge/vibeforge/app/models"
	"github.com/vibeforge/vibeforge/internal/pkg/retry"
)

// Engine is the only writer of account balances. ApplyDelta reads the
// current balance, computes the new one and persists balance + transaction
// record atomically under optimistic concurrency, so concurrent deltas for
// the same account commute regardless of webhook arrival order.
type Engine struct {
	repo   Repository
	policy retry.Policy
}

// NewEngine creates a ledger engine with the shared bounded-retry policy.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, policy: retry.LedgerPolicy}
}

// NewEngineWithPolicy creates a ledger engine with a custom retry policy.
func NewEngineWithPolicy(repo Repository, policy retry.Policy) *Engine {
	return &Engine{repo: repo, policy: policy}
}

// ApplyDelta applies a signed balance delta for the user and returns the
// persisted transaction record with its before/after snapshot. Callers own
// overdraft policy for debits; the engine still refuses to drive a balance
// negative. Concurrent-write conflicts are retried internally and surface
// as ErrLedgerConflict once the retry budget is spent.
func (e *Engine) ApplyDelta(ctx context.Context, userID uint, delta decimal.Decimal, txType, description string, metadata map[string]string) (*models.BalanceTransaction, error) {
	return e.ApplyDeltaWithReference(ctx, userID, delta, txType, uuid.NewString(), description, metadata)
}

// ApplyDeltaWithReference applies the delta at most once per reference: a
// replay whose reference already landed returns the stored row without
// moving the balance again. Webhook handlers key the reference by provider
// payment id so a redelivery after a partial failure downstream of the
// ledger write cannot double-credit the account.
func (e *Engine) ApplyDeltaWithReference(ctx context.Context, userID uint, delta decimal.Decimal, txType, reference, description string, metadata map[string]string) (*models.BalanceTransaction, error) {
	if delta.IsZero() {
		return nil, ErrZeroDelta
	}
	if reference == "" {
		return nil, ErrEmptyReference
	}

	metadataJSON := ""
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal transaction metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	var record *models.BalanceTransaction
	err := e.policy.Do(ctx, func() error {
		account, err := e.repo.GetAccountByUserID(ctx, userID)
		if err != nil {
			return err
		}

		before := account.Balance
		after := before.Add(delta)
		if after.IsNegative() {
			return fmt.Errorf("%w: balance %s, delta %s", ErrInsufficientBalance, before, delta)
		}

		candidate := &models.BalanceTransaction{
			UserID:        userID,
			Reference:     reference,
			Type:          txType,
			Amount:        delta,
			BalanceBefore: before,
			BalanceAfter:  after,
			Description:   description,
			MetadataJSON:  metadataJSON,
		}
		if err := e.repo.ApplyBalanceChange(ctx, account, candidate); err != nil {
			return err
		}
		record = candidate
		return nil
	}, func(err error) bool {
		return errors.Is(err, errVersionConflict)
	})

	if err != nil {
		if errors.Is(err, errReferenceExists) {
			existing, lookupErr := e.repo.GetTransactionByReference(ctx, reference)
			if lookupErr != nil {
				return nil, lookupErr
			}
			log.Infof("[Ledger] reference %s already applied for user %d, replay is a no-op", reference, userID)
			return existing, nil
		}
		if errors.Is(err, errVersionConflict) {
			log.Warnf("[Ledger] optimistic retry exhausted for user %d", userID)
			return nil, fmt.Errorf("%w: user %d", ErrLedgerConflict, userID)
		}
		return nil, err
	}

	log.Infof("[Ledger] applied %s %s for user %d: %s -> %s",
		record.Type, record.Amount, userID, record.BalanceBefore, record.BalanceAfter)
	return record, nil
}

// GetBalance returns the user's current balance in the reference currency.
func (e *Engine) GetBalance(ctx context.Context, userID uint) (decimal.Decimal, error) {
	account, err := e.repo.GetAccountByUserID(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// ListTransactions returns the newest ledger rows for the user.
func (e *Engine) ListTransactions(ctx context.Context, userID uint, limit int) ([]models.BalanceTransaction, error) {
	return e.repo.ListTransactions(ctx, userID, limit)
}
