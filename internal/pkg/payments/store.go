package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/vibeforge/vibeforge/app/models"
)

// Store is the idempotency boundary for webhook events. The unique event_id
// index is what turns the provider's at-least-once delivery into at-most-once
// application: a uniqueness collision on insert is the duplicate case, never
// an error.
type Store struct {
	repo Repository
}

// NewStore creates an idempotency store over the payments repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// RecordIfNew inserts a PENDING row for the event unless one already exists.
// The returned row is the stored one either way. Events arriving without a
// provider id are keyed by a payload hash so replays still deduplicate.
func (s *Store) RecordIfNew(ctx context.Context, eventID, eventType string, payload []byte) (bool, *models.WebhookEvent, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		sum := sha256.Sum256(payload)
		id = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		EventID:     id,
		EventType:   strings.TrimSpace(eventType),
		PayloadJSON: string(payload),
		Status:      models.WebhookStatusPending,
	}
	return s.repo.CreateWebhookEventIfNew(ctx, event)
}

// MarkCompleted finalizes the event after all side effects committed.
func (s *Store) MarkCompleted(ctx context.Context, eventID string) error {
	return s.repo.MarkWebhookCompleted(ctx, eventID)
}

// MarkFailed records the handler error verbatim and bumps the retry count.
func (s *Store) MarkFailed(ctx context.Context, eventID string, handlerErr error) error {
	message := ""
	if handlerErr != nil {
		message = handlerErr.Error()
	}
	return s.repo.MarkWebhookFailed(ctx, eventID, message)
}

// IsProcessed reports whether the event reached COMPLETED.
func (s *Store) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	event, err := s.repo.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	return event.Status == models.WebhookStatusCompleted, nil
}

// ListRetryable returns FAILED events under the retry ceiling, oldest first,
// for the sweep to re-drive.
func (s *Store) ListRetryable(ctx context.Context, limit, maxRetries int) ([]models.WebhookEvent, error) {
	if maxRetries <= 0 {
		maxRetries = models.WebhookMaxRetries
	}
	return s.repo.ListRetryableWebhooks(ctx, limit, maxRetries)
}
