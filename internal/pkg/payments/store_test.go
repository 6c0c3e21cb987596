package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeforge/vibeforge/app/models"
)

func TestRecordIfNewDeduplicates(t *testing.T) {
	store := NewStore(newFakeRepository())
	payload := []byte(`{"event":"payment.captured"}`)

	isNew, stored, err := store.RecordIfNew(context.Background(), "evt_123", models.EventPaymentCaptured, payload)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, models.WebhookStatusPending, stored.Status)

	isNew, stored, err = store.RecordIfNew(context.Background(), "evt_123", models.EventPaymentCaptured, payload)
	require.NoError(t, err)
	assert.False(t, isNew, "duplicate delivery must not insert")
	assert.Equal(t, "evt_123", stored.EventID)
}

func TestRecordIfNewHashesMissingEventID(t *testing.T) {
	store := NewStore(newFakeRepository())
	payload := []byte(`{"event":"payment.captured","payload":{}}`)

	isNew, stored, err := store.RecordIfNew(context.Background(), "", models.EventPaymentCaptured, payload)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Contains(t, stored.EventID, "hash:")

	isNew, _, err = store.RecordIfNew(context.Background(), "", models.EventPaymentCaptured, payload)
	require.NoError(t, err)
	assert.False(t, isNew, "same payload replayed without an id must deduplicate by hash")
}

func TestMarkCompletedAndIsProcessed(t *testing.T) {
	store := NewStore(newFakeRepository())
	_, _, err := store.RecordIfNew(context.Background(), "evt_1", models.EventOrderPaid, []byte(`{}`))
	require.NoError(t, err)

	processed, err := store.IsProcessed(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.MarkCompleted(context.Background(), "evt_1"))

	processed, err = store.IsProcessed(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestMarkFailedIncrementsRetryCount(t *testing.T) {
	repo := newFakeRepository()
	store := NewStore(repo)
	_, _, err := store.RecordIfNew(context.Background(), "evt_2", models.EventPaymentCaptured, []byte(`{}`))
	require.NoError(t, err)

	require.NoError(t, store.MarkFailed(context.Background(), "evt_2", errors.New("resolve account: account not found")))
	require.NoError(t, store.MarkFailed(context.Background(), "evt_2", errors.New("still broken")))

	event, err := repo.GetWebhookEvent(context.Background(), "evt_2")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, event.Status)
	assert.Equal(t, 2, event.RetryCount)
	assert.Equal(t, "still broken", event.ErrorMessage)
}

func TestListRetryableExcludesCeilingAndCompleted(t *testing.T) {
	repo := newFakeRepository()
	store := NewStore(repo)
	ctx := context.Background()

	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		_, _, err := store.RecordIfNew(ctx, id, models.EventPaymentCaptured, []byte(`{}`))
		require.NoError(t, err)
	}

	require.NoError(t, store.MarkFailed(ctx, "evt_a", errors.New("x")))
	require.NoError(t, store.MarkCompleted(ctx, "evt_b"))
	for i := 0; i < models.WebhookMaxRetries; i++ {
		require.NoError(t, store.MarkFailed(ctx, "evt_c", errors.New("x")))
	}

	retryable, err := store.ListRetryable(ctx, 10, models.WebhookMaxRetries)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, "evt_a", retryable[0].EventID)
}
