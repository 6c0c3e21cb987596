package sweeper

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/vibeforge/vibeforge/internal/pkg/env"
	"github.com/vibeforge/vibeforge/internal/pkg/payments"
	"github.com/vibeforge/vibeforge/internal/pkg/tokens"
)

const (
	defaultWebhookRetryBatch = 50
	defaultWarningWindowDays = 7
)

// Manager runs the periodic billing maintenance tasks: redelivery of
// retryable webhook events, token lot expiration, and expiry warnings.
type Manager struct {
	dispatcher *payments.Dispatcher
	tokens     *tokens.Service

	webhookTicker    *time.Ticker
	expirationTicker *time.Ticker
	warningTicker    *time.Ticker
	stopCh           chan struct{}
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

func NewManager(dispatcher *payments.Dispatcher, tokenService *tokens.Service) *Manager {
	return &Manager{
		dispatcher: dispatcher,
		tokens:     tokenService,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the background workers
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Sweeper] Starting background billing tasks")

	webhookInterval := envMinutes("WEBHOOK_RETRY_INTERVAL_MINUTES", 2)
	expirationInterval := envMinutes("TOKEN_EXPIRATION_INTERVAL_MINUTES", 60)
	warningInterval := envMinutes("EXPIRY_WARNING_INTERVAL_MINUTES", 720)

	m.webhookTicker = time.NewTicker(webhookInterval)
	m.wg.Add(1)
	go m.webhookRetryWorker()

	m.expirationTicker = time.NewTicker(expirationInterval)
	m.wg.Add(1)
	go m.tokenExpirationWorker()

	m.warningTicker = time.NewTicker(warningInterval)
	m.wg.Add(1)
	go m.expiryWarningWorker()

	log.Info("[Sweeper] Started successfully")
}

// Stop stops the background workers and waits for them to drain
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Sweeper] Stopping background billing tasks...")

	if m.webhookTicker != nil {
		m.webhookTicker.Stop()
	}
	if m.expirationTicker != nil {
		m.expirationTicker.Stop()
	}
	if m.warningTicker != nil {
		m.warningTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[Sweeper] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) webhookRetryWorker() {
	defer m.wg.Done()
	log.Info("[Sweeper] Started webhook retry worker")

	for {
		select {
		case <-m.stopCh:
			log.Info("[Sweeper] Webhook retry worker stopping")
			return
		case <-m.webhookTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			attempted, recovered, err := m.dispatcher.RunRetrySweep(ctx, defaultWebhookRetryBatch)
			if err != nil {
				log.Errorf("[Sweeper] Webhook retry sweep error: %v", err)
			} else if attempted > 0 {
				log.Infof("[Sweeper] Webhook retry sweep: %d attempted, %d recovered", attempted, recovered)
			}
			cancel()
		}
	}
}

func (m *Manager) tokenExpirationWorker() {
	defer m.wg.Done()
	log.Info("[Sweeper] Started token expiration worker")

	for {
		select {
		case <-m.stopCh:
			log.Info("[Sweeper] Token expiration worker stopping")
			return
		case <-m.expirationTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			summary, err := m.tokens.SweepExpirations(ctx, time.Now())
			if err != nil {
				log.Errorf("[Sweeper] Token expiration sweep error: %v", err)
			} else if summary.ExpiredLots > 0 {
				log.Infof("[Sweeper] Expired %d token lots (%d tokens forfeited)", summary.ExpiredLots, summary.TokensExpired)
			}
			cancel()
		}
	}
}

func (m *Manager) expiryWarningWorker() {
	defer m.wg.Done()
	log.Info("[Sweeper] Started expiry warning worker")

	for {
		select {
		case <-m.stopCh:
			log.Info("[Sweeper] Expiry warning worker stopping")
			return
		case <-m.warningTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			withinDays := envInt("EXPIRY_WARNING_WINDOW_DAYS", defaultWarningWindowDays)
			sent, err := m.tokens.SendExpiryWarnings(ctx, withinDays)
			if err != nil {
				log.Errorf("[Sweeper] Expiry warning error: %v", err)
			} else if sent > 0 {
				log.Infof("[Sweeper] Sent %d token expiry warnings", sent)
			}
			cancel()
		}
	}
}

// RunWebhookSweepOnce exposes a manual trigger for a single retry sweep (admin use).
func (m *Manager) RunWebhookSweepOnce(ctx context.Context) (attempted, recovered int, err error) {
	return m.dispatcher.RunRetrySweep(ctx, defaultWebhookRetryBatch)
}

// RunExpirationSweepOnce exposes a manual trigger for a single expiration sweep (admin use).
func (m *Manager) RunExpirationSweepOnce(ctx context.Context) (tokens.SweepSummary, error) {
	return m.tokens.SweepExpirations(ctx, time.Now())
}

func envInt(key string, def int) int {
	if raw := env.GetEnv(key, ""); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func envMinutes(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Minute
}
