package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/vibeforge/vibeforge/app/models"
)

// Notifier sends a fire-and-forget email; errors must never abort a sweep.
type Notifier func(to, subject, body string) error

// SweepSummary reports what an expiration sweep did.
type SweepSummary struct {
	ExpiredLots   int   `json:"expired_lots"`
	TokensExpired int64 `json:"tokens_expired"`
}

// Utilization is derived from the user's lots alone, without stored counters.
type Utilization struct {
	Purchased       int64   `json:"purchased"`
	Used            int64   `json:"used"`
	Available       int64   `json:"available"`
	ExpiredUnused   int64   `json:"expired_unused"`
	UtilizationRate float64 `json:"utilization_rate"`
}

// Service owns the token purchase lifecycle: granting lots on capture and
// expiring unused ones. Consumption of tokens belongs to the usage-metering
// path, not here.
type Service struct {
	repo   Repository
	notify Notifier
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier sets the expiry-warning mail hook.
func WithNotifier(notify Notifier) Option {
	return func(s *Service) { s.notify = notify }
}

// NewService creates the token purchase lifecycle service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GrantLot records a purchased usage-credit lot. A non-empty paymentID keys
// the lot to the provider payment: a redelivered webhook for the same payment
// returns the existing lot instead of granting tokens twice. Lots without a
// payment id (admin grants) are always inserted.
func (s *Service) GrantLot(ctx context.Context, userID uint, tokenAmount int64, expiresAt *time.Time, paymentID string) (*models.TokenPurchase, error) {
	if tokenAmount <= 0 {
		return nil, fmt.Errorf("token amount must be positive, got %d", tokenAmount)
	}
	lot := &models.TokenPurchase{
		UserID:          userID,
		TokenAmount:     tokenAmount,
		TokensRemaining: tokenAmount,
		Status:          models.TokenPurchaseCompleted,
		PurchasedAt:     s.now(),
		ExpiresAt:       expiresAt,
	}
	if paymentID != "" {
		lot.RazorpayPaymentID = &paymentID
	}
	created, err := s.repo.CreateLotIfNew(ctx, lot)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := s.repo.GetLotByPaymentID(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		log.Infof("[Tokens] lot for payment %s already granted to user %d, replay is a no-op", paymentID, existing.UserID)
		return existing, nil
	}
	return lot, nil
}

// SweepExpirations transitions completed lots past their expiry to expired.
// TokensRemaining is deliberately left untouched: the frozen value is the
// historical unused amount the sweep reports and analytics read later.
func (s *Service) SweepExpirations(ctx context.Context, now time.Time) (SweepSummary, error) {
	lots, err := s.repo.ListExpiredActive(ctx, now)
	if err != nil {
		return SweepSummary{}, err
	}

	var summary SweepSummary
	for i := range lots {
		lot := lots[i]
		transitioned, err := s.repo.MarkExpired(ctx, lot.ID)
		if err != nil {
			return summary, fmt.Errorf("expire lot %d: %w", lot.ID, err)
		}
		if !transitioned {
			continue
		}
		summary.ExpiredLots++
		summary.TokensExpired += lot.TokensRemaining
		log.Infof("[Tokens] lot %d expired for user %d with %d tokens unused", lot.ID, lot.UserID, lot.TokensRemaining)
	}
	return summary, nil
}

// GetExpiringSoon returns active lots expiring within the window. Pure read.
func (s *Service) GetExpiringSoon(ctx context.Context, userID uint, withinDays int) ([]models.TokenPurchase, error) {
	now := s.now()
	return s.repo.ListExpiringBetween(ctx, userID, now, now.AddDate(0, 0, withinDays))
}

// SendExpiryWarnings emails users whose lots expire within the window.
// Mail failures are logged and skipped; the sweep must not depend on SMTP.
func (s *Service) SendExpiryWarnings(ctx context.Context, withinDays int) (int, error) {
	if s.notify == nil {
		return 0, nil
	}
	now := s.now()
	lots, err := s.repo.ListExpiringBetween(ctx, 0, now, now.AddDate(0, 0, withinDays))
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range lots {
		lot := lots[i]
		email, err := s.repo.GetUserEmail(ctx, lot.UserID)
		if err != nil {
			log.Warnf("[Tokens] no email for user %d, skipping expiry warning: %v", lot.UserID, err)
			continue
		}
		subject := "Your Vibeforge tokens are about to expire"
		body := fmt.Sprintf("You have %d unused tokens expiring on %s.",
			lot.TokensRemaining, lot.ExpiresAt.Format("2006-01-02"))
		if err := s.notify(email, subject, body); err != nil {
			log.Warnf("[Tokens] expiry warning mail to %s failed: %v", email, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// GetUtilization derives the purchased/used/available/expired-unused
// breakdown from the user's lots: used = purchased - available - expiredUnused.
func (s *Service) GetUtilization(ctx context.Context, userID uint) (Utilization, error) {
	lots, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return Utilization{}, err
	}

	var u Utilization
	for i := range lots {
		lot := lots[i]
		u.Purchased += lot.TokenAmount
		switch lot.Status {
		case models.TokenPurchaseCompleted:
			u.Available += lot.TokensRemaining
		case models.TokenPurchaseExpired:
			u.ExpiredUnused += lot.TokensRemaining
		}
	}
	u.Used = u.Purchased - u.Available - u.ExpiredUnused
	if u.Purchased > 0 {
		u.UtilizationRate = float64(u.Used) / float64(u.Purchased)
	}
	return u, nil
}
