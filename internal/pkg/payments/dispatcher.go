package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/vibeforge/vibeforge/app/models"
	"github.com/vibeforge/vibeforge/internal/pkg/currency"
)

// topupTolerance bounds how far the client-supplied reference amount may
// drift from the charged amount converted at the current rate (5%). Orders
// outside the band fail for operator review instead of trusting checkout
// metadata blindly.
var topupTolerance = decimal.New(5, -2)

// defaultTokenValidityDays applies when a token purchase carries no
// validity note.
const defaultTokenValidityDays = 365

// BalanceLedger is the dispatcher's view of the ledger engine. Applies are
// keyed by a provider-payment reference so a redelivered event that already
// moved the balance replays as a no-op.
type BalanceLedger interface {
	ApplyDeltaWithReference(ctx context.Context, userID uint, delta decimal.Decimal, txType, reference, description string, metadata map[string]string) (*models.BalanceTransaction, error)
}

// TokenGranter creates usage-credit lots for completed token purchases,
// at most one lot per provider payment id.
type TokenGranter interface {
	GrantLot(ctx context.Context, userID uint, tokens int64, expiresAt *time.Time, paymentID string) (*models.TokenPurchase, error)
}

// ledgerReference keys a balance apply by the Razorpay payment id.
func ledgerReference(paymentID string) string {
	return "rzp:" + paymentID
}

// Result reports what Dispatch did with an event.
type Result struct {
	Duplicate bool
	Terminal  bool
}

// Dispatcher drives each verified webhook event through
// RECEIVED -> (duplicate? stop) -> RESOLVING_ACCOUNT -> APPLYING ->
// COMPLETED, or to FAILED with the error preserved verbatim. It runs
// synchronously inside the delivering request so the provider's
// retry-on-timeout acts as the at-least-once mechanism.
type Dispatcher struct {
	store     *Store
	resolver  *Resolver
	ledger    BalanceLedger
	converter *currency.Converter
	tokens    TokenGranter
	repo      Repository
	validate  *validator.Validate
	now       func() time.Time
}

// NewDispatcher wires the dispatcher from its collaborators.
func NewDispatcher(store *Store, resolver *Resolver, balanceLedger BalanceLedger, converter *currency.Converter, tokens TokenGranter, repo Repository) *Dispatcher {
	return &Dispatcher{
		store:     store,
		resolver:  resolver,
		ledger:    balanceLedger,
		converter: converter,
		tokens:    tokens,
		repo:      repo,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Dispatch records the event idempotently and runs the type-specific
// handler. Duplicates of completed or in-flight events short-circuit before
// any side effect; FAILED events under the retry ceiling are re-driven.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Result, error) {
	if err := d.validate.Struct(ev); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	isNew, stored, err := d.store.RecordIfNew(ctx, ev.EventID, ev.EventType, ev.Payload)
	if err != nil {
		return Result{}, err
	}

	if !isNew {
		switch stored.Status {
		case models.WebhookStatusCompleted:
			log.Debugf("[Webhook] duplicate delivery event_id=%s type=%s status=%s retry_count=%d",
				stored.EventID, stored.EventType, stored.Status, stored.RetryCount)
			return Result{Duplicate: true}, nil
		case models.WebhookStatusPending:
			// A concurrent delivery owns processing; let it finish.
			log.Debugf("[Webhook] concurrent duplicate event_id=%s type=%s", stored.EventID, stored.EventType)
			return Result{Duplicate: true}, nil
		case models.WebhookStatusFailed:
			if stored.RetryCount >= models.WebhookMaxRetries {
				log.Errorf("[Webhook] terminal event redelivered event_id=%s type=%s retry_count=%d, operator action required",
					stored.EventID, stored.EventType, stored.RetryCount)
				return Result{Duplicate: true, Terminal: true}, nil
			}
			// Redelivery of a failed event doubles as a retry.
		}
	}

	return d.run(ctx, stored)
}

// RunRetrySweep re-drives FAILED events below the retry ceiling, oldest
// first. It is the only automatic recovery path; events at the ceiling stay
// put and are logged for operators.
func (d *Dispatcher) RunRetrySweep(ctx context.Context, limit int) (attempted, recovered int, err error) {
	events, err := d.store.ListRetryable(ctx, limit, models.WebhookMaxRetries)
	if err != nil {
		return 0, 0, err
	}
	for i := range events {
		ev := events[i]
		attempted++
		if _, runErr := d.run(ctx, &ev); runErr == nil {
			recovered++
		}
	}
	if attempted > 0 {
		log.Infof("[Webhook] retry sweep attempted=%d recovered=%d", attempted, recovered)
	}
	return attempted, recovered, nil
}

func (d *Dispatcher) run(ctx context.Context, stored *models.WebhookEvent) (Result, error) {
	if err := d.handle(ctx, stored); err != nil {
		log.Errorf("[Webhook] event failed event_id=%s type=%s status=%s retry_count=%d err=%v",
			stored.EventID, stored.EventType, models.WebhookStatusFailed, stored.RetryCount+1, err)
		if markErr := d.store.MarkFailed(ctx, stored.EventID, err); markErr != nil {
			log.Errorf("[Webhook] failed to mark event %s FAILED: %v", stored.EventID, markErr)
		}
		return Result{}, err
	}

	if err := d.store.MarkCompleted(ctx, stored.EventID); err != nil {
		return Result{}, err
	}
	log.Infof("[Webhook] event completed event_id=%s type=%s status=%s retry_count=%d",
		stored.EventID, stored.EventType, models.WebhookStatusCompleted, stored.RetryCount)
	return Result{}, nil
}

func (d *Dispatcher) handle(ctx context.Context, stored *models.WebhookEvent) error {
	payload := []byte(stored.PayloadJSON)

	switch stored.EventType {
	case models.EventPaymentCaptured:
		return d.handlePaymentCaptured(ctx, payload)
	case models.EventPaymentFailed:
		return d.handlePaymentFailed(ctx, payload)
	case models.EventOrderPaid:
		return d.handleOrderPaid(payload)
	case models.EventSubscriptionCharged, models.EventSubscriptionCancelled:
		return d.handleSubscription(ctx, stored.EventType, payload)
	default:
		log.Infof("[Webhook] ignoring unhandled event type event_id=%s type=%s", stored.EventID, stored.EventType)
		return nil
	}
}

func (d *Dispatcher) handlePaymentCaptured(ctx context.Context, payload []byte) error {
	payment, err := ParsePaymentEntity(payload)
	if err != nil {
		return err
	}

	account, err := d.resolver.Resolve(ctx, payment.CustomerID, payment.Email)
	if err != nil {
		return fmt.Errorf("resolve account for payment %s: %w", payment.ID, err)
	}

	chargeAmount := payment.AmountDecimal()
	metadata := map[string]string{
		"razorpay_payment_id": payment.ID,
		"razorpay_order_id":   payment.OrderID,
		"charged_amount":      chargeAmount.StringFixed(2),
		"charged_currency":    payment.Currency,
	}

	referenceAmount := chargeAmount
	switch payment.Notes[noteKeyPurchaseType] {
	case PurchaseTypeBalanceTopup:
		referenceAmount, err = d.topupReferenceAmount(ctx, payment, chargeAmount, metadata)
		if err != nil {
			return err
		}
		if _, err := d.ledger.ApplyDeltaWithReference(ctx, account.UserID, referenceAmount, models.TransactionTypeTopup, ledgerReference(payment.ID), "Balance top-up", metadata); err != nil {
			return fmt.Errorf("apply top-up for payment %s: %w", payment.ID, err)
		}
	case PurchaseTypeTokenPurchase:
		if err := d.grantTokenLot(ctx, account.UserID, payment); err != nil {
			return err
		}
	default:
		log.Warnf("[Webhook] payment %s captured without a known purchase_type note, recording audit row only", payment.ID)
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	record := &models.PaymentTransaction{
		UserID:            account.UserID,
		Amount:            chargeAmount,
		Currency:          payment.Currency,
		Status:            models.PaymentStatusCompleted,
		PaymentMethod:     payment.Method,
		RazorpayOrderID:   payment.OrderID,
		RazorpayPaymentID: payment.ID,
		MetadataJSON:      string(metadataJSON),
	}
	if _, err := d.repo.CreatePaymentTransactionIfNew(ctx, record); err != nil {
		return fmt.Errorf("record payment transaction %s: %w", payment.ID, err)
	}
	return nil
}

// topupReferenceAmount reads the requested reference amount from the order
// notes and cross-checks it against the charged amount at the current rate.
// The ledger is credited with the requested amount, not the charged one,
// which may carry conversion/fee padding.
func (d *Dispatcher) topupReferenceAmount(ctx context.Context, payment *PaymentEntity, chargeAmount decimal.Decimal, metadata map[string]string) (decimal.Decimal, error) {
	raw, ok := payment.Notes[noteKeyReferenceAmount]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: top-up payment %s missing reference_amount note", ErrInvalidPayload, payment.ID)
	}
	referenceAmount, err := decimal.NewFromString(raw)
	if err != nil || !referenceAmount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: top-up payment %s has invalid reference_amount %q", ErrInvalidPayload, payment.ID, raw)
	}

	expected := chargeAmount
	rate := decimal.NewFromInt(1)
	if !strings.EqualFold(payment.Currency, "USD") {
		expected, rate = d.converter.ToReferenceAmount(ctx, chargeAmount)
	}
	metadata["exchange_rate"] = rate.String()
	metadata["reference_amount"] = referenceAmount.StringFixed(2)

	// The charged amount may exceed the reference amount by fees, but a
	// reference amount above the converted charge (minus tolerance) means the
	// checkout metadata cannot be trusted.
	if referenceAmount.GreaterThan(expected.Add(expected.Mul(topupTolerance))) {
		return decimal.Zero, fmt.Errorf("top-up payment %s reference amount %s exceeds converted charge %s beyond tolerance",
			payment.ID, referenceAmount, expected)
	}
	return referenceAmount, nil
}

func (d *Dispatcher) grantTokenLot(ctx context.Context, userID uint, payment *PaymentEntity) error {
	rawTokens, ok := payment.Notes[noteKeyTokens]
	if !ok {
		return fmt.Errorf("%w: token purchase payment %s missing tokens note", ErrInvalidPayload, payment.ID)
	}
	tokens, err := strconv.ParseInt(rawTokens, 10, 64)
	if err != nil || tokens <= 0 {
		return fmt.Errorf("%w: token purchase payment %s has invalid tokens note %q", ErrInvalidPayload, payment.ID, rawTokens)
	}

	validityDays := defaultTokenValidityDays
	if rawDays, ok := payment.Notes[noteKeyValidityDays]; ok {
		days, err := strconv.Atoi(rawDays)
		if err != nil || days < 0 {
			return fmt.Errorf("%w: token purchase payment %s has invalid validity_days note %q", ErrInvalidPayload, payment.ID, rawDays)
		}
		validityDays = days
	}

	var expiresAt *time.Time
	if validityDays > 0 {
		t := d.now().AddDate(0, 0, validityDays)
		expiresAt = &t
	}
	if _, err := d.tokens.GrantLot(ctx, userID, tokens, expiresAt, payment.ID); err != nil {
		return fmt.Errorf("grant token lot for payment %s: %w", payment.ID, err)
	}
	return nil
}

// handlePaymentFailed records the failure for audit. No money moved, so a
// resolution miss is logged and swallowed instead of failing the event.
func (d *Dispatcher) handlePaymentFailed(ctx context.Context, payload []byte) error {
	payment, err := ParsePaymentEntity(payload)
	if err != nil {
		return err
	}

	account, err := d.resolver.Resolve(ctx, payment.CustomerID, payment.Email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			log.Errorf("[Webhook] payment %s failed for unknown customer %q email %q, skipping audit row",
				payment.ID, payment.CustomerID, payment.Email)
			return nil
		}
		return err
	}

	metadata := map[string]string{
		"razorpay_payment_id": payment.ID,
		"razorpay_order_id":   payment.OrderID,
		"error_code":          payment.ErrorCode,
		"error_source":        payment.ErrorSource,
		"error_step":          payment.ErrorStep,
		"error_reason":        payment.ErrorReason,
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	record := &models.PaymentTransaction{
		UserID:            account.UserID,
		Amount:            payment.AmountDecimal(),
		Currency:          payment.Currency,
		Status:            models.PaymentStatusFailed,
		PaymentMethod:     payment.Method,
		RazorpayOrderID:   payment.OrderID,
		RazorpayPaymentID: payment.ID,
		FailureReason:     payment.ErrorDescription,
		MetadataJSON:      string(metadataJSON),
	}
	if _, err := d.repo.CreatePaymentTransactionIfNew(ctx, record); err != nil {
		return fmt.Errorf("record failed payment %s: %w", payment.ID, err)
	}
	return nil
}

// handleOrderPaid only confirms: the authoritative balance mutation already
// happened in payment.captured, and this event may arrive before, after or
// concurrently with it.
func (d *Dispatcher) handleOrderPaid(payload []byte) error {
	order, err := ParseOrderEntity(payload)
	if err != nil {
		return err
	}
	log.Infof("[Webhook] order paid order_id=%s amount_paid=%d currency=%s", order.ID, order.AmountPaid, order.Currency)
	return nil
}

// handleSubscription records subscription lifecycle transitions for audit.
// Subscription entity mutation lives outside this subsystem and plans do not
// fund the balance, so there is no ledger call here.
func (d *Dispatcher) handleSubscription(ctx context.Context, eventType string, payload []byte) error {
	sub, err := ParseSubscriptionEntity(payload)
	if err != nil {
		return err
	}

	account, err := d.resolver.Resolve(ctx, sub.CustomerID, "")
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			log.Warnf("[Webhook] %s for unknown customer %q subscription %s", eventType, sub.CustomerID, sub.ID)
			return nil
		}
		return err
	}

	log.Infof("[Webhook] %s subscription_id=%s plan_id=%s status=%s user_id=%d",
		eventType, sub.ID, sub.PlanID, sub.Status, account.UserID)
	return nil
}
