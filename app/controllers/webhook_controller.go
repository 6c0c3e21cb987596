package controllers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vibeforge/vibeforge/internal/pkg/env"
	"github.com/vibeforge/vibeforge/internal/pkg/payments"
)

const webhookHandleTimeout = 15 * time.Second

// WebhookController receives Razorpay webhook deliveries, verifies their
// signature against the raw body and hands them to the dispatcher.
type WebhookController struct {
	dispatcher *payments.Dispatcher
}

func NewWebhookController(dispatcher *payments.Dispatcher) *WebhookController {
	return &WebhookController{dispatcher: dispatcher}
}

func (wc *WebhookController) HandleRazorpayWebhook(c *fiber.Ctx) error {
	// Fiber reuses the request buffer, keep our own copy of the raw body.
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	signature := c.Get("X-Razorpay-Signature")
	secret := env.GetEnv("RAZORPAY_WEBHOOK_SECRET", "")
	if !payments.VerifyWebhookSignature(body, signature, secret) {
		log.Printf("webhook rejected: bad signature from %s", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid webhook signature"})
	}

	eventType, err := payments.ParseEventType(body)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed webhook payload"})
	}

	ev := payments.Event{
		EventID:   c.Get("X-Razorpay-Event-Id"),
		EventType: eventType,
		Payload:   body,
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookHandleTimeout)
	defer cancel()

	result, err := wc.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		log.Printf("webhook %s (%s) failed: %v", ev.EventID, ev.EventType, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook processing failed"})
	}

	if result.Terminal {
		// Retries exhausted: acknowledge so the provider stops
		// redelivering. The event stays in the store for operators.
		return c.JSON(fiber.Map{"status": "failed", "terminal": true})
	}
	if result.Duplicate {
		return c.JSON(fiber.Map{"status": "ok", "duplicate": true})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
