package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/vibeforge/vibeforge/app/models"
	"github.com/vibeforge/vibeforge/internal/pkg/ledger"
	"github.com/vibeforge/vibeforge/internal/pkg/payments"
	"github.com/vibeforge/vibeforge/internal/pkg/sweeper"
	"github.com/vibeforge/vibeforge/internal/pkg/tokens"
)

const defaultTransactionPageSize = 50

// AdminBillingController exposes the operator endpoints: manual sweeps,
// stuck webhook inspection, balances and token utilization.
type AdminBillingController struct {
	store    *payments.Store
	engine   *ledger.Engine
	tokens   *tokens.Service
	manager  *sweeper.Manager
	provider *payments.RazorpayClient
}

func NewAdminBillingController(store *payments.Store, engine *ledger.Engine, tokenService *tokens.Service, manager *sweeper.Manager, provider *payments.RazorpayClient) *AdminBillingController {
	return &AdminBillingController{
		store:    store,
		engine:   engine,
		tokens:   tokenService,
		manager:  manager,
		provider: provider,
	}
}

// HandleWebhookSweep triggers a single retry sweep over FAILED events
// below the retry ceiling.
func (ac *AdminBillingController) HandleWebhookSweep(c *fiber.Ctx) error {
	attempted, recovered, err := ac.manager.RunWebhookSweepOnce(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"attempted": attempted, "recovered": recovered})
}

// HandleListRetryable lists FAILED webhook events that the sweeper will
// pick up, oldest first.
func (ac *AdminBillingController) HandleListRetryable(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultTransactionPageSize)
	events, err := ac.store.ListRetryable(c.UserContext(), limit, models.WebhookMaxRetries)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"events": events, "count": len(events)})
}

// HandleTokenSweep triggers a single token lot expiration sweep.
func (ac *AdminBillingController) HandleTokenSweep(c *fiber.Ctx) error {
	summary, err := ac.manager.RunExpirationSweepOnce(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"expired_lots": summary.ExpiredLots, "tokens_expired": summary.TokensExpired})
}

// HandleUserBalance returns the current balance and recent transactions
// for a user.
func (ac *AdminBillingController) HandleUserBalance(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user id"})
	}

	balance, err := ac.engine.GetBalance(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Account not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}

	limit := c.QueryInt("limit", defaultTransactionPageSize)
	transactions, err := ac.engine.ListTransactions(c.UserContext(), userID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}

	return c.JSON(fiber.Map{
		"user_id":      userID,
		"balance":      balance.StringFixed(2),
		"transactions": transactions,
	})
}

// HandleUserUtilization returns purchased/used/available token counts and
// the derived utilization rate.
func (ac *AdminBillingController) HandleUserUtilization(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user id"})
	}

	utilization, err := ac.tokens.GetUtilization(c.UserContext(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.JSON(utilization)
}

// HandleVerifyPayment fetches the payment from the provider so support can
// compare it against locally recorded state when a webhook is disputed.
func (ac *AdminBillingController) HandleVerifyPayment(c *fiber.Ctx) error {
	paymentID := c.Params("paymentId")
	payment, err := ac.provider.FetchPayment(c.UserContext(), paymentID)
	if err != nil {
		if errors.Is(err, payments.ErrProviderFetch) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": err.Error()})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}
	return c.JSON(fiber.Map{
		"payment_id": payment.ID,
		"order_id":   payment.OrderID,
		"amount":     payment.AmountDecimal().StringFixed(2),
		"currency":   payment.Currency,
		"status":     payment.Status,
		"method":     payment.Method,
		"email":      payment.Email,
	})
}

func parseUserID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
