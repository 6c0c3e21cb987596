package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/vibeforge/vibeforge/app/controllers"
	"github.com/vibeforge/vibeforge/internal/pkg/cache"
	"github.com/vibeforge/vibeforge/internal/pkg/env"
	"github.com/vibeforge/vibeforge/internal/pkg/middleware"
)

type ApiRouter struct {
	webhook *controllers.WebhookController
	admin   *controllers.AdminBillingController
}

func NewApiRouter(webhook *controllers.WebhookController, admin *controllers.AdminBillingController) *ApiRouter {
	return &ApiRouter{webhook: webhook, admin: admin}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Post("/webhooks/razorpay", h.webhook.HandleRazorpayWebhook)

	admin := v1.Group("/admin", middleware.AdminAPIKeyMiddleware())
	admin.Post("/billing/webhooks/sweep", h.admin.HandleWebhookSweep)
	admin.Get("/billing/webhooks/retryable", h.admin.HandleListRetryable)
	admin.Post("/billing/tokens/sweep", h.admin.HandleTokenSweep)
	admin.Get("/billing/users/:id/balance", h.admin.HandleUserBalance)
	admin.Get("/billing/users/:id/utilization", h.admin.HandleUserUtilization)
	admin.Get("/billing/payments/:paymentId/verify", h.admin.HandleVerifyPayment)
}

// newLimiterStorage backs the rate limiter with Redis so counters survive
// restarts and are shared across instances. Database 1 keeps limiter keys
// out of the cache keyspace (DB 0).
func newLimiterStorage() fiber.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient := cache.GetClient(); cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
