package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"

	"github.com/vibeforge/vibeforge/app/controllers"
	"github.com/vibeforge/vibeforge/internal/pkg/cache"
	"github.com/vibeforge/vibeforge/internal/pkg/currency"
	"github.com/vibeforge/vibeforge/internal/pkg/database"
	"github.com/vibeforge/vibeforge/internal/pkg/env"
	"github.com/vibeforge/vibeforge/internal/pkg/ledger"
	"github.com/vibeforge/vibeforge/internal/pkg/mail"
	"github.com/vibeforge/vibeforge/internal/pkg/payments"
	"github.com/vibeforge/vibeforge/internal/pkg/router"
	"github.com/vibeforge/vibeforge/internal/pkg/sweeper"
	"github.com/vibeforge/vibeforge/internal/pkg/tokens"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app, manager := NewApplication()

	manager.Start()

	// Graceful shutdown: stop accepting requests, then drain the sweeper.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("Shutdown signal received")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Printf("Server stopped: %v", err)
	}

	manager.Stop()
}

func NewApplication() (*fiber.App, *sweeper.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()

	// Currency conversion with a static fallback so webhook processing
	// never blocks on the rate API.
	fallbackRate, err := decimal.NewFromString(env.GetEnv("FALLBACK_USD_INR_RATE", "84.50"))
	if err != nil {
		log.Fatalf("Invalid FALLBACK_USD_INR_RATE: %v", err)
	}
	converter := currency.NewConverter(
		currency.NewHTTPRateSourceFromEnv(),
		fallbackRate,
		currency.WithRedisMirror(),
	)

	ledgerRepo := ledger.NewRepository(db)
	engine := ledger.NewEngine(ledgerRepo)

	tokenRepo := tokens.NewRepository(db)
	tokenService := tokens.NewService(tokenRepo, tokens.WithNotifier(mail.SendMail))

	paymentsRepo := payments.NewRepository(db)
	store := payments.NewStore(paymentsRepo)
	resolver := payments.NewResolver(paymentsRepo)
	dispatcher := payments.NewDispatcher(store, resolver, engine, converter, tokenService, paymentsRepo)

	manager := sweeper.NewManager(dispatcher, tokenService)

	app := fiber.New(fiber.Config{
		AppName:               "vibeforge-billing",
		DisableStartupMessage: !env.IsDev(),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ROUTER
	webhookController := controllers.NewWebhookController(dispatcher)
	adminController := controllers.NewAdminBillingController(store, engine, tokenService, manager, payments.NewRazorpayClientFromEnv())
	router.InstallRouter(app, router.NewApiRouter(webhookController, adminController))

	return app, manager
}
