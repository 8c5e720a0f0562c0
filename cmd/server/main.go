package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/payaddons/stripe-gateway/internal"
	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/crypto"
	"github.com/payaddons/stripe-gateway/internal/handler"
	"github.com/payaddons/stripe-gateway/internal/handler/webhook"
	"github.com/payaddons/stripe-gateway/internal/lock"
	"github.com/payaddons/stripe-gateway/internal/middleware"
	"github.com/payaddons/stripe-gateway/internal/order"
	"github.com/payaddons/stripe-gateway/internal/router"
	"github.com/payaddons/stripe-gateway/internal/routes"
	"github.com/payaddons/stripe-gateway/internal/service"
	"github.com/payaddons/stripe-gateway/internal/telemetry"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	store := order.NewPostgresStore(pool)

	// Order locks: Redis when configured, in-process otherwise
	var locks lock.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		locks = lock.NewRedisStore(client)
		logger.Info("Order locks backed by Redis")
	} else {
		locks = lock.NewMemoryStore()
		logger.Warn("Order locks are in-process only; run a single instance or set REDIS_URL")
	}

	// Initialize Stripe billing provider
	logger.Info("Initializing Stripe billing provider...")
	stripeConfig := billing.StripeConfig{
		APIKey:         cfg.Stripe.SecretKey,
		WebhookSecret:  cfg.Stripe.WebhookSecret,
		TimeoutSeconds: cfg.Stripe.TimeoutSeconds,
	}
	provider, err := billing.NewStripeProvider(stripeConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe billing provider initialized", "test_mode", stripeConfig.IsTestMode())

	// Business metrics
	telemetry.InitBusinessMetrics(cfg.MetricsNamespace)
	monitor := telemetry.NewWebhookMonitor()

	// Return URL signer
	signer, err := crypto.NewSigner(cfg.VerifySecret)
	if err != nil {
		return fmt.Errorf("failed to initialize return URL signer: %w", err)
	}

	// Merchant settings resolved once at startup
	settings := service.Settings{
		SiteName:          cfg.Store.SiteName,
		SiteURL:           cfg.Store.SiteURL,
		BaseURL:           cfg.BaseURL,
		AccountCountry:    cfg.Store.AccountCountry,
		EnabledMethods:    cfg.Store.EnabledMethods,
		SavedCards:        cfg.Store.SavedCards,
		AutomaticTax:      cfg.Store.AutomaticTax,
		PlatformTaxActive: cfg.Store.PlatformTaxActive,
		CaptureMethod:     cfg.Store.CaptureMethod,
	}

	// Initialize services
	customers := service.NewCustomerService(provider, store, logger)
	builder := service.NewIntentBuilder(settings, customers)
	payments := service.NewPaymentService(provider, store, locks, builder, customers, signer, settings, logger)
	webhooks := service.NewWebhookService(provider, store, payments, service.NoSubscriptionSupport{}, logger)
	logger.Info("Payment services initialized")

	// ==========================================================================
	// Build route dependencies
	// ==========================================================================

	checkoutDeps := routes.CheckoutDeps{
		CheckoutHandler: handler.NewCheckoutHandler(payments, store, settings, logger),
	}
	webhookDeps := routes.WebhookDeps{
		StripeHandler: webhook.NewStripeHandler(provider, webhooks, monitor, cfg.Stripe.WebhookSecret, logger),
	}

	// ==========================================================================
	// Initialize middleware
	// ==========================================================================

	metrics := middleware.NewMetrics(cfg.MetricsNamespace)

	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.ContentSecurityPolicy = ""
		securityConfig.HSTSMaxAge = 0
	}

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithClientIP(),
		metrics.Middleware,
		middleware.SecurityHeaders(securityConfig),
		router.CORS([]string{cfg.Store.SiteURL}),
		middleware.Timeout(middleware.DefaultTimeout),
		rateLimiter.Middleware,
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	routes.RegisterCheckoutRoutes(r, checkoutDeps)
	routes.RegisterWebhookRoutes(r, webhookDeps)
	routes.RegisterOpsRoutes(r, routes.OpsDeps{MetricsHandler: metrics.Handler()})

	// ==========================================================================
	// Start server
	// ==========================================================================

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting payment gateway", "address", addr, "base_url", cfg.BaseURL)

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
