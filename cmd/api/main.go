package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FrankFordB/Restos-sub003/config"
	"github.com/FrankFordB/Restos-sub003/pkg/api/handlers"
	custommw "github.com/FrankFordB/Restos-sub003/pkg/api/middleware"
	"github.com/FrankFordB/Restos-sub003/pkg/billing"
	"github.com/FrankFordB/Restos-sub003/pkg/cache"
	"github.com/FrankFordB/Restos-sub003/pkg/jobs"
	"github.com/FrankFordB/Restos-sub003/pkg/logger"
	"github.com/FrankFordB/Restos-sub003/pkg/mercadopago"
	"github.com/FrankFordB/Restos-sub003/pkg/metrics"
	custommiddleware "github.com/FrankFordB/Restos-sub003/pkg/middleware"
	"github.com/FrankFordB/Restos-sub003/pkg/notify"
	"github.com/FrankFordB/Restos-sub003/pkg/orders"
	"github.com/FrankFordB/Restos-sub003/pkg/store"
	"github.com/FrankFordB/Restos-sub003/pkg/subscriptions"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log.Printf("🔧 Configuration loaded (environment: %s)", cfg.APIEnvironment)

	appLogger := logger.New(cfg.LogLevel)

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Printf("⚠️  Failed to initialize Sentry: %v", err)
		} else {
			log.Printf("✅ Sentry initialized (environment: %s)", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Printf("ℹ️  Sentry disabled (no DSN configured)")
	}

	// Initialize database
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	db, err := store.New(startupCtx, cfg.DatabaseURL, 10)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(startupCtx); err != nil {
		log.Fatalf("❌ Failed to run migrations: %v", err)
	}
	log.Printf("✅ Database migrations applied")

	// Initialize Redis cache
	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// Initialize Prometheus metrics
	prometheusMetrics := metrics.New()
	log.Printf("✅ Prometheus metrics initialized")

	// Payment provider client
	mpClient := mercadopago.NewHTTPClient(&mercadopago.Config{
		BaseURL:       cfg.MPBaseURL,
		PlatformToken: cfg.MPPlatformToken,
		Timeout:       cfg.MPRequestTimeout,
	})

	// Repositories
	pool := db.Pool()
	tenantRepo := store.NewTenantStore(pool)
	subscriptionRepo := store.NewSubscriptionStore(pool)
	webhookEventRepo := store.NewWebhookEventStore(pool)
	orderRepo := store.NewOrderStore(pool)
	productRepo := store.NewProductStore(pool)
	logRepo := store.NewSubscriptionLogStore(pool)

	// Notifications
	notifier := notify.NewService(cfg.EmailFrom, cfg.EmailFromName, cfg.FrontendURL, cfg.SendGridAPIKey, appLogger)

	// Core services
	billingService := billing.NewService(mpClient, tenantRepo, subscriptionRepo, orderRepo, notifier, appLogger)
	gateway := billing.NewGateway(webhookEventRepo, redisClient, billingService, appLogger, cfg.MPWebhookSecret, cfg.MPWebhookStrict)
	orderService := orders.NewService(mpClient, tenantRepo, orderRepo, productRepo, appLogger, cfg.SubscriptionCurrency, cfg.PublicBaseURL)
	subscriptionService := subscriptions.NewService(mpClient, tenantRepo, subscriptionRepo, logRepo, appLogger, &subscriptions.Config{
		PremiumPrice:    cfg.PremiumPrice,
		PremiumProPrice: cfg.PremiumProPrice,
		Currency:        cfg.SubscriptionCurrency,
		FrontendURL:     cfg.FrontendURL,
	})

	// Scheduled jobs
	sweeper := jobs.NewSweeper(tenantRepo, subscriptionRepo, logRepo, mpClient, redisClient, appLogger, cfg.GraceDays)
	reminders := jobs.NewReminders(tenantRepo, logRepo, notifier, appLogger, cfg.ReminderDays)

	var cronManager *jobs.CronManager
	if cfg.CronEnabled {
		cronManager = jobs.NewCronManager(sweeper, reminders, appLogger)
		if err := cronManager.SetupJobs(cfg.SweepSchedule, cfg.ReminderSchedule); err != nil {
			log.Fatalf("❌ Failed to setup cron jobs: %v", err)
		}
		cronManager.Start()
		log.Printf("✅ Cron jobs started (sweep: %q, reminders: %q)", cfg.SweepSchedule, cfg.ReminderSchedule)
	} else {
		log.Printf("ℹ️  In-process cron disabled (CRON_ENABLED=false)")
	}

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Rate limiters
	globalRateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	webhookRateLimiter := custommiddleware.NewRateLimiter(300, 50) // provider retries burst hard
	checkoutRateLimiter := custommiddleware.NewRateLimiter(30, 10)

	// Global middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[%s] %s - Status: %d", c.Request().Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true,
		}))
	}

	e.Use(prometheusMetrics.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))
	e.Use(middleware.Gzip())
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.SecurityHeadersConfig{}))
	e.Use(globalRateLimiter.RateLimitMiddleware())

	// Health check endpoints (public)
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"name":        "Restos Billing API",
			"version":     "0.1.0",
			"status":      "running",
			"environment": cfg.APIEnvironment,
			"timestamp":   time.Now().Unix(),
		})
	})

	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":   "unhealthy",
				"database": "down",
			})
		}
		if _, err := redisClient.Redis.Ping(ctx).Result(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"cache":  "down",
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status":   "healthy",
			"database": "up",
			"cache":    "up",
		})
	})

	// Prometheus metrics endpoint (public)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(gateway, webhookEventRepo, prometheusMetrics)
	orderHandler := handlers.NewOrderHandler(orderService, prometheusMetrics)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService, prometheusMetrics)
	cronHandler := handlers.NewCronHandler(sweeper, reminders, cfg.CronSecret)

	v1 := e.Group("/api/v1")

	// Provider notifications (public, higher rate limit)
	v1.POST("/webhooks/mercadopago", webhookHandler.HandleMercadoPago, webhookRateLimiter.RateLimitMiddleware())

	// Storefront routes (public)
	v1.GET("/plans", subscriptionHandler.Plans)
	v1.POST("/orders/checkout", orderHandler.Checkout, checkoutRateLimiter.RateLimitMiddleware())
	v1.GET("/orders/:orderId", orderHandler.Get)

	// Owner dashboard routes (JWT)
	authed := v1.Group("", custommw.JWTMiddleware(cfg.JWTSecret))
	authed.POST("/subscriptions", subscriptionHandler.Create)
	authed.GET("/subscriptions/:tenantId", subscriptionHandler.Status)
	authed.POST("/subscriptions/cancel", subscriptionHandler.Cancel)
	authed.GET("/webhooks/events/:resourceId", webhookHandler.ListEvents)

	// External scheduler routes (shared secret)
	v1.POST("/cron/sweep", cronHandler.Sweep)
	v1.POST("/cron/reminders", cronHandler.Reminders)

	// Start server
	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Printf("🚀 Restos Billing API starting on %s", address)
	log.Printf("🛡️  Rate limiting: %d req/min (burst: %d)", cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	log.Printf("💳 Webhook signature verification: secret=%v strict=%v", cfg.MPWebhookSecret != "", cfg.MPWebhookStrict)

	// Graceful shutdown
	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	if cronManager != nil {
		cronManager.Stop()
		log.Println("✅ Cron jobs stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server gracefully stopped")
}
