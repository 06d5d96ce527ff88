package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	billingapp "github.com/facturio/backend/internal/application/billing"
	creditsapp "github.com/facturio/backend/internal/application/credits"
	extractionapp "github.com/facturio/backend/internal/application/extraction"
	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/infrastructure/auth"
	"github.com/facturio/backend/internal/infrastructure/cache"
	"github.com/facturio/backend/internal/infrastructure/config"
	"github.com/facturio/backend/internal/infrastructure/extraction"
	"github.com/facturio/backend/internal/infrastructure/logger"
	"github.com/facturio/backend/internal/infrastructure/persistence"
	"github.com/facturio/backend/internal/infrastructure/storage"
	"github.com/facturio/backend/internal/infrastructure/telemetry"
	"github.com/facturio/backend/internal/interfaces/http/handler"
	"github.com/facturio/backend/internal/interfaces/http/middleware"
	"github.com/facturio/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/facturio/backend/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

//	@title			Facturio Credits API
//	@version		1.0
//	@description	Credit ledger engine for the Facturio bookkeeping platform. Meters AI document extractions against per-user credit balances.
//	@termsOfService	http://swagger.io/terms/

//	@contact.name	API Support
//	@contact.url	https://github.com/facturio/backend
//	@contact.email	support@facturio.example.com

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

//	@externalDocs.description	OpenAPI
//	@externalDocs.url			https://swagger.io/resources/open-api/

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Facturio Credits Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// With telemetry disabled these install no-op providers, so downstream
	// middleware can stay unconditional.
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	meterProvider, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	stopDBTelemetry := instrumentDatabase(db, cfg, meterProvider, log)
	defer stopDBTelemetry()

	deps := buildServices(db, cfg, log)

	businessMetrics, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter:          meterProvider.Meter("facturio.business"),
		Logger:         log,
		LedgerProvider: telemetry.NewGormLedgerMetricsProvider(db.DB),
	})
	if err != nil {
		log.Fatal("Failed to initialize business metrics", zap.Error(err))
	}
	deps.ledgerService.SetMetrics(businessMetrics)
	if cfg.Telemetry.Enabled {
		businessMetrics.StartPeriodicCollection(context.Background(), 5*time.Minute)
		defer businessMetrics.Stop()
	}

	engine := buildEngine(cfg, log, meterProvider)
	registerRoutes(engine, db, cfg, log, deps, businessMetrics)

	runServer(engine, cfg, log)
}

// instrumentDatabase registers query tracing and pool metrics on the GORM
// handle, returning a stop func for the metrics collector.
func instrumentDatabase(db *persistence.Database, cfg *config.Config, meterProvider *telemetry.MeterProvider, log *zap.Logger) func() {
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:          true,
			SlowQueryThresh:  cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:         "postgresql",
			WithoutVariables: cfg.App.Env == "production",
		}, log)
		if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}

	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DBMetricsConfig{
		Enabled:            cfg.Telemetry.Enabled,
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err != nil {
		log.Warn("Failed to register database metrics", zap.Error(err))
	}
	if dbMetrics == nil {
		return func() {}
	}
	dbMetrics.StartPoolStatsCollection(context.Background())
	return dbMetrics.Stop
}

// services bundles the application layer wiring handed to route setup.
type services struct {
	ledgerService   *creditsapp.LedgerService
	documentService *extractionapp.DocumentService
	webhookService  *billingapp.StripeWebhookService
	planRepo        credits.PlanRepository
	verifier        *auth.TokenVerifier
}

// buildServices wires repositories, external clients and application
// services. Fatal on any failure, there is no degraded mode without them.
func buildServices(db *persistence.Database, cfg *config.Config, log *zap.Logger) *services {
	balanceRepo := persistence.NewCreditBalanceRepository(db.DB)
	transactionRepo := persistence.NewCreditTransactionRepository(db.DB)
	planRepo := cache.NewCachingPlanRepository(
		persistence.NewPlanRepository(db.DB),
		cache.NewInMemoryPlanCache(),
	)

	// Idempotency store for webhook event deduplication. Redis when
	// reachable, in-memory otherwise.
	idempotencyFactory := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	idempotencyStore, err := idempotencyFactory.CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	ledgerService := creditsapp.NewLedgerService(balanceRepo, transactionRepo, planRepo, log)

	documentStorage, err := storage.NewS3DocumentStorage(&cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize document storage", zap.Error(err))
	}

	extractionClient, err := extraction.NewClient(&cfg.Extraction, log)
	if err != nil {
		log.Fatal("Failed to initialize extraction client", zap.Error(err))
	}

	documentService := extractionapp.NewDocumentService(ledgerService, documentStorage, extractionClient, log)

	// Stripe stays optional in development; webhook signature checks fail
	// cleanly when the secret is missing.
	if cfg.Stripe.SecretKey != "" {
		if err := cfg.Stripe.Validate(); err != nil {
			log.Fatal("Invalid Stripe configuration", zap.Error(err))
		}
		cfg.Stripe.InitStripeClient()
	}

	webhookService := billingapp.NewStripeWebhookService(billingapp.StripeWebhookServiceConfig{
		Config:      &cfg.Stripe,
		Ledger:      ledgerService,
		PlanRepo:    planRepo,
		Idempotency: idempotencyStore,
		Logger:      log,
	})

	return &services{
		ledgerService:   ledgerService,
		documentService: documentService,
		webhookService:  webhookService,
		planRepo:        planRepo,
		verifier:        auth.NewTokenVerifier(cfg.Auth),
	}
}

// buildEngine creates the Gin engine with the full middleware stack:
// request ID, recovery, logging, security headers, CORS, tracing, HTTP
// metrics, body limit and rate limiting, in that order.
func buildEngine(cfg *config.Config, log *zap.Logger, meterProvider *telemetry.MeterProvider) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	middleware.SetupValidator()

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		ServiceName:   cfg.Telemetry.ServiceName,
		Enabled:       cfg.Telemetry.Enabled,
	}))

	// Body size limit sized for phone photos of invoices and tickets
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	return engine
}

// registerRoutes mounts health, swagger, the Stripe webhook and the
// versioned API domain groups.
func registerRoutes(engine *gin.Engine, db *persistence.Database, cfg *config.Config, log *zap.Logger, deps *services, businessMetrics *telemetry.BusinessMetrics) {
	creditsHandler := handler.NewCreditsHandler(deps.ledgerService)
	documentsHandler := handler.NewDocumentsHandler(deps.documentService)
	stripeWebhookHandler := handler.NewStripeWebhookHandler(deps.webhookService)
	stripeWebhookHandler.SetMetrics(businessMetrics)

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db, log))

	// Swagger documentation endpoint, gated per environment policy
	swaggerAuth := middleware.AuthMiddlewareWithConfig(middleware.AuthMiddlewareConfig{
		Verifier: deps.verifier,
		Logger:   log,
	})
	engine.GET("/swagger/*any",
		middleware.SwaggerProtection(middleware.SwaggerConfig{
			Enabled:     cfg.Swagger.Enabled,
			RequireAuth: cfg.Swagger.RequireAuth,
			AllowedIPs:  cfg.Swagger.AllowedIPs,
		}, swaggerAuth),
		ginSwagger.WrapHandler(swaggerFiles.Handler),
	)

	// Stripe webhook endpoint (no authentication; verified by signature).
	// Called directly by Stripe.
	engine.POST("/api/v1/webhooks/stripe", stripeWebhookHandler.HandleStripeWebhook)

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	authMW := middleware.AuthMiddlewareWithConfig(middleware.AuthMiddlewareConfig{
		Verifier:         deps.verifier,
		DevHeaderEnabled: cfg.Auth.DevHeaderEnabled,
		SkipPaths: []string{
			"/api/v1/ping",
			"/api/v1/system/ping",
			"/api/v1/system/info",
		},
		SkipPathPrefixes: []string{
			"/api/v1/webhooks",
		},
		Logger: log,
	})

	// Credits domain (balances, availability checks, ledger history)
	creditsRoutes := router.NewDomainGroup("credits", "/credits")
	creditsRoutes.Use(authMW)
	creditsRoutes.GET("", creditsHandler.GetSummary)
	creditsRoutes.GET("/check", creditsHandler.Check)
	creditsRoutes.GET("/transactions", creditsHandler.ListTransactions)

	// Documents domain (metered extraction submissions)
	documentsRoutes := router.NewDomainGroup("documents", "/documents")
	documentsRoutes.Use(authMW)
	documentsRoutes.POST("", documentsHandler.Submit)

	// Plan catalog, public for the pricing page
	plansHandler := handler.NewPlansHandler(deps.planRepo)
	plansRoutes := router.NewDomainGroup("plans", "/plans")
	plansRoutes.GET("", plansHandler.ListPlans)

	// System routes with swagger-documented handlers
	systemHandler := handler.NewSystemHandler()
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	r.Register(creditsRoutes).
		Register(documentsRoutes).
		Register(plansRoutes).
		Register(systemRoutes)
	r.Setup()

	// Also keep a simple ping at root API level for basic health checks
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
}

// runServer starts the HTTP server and blocks until SIGINT or SIGTERM,
// then drains in-flight requests for up to thirty seconds.
func runServer(engine *gin.Engine, cfg *config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler reports liveness plus a database ping.
func healthHandler(db *persistence.Database, _ *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
