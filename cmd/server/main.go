package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	syncapp "github.com/erp/marketsync/internal/application/integration"
	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/erp/marketsync/internal/infrastructure/cache"
	"github.com/erp/marketsync/internal/infrastructure/config"
	"github.com/erp/marketsync/internal/infrastructure/event"
	"github.com/erp/marketsync/internal/infrastructure/logger"
	"github.com/erp/marketsync/internal/infrastructure/marketplace"
	"github.com/erp/marketsync/internal/infrastructure/migration"
	"github.com/erp/marketsync/internal/infrastructure/persistence"
	"github.com/erp/marketsync/internal/infrastructure/ratelimit"
	"github.com/erp/marketsync/internal/infrastructure/scheduler"
	"github.com/erp/marketsync/internal/infrastructure/storage"
	"github.com/erp/marketsync/internal/infrastructure/telemetry"
	"github.com/erp/marketsync/internal/interfaces/http/handler"
	"github.com/erp/marketsync/internal/interfaces/http/middleware"
	"github.com/erp/marketsync/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

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
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	ctx := context.Background()

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	if loggerProvider.IsEnabled() {
		log = telemetry.BridgeLogger(log, telemetry.NewZapOTELCore(cfg.Telemetry.ServiceName, loggerProvider, logger.ParseLevel(cfg.Log.Level)))
	}
	zap.ReplaceGlobals(log)

	log.Info("Starting marketplace sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.Int("accounts", len(cfg.Marketplace.Accounts)),
	)

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider.Meter("marketsync"))
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := prepareSchema(&cfg.Database, db, log); err != nil {
		log.Fatal("Failed to prepare database schema", zap.Error(err))
	}
	dbSystem := "postgresql"
	if cfg.Database.Driver == persistence.DriverSQLite {
		dbSystem = "sqlite"
	}
	if err := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        dbSystem,
	}, log).Register(db.DB); err != nil {
		log.Warn("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	// Idempotency markers and key locks
	stores, err := cache.NewStoresFactory(cfg.Redis, cache.WithLogger(log)).Create(ctx)
	if err != nil {
		log.Fatal("Failed to create idempotency stores", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("Error closing idempotency stores", zap.Error(err))
		}
	}()

	// Marketplace transport
	limiters, err := ratelimit.NewRegistry(ratelimit.Scope(cfg.RateLimit.Scope), ratelimit.Config{
		Budgets: map[integration.ResourceClass]ratelimit.Budget{
			integration.ResourceClassOrders:  {PerSecond: cfg.RateLimit.OrdersPerSecond, PerMinute: cfg.RateLimit.OrdersPerMinute},
			integration.ResourceClassDefault: {PerSecond: cfg.RateLimit.DefaultPerSecond, PerMinute: cfg.RateLimit.DefaultPerMinute},
		},
		JitterMax: cfg.RateLimit.JitterMax,
		Pace:      cfg.RateLimit.Pace,
	})
	if err != nil {
		log.Fatal("Failed to create rate limiters", zap.Error(err))
	}
	retry := marketplace.NewRetryController(marketplace.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}, log)

	accounts := make([]marketplace.AccountConfig, 0, len(cfg.Marketplace.Accounts))
	for _, a := range cfg.Marketplace.Accounts {
		accounts = append(accounts, marketplace.AccountConfig{ID: a.ID, APIKey: a.APIKey, APISecret: a.APISecret})
	}
	client, err := marketplace.NewClient(marketplace.ClientConfig{
		BaseURL:               cfg.Marketplace.BaseURL,
		Timeout:               cfg.Marketplace.Timeout,
		Accounts:              accounts,
		ChunkSize:             cfg.Sync.ChunkSize,
		MaxElementsPerRequest: cfg.Sync.MaxElementsPerRequest,
		UserAgent:             cfg.Marketplace.UserAgent,
	}, limiters, retry, log, marketplace.WithMetrics(syncMetrics))
	if err != nil {
		log.Fatal("Failed to create marketplace client", zap.Error(err))
	}
	catalogSource := marketplace.NewCatalogSource(client)

	// Events
	eventBus := event.NewInMemoryEventBus(log)
	if cfg.Events.Enabled {
		publisher, err := event.NewRabbitMQPublisher(cfg.Events, log)
		if err != nil {
			log.Fatal("Failed to connect event publisher", zap.Error(err))
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("Error closing event publisher", zap.Error(err))
			}
		}()
		idem := shared.DefaultIdempotencyConfig()
		eventBus.Subscribe(event.NewIdempotentHandler(publisher, stores.Idempotency, idem, log), publisher.EventTypes()...)
		log.Info("Publishing domain events to RabbitMQ", zap.String("exchange", cfg.Events.Exchange))
	}
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Sync orchestrator
	defaultStrategy, err := integration.ParseConflictStrategy(cfg.Sync.DefaultStrategy)
	if err != nil {
		log.Fatal("Invalid default conflict strategy", zap.Error(err))
	}

	runPoolConfig := scheduler.DefaultRunPoolConfig()
	runPoolConfig.Workers = cfg.Sync.Workers
	runPoolConfig.QueueSize = cfg.Sync.QueueSize
	runPool, err := scheduler.NewRunPool(runPoolConfig, log)
	if err != nil {
		log.Fatal("Failed to create run pool", zap.Error(err))
	}

	syncOpts := []syncapp.SyncOption{
		syncapp.WithCatalogWriter(catalogSource),
		syncapp.WithRunSubmitter(runPool),
		syncapp.WithBatchJitter(func(account integration.AccountID) time.Duration {
			return client.Limiter(account).BatchJitter()
		}),
	}
	if cfg.Archive.Enabled {
		archiver, err := storage.NewS3SyncRunArchiver(ctx, &cfg.Archive, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create sync run archiver", zap.Error(err))
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Warn("Archive bucket check failed", zap.String("bucket", cfg.Archive.Bucket), zap.Error(err))
		}
		syncOpts = append(syncOpts, syncapp.WithArchiver(archiver))
	}

	syncService := syncapp.NewSyncService(
		catalogSource,
		persistence.NewGormSyncedRecordRepository(db.DB),
		persistence.NewGormSyncRunRepository(db.DB),
		stores.Locker,
		client.Accounts(),
		syncapp.SyncConfig{
			DefaultStrategy: defaultStrategy,
			ItemsPerPage:    cfg.Sync.ItemsPerPage,
			StuckAfter:      cfg.Sync.StuckAfter,
			Retention:       cfg.Sync.Retention,
			HistoryLimit:    cfg.Sync.HistoryLimit,
		},
		log,
		syncOpts...,
	)
	syncService.SetEventPublisher(eventBus)
	syncService.SetMetrics(syncMetrics)

	orderService := syncapp.NewOrderService(
		persistence.NewGormOrderRepository(db.DB),
		marketplace.NewOrderGateway(client),
		stores.Idempotency,
		stores.Locker,
		log,
		syncapp.WithMarkerTTL(cfg.Sync.NotificationTTL),
	)
	orderService.SetEventPublisher(eventBus)
	orderService.SetMetrics(syncMetrics)

	if err := runPool.Start(ctx); err != nil {
		log.Fatal("Failed to start run pool", zap.Error(err))
	}
	maintenance, err := scheduler.NewMaintenanceJob(cfg.Sync.MaintenanceInterval, log, syncService.MaintenanceTasks()...)
	if err != nil {
		log.Fatal("Failed to create maintenance job", zap.Error(err))
	}
	if err := maintenance.Start(ctx); err != nil {
		log.Fatal("Failed to start maintenance job", zap.Error(err))
	}

	// HTTP
	if err := middleware.SetupValidator(); err != nil {
		log.Fatal("Failed to register validators", zap.Error(err))
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     tracerProvider.IsEnabled(),
	}))
	engine.Use(middleware.SpanAttributes())
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		Enabled:       meterProvider.IsEnabled(),
	}))
	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	engine.Use(middleware.CORS(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	engine.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))

	var apiLimit []gin.HandlerFunc
	if cfg.HTTP.RateLimitEnabled {
		apiLimit = append(apiLimit, middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)))
		log.Info("Inbound rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version,
		handler.HealthCheck{Name: "database", Check: func(context.Context) error { return db.Ping() }},
	)
	syncHandler := handler.NewSyncHandler(syncService)
	orderHandler := handler.NewOrderHandler(orderService)

	router.NewRouter(engine).Register(
		router.SyncRoutes(syncHandler, apiLimit...),
		router.OrderRoutes(orderHandler, apiLimit...),
		router.NotificationRoutes(orderHandler),
		router.SystemRoutes(systemHandler),
	).Setup()
	router.RegisterProbes(engine, systemHandler)

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
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := maintenance.Stop(shutdownCtx); err != nil {
		log.Warn("Maintenance job did not stop cleanly", zap.Error(err))
	}
	if err := syncService.Shutdown(shutdownCtx); err != nil {
		log.Warn("Sync runs did not finish before shutdown", zap.Error(err))
	}
	if err := runPool.Stop(shutdownCtx); err != nil {
		log.Warn("Run pool did not stop cleanly", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus did not stop cleanly", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Meter provider shutdown failed", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer provider shutdown failed", zap.Error(err))
	}
	if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Logger provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// prepareSchema applies the migration files on PostgreSQL and gorm
// AutoMigrate on SQLite.
func prepareSchema(cfg *config.DatabaseConfig, db *persistence.Database, log *zap.Logger) error {
	if cfg.Driver == persistence.DriverSQLite {
		return db.AutoMigrate()
	}
	m, err := migration.NewFromConfig(cfg, migration.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Close()
	}()
	return m.Up()
}
