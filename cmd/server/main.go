package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	auditapp "github.com/claimflow/backend/internal/application/audit"
	settlementapp "github.com/claimflow/backend/internal/application/settlement"
	"github.com/claimflow/backend/internal/domain/claim"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/claimflow/backend/internal/infrastructure/cache"
	"github.com/claimflow/backend/internal/infrastructure/config"
	"github.com/claimflow/backend/internal/infrastructure/event"
	"github.com/claimflow/backend/internal/infrastructure/logger"
	"github.com/claimflow/backend/internal/infrastructure/migration"
	"github.com/claimflow/backend/internal/infrastructure/notification"
	"github.com/claimflow/backend/internal/infrastructure/payment"
	"github.com/claimflow/backend/internal/infrastructure/persistence"
	"github.com/claimflow/backend/internal/infrastructure/resilience"
	"github.com/claimflow/backend/internal/infrastructure/storage"
	"github.com/claimflow/backend/internal/infrastructure/telemetry"
	"github.com/claimflow/backend/internal/interfaces/http/handler"
	"github.com/claimflow/backend/internal/interfaces/http/middleware"
	"github.com/claimflow/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
		Version: version,
	}
	if cfg.Log.Sampling {
		logCfg.Sampling = logger.ProductionConfig().Sampling
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = logger.Sync(log) }()

	ctx := context.Background()

	providers, err := telemetry.NewProviders(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			log.Error("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	if providers.IsEnabled() {
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			level = zapcore.InfoLevel
		}
		log = telemetry.Bridge(log, providers, cfg.Telemetry.ServiceName, level)
	}

	log.Info("Starting claims settlement service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
		logger.WithParameterizedQueries(cfg.App.Env == "production"),
	)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.DBTraceEnabled,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBName:          cfg.Database.DBName,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	if err := migrate(db, log); err != nil {
		log.Fatal("Failed to apply migrations", zap.Error(err))
	}
	log.Info("Database connected successfully")

	claims := persistence.NewGormClaimRepository(db.DB)
	policies := persistence.NewGormPolicyRepository(db.DB)
	auditSink := persistence.NewGormAuditSink(db.DB)

	// Alerts and the audit trail
	notifier, err := notification.New(cfg.Notification, log)
	if err != nil {
		log.Fatal("Failed to initialize notifier", zap.Error(err))
	}
	auditLogger := auditapp.NewLogger(auditapp.LoggerConfig{
		Sink:     auditSink,
		Notifier: notifier,
		Fallback: log,
	})

	// Settlement metrics and circuit breakers
	metrics, err := telemetry.NewSettlementMetrics(providers.Meter("claims-settlement"))
	if err != nil {
		log.Fatal("Failed to create settlement metrics", zap.Error(err))
	}
	breakers := resilience.NewRegistry(resilience.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		SuccessThreshold: cfg.Circuit.SuccessThreshold,
		OpenTimeout:      cfg.Circuit.OpenTimeout,
		TrialTimeout:     cfg.Settlement.AttemptTimeout,
	}, resilience.WithStateChangeHook(func(endpoint string, from, to resilience.State) {
		log.Warn("Circuit state changed",
			zap.String("endpoint", endpoint),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		metrics.RecordCircuitState(context.Background(), endpoint, to.String())
	}))

	gateway, err := payment.NewHTTPGateway(&cfg.Payment, payment.WithLogger(log))
	if err != nil {
		log.Fatal("Failed to initialize payment gateway", zap.Error(err))
	}
	settler := settlementapp.NewClient(gateway, breakers, auditLogger, settlementapp.ClientConfig{
		Endpoint: cfg.Settlement.Endpoint,
		Retry: shared.RetryPolicy{
			MaxRetries:  cfg.Settlement.MaxRetries,
			BaseBackoff: cfg.Settlement.BaseBackoff,
		},
		AttemptTimeout: cfg.Settlement.AttemptTimeout,
		RateLimit:      cfg.Settlement.RateLimit,
		RateBurst:      cfg.Settlement.RateBurst,
	}, settlementapp.WithClientMetrics(metrics), settlementapp.WithClientLogger(log))

	// Settlement lock
	var lock shared.SettlementLock
	if cfg.Lock.Enabled {
		lock, err = cache.NewSettlementLockFactory(cfg.Redis, cache.WithLogger(log)).CreateLock()
		if err != nil {
			log.Fatal("Failed to create settlement lock", zap.Error(err))
		}
		defer func() {
			if err := lock.Close(); err != nil {
				log.Error("Error closing settlement lock", zap.Error(err))
			}
		}()
	}

	// Event bus; receipts are archived after a claim is paid
	bus := event.NewInMemoryEventBus(event.DefaultBusConfig(), log)
	if cfg.Storage.Bucket != "" {
		archive, err := storage.NewS3ReceiptArchive(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize receipt archive", zap.Error(err))
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			log.Fatal("Receipt archive bucket is not usable", zap.Error(err))
		}
		bus.Subscribe(settlementapp.NewReceiptArchiveHandler(archive, log))
	}
	bus.Subscribe(shared.NewFuncHandler(func(ctx context.Context, e shared.DomainEvent) error {
		logger.WithLogger(ctx, log).Debug("claim lifecycle event",
			zap.String("event_type", e.EventType()),
			zap.String("claim_id", e.AggregateID().String()),
			zap.Int("claim_version", e.AggregateVersion()),
		)
		return nil
	}))
	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	orchestrator := settlementapp.NewOrchestrator(settlementapp.OrchestratorConfig{
		Claims:     claims,
		Policies:   policies,
		Validator:  claim.NewValidationEngine(),
		Scorer:     claim.NewFraudScorer(fraudConfig(cfg.Fraud)),
		Router:     claim.NewApprovalRouter(),
		Settler:    settler,
		Audit:      auditLogger,
		Lock:       lock,
		LockTTL:    cfg.Lock.TTL,
		Events:     bus,
		Metrics:    metrics,
		Logger:     log,
		Validation: claim.ValidationOptions{MinDocuments: cfg.Validation.MinDocuments},
	})
	bulk := settlementapp.NewBulkProcessor(orchestrator, settlementapp.BulkConfig{
		MaxWorkers:   cfg.Settlement.MaxWorkers,
		BatchTimeout: cfg.Settlement.BatchTimeout,
		AutoSettle:   cfg.Settlement.AutoSettle,
	})

	engine, err := newEngine(cfg, log, providers, db, breakers, orchestrator, bulk, auditSink)
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

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
	// In-flight handlers may still be archiving receipts
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus did not drain before shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func migrate(db *persistence.Database, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, log)
	if err != nil {
		return err
	}
	return m.Up()
}

func fraudConfig(cfg config.FraudConfig) claim.FraudConfig {
	return claim.FraudConfig{
		RecentClaimWindowDays: cfg.RecentClaimWindowDays,
		RecentClaimWeight:     cfg.RecentClaimWeight,
		AmountMultiple:        decimal.NewFromFloat(cfg.AmountMultiple),
		AmountOutlierWeight:   cfg.AmountOutlierWeight,
		NewPolicyDays:         cfg.NewPolicyDays,
		NewPolicyWeight:       cfg.NewPolicyWeight,
		DuplicateAmountWeight: cfg.DuplicateAmountWeight,
		FlagThreshold:         cfg.FlagThreshold,
		HistoryLookbackDays:   cfg.HistoryLookbackDays,
	}
}

func newEngine(
	cfg *config.Config,
	log *zap.Logger,
	providers *telemetry.Providers,
	db *persistence.Database,
	breakers *resilience.Registry,
	orchestrator *settlementapp.Orchestrator,
	bulk *settlementapp.BulkProcessor,
	trail handler.AuditTrail,
) (*gin.Engine, error) {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	httpMetrics, err := middleware.HTTPMetrics(providers.Meter("claims-http"))
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Tracing(cfg.Telemetry.ServiceName))
	engine.Use(middleware.SpanAttributes())
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(httpMetrics)
	engine.Use(middleware.Secure())
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, breakers, db)
	engine.GET("/health", systemHandler.Health)

	var batchLimit gin.HandlerFunc
	if cfg.HTTP.BatchRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.HTTP.BatchRateLimit, cfg.HTTP.BatchRateBurst, 10*time.Minute)
		go limiter.Run(context.Background(), time.Minute)
		batchLimit = middleware.RateLimit(limiter)
	}

	claimHandler := handler.NewClaimHandler(orchestrator, bulk, trail, cfg.HTTP.MaxBatchSize)
	r := router.NewRouter(engine)
	r.Register(router.ClaimRoutes(claimHandler, batchLimit)).
		Register(router.SystemRoutes(systemHandler))
	r.Setup()

	return engine, nil
}
