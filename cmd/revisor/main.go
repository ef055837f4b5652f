package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/openpress/revisor/config"
	"github.com/openpress/revisor/internal/database"
	"github.com/openpress/revisor/internal/logging"
	"github.com/openpress/revisor/internal/middleware"
	"github.com/openpress/revisor/internal/nonce"
	contentrepo "github.com/openpress/revisor/internal/repositories/content"
	mergelockrepo "github.com/openpress/revisor/internal/repositories/mergelock"
	schedulerepo "github.com/openpress/revisor/internal/repositories/schedule"
	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/events"
	"github.com/openpress/revisor/pkg/extension"
	"github.com/openpress/revisor/pkg/hooks"
	"github.com/openpress/revisor/pkg/kafka"
	"github.com/openpress/revisor/pkg/lifecycle"
	"github.com/openpress/revisor/pkg/merging"
	"github.com/openpress/revisor/pkg/metacopy"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/report"
	"github.com/openpress/revisor/pkg/routes/health"
	lifecycleroutes "github.com/openpress/revisor/pkg/routes/lifecycle"
	"github.com/openpress/revisor/pkg/routes/updates"
	"github.com/openpress/revisor/pkg/scheduler"
	"github.com/openpress/revisor/pkg/staging"
)

const version = "1.0.0"

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		log.Fatalf("failed to bind config: %v", err)
	}

	zl, err := newZapLogger(&cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()
	logger := logging.New(zl)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	tracing.SetTracer(otel.Tracer(cfg.AppName))

	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, postgresDSN(&cfg))
	if err != nil {
		fatal(logger, err, "Failed to connect to database")
	}
	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
	if err != nil {
		fatal(logger, err, "Failed to create migration driver")
	}
	migrations := database.NewMigrationService(cfg.DatabaseMigrationFolderPath, logger)
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		fatal(logger, err, "Failed to apply migrations")
	}

	db := database.New(sqlxDB, logger)
	contentStore := contentrepo.NewRepository(db, logger)
	scheduleStore := schedulerepo.NewRepository(db, logger)
	locks := mergelockrepo.NewRepository(db, logger)

	var emitter events.Emitter = events.NopEmitter{}
	var producer *kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		emitter = events.NewKafkaEmitter(producer, logger)
	}

	statuses := models.Statuses{Staged: cfg.StagedStatus, Trash: models.StatusTrash}
	copier := metacopy.NewCopier(contentStore, logger)
	hookRegistry := hooks.NewRegistry(logger,
		hooks.NewBuilderHook(contentStore, cfg.BuilderAssetsDir, logger),
		hooks.NewTranslationHook(contentStore, cfg.TranslationEnabled, logger),
		hooks.NewCommerceHook(contentStore, cfg.CommerceEnabled, logger),
	)
	extensions := extension.NewRegistry()
	for _, itemType := range cfg.ExcludedTypes {
		extensions.ExcludeType(itemType)
	}

	manager := staging.NewManager(staging.ManagerParams{
		Store:      contentStore,
		Scheduler:  scheduleStore,
		Copier:     copier,
		Hooks:      hookRegistry,
		Extensions: extensions,
		Emitter:    emitter,
		Statuses:   statuses,
		PastGrace:  cfg.PastDateGrace,
		Logger:     logger,
	})
	engine := merging.NewEngine(merging.EngineParams{
		Store:      contentStore,
		Locks:      locks,
		Scheduler:  scheduleStore,
		Copier:     copier,
		Hooks:      hookRegistry,
		Extensions: extensions,
		Emitter:    emitter,
		Statuses:   statuses,
		LockTTL:    cfg.MergeLockTTL,
		Logger:     logger,
	})
	guard := lifecycle.NewGuard(contentStore, scheduleStore, statuses, nil, logger)
	reportSvc := report.NewService(contentStore, statuses, logger)
	tokens := nonce.NewService(cfg.ActionTokenTTL)
	capabilities := updates.NewCapabilityChecker(cfg.CapabilityHeader)

	schedulerSvc := scheduler.NewService(scheduler.ServiceParams{
		Store:            contentStore,
		Queue:            scheduleStore,
		Merger:           engine,
		Statuses:         statuses,
		DispatchInterval: cfg.DispatchInterval,
		SweepInterval:    cfg.SweepInterval,
		Logger:           logger,
	})

	if err := registerDependencies(logger, manager, engine, guard, reportSvc, tokens, capabilities); err != nil {
		fatal(logger, err, "Failed to register dependencies")
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes
	e.Validator = &requestValidator{validate: validator.New()}
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Logger(logger))

	updates.Register(e.Group("/api/v1/updates"))
	lifecycleroutes.Register(e.Group("/api/v1/items"))
	checker := health.NewChecker(sqlxDB, version)
	checker.RegisterRoutes(e)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := schedulerSvc.Start(ctx); err != nil {
		fatal(logger, err, "Failed to start scheduler")
	}
	checker.SetReady(true)

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.WithError(err).Info("HTTP server stopped")
		}
	}()
	logger.WithFields(map[string]any{"port": cfg.Port}).Info("Server started")

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	checker.SetReady(false)
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server")
	}
	if err := schedulerSvc.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to stop scheduler")
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Error("Failed to close Kafka producer")
		}
	}
	if err := db.Close(); err != nil {
		logger.WithError(err).Error("Failed to close database")
	}
	logger.Info("Shutdown complete")
}

func fatal(logger ectologger.Logger, err error, msg string) {
	logger.WithError(err).Error(msg)
	os.Exit(1)
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err == nil {
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

func postgresDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
		cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)
}

func registerDependencies(
	logger ectologger.Logger,
	manager *staging.Manager,
	engine *merging.Engine,
	guard *lifecycle.Guard,
	reportSvc *report.Service,
	tokens *nonce.Service,
	capabilities *updates.CapabilityChecker,
) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*staging.Manager](container, manager); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*merging.Engine](container, engine); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*lifecycle.Guard](container, guard); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*report.Service](container, reportSvc); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*nonce.Service](container, tokens); err != nil {
		return err
	}
	return ectoinject.RegisterInstance[*updates.CapabilityChecker](container, capabilities)
}
