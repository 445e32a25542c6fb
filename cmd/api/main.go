package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mailblast/mailblast/internal/config"
	"github.com/mailblast/mailblast/internal/dispatch"
	"github.com/mailblast/mailblast/internal/handler"
	"github.com/mailblast/mailblast/internal/infra/postgresql"
	"github.com/mailblast/mailblast/internal/infra/postgresql/migrations"
	infraredis "github.com/mailblast/mailblast/internal/infra/redis"
	"github.com/mailblast/mailblast/internal/mailer"
	"github.com/mailblast/mailblast/internal/observability"
	"github.com/mailblast/mailblast/internal/ratelimit"
	"github.com/mailblast/mailblast/internal/repository"
	"github.com/mailblast/mailblast/internal/service"
	"github.com/mailblast/mailblast/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobRepo, attemptRepo, sqlDB, err := newStore(cfg)
	if err != nil {
		logger.Fatal("store initialization failed", zap.Error(err))
	}
	if sqlDB != nil {
		defer sqlDB.Close()
	}

	var rdb *goredis.Client
	var limiter ratelimit.RateLimiter = ratelimit.Unlimited{}
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		limiter, err = infraredis.NewSenderRateLimiter(rdb, cfg.SenderRatePerSec)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}
	} else {
		logger.Warn("REDIS_URL not set, sender rate limiting disabled")
	}

	mail, err := newMailer(cfg)
	if err != nil {
		logger.Fatal("mailer initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	dispatcher, err := dispatch.NewDispatcher(
		mail,
		limiter,
		attemptRepo,
		metrics,
		time.Duration(cfg.SendTimeoutSeconds)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}

	mailService, err := service.NewMailService(jobRepo, dispatcher, logger)
	if err != nil {
		logger.Fatal("mail service initialization failed", zap.Error(err))
	}

	scanner, err := service.NewScanner(
		jobRepo,
		dispatcher,
		metrics,
		time.Duration(cfg.ScanIntervalSeconds)*time.Second,
		cfg.ScanLimit,
		cfg.DispatchConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("scanner initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterMailRoutes(app, mailService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	scannerDone := make(chan struct{})
	go func() {
		defer close(scannerDone)
		scanner.Run(ctx)
	}()

	go func() {
		logger.Info("mailblast api started",
			zap.Int("port", cfg.APIPort),
			zap.String("store", cfg.StoreDriver),
			zap.String("provider", cfg.MailProvider),
		)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	select {
	case <-scannerDone:
	case <-time.After(shutdownTimeout):
		logger.Warn("scanner did not stop in time")
	}

	logger.Info("mailblast api stopped")
}

func newStore(cfg *config.Config) (repository.JobRepository, repository.AttemptRepository, *sql.DB, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store := repository.NewMemoryRepo()
		return store, repository.NewMemoryAttemptRepo(store), nil, nil
	case config.StoreDriverPostgres:
		db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := migrations.Migrate(db); err != nil {
			return nil, nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, nil, err
		}
		return repository.NewGormJobRepo(db), repository.NewGormAttemptRepo(db), sqlDB, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func newMailer(cfg *config.Config) (mailer.Mailer, error) {
	switch cfg.MailProvider {
	case config.MailProviderSMTP:
		return mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort), nil
	case config.MailProviderRelay:
		return mailer.NewRelayMailer(cfg.RelayURL)
	default:
		return nil, fmt.Errorf("unsupported mail provider %q", cfg.MailProvider)
	}
}
