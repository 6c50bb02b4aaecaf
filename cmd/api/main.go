package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/notification-service/internal/config"
	"github.com/kursadbilgin/notification-service/internal/events"
	"github.com/kursadbilgin/notification-service/internal/handler"
	"github.com/kursadbilgin/notification-service/internal/infra/postgresql"
	"github.com/kursadbilgin/notification-service/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notification-service/internal/infra/redis"
	"github.com/kursadbilgin/notification-service/internal/observability"
	"github.com/kursadbilgin/notification-service/internal/provider"
	"github.com/kursadbilgin/notification-service/internal/ratelimit"
	"github.com/kursadbilgin/notification-service/internal/repository"
	"github.com/kursadbilgin/notification-service/internal/service"
	"github.com/kursadbilgin/notification-service/internal/transport"
	"github.com/kursadbilgin/notification-service/internal/workerpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("notification-service stopped with error", zap.Error(err))
	}
	logger.Info("notification-service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var limiter ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter(cfg.RateLimitPerSec)
	if rdb != nil {
		redisLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			return fmt.Errorf("redis rate limiter init failed: %w", err)
		}
		limiter = redisLimiter
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		mq, err := events.NewRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		publisher = events.NewRabbitMQPublisher(mq)
	}
	defer publisher.Close()

	channel, err := newDeliveryProvider(cfg)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	pool, err := workerpool.New(workerpool.Config{
		CoreSize:      cfg.WorkerCoreSize,
		MaxSize:       cfg.WorkerMaxSize,
		QueueCapacity: cfg.WorkerQueueCapacity,
		KeepAlive:     cfg.WorkerKeepAlive(),
	}, logger)
	if err != nil {
		return fmt.Errorf("worker pool init failed: %w", err)
	}
	pool.SetMetrics(metrics)
	pool.Start()

	notifications := repository.NewGormNotificationRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	dispatcher, err := service.NewDispatcher(notifications, attempts, channel, limiter, publisher, pool, cfg.DeliveryTimeout(), logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	notificationService, err := service.NewNotificationService(notifications, attempts, dispatcher, cfg.DefaultMaxRetry, logger)
	if err != nil {
		return err
	}
	notificationService.SetMetrics(metrics)

	sweeper, err := service.NewRetrySweeper(notifications, dispatcher, service.SweeperConfig{
		Interval:          cfg.SweepInterval(),
		MinAge:            cfg.RetryMinAge(),
		StalePendingAfter: cfg.StalePendingAge(),
		BatchSize:         cfg.SweepBatchSize,
	}, logger)
	if err != nil {
		return err
	}
	sweeper.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "notification-service",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("notification-service api started",
			zap.Int("port", cfg.APIPort),
			zap.String("provider", channel.Name()),
		)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down notification-service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()

		var shutdownErr error
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("http shutdown: %w", err))
		}
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("worker pool did not drain before deadline, in-flight dispatches were cancelled", zap.Error(err))
		}
		return shutdownErr
	})

	return g.Wait()
}

func newDeliveryProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.DeliveryProvider {
	case config.ProviderSMTP:
		smtp, err := provider.NewSMTPProvider(provider.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return nil, fmt.Errorf("smtp provider init failed: %w", err)
		}
		return smtp, nil
	case config.ProviderWebhook:
		webhook, err := provider.NewWebhookProvider(cfg.WebhookURL)
		if err != nil {
			return nil, fmt.Errorf("webhook provider init failed: %w", err)
		}
		return webhook, nil
	case config.ProviderSimulated, "":
		return provider.NewSimulatedProvider(provider.SimulatedConfig{
			TimeoutPercent: cfg.SimulatedTimeoutPercent,
			FailurePercent: cfg.SimulatedFailurePercent,
			TimeoutDelay:   cfg.SimulatedTimeoutDelay(),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported delivery provider %q", cfg.DeliveryProvider)
	}
}
