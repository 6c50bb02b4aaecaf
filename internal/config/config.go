package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/notification-service/internal/domain"
)

// stalePendingTimeoutFactor keeps the stale reconciler clear of dispatches that are still queued or running.
const stalePendingTimeoutFactor = 3

const (
	ProviderSimulated = "simulated"
	ProviderSMTP      = "smtp"
	ProviderWebhook   = "webhook"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	WorkerCoreSize         int `env:"WORKER_CORE_SIZE,default=5"`
	WorkerMaxSize          int `env:"WORKER_MAX_SIZE,default=10"`
	WorkerQueueCapacity    int `env:"WORKER_QUEUE_CAPACITY,default=100"`
	WorkerKeepAliveSeconds int `env:"WORKER_KEEP_ALIVE_SECONDS,default=60"`

	SweepIntervalSeconds int `env:"SWEEP_INTERVAL_SECONDS,default=30"`
	RetryMinAgeSeconds   int `env:"RETRY_MIN_AGE_SECONDS,default=300"`
	SweepBatchSize       int `env:"SWEEP_BATCH_SIZE,default=100"`
	StalePendingSeconds  int `env:"STALE_PENDING_SECONDS,default=600"`
	DefaultMaxRetry      int `env:"DEFAULT_MAX_RETRY,default=3"`
	DeliveryTimeoutSecs  int `env:"DELIVERY_TIMEOUT_SECONDS,default=10"`
	ShutdownTimeoutSecs  int `env:"SHUTDOWN_TIMEOUT_SECONDS,default=15"`
	RateLimitPerSec      int `env:"RATE_LIMIT_PER_SEC,default=100"`

	DeliveryProvider string `env:"DELIVERY_PROVIDER,default=simulated"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	WebhookURL string `env:"WEBHOOK_URL"`

	SimulatedTimeoutPercent int `env:"SIMULATED_TIMEOUT_PERCENT,default=30"`
	SimulatedFailurePercent int `env:"SIMULATED_FAILURE_PERCENT,default=20"`
	SimulatedTimeoutDelayMs int `env:"SIMULATED_TIMEOUT_DELAY_MS,default=5000"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.DeliveryProvider = strings.ToLower(strings.TrimSpace(cfg.DeliveryProvider))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.WorkerCoreSize < 1 {
		errs = append(errs, errors.New("WORKER_CORE_SIZE must be at least 1"))
	}
	if c.WorkerMaxSize < c.WorkerCoreSize {
		errs = append(errs, errors.New("WORKER_MAX_SIZE must be >= WORKER_CORE_SIZE"))
	}
	if c.WorkerQueueCapacity < 0 {
		errs = append(errs, errors.New("WORKER_QUEUE_CAPACITY must not be negative"))
	}
	if c.SweepIntervalSeconds < 1 {
		errs = append(errs, errors.New("SWEEP_INTERVAL_SECONDS must be at least 1"))
	}
	if c.RetryMinAgeSeconds < 0 {
		errs = append(errs, errors.New("RETRY_MIN_AGE_SECONDS must not be negative"))
	}
	if c.SweepBatchSize < 1 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be at least 1"))
	}
	if c.DefaultMaxRetry < 1 || c.DefaultMaxRetry > domain.MaxAllowedRetry {
		errs = append(errs, fmt.Errorf("DEFAULT_MAX_RETRY must be between 1 and %d", domain.MaxAllowedRetry))
	}
	if c.DeliveryTimeoutSecs < 1 {
		errs = append(errs, errors.New("DELIVERY_TIMEOUT_SECONDS must be at least 1"))
	}
	if c.StalePendingSeconds < 0 {
		errs = append(errs, errors.New("STALE_PENDING_SECONDS must not be negative"))
	}
	if c.StalePendingSeconds > 0 && c.StalePendingSeconds < stalePendingTimeoutFactor*c.DeliveryTimeoutSecs {
		errs = append(errs, fmt.Errorf(
			"STALE_PENDING_SECONDS must be 0 or at least %d x DELIVERY_TIMEOUT_SECONDS (%ds)",
			stalePendingTimeoutFactor, stalePendingTimeoutFactor*c.DeliveryTimeoutSecs,
		))
	}
	if c.SimulatedTimeoutPercent < 0 || c.SimulatedTimeoutPercent > 100 {
		errs = append(errs, errors.New("SIMULATED_TIMEOUT_PERCENT must be between 0 and 100"))
	}
	if c.SimulatedFailurePercent < 0 || c.SimulatedFailurePercent > 100 {
		errs = append(errs, errors.New("SIMULATED_FAILURE_PERCENT must be between 0 and 100"))
	}

	switch c.DeliveryProvider {
	case ProviderSimulated:
	case ProviderSMTP:
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			errs = append(errs, errors.New("SMTP_HOST and SMTP_FROM are required for the smtp provider"))
		}
	case ProviderWebhook:
		if c.WebhookURL == "" {
			errs = append(errs, errors.New("WEBHOOK_URL is required for the webhook provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DELIVERY_PROVIDER %q", c.DeliveryProvider))
	}

	return errors.Join(errs...)
}

func (c *Config) WorkerKeepAlive() time.Duration {
	return time.Duration(c.WorkerKeepAliveSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) RetryMinAge() time.Duration {
	return time.Duration(c.RetryMinAgeSeconds) * time.Second
}

func (c *Config) StalePendingAge() time.Duration {
	return time.Duration(c.StalePendingSeconds) * time.Second
}

func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSecs) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

func (c *Config) SimulatedTimeoutDelay() time.Duration {
	return time.Duration(c.SimulatedTimeoutDelayMs) * time.Millisecond
}
