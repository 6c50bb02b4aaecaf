package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-service/internal/domain"
	"github.com/kursadbilgin/notification-service/internal/observability"
	"github.com/kursadbilgin/notification-service/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultRetryMinAge   = 5 * time.Minute
	defaultSweepLimit    = 100
)

type SweeperConfig struct {
	Interval time.Duration
	// MinAge gates retries on time since creation.
	MinAge time.Duration
	// StalePendingAfter re-dispatches PENDING records not written back for this long. Zero disables it.
	StalePendingAfter time.Duration
	BatchSize         int
}

// SweepResult counts what one sweep re-dispatched.
type SweepResult struct {
	Retried int
	Stale   int
}

// RetrySweeper periodically claims retry-eligible notifications and sends them back through dispatch.
type RetrySweeper struct {
	notifications repository.NotificationRepository
	dispatcher    Enqueuer
	logger        *zap.Logger
	metrics       *observability.Metrics
	cfg           SweeperConfig
	now           func() time.Time
}

func NewRetrySweeper(
	notifications repository.NotificationRepository,
	dispatcher Enqueuer,
	cfg SweeperConfig,
	logger *zap.Logger,
) (*RetrySweeper, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.MinAge < 0 {
		cfg.MinAge = defaultRetryMinAge
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetrySweeper{
		notifications: notifications,
		dispatcher:    dispatcher,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
	}, nil
}

func (s *RetrySweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start sweeps once immediately and then on every interval until ctx is done.
func (s *RetrySweeper) Start(ctx context.Context) error {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry sweeper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs a single sweep cycle.
func (s *RetrySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now().UTC()

	retried, err := s.sweepRetries(ctx, now)
	result.Retried = retried
	if err != nil {
		return result, err
	}

	if s.cfg.StalePendingAfter > 0 {
		stale, err := s.sweepStalePending(ctx, now)
		result.Stale = stale
		if err != nil {
			return result, err
		}
	}

	if result.Retried > 0 || result.Stale > 0 {
		s.logger.Info("retry sweep completed",
			zap.Int("retried", result.Retried),
			zap.Int("stale", result.Stale),
		)
	}
	return result, nil
}

func (s *RetrySweeper) sweepRetries(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.notifications.FindEligibleForRetry(
		ctx,
		[]domain.Status{domain.StatusRetrying, domain.StatusFailed},
		now.Add(-s.cfg.MinAge),
		s.cfg.BatchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch retry candidates: %w", err)
	}

	dispatched := 0
	for i := range candidates {
		notification := candidates[i]
		from := notification.Status

		if err := notification.MarkPending(now); err != nil {
			s.logger.Warn("skipping notification that is not retryable",
				append(observability.NotificationFields(&notification), zap.Error(err))...,
			)
			continue
		}

		claimed, err := s.notifications.ClaimForRetry(ctx, notification.ID, from, notification.RetryCount, now)
		if err != nil {
			if ctx.Err() != nil {
				return dispatched, ctx.Err()
			}
			s.logger.Error("failed to claim notification for retry",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			s.logger.Debug("notification claimed elsewhere, skipping", zap.String("notificationId", notification.ID))
			continue
		}

		s.metrics.IncSweepClaimed("retry")
		s.metrics.IncStatusTransition(domain.StatusPending.String())
		s.dispatcher.Enqueue(notification)
		dispatched++
	}

	return dispatched, nil
}

func (s *RetrySweeper) sweepStalePending(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.StalePendingAfter)
	stale, err := s.notifications.FindStalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch stale pending notifications: %w", err)
	}

	dispatched := 0
	for i := range stale {
		notification := stale[i]

		claimed, err := s.notifications.ClaimStalePending(ctx, notification.ID, notification.RetryCount, cutoff, now)
		if err != nil {
			if ctx.Err() != nil {
				return dispatched, ctx.Err()
			}
			s.logger.Error("failed to claim stale pending notification",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			continue
		}

		notification.UpdatedAt = now
		s.logger.Warn("re-dispatching notification stuck in pending", observability.NotificationFields(&notification)...)
		s.metrics.IncSweepClaimed("stale")
		s.dispatcher.Enqueue(notification)
		dispatched++
	}

	return dispatched, nil
}
