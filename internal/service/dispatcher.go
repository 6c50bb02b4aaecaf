package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-service/internal/domain"
	"github.com/kursadbilgin/notification-service/internal/events"
	"github.com/kursadbilgin/notification-service/internal/observability"
	"github.com/kursadbilgin/notification-service/internal/provider"
	"github.com/kursadbilgin/notification-service/internal/ratelimit"
	"github.com/kursadbilgin/notification-service/internal/repository"
	"github.com/kursadbilgin/notification-service/internal/workerpool"
	"go.uber.org/zap"
)

const (
	defaultDeliveryTimeout = 10 * time.Second
	writeBackTimeout       = 5 * time.Second
)

// Submitter runs tasks asynchronously, falling back to the caller when saturated.
type Submitter interface {
	Submit(task workerpool.Task) workerpool.Mode
}

// Dispatcher performs one delivery attempt per PENDING notification and writes the outcome back.
type Dispatcher struct {
	notifications   repository.NotificationRepository
	attempts        repository.AttemptRepository
	provider        provider.Provider
	rateLimiter     ratelimit.RateLimiter
	publisher       events.Publisher
	pool            Submitter
	logger          *zap.Logger
	metrics         *observability.Metrics
	deliveryTimeout time.Duration
	now             func() time.Time
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	channel provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	publisher events.Publisher,
	pool Submitter,
	deliveryTimeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if channel == nil {
		return nil, fmt.Errorf("delivery provider is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if deliveryTimeout <= 0 {
		deliveryTimeout = defaultDeliveryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications:   notifications,
		attempts:        attempts,
		provider:        channel,
		rateLimiter:     rateLimiter,
		publisher:       publisher,
		pool:            pool,
		logger:          logger,
		deliveryTimeout: deliveryTimeout,
		now:             time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Enqueue submits a dispatch of n to the pool. The dispatch owns its own copy of n.
func (d *Dispatcher) Enqueue(n domain.Notification) {
	mode := d.pool.Submit(func(ctx context.Context) {
		d.Dispatch(ctx, n)
	})
	if mode == workerpool.ModeCallerRuns {
		d.logger.Warn("dispatch ran on submitting goroutine",
			zap.String("notificationId", n.ID),
		)
	}
}

// Dispatch attempts delivery once. Channel failures, timeouts and panics all become a failed
// attempt in the record; nothing is returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, n domain.Notification) {
	logger := d.logger.With(observability.NotificationFields(&n)...)

	if n.Status != domain.StatusPending {
		logger.Warn("skipping dispatch of non-pending notification")
		return
	}

	d.metrics.IncDispatchInFlight()
	defer d.metrics.DecDispatchInFlight()

	channelName := d.provider.Name()
	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, channelName); err != nil {
			if ctx.Err() != nil {
				logger.Warn("dispatch interrupted while rate limited, leaving notification pending", zap.Error(err))
				return
			}
			logger.Warn("rate limiter unavailable, dispatching without limit", zap.Error(err))
		}
	}

	fromRetryCount := n.RetryCount
	attemptNumber := n.RetryCount + 1
	sendStart := d.now()
	resp, sendErr := d.send(ctx, n)
	elapsed := d.now().Sub(sendStart)
	d.metrics.ObserveDeliveryAttempt(channelName, sendErr == nil, elapsed)

	// Write-back must survive shutdown cancellation so the attempt is never lost.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeBackTimeout)
	defer cancel()

	if err := d.recordAttempt(writeCtx, n.ID, attemptNumber, resp, sendErr, elapsed); err != nil {
		logger.Error("failed to record delivery attempt", zap.Int("attempt", attemptNumber), zap.Error(err))
	}

	result := domain.DeliveryResult{Delivered: sendErr == nil, Detail: provider.FailureDetail(sendErr)}
	if err := n.ApplyDeliveryResult(result, d.now().UTC()); err != nil {
		logger.Error("failed to apply delivery result", zap.Error(err))
		return
	}

	applied, err := d.notifications.CompleteDispatch(writeCtx, &n, fromRetryCount)
	if err != nil {
		logger.Error("failed to write back notification, it stays pending until reconciled",
			zap.String("outcome", n.Status.String()),
			zap.Error(err),
		)
		return
	}
	if !applied {
		logger.Warn("notification outcome already recorded by another dispatch, discarding this one",
			zap.String("outcome", n.Status.String()),
		)
		return
	}
	d.metrics.IncStatusTransition(n.Status.String())

	outcomeLogger := d.logger.With(observability.NotificationFields(&n)...)
	switch n.Status {
	case domain.StatusSent:
		outcomeLogger.Info("notification sent", zap.Duration("elapsed", elapsed))
	case domain.StatusRetrying:
		outcomeLogger.Warn("notification delivery failed, will retry",
			zap.Bool("transient", provider.IsTransient(sendErr)),
			zap.Error(sendErr),
		)
	case domain.StatusFailed:
		outcomeLogger.Error("notification delivery failed, retry budget exhausted", zap.Error(sendErr))
	}

	if err := d.publisher.Publish(writeCtx, events.NewStatusEvent(n, d.now())); err != nil {
		outcomeLogger.Warn("failed to publish status event", zap.Error(err))
	}
}

func (d *Dispatcher) send(ctx context.Context, n domain.Notification) (resp *provider.ProviderResponse, err error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("delivery channel panicked: %v", r)
		}
	}()

	return d.provider.Send(sendCtx, n)
}

func (d *Dispatcher) recordAttempt(
	ctx context.Context,
	notificationID string,
	attemptNumber int,
	resp *provider.ProviderResponse,
	sendErr error,
	elapsed time.Duration,
) error {
	var statusCode *int
	var responseBody *string
	var attemptErr *string

	if resp != nil {
		if resp.StatusCode > 0 {
			value := resp.StatusCode
			statusCode = &value
		}
		if body := strings.TrimSpace(resp.Body); body != "" {
			responseBody = &body
		}
	}

	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value

		var providerErr *provider.ProviderError
		if errors.As(sendErr, &providerErr) && providerErr.StatusCode > 0 && statusCode == nil {
			value := providerErr.StatusCode
			statusCode = &value
		}
	}

	attempt := &domain.NotificationAttempt{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		AttemptNumber:  attemptNumber,
		Delivered:      sendErr == nil,
		StatusCode:     statusCode,
		ResponseBody:   responseBody,
		Error:          attemptErr,
		DurationMillis: elapsed.Milliseconds(),
		CreatedAt:      d.now().UTC(),
	}

	return d.attempts.Create(ctx, attempt)
}
