package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-service/internal/domain"
	"github.com/kursadbilgin/notification-service/internal/events"
	"github.com/kursadbilgin/notification-service/internal/provider"
	"github.com/kursadbilgin/notification-service/internal/ratelimit"
	"github.com/kursadbilgin/notification-service/internal/repository"
	"github.com/kursadbilgin/notification-service/internal/workerpool"
)

type fakeNotificationRepo struct {
	createFn               func(ctx context.Context, n *domain.Notification) error
	saveFn                 func(ctx context.Context, n *domain.Notification) error
	getByIDFn              func(ctx context.Context, id string) (*domain.Notification, error)
	getByIdempotencyKeyFn  func(ctx context.Context, transactionID, notificationType string) (*domain.Notification, error)
	listByStatusFn         func(ctx context.Context, status domain.Status) ([]domain.Notification, error)
	listByTransactionIDFn  func(ctx context.Context, transactionID string) ([]domain.Notification, error)
	findEligibleForRetryFn func(ctx context.Context, statuses []domain.Status, createdBefore time.Time, limit int) ([]domain.Notification, error)
	claimForRetryFn        func(ctx context.Context, id string, from domain.Status, retryCount int, now time.Time) (bool, error)
	findStalePendingFn     func(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Notification, error)
	claimStalePendingFn    func(ctx context.Context, id string, retryCount int, updatedBefore, now time.Time) (bool, error)
	completeDispatchFn     func(ctx context.Context, n *domain.Notification, fromRetryCount int) (bool, error)
}

var _ repository.NotificationRepository = (*fakeNotificationRepo)(nil)

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) Save(ctx context.Context, n *domain.Notification) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) GetByIdempotencyKey(ctx context.Context, transactionID, notificationType string) (*domain.Notification, error) {
	if f.getByIdempotencyKeyFn != nil {
		return f.getByIdempotencyKeyFn(ctx, transactionID, notificationType)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Notification, error) {
	if f.listByStatusFn != nil {
		return f.listByStatusFn(ctx, status)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) ListByTransactionID(ctx context.Context, transactionID string) ([]domain.Notification, error) {
	if f.listByTransactionIDFn != nil {
		return f.listByTransactionIDFn(ctx, transactionID)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) FindEligibleForRetry(ctx context.Context, statuses []domain.Status, createdBefore time.Time, limit int) ([]domain.Notification, error) {
	if f.findEligibleForRetryFn != nil {
		return f.findEligibleForRetryFn(ctx, statuses, createdBefore, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) ClaimForRetry(ctx context.Context, id string, from domain.Status, retryCount int, now time.Time) (bool, error) {
	if f.claimForRetryFn != nil {
		return f.claimForRetryFn(ctx, id, from, retryCount, now)
	}
	return true, nil
}

func (f *fakeNotificationRepo) FindStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Notification, error) {
	if f.findStalePendingFn != nil {
		return f.findStalePendingFn(ctx, updatedBefore, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) ClaimStalePending(ctx context.Context, id string, retryCount int, updatedBefore, now time.Time) (bool, error) {
	if f.claimStalePendingFn != nil {
		return f.claimStalePendingFn(ctx, id, retryCount, updatedBefore, now)
	}
	return true, nil
}

func (f *fakeNotificationRepo) CompleteDispatch(ctx context.Context, n *domain.Notification, fromRetryCount int) (bool, error) {
	if f.completeDispatchFn != nil {
		return f.completeDispatchFn(ctx, n, fromRetryCount)
	}
	return true, nil
}

type fakeAttemptRepo struct {
	createFn              func(ctx context.Context, a *domain.NotificationAttempt) error
	getByNotificationIDFn func(ctx context.Context, notificationID string) ([]domain.NotificationAttempt, error)
}

var _ repository.AttemptRepository = (*fakeAttemptRepo)(nil)

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByNotificationID(ctx context.Context, notificationID string) ([]domain.NotificationAttempt, error) {
	if f.getByNotificationIDFn != nil {
		return f.getByNotificationIDFn(ctx, notificationID)
	}
	return nil, nil
}

type fakeProvider struct {
	sendFn func(ctx context.Context, notification domain.Notification) (*provider.ProviderResponse, error)
}

var _ provider.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string {
	return "email"
}

func (f *fakeProvider) Send(ctx context.Context, notification domain.Notification) (*provider.ProviderResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, notification)
	}
	return &provider.ProviderResponse{}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel string) (bool, error)
	waitFn  func(ctx context.Context, channel string) error
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []events.StatusEvent
	publishFn func(ctx context.Context, event events.StatusEvent) error
}

var _ events.Publisher = (*fakePublisher)(nil)

func (f *fakePublisher) Publish(ctx context.Context, event events.StatusEvent) error {
	f.mu.Lock()
	f.published = append(f.published, event)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, event)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

func (f *fakePublisher) Events() []events.StatusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.StatusEvent(nil), f.published...)
}

// inlineSubmitter runs every task synchronously, like a saturated pool.
type inlineSubmitter struct{}

func (inlineSubmitter) Submit(task workerpool.Task) workerpool.Mode {
	task(context.Background())
	return workerpool.ModeCallerRuns
}

// recordingEnqueuer captures enqueued notifications without dispatching them.
type recordingEnqueuer struct {
	mu       sync.Mutex
	enqueued []domain.Notification
}

func (r *recordingEnqueuer) Enqueue(n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, n)
}

func (r *recordingEnqueuer) Enqueued() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.enqueued...)
}
