package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-service/internal/domain"
	"github.com/kursadbilgin/notification-service/internal/observability"
	"github.com/kursadbilgin/notification-service/internal/repository"
	"go.uber.org/zap"
)

// Enqueuer hands a persisted PENDING notification to the asynchronous dispatch path.
type Enqueuer interface {
	Enqueue(n domain.Notification)
}

type CreateRequest struct {
	TransactionID    string
	NotificationType string
	Recipient        string
	Subject          string
	Body             string
	MaxRetry         *int
}

type PaymentCallback struct {
	TransactionID string
	Status        string
	CustomerEmail string
}

type NotificationService struct {
	notifications   repository.NotificationRepository
	attempts        repository.AttemptRepository
	dispatcher      Enqueuer
	logger          *zap.Logger
	metrics         *observability.Metrics
	defaultMaxRetry int
	now             func() time.Time
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	dispatcher Enqueuer,
	defaultMaxRetry int,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if defaultMaxRetry < 1 || defaultMaxRetry > domain.MaxAllowedRetry {
		defaultMaxRetry = domain.DefaultMaxRetry
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications:   notifications,
		attempts:        attempts,
		dispatcher:      dispatcher,
		logger:          logger,
		defaultMaxRetry: defaultMaxRetry,
		now:             time.Now,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create is idempotent on (transactionId, notificationType). The boolean result reports whether
// this call created the record; an existing record is returned unchanged otherwise.
func (s *NotificationService) Create(ctx context.Context, req CreateRequest) (*domain.Notification, bool, error) {
	notification, err := s.buildNotification(req)
	if err != nil {
		return nil, false, err
	}

	logger := observability.WithContextLogger(s.logger, ctx)

	existing, err := s.notifications.GetByIdempotencyKey(ctx, notification.TransactionID, notification.NotificationType)
	switch {
	case err == nil:
		logger.Info("notification already exists, returning existing record",
			observability.NotificationFields(existing)...,
		)
		s.metrics.IncNotificationCreated(false)
		return existing, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("failed to look up notification: %w", err)
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		existing, resolved, resolveErr := s.resolveIdempotencyConflict(ctx, err, notification)
		if resolveErr != nil {
			return nil, false, resolveErr
		}
		if resolved {
			s.metrics.IncNotificationCreated(false)
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create notification: %w", err)
	}

	logger.Info("notification created", observability.NotificationFields(notification)...)
	s.metrics.IncNotificationCreated(true)
	s.metrics.IncStatusTransition(domain.StatusPending.String())

	view := *notification
	s.dispatcher.Enqueue(*notification)

	return &view, true, nil
}

// HandlePaymentCallback turns a payment provider callback into a PAYMENT_<STATUS> notification.
func (s *NotificationService) HandlePaymentCallback(ctx context.Context, cb PaymentCallback) (*domain.Notification, bool, error) {
	transactionID := strings.TrimSpace(cb.TransactionID)
	status := strings.ToUpper(strings.TrimSpace(cb.Status))
	if transactionID == "" {
		return nil, false, fmt.Errorf("%w: transactionId is required", domain.ErrValidation)
	}
	if status == "" {
		return nil, false, fmt.Errorf("%w: status is required", domain.ErrValidation)
	}

	req := CreateRequest{
		TransactionID:    transactionID,
		NotificationType: "PAYMENT_" + status,
		Recipient:        cb.CustomerEmail,
	}
	if status == "SUCCESS" {
		req.Subject = "Payment Successful"
		req.Body = fmt.Sprintf("Your payment for transaction %s has been processed successfully.", transactionID)
	} else {
		req.Subject = "Payment Failed"
		req.Body = fmt.Sprintf("Your payment for transaction %s has failed. Please try again.", transactionID)
	}

	return s.Create(ctx, req)
}

// GetByID looks a notification up by id. An id that is not a UUID cannot name a stored
// notification, so it is reported as not found without touching the database.
func (s *NotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: notification %q", domain.ErrNotFound, id)
	}
	return s.notifications.GetByID(ctx, parsed.String())
}

func (s *NotificationService) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Notification, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, status)
	}
	return s.notifications.ListByStatus(ctx, status)
}

func (s *NotificationService) ListByTransaction(ctx context.Context, transactionID string) ([]domain.Notification, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, fmt.Errorf("%w: transaction id is required", domain.ErrValidation)
	}
	return s.notifications.ListByTransactionID(ctx, strings.TrimSpace(transactionID))
}

// ListAttempts returns the delivery history of an existing notification, oldest first.
func (s *NotificationService) ListAttempts(ctx context.Context, id string) ([]domain.NotificationAttempt, error) {
	notification, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.attempts.GetByNotificationID(ctx, notification.ID)
}

func (s *NotificationService) buildNotification(req CreateRequest) (*domain.Notification, error) {
	maxRetry := s.defaultMaxRetry
	if req.MaxRetry != nil {
		maxRetry = *req.MaxRetry
	}

	now := s.now().UTC()
	n := &domain.Notification{
		TransactionID:    strings.TrimSpace(req.TransactionID),
		NotificationType: strings.TrimSpace(req.NotificationType),
		Recipient:        strings.TrimSpace(req.Recipient),
		Subject:          strings.TrimSpace(req.Subject),
		Body:             strings.TrimSpace(req.Body),
		Status:           domain.StatusPending,
		RetryCount:       0,
		MaxRetry:         maxRetry,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	if err := n.ValidateEmailRecipient(); err != nil {
		return nil, err
	}

	return n, nil
}

func (s *NotificationService) resolveIdempotencyConflict(
	ctx context.Context,
	createErr error,
	notification *domain.Notification,
) (*domain.Notification, bool, error) {
	if !repository.IsUniqueViolation(createErr) {
		return nil, false, nil
	}

	existing, err := s.notifications.GetByIdempotencyKey(ctx, notification.TransactionID, notification.NotificationType)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing notification after idempotency conflict: %w", err)
	}
	observability.WithContextLogger(s.logger, ctx).Info("idempotency conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("transactionId", notification.TransactionID),
		zap.String("notificationType", notification.NotificationType),
	)
	return existing, true, nil
}
