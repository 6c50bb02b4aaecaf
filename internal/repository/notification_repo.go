package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-service/internal/domain"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	Save(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByIdempotencyKey(ctx context.Context, transactionID, notificationType string) (*domain.Notification, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.Notification, error)
	ListByTransactionID(ctx context.Context, transactionID string) ([]domain.Notification, error)
	FindEligibleForRetry(ctx context.Context, statuses []domain.Status, createdBefore time.Time, limit int) ([]domain.Notification, error)
	ClaimForRetry(ctx context.Context, id string, from domain.Status, retryCount int, now time.Time) (bool, error)
	FindStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Notification, error)
	ClaimStalePending(ctx context.Context, id string, retryCount int, updatedBefore, now time.Time) (bool, error)
	CompleteDispatch(ctx context.Context, n *domain.Notification, fromRetryCount int) (bool, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

// Create inserts a new notification. The unique index on (transaction_id, notification_type)
// makes concurrent inserts for the same key fail with a unique violation for all but one writer.
func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if model == nil {
		return errors.New("notification is required")
	}
	if strings.TrimSpace(model.ID) == "" {
		model.ID = uuid.NewString()
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*n = *notificationModelToDomain(model)
	return nil
}

// Save writes back the full record; the last writer wins.
func (r *GormNotificationRepo) Save(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if model == nil {
		return errors.New("notification is required")
	}
	if strings.TrimSpace(model.ID) == "" {
		return r.Create(ctx, n)
	}

	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return err
	}
	*n = *notificationModelToDomain(model)
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) GetByIdempotencyKey(ctx context.Context, transactionID, notificationType string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND notification_type = ?", transactionID, notificationType).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

func (r *GormNotificationRepo) ListByTransactionID(ctx context.Context, transactionID string) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

func (r *GormNotificationRepo) FindEligibleForRetry(
	ctx context.Context,
	statuses []domain.Status,
	createdBefore time.Time,
	limit int,
) ([]domain.Notification, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	var models []NotificationModel
	query := r.db.WithContext(ctx).
		Where("status IN ? AND retry_count < max_retry AND created_at < ?", statuses, createdBefore).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

// ClaimForRetry moves a retry-eligible notification back to PENDING only if nobody else
// changed it since it was read. It reports whether this caller won the claim.
func (r *GormNotificationRepo) ClaimForRetry(
	ctx context.Context,
	id string,
	from domain.Status,
	retryCount int,
	now time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ? AND retry_count = ? AND retry_count < max_retry", id, from, retryCount).
		Updates(map[string]any{
			"status":     domain.StatusPending,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormNotificationRepo) FindStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	query := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.StatusPending, updatedBefore).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

// ClaimStalePending refreshes updated_at on a PENDING notification that has not been written
// back since updatedBefore, so overlapping sweeps cannot both pick it up.
func (r *GormNotificationRepo) ClaimStalePending(
	ctx context.Context,
	id string,
	retryCount int,
	updatedBefore time.Time,
	now time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ? AND retry_count = ? AND updated_at < ?", id, domain.StatusPending, retryCount, updatedBefore).
		Update("updated_at", now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CompleteDispatch writes a dispatch outcome back only if the row is still the PENDING record the
// dispatch started from. A false result means another dispatch already recorded an outcome.
func (r *GormNotificationRepo) CompleteDispatch(ctx context.Context, n *domain.Notification, fromRetryCount int) (bool, error) {
	if n == nil || strings.TrimSpace(n.ID) == "" {
		return false, errors.New("notification with id is required")
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ? AND retry_count = ?", n.ID, domain.StatusPending, fromRetryCount).
		Updates(map[string]any{
			"status":      n.Status,
			"retry_count": n.RetryCount,
			"updated_at":  n.UpdatedAt,
			"sent_at":     n.SentAt,
			"last_error":  n.LastError,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// IsUniqueViolation reports whether err was caused by the idempotency unique index.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
