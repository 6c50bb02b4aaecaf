package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-service/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.NotificationAttempt) error
	GetByNotificationID(ctx context.Context, notificationID string) ([]domain.NotificationAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	model := attemptModelFromDomain(a)
	if model == nil {
		return nil
	}
	if strings.TrimSpace(model.ID) == "" {
		model.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*a = *attemptModelToDomain(model)
	return nil
}

func (r *GormAttemptRepo) GetByNotificationID(ctx context.Context, notificationID string) ([]domain.NotificationAttempt, error) {
	var models []NotificationAttemptModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("attempt_number ASC").
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.NotificationAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
