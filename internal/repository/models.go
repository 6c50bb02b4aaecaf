package repository

import (
	"time"

	"github.com/kursadbilgin/notification-service/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
// Timestamps are owned by the lifecycle engine, so gorm's auto time tracking is off.
type NotificationModel struct {
	ID               string        `gorm:"type:uuid;primaryKey"`
	TransactionID    string        `gorm:"type:varchar(255);not null;uniqueIndex:idx_notifications_idempotency,priority:1"`
	NotificationType string        `gorm:"type:varchar(100);not null;uniqueIndex:idx_notifications_idempotency,priority:2"`
	Recipient        string        `gorm:"type:varchar(255);not null"`
	Subject          string        `gorm:"type:varchar(200)"`
	Body             string        `gorm:"type:text;not null"`
	Status           domain.Status `gorm:"type:varchar(20);not null"`
	RetryCount       int           `gorm:"not null;default:0"`
	MaxRetry         int           `gorm:"not null;default:3"`
	CreatedAt        time.Time     `gorm:"not null;autoCreateTime:false"`
	UpdatedAt        time.Time     `gorm:"not null;autoUpdateTime:false"`
	SentAt           *time.Time
	LastError        *string `gorm:"type:text"`
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// NotificationAttemptModel is the persistence model for notification_attempts.
type NotificationAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	NotificationID string  `gorm:"type:uuid;not null;index:idx_attempts_notification_id"`
	AttemptNumber  int     `gorm:"not null"`
	Delivered      bool    `gorm:"not null;default:false"`
	StatusCode     *int    `gorm:"type:int"`
	ResponseBody   *string `gorm:"type:text"`
	Error          *string `gorm:"type:text"`
	DurationMillis int64   `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (NotificationAttemptModel) TableName() string {
	return "notification_attempts"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:               n.ID,
		TransactionID:    n.TransactionID,
		NotificationType: n.NotificationType,
		Recipient:        n.Recipient,
		Subject:          n.Subject,
		Body:             n.Body,
		Status:           n.Status,
		RetryCount:       n.RetryCount,
		MaxRetry:         n.MaxRetry,
		CreatedAt:        n.CreatedAt,
		UpdatedAt:        n.UpdatedAt,
		SentAt:           n.SentAt,
		LastError:        n.LastError,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:               m.ID,
		TransactionID:    m.TransactionID,
		NotificationType: m.NotificationType,
		Recipient:        m.Recipient,
		Subject:          m.Subject,
		Body:             m.Body,
		Status:           m.Status,
		RetryCount:       m.RetryCount,
		MaxRetry:         m.MaxRetry,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
		SentAt:           utcPtr(m.SentAt),
		LastError:        m.LastError,
	}
}

func notificationModelsToDomain(models []NotificationModel) []domain.Notification {
	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications
}

func attemptModelFromDomain(a *domain.NotificationAttempt) *NotificationAttemptModel {
	if a == nil {
		return nil
	}

	return &NotificationAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptNumber:  a.AttemptNumber,
		Delivered:      a.Delivered,
		StatusCode:     a.StatusCode,
		ResponseBody:   a.ResponseBody,
		Error:          a.Error,
		DurationMillis: a.DurationMillis,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *NotificationAttemptModel) *domain.NotificationAttempt {
	if m == nil {
		return nil
	}

	return &domain.NotificationAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptNumber:  m.AttemptNumber,
		Delivered:      m.Delivered,
		StatusCode:     m.StatusCode,
		ResponseBody:   m.ResponseBody,
		Error:          m.Error,
		DurationMillis: m.DurationMillis,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
