package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-service/internal/domain"
)

const (
	ExchangeName      = "notifications.events"
	routingKeyPrefix  = "notification."
	StatusChangedType = "notification.status_changed"
)

// StatusEvent is published whenever a dispatch writes a notification back.
type StatusEvent struct {
	Type             string     `json:"type"`
	NotificationID   string     `json:"notificationId"`
	TransactionID    string     `json:"transactionId"`
	NotificationType string     `json:"notificationType"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retryCount"`
	MaxRetry         int        `json:"maxRetry"`
	LastError        *string    `json:"lastError,omitempty"`
	SentAt           *time.Time `json:"sentAt,omitempty"`
	OccurredAt       time.Time  `json:"occurredAt"`
}

func NewStatusEvent(n domain.Notification, occurredAt time.Time) StatusEvent {
	return StatusEvent{
		Type:             StatusChangedType,
		NotificationID:   n.ID,
		TransactionID:    n.TransactionID,
		NotificationType: n.NotificationType,
		Status:           n.Status.String(),
		RetryCount:       n.RetryCount,
		MaxRetry:         n.MaxRetry,
		LastError:        n.LastError,
		SentAt:           n.SentAt,
		OccurredAt:       occurredAt.UTC(),
	}
}

func (e StatusEvent) Validate() error {
	if strings.TrimSpace(e.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !domain.Status(e.Status).IsValid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	return nil
}

// RoutingKey is notification.<status>, e.g. notification.sent.
func (e StatusEvent) RoutingKey() string {
	return routingKeyPrefix + strings.ToLower(e.Status)
}

// Publisher emits status events. Publishing is best effort: callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, event StatusEvent) error
	Close() error
}

// NopPublisher discards events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, StatusEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
