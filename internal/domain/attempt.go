package domain

import "time"

// NotificationAttempt records a single delivery attempt for a notification.
type NotificationAttempt struct {
	ID             string
	NotificationID string
	AttemptNumber  int
	Delivered      bool
	StatusCode     *int
	ResponseBody   *string
	Error          *string
	DurationMillis int64
	CreatedAt      time.Time
}
