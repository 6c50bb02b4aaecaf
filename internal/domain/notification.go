package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSent     Status = "SENT"
	StatusRetrying Status = "RETRYING"
	StatusFailed   Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusRetrying, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Request limits.
const (
	DefaultMaxRetry  = 3
	MaxAllowedRetry  = 10
	MaxSubjectLength = 200
)

// Notification is the core domain entity: one logical message per (TransactionID, NotificationType).
type Notification struct {
	ID               string
	TransactionID    string
	NotificationType string
	Recipient        string
	Subject          string
	Body             string
	Status           Status
	RetryCount       int
	MaxRetry         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SentAt           *time.Time
	LastError        *string
}

// DeliveryResult is the outcome of a single delivery attempt as seen by the state machine.
type DeliveryResult struct {
	Delivered bool
	Detail    string
}

func (n *Notification) Validate() error {
	if n.TransactionID == "" {
		return fmt.Errorf("%w: transactionId is required", ErrValidation)
	}
	if n.NotificationType == "" {
		return fmt.Errorf("%w: notificationType is required", ErrValidation)
	}
	if n.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if n.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if subjectLen := len([]rune(n.Subject)); subjectLen > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters (got %d)", ErrValidation, MaxSubjectLength, subjectLen)
	}
	if n.MaxRetry < 1 || n.MaxRetry > MaxAllowedRetry {
		return fmt.Errorf("%w: maxRetry must be between 1 and %d", ErrValidation, MaxAllowedRetry)
	}
	return nil
}

// ValidateEmailRecipient checks that the recipient is a bare email address.
func (n *Notification) ValidateEmailRecipient() error {
	addr, err := mail.ParseAddress(n.Recipient)
	if err != nil || addr.Address != n.Recipient {
		return fmt.Errorf("%w: invalid email format %q", ErrValidation, n.Recipient)
	}
	return nil
}

// IsTerminal reports whether no further transition can happen.
func (n *Notification) IsTerminal() bool {
	return n.Status == StatusSent || (n.Status == StatusFailed && n.RetryCount >= n.MaxRetry)
}

// CanRetry reports whether the sweeper may re-dispatch the notification.
func (n *Notification) CanRetry() bool {
	return (n.Status == StatusRetrying || n.Status == StatusFailed) && n.RetryCount < n.MaxRetry
}

// ApplyDeliveryResult moves a PENDING notification to SENT, RETRYING or FAILED.
func (n *Notification) ApplyDeliveryResult(result DeliveryResult, now time.Time) error {
	if n.Status != StatusPending {
		return fmt.Errorf("%w: cannot record delivery outcome from %s", ErrInvalidTransition, n.Status)
	}

	n.UpdatedAt = now
	if result.Delivered {
		sentAt := now
		n.Status = StatusSent
		n.SentAt = &sentAt
		n.LastError = nil
		return nil
	}

	detail := strings.TrimSpace(result.Detail)
	if detail == "" {
		detail = "delivery failed"
	}
	n.LastError = &detail
	n.SentAt = nil
	if n.RetryCount < n.MaxRetry {
		n.RetryCount++
	}
	if n.RetryCount >= n.MaxRetry {
		n.Status = StatusFailed
	} else {
		n.Status = StatusRetrying
	}
	return nil
}

// MarkPending re-enters the dispatch path for a notification picked by the sweeper.
func (n *Notification) MarkPending(now time.Time) error {
	if !n.CanRetry() {
		return fmt.Errorf("%w: cannot retry from %s with %d/%d attempts", ErrInvalidTransition, n.Status, n.RetryCount, n.MaxRetry)
	}
	n.Status = StatusPending
	n.UpdatedAt = now
	return nil
}
