package provider

import (
	"context"

	"github.com/kursadbilgin/notification-service/internal/domain"
)

// Provider is the outbound delivery channel. A nil error means the channel accepted the
// notification; any error is a failed attempt and never escapes the dispatcher.
type Provider interface {
	Name() string
	Send(ctx context.Context, notification domain.Notification) (*ProviderResponse, error)
}

// ProviderResponse stores channel call metadata for the attempt history.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
