package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-service/internal/domain"
	"gopkg.in/gomail.v2"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPProvider delivers notifications as plain-text email.
type SMTPProvider struct {
	sender mailSender
	from   string
}

func NewSMTPProvider(cfg SMTPConfig) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}

	return newSMTPProvider(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From)
}

func newSMTPProvider(sender mailSender, from string) (*SMTPProvider, error) {
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	return &SMTPProvider{sender: sender, from: strings.TrimSpace(from)}, nil
}

func (p *SMTPProvider) Name() string {
	return "email"
}

// Send runs the SMTP exchange in its own goroutine so ctx can bound it; gomail has no context support.
func (p *SMTPProvider) Send(ctx context.Context, notification domain.Notification) (*ProviderResponse, error) {
	if p == nil || p.sender == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	messageID := fmt.Sprintf("<%s@notification-service>", uuid.NewString())

	msg := gomail.NewMessage()
	msg.SetHeader("From", p.from)
	msg.SetHeader("To", notification.Recipient)
	msg.SetHeader("Subject", notification.Subject)
	msg.SetHeader("Message-ID", messageID)
	msg.SetBody("text/plain", notification.Body)

	done := make(chan error, 1)
	go func() {
		done <- p.sender.DialAndSend(msg)
	}()

	select {
	case <-ctx.Done():
		return nil, &ProviderError{Message: "smtp send interrupted", Transient: true, Cause: ctx.Err()}
	case err := <-done:
		if err != nil {
			return nil, &ProviderError{Message: "smtp send failed", Transient: true, Cause: err}
		}
	}

	return &ProviderResponse{MessageID: messageID}, nil
}
