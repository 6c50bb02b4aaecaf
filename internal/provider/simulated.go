package provider

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-service/internal/domain"
)

type SimulatedConfig struct {
	TimeoutPercent int
	FailurePercent int
	TimeoutDelay   time.Duration
}

func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		TimeoutPercent: 30,
		FailurePercent: 20,
		TimeoutDelay:   5 * time.Second,
	}
}

// SimulatedProvider is an unreliable email channel for local runs and load tests.
// Each send first rolls for a slow network timeout, then for an outright outage.
type SimulatedProvider struct {
	cfg   SimulatedConfig
	intn  func(n int) int
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSimulatedProvider(cfg SimulatedConfig) *SimulatedProvider {
	return newSimulatedProvider(cfg, rand.IntN, sleepContext)
}

func newSimulatedProvider(
	cfg SimulatedConfig,
	intn func(n int) int,
	sleep func(ctx context.Context, d time.Duration) error,
) *SimulatedProvider {
	if intn == nil {
		intn = rand.IntN
	}
	if sleep == nil {
		sleep = sleepContext
	}
	return &SimulatedProvider{cfg: cfg, intn: intn, sleep: sleep}
}

func (p *SimulatedProvider) Name() string {
	return "email"
}

func (p *SimulatedProvider) Send(ctx context.Context, _ domain.Notification) (*ProviderResponse, error) {
	if p.intn(100) < p.cfg.TimeoutPercent {
		if err := p.sleep(ctx, p.cfg.TimeoutDelay); err != nil {
			return nil, &ProviderError{Message: "Network timeout", Transient: true, Cause: err}
		}
		return nil, &ProviderError{Message: "Network timeout", Transient: true}
	}

	if p.intn(100) < p.cfg.FailurePercent {
		return nil, &ProviderError{Message: "Email service unavailable", Transient: true}
	}

	return &ProviderResponse{MessageID: uuid.NewString()}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
