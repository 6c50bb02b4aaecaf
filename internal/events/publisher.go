package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ Publisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher publishes status events to the topic exchange over a reused channel.
type RabbitMQPublisher struct {
	client *RabbitMQ

	mu sync.Mutex
	ch *amqp.Channel
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event StatusEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid status event: %w", err)
	}

	publishing, err := newPublishing(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.client.openChannel(ctx)
		if err != nil {
			return err
		}
		p.ch = ch
	}

	if err := p.ch.PublishWithContext(ctx, ExchangeName, event.RoutingKey(), false, false, publishing); err != nil {
		_ = p.ch.Close()
		p.ch = nil
		return fmt.Errorf("failed to publish %s: %w", event.RoutingKey(), err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}

	p.mu.Lock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	p.mu.Unlock()

	return p.client.Close()
}

func newPublishing(event StatusEvent) (amqp.Publishing, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal status event: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		MessageId:    event.NotificationID + ":" + event.Status + ":" + fmt.Sprint(event.RetryCount),
		Type:         event.Type,
		Body:         payload,
	}, nil
}
