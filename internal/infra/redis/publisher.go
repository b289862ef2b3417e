package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vietddude/txclassifier/internal/core/domain"
)

// Publisher fans lifecycle events out to a Redis pub/sub channel.
type Publisher struct {
	client  *Client
	channel string
	timeout time.Duration
	log     *slog.Logger
}

// NewPublisher creates an event publisher on channel.
func NewPublisher(client *Client, channel string) *Publisher {
	if channel == "" {
		channel = "classifier:events"
	}
	return &Publisher{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		log:     slog.Default().With("component", "redis-publisher"),
	}
}

// Observe publishes ev. Failures are logged and never block the emitter for
// longer than the publish timeout.
func (p *Publisher) Observe(ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("Failed to encode event", "event", ev.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Warn("Failed to publish event", "event", ev.Type, "channel", p.channel, "error", err)
	}
}
