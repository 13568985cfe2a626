package notify

import (
	"context"
	"encoding/json"

	"auction-engine/internal/metrics"
	"auction-engine/utils"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "auction-events"

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
// Subscribers that are not connected at publish time miss the event.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher. Channel may be empty.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Channel returns the pub/sub channel events go to
func (p *RedisPublisher) Channel() string {
	return p.channel
}

func (p *RedisPublisher) Notify(ctx context.Context, ev Event) {
	if err := p.Publish(ctx, ev); err != nil {
		metrics.NotificationFailures.WithLabelValues("redis").Inc()
		utils.Warn("notify: redis publish failed", map[string]any{
			"type":       string(ev.Type),
			"auction_id": ev.AuctionID,
			"error":      err.Error(),
		})
	}
}

// Publish sends one event and reports the error, if any
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, b).Err()
}
