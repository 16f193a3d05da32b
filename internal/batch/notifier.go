package batch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventsChannel is the Redis channel carrying workflow events.
const EventsChannel = "receiving.batch.events"

// RedisNotifier publishes workflow events over Redis pub/sub so view-layer
// processes can push updates to connected scanners.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

type notification struct {
	Session string `json:"session"`
	Event   Event  `json:"event"`
}

// NewRedisNotifier constructs a notifier on the default channel.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: EventsChannel, timeout: 2 * time.Second}
}

// Publish sends evt tagged with the session it belongs to.
func (n *RedisNotifier) Publish(ctx context.Context, sessionID string, evt Event) error {
	if n == nil || n.client == nil {
		return nil
	}
	payload, err := json.Marshal(notification{Session: sessionID, Event: evt})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.client.Publish(ctx, n.channel, payload).Err()
}
