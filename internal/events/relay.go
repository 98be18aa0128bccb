package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"cv-adapter/internal/shared/telemetry"
)

// RelayChannel is the redis pub/sub channel events travel on between processes.
const RelayChannel = "events"

// RedisRelay publishes events to redis and, when Run is active, feeds events from every
// process into a local Bus.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *Bus
}

// NewRedisRelay constructs a relay. local may be nil in processes without subscribers.
func NewRedisRelay(client *redis.Client, local *Bus) *RedisRelay {
	return &RedisRelay{client: client, channel: RelayChannel, local: local}
}

// Publish forwards e to redis. On failure the event is delivered locally only.
func (r *RedisRelay) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err == nil {
		err = r.client.Publish(context.Background(), r.channel, payload).Err()
	}
	if err != nil {
		telemetry.Error("events.relay.publish_failed", map[string]any{
			"type":    string(e.Type),
			"task_id": e.TaskID,
			"error":   err,
		})
		if r.local != nil {
			r.local.Publish(e)
		}
	}
}

// Run subscribes to the relay channel until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	if r.local == nil {
		return fmt.Errorf("relay has no local bus")
	}
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				telemetry.Error("events.relay.decode_failed", map[string]any{"error": err})
				continue
			}
			r.local.Publish(e)
		}
	}
}

var _ Publisher = (*RedisRelay)(nil)
