package tasks

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"cv-adapter/internal/shared/telemetry"
)

// CancelChannel carries task IDs to cancel across processes.
const CancelChannel = "tasks:cancel"

// RemoteCanceller broadcasts cancel requests over redis pub/sub so the process running a
// task can signal its local token.
type RemoteCanceller struct {
	client   *redis.Client
	registry *Registry
}

// NewRemoteCanceller constructs a RemoteCanceller delivering into registry.
func NewRemoteCanceller(client *redis.Client, registry *Registry) *RemoteCanceller {
	return &RemoteCanceller{client: client, registry: registry}
}

// PublishCancel announces that taskID was cancelled.
func (c *RemoteCanceller) PublishCancel(ctx context.Context, taskID string) error {
	if err := c.client.Publish(ctx, CancelChannel, taskID).Err(); err != nil {
		return fmt.Errorf("publish cancel: %w", err)
	}
	return nil
}

// Run listens for cancel requests until ctx is done.
func (c *RemoteCanceller) Run(ctx context.Context) error {
	sub := c.client.Subscribe(ctx, CancelChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", CancelChannel, err)
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
			if c.registry.Cancel(msg.Payload) {
				telemetry.Info("task.cancel.remote", map[string]any{"task_id": msg.Payload})
			}
		}
	}
}
