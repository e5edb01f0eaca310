package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"squad-match-service/logger"
)

// Notifier fans out "something changed" signals to open streams. Payloads
// are hints only; subscribers re-read state from the database.
type Notifier interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
	// Subscribe returns a channel that receives a value per notification
	// and a func that releases the subscription.
	Subscribe(ctx context.Context, channel string) (<-chan struct{}, func(), error)
}

func QueueChannel(challengeID, userID string) string {
	return fmt.Sprintf("queue:%s:%s", challengeID, userID)
}

func SquadChannel(squadID string) string {
	return fmt.Sprintf("squad:%s", squadID)
}

// notify publishes and only logs failures; the write it reports on has
// already committed.
func notify(ctx context.Context, n Notifier, channel string, payload interface{}) {
	if n == nil {
		return
	}
	if err := n.Publish(ctx, channel, payload); err != nil {
		logger.Log.Warnw("[NOTIFY] publish failed", "channel", channel, "error", err)
	}
}

// NoopNotifier is used when Redis is not configured. Streams then rely on
// polling alone.
type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, string, interface{}) error { return nil }

func (NoopNotifier) Subscribe(context.Context, string) (<-chan struct{}, func(), error) {
	return nil, func() {}, nil
}

type RedisNotifier struct {
	Client *redis.Client
}

func NewRedisNotifier(url string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "invalid REDIS_URL")
	}
	return &RedisNotifier{Client: redis.NewClient(opts)}, nil
}

func (r *RedisNotifier) Publish(ctx context.Context, channel string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "failed to encode notification")
	}
	if err := r.Client.Publish(ctx, channel, body).Err(); err != nil {
		return eris.Wrapf(err, "failed to publish to %s", channel)
	}
	return nil
}

func (r *RedisNotifier) Subscribe(ctx context.Context, channel string) (<-chan struct{}, func(), error) {
	sub := r.Client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, eris.Wrapf(err, "failed to subscribe to %s", channel)
	}

	wake := make(chan struct{}, 1)
	go func() {
		for range sub.Channel() {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, func() { _ = sub.Close() }, nil
}

func (r *RedisNotifier) Close() error {
	return r.Client.Close()
}
