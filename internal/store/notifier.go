package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "store:"

// RedisNotifier pushes committed document changes over Redis pub/sub so
// every dashboard session, on any instance, observes the same stream of
// accepted transitions.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier constructs the notifier.
func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{client: client, logger: logger}
}

// Publish sends the event on a channel derived from its path.
func (n *RedisNotifier) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, channelName(event.Path), payload).Err()
}

// Subscribe listens for events under the path prefix until cancel is called.
func (n *RedisNotifier) Subscribe(ctx context.Context, pathPrefix string, handler func(Event)) (func(), error) {
	pattern := channelName(pathPrefix) + "*"
	pubsub := n.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				n.logger.Warn("dropping malformed store event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			handler(event)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

func channelName(path string) string {
	return channelPrefix + strings.ReplaceAll(path, "/", ":")
}
