package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"agora/internal/pkg/logx"
)

// RedisBus implements Bus with Redis PUBLISH/SUBSCRIBE.
type RedisBus struct {
	client *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub

	logger zerolog.Logger
}

// NewRedisBus connects to the Redis server at rawURL and verifies it with PING.
func NewRedisBus(ctx context.Context, rawURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisBus{
		client: client,
		logger: logx.Component("cluster.redis"),
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ps := b.client.Subscribe(ctx, topic)

	// Wait for the subscription confirmation so no message published afterwards is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			handler([]byte(msg.Payload))
		}
		b.logger.Debug().Str("topic", topic).Msg("Subscription closed.")
	}()

	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to close subscription.")
		}
	}
	return b.client.Close()
}
