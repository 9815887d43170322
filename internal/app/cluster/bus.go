/*
Package cluster mirrors presence, room frames and notification relays between gateway nodes
through an external publish-subscribe backend.

A Bus is the minimal pub/sub primitive; Redis and NATS implementations are provided. A Node
sits on top of a Bus and connects it to the local presence registry, broadcaster and dispatcher.
*/
package cluster

import (
	"context"
	"fmt"
	"net/url"
)

// Handler receives the payload of one published message.
type Handler func(payload []byte)

// Bus is a fire-and-forget topic-based publish-subscribe backend.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topic. Handlers of one topic are called sequentially.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	Close() error
}

// Open connects to the backend named by rawURL. The scheme selects the implementation:
// redis:// or rediss:// for Redis, nats:// or tls:// for NATS.
func Open(ctx context.Context, rawURL string) (Bus, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse pubsub url: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		return NewRedisBus(ctx, rawURL)
	case "nats", "tls":
		return NewNATSBus(rawURL)
	default:
		return nil, fmt.Errorf("unsupported pubsub scheme %q", u.Scheme)
	}
}
