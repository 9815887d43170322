package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"agora/internal/pkg/logx"
)

// NATSBus implements Bus with core NATS subjects.
type NATSBus struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewNATSBus connects to the NATS server at rawURL. The connection reconnects forever.
func NewNATSBus(rawURL string) (*NATSBus, error) {
	logger := logx.Component("cluster.nats")

	nc, err := nats.Connect(rawURL,
		nats.Name("agora-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("Disconnected from NATS.")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("Reconnected to NATS.")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATSBus{nc: nc, logger: logger}, nil
}

func (b *NATSBus) Publish(_ context.Context, topic string, payload []byte) error {
	return b.nc.Publish(topic, payload)
}

func (b *NATSBus) Subscribe(_ context.Context, topic string, handler Handler) error {
	_, err := b.nc.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	// Flush makes sure the server has registered the subscription.
	return b.nc.Flush()
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	return b.nc.Drain()
}
