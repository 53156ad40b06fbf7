package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/OceanOptics/getOC/internal/download"
)

// NATSConfig holds configuration for the NATS publisher.
type NATSConfig struct {
	URL         string
	Subject     string
	ConnTimeout time.Duration
	Logger      zerolog.Logger
}

// NATSPublisher sends events to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the NATS server.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger

	options := []nats.Option{
		nats.Name("getoc"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	return &NATSPublisher{conn: nc, subject: cfg.Subject}, nil
}

// Publish sends the event on the configured subject, suffixed with the event type.
func (p *NATSPublisher) Publish(_ context.Context, t download.Transfer) error {
	event, data, err := encode(t)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject+"."+event.Type, data); err != nil {
		return fmt.Errorf("publishing to nats: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
