// Package notify publishes terminal download transfers as JSON events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/OceanOptics/getOC/internal/download"
)

// Driver names.
const (
	DriverLog    = "log"
	DriverPubSub = "pubsub"
	DriverNATS   = "nats"
)

// Event types.
const (
	EventTransferComplete = "transfer.complete"
	EventTransferFailed   = "transfer.failed"
)

// Event is the message published for one terminal transfer.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Transfer   download.Transfer `json:"transfer"`
}

// NewEvent wraps a transfer in an event with a fresh id.
func NewEvent(t download.Transfer) Event {
	eventType := EventTransferComplete
	if t.State == download.StateFailed {
		eventType = EventTransferFailed
	}
	occurred := t.UpdatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: occurred,
		Transfer:   t,
	}
}

// Attributes are the routing attributes of an event.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"type":     e.Type,
		"run_id":   e.Transfer.RunID,
		"platform": e.Transfer.Platform,
	}
}

// Publisher is a download.Publisher that owns a connection.
type Publisher interface {
	download.Publisher
	Close() error
}

// Config selects and configures the event sink.
type Config struct {
	Driver string `env:"DRIVER" envDefault:"log"`

	// Pub/Sub.
	ProjectID string `env:"PUBSUB_PROJECT_ID"`
	Topic     string `env:"PUBSUB_TOPIC" envDefault:"getoc-transfers"`

	// NATS.
	NATSURL     string        `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Subject     string        `env:"NATS_SUBJECT" envDefault:"getoc.transfers"`
	ConnTimeout time.Duration `env:"NATS_TIMEOUT" envDefault:"5s"`
}

// New creates the publisher selected by cfg.Driver.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (Publisher, error) {
	switch cfg.Driver {
	case "", DriverLog:
		return NewLogPublisher(logger), nil
	case DriverPubSub:
		return NewPubSubPublisher(ctx, PubSubConfig{
			ProjectID: cfg.ProjectID,
			Topic:     cfg.Topic,
			Logger:    logger,
		})
	case DriverNATS:
		return NewNATSPublisher(NATSConfig{
			URL:         cfg.NATSURL,
			Subject:     cfg.Subject,
			ConnTimeout: cfg.ConnTimeout,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("unknown notify driver %q", cfg.Driver)
	}
}

func encode(t download.Transfer) (Event, []byte, error) {
	event := NewEvent(t)
	data, err := json.Marshal(event)
	if err != nil {
		return event, nil, fmt.Errorf("encoding event: %w", err)
	}
	return event, data, nil
}

// LogPublisher writes events to the logger.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a publisher that logs each event at info level.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, t download.Transfer) error {
	event, data, err := encode(t)
	if err != nil {
		return err
	}
	p.logger.Info().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		RawJSON("event", data).
		Msg("transfer event")
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}
