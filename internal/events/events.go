// Package events publishes rating change notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/rating-service/internal/metrics"
)

// Event types.
const (
	TypeRatingWritten = "rating.written"
	TypeRatingDeleted = "rating.deleted"
)

// DefaultSubject is the subject prefix events are published under.
const DefaultSubject = "ratings"

// Event describes a committed rating change.
type Event struct {
	Type       string    `json:"type"`
	OwnerID    int64     `json:"ownerId"`
	ResourceID int64     `json:"resourceId"`
	Value      *float64  `json:"value,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers events. Publishing is best effort; callers log failures
// and never roll back a committed change because of them.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON to "<subject>.<type>".
type NATSPublisher struct {
	conn    Conn
	subject string
}

// NewNATSPublisher creates a publisher over an established connection.
func NewNATSPublisher(conn Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.conn.Publish(p.subject+"."+event.Type, data); err != nil {
		metrics.RecordEventPublished(event.Type, "error")
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	metrics.RecordEventPublished(event.Type, "ok")
	return nil
}

// Connect dials NATS with reconnect handling logged through logger.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	log := logger.With().Str("component", "nats").Logger()
	opts := []nats.Option{
		nats.Name("rating-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}
