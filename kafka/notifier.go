// Package kafka publishes bundle readiness events to a Kafka topic.
//
// Events are keyed by the receiver key so all notifications for one actor
// land on the same partition in order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/gridwise/bundling"
)

const defaultWriteTimeout = 10 * time.Second

var (
	// ErrBrokersRequired is returned when no broker address is configured.
	ErrBrokersRequired = errors.New("bundling kafka: at least one broker is required")
	// ErrTopicRequired is returned when the topic is missing.
	ErrTopicRequired = errors.New("bundling kafka: topic is required")
)

// Event is the JSON payload published for every ready bundle.
type Event struct {
	BundleID       bundling.ID `json:"bundle_id"`
	ActorNumber    string      `json:"actor_number"`
	ActorRole      string      `json:"actor_role"`
	Category       string      `json:"category"`
	Format         string      `json:"format"`
	MessageCount   int         `json:"message_count"`
	DataPointCount int         `json:"data_point_count"`
	DocumentRef    string      `json:"document_ref"`
	ClosedAt       time.Time   `json:"closed_at"`
}

// Config holds the notifier configuration.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Config)

// WithWriteTimeout sets the per-publish write timeout.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = timeout
	}
}

// Notifier publishes bundle readiness events through a kafka.Writer.
type Notifier struct {
	writer *kafkago.Writer
	topic  string
}

var _ bundling.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier writing to the given brokers and topic.
func NewNotifier(brokers []string, topic string, opts ...Option) (*Notifier, error) {
	cfg := Config{Brokers: brokers, Topic: topic, WriteTimeout: defaultWriteTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, ErrBrokersRequired
	}
	if cfg.Topic == "" {
		return nil, ErrTopicRequired
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	}

	return &Notifier{writer: writer, topic: cfg.Topic}, nil
}

// BundleReady implements bundling.Notifier.
func (n *Notifier) BundleReady(ctx context.Context, bundle bundling.Bundle) error {
	event := Event{
		BundleID:       bundle.ID,
		ActorNumber:    bundle.Key.ActorNumber,
		ActorRole:      bundle.Key.ActorRole,
		Category:       bundle.Key.Category,
		Format:         bundle.Key.Format,
		MessageCount:   bundle.MessageCount,
		DataPointCount: bundle.DataPointCount,
		DocumentRef:    bundle.DocumentRef,
		ClosedAt:       bundle.ClosedAt,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bundling kafka: encode event failed: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(bundle.Key.String()),
		Value: value,
		Time:  bundle.ClosedAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("bundling kafka: publish failed: %w", err)
	}

	return nil
}

// Close releases the underlying writer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}
