package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/openpress/revisor/internal/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// UpdateEvent represents a scheduled update lifecycle event
type UpdateEvent struct {
	EventType  string    `json:"event_type"` // update.staged, update.merging, update.merged
	StagedID   string    `json:"staged_id"`
	OriginalID string    `json:"original_id"`
	ItemType   string    `json:"item_type,omitempty"`
	ReleaseAt  *int64    `json:"release_at,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishUpdateEvent publishes an update lifecycle event to Kafka
func (p *Producer) PublishUpdateEvent(ctx context.Context, event *UpdateEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishUpdateEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Keyed by the original's id so all events of one update land in order.
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.OriginalID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "item_type", Value: []byte(event.ItemType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish update event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":  event.EventType,
		"staged_id":   event.StagedID,
		"original_id": event.OriginalID,
	}).Debug("Published update event")

	return nil
}
