package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/tchi-pipeline/internal/config"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// RunPublisher announces completed runs on a Kafka topic.
// It implements pipeline.RunHook.
type RunPublisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewRunPublisher creates a Kafka producer for the configured runs topic.
func NewRunPublisher(cfg *config.Config, logger *slog.Logger) *RunPublisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaRunsTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &RunPublisher{writer: w, logger: logger}
}

func (p *RunPublisher) Name() string { return "kafka" }

// RunCompleted publishes rec keyed by its date, so every run of a date
// lands on the same partition.
func (p *RunPublisher) RunCompleted(ctx context.Context, rec domain.RunRecord) error {
	msg, err := serializeToMessage(rec)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run %s: %w", rec.RunID, err)
	}
	p.logger.Debug("run event published", "date", rec.Date, "run_id", rec.RunID, "topic", p.writer.Topic)
	return nil
}

func (p *RunPublisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a RunRecord into a Kafka message.
func serializeToMessage(rec domain.RunRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.Date.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(rec.RunID)},
			{Key: "completed_at", Value: []byte(rec.CompletedAt.Format(time.RFC3339))},
		},
	}, nil
}
