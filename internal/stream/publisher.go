package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"logistics/internal/domain"
	"logistics/internal/observability"
)

// PositionMessage is the payload written to the positions topic.
type PositionMessage struct {
	ID         int64     `json:"id"`
	TripID     int64     `json:"trip_id"`
	DriverID   int64     `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewPositionMessage converts a stored report into its wire form.
func NewPositionMessage(p *domain.PositionReport) PositionMessage {
	return PositionMessage{
		ID:         p.ID,
		TripID:     p.TripID,
		DriverID:   p.DriverID,
		Lat:        p.Lat,
		Lng:        p.Lng,
		Heading:    p.Heading,
		Speed:      p.Speed,
		RecordedAt: p.RecordedAt,
	}
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes accepted positions to Kafka, keyed by trip so that a
// trip's points stay ordered within one partition.
type KafkaPublisher struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaPublisher creates an asynchronous publisher. Delivery failures are
// reported through the completion callback and never reach the caller.
func NewKafkaPublisher(brokers []string, topic string, writeTimeout time.Duration, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			observability.TelemetryPublishErrors.Add(float64(len(messages)))
			logger.Warn("position delivery failed", "topic", topic, "messages", len(messages), "error", err)
		},
	}
	return NewPublisherWithWriter(w, logger)
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w MessageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

// PublishPosition enqueues one position.
func (p *KafkaPublisher) PublishPosition(ctx context.Context, report *domain.PositionReport) error {
	b, err := json.Marshal(NewPositionMessage(report))
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(report.TripID, 10)),
		Value: b,
		Time:  report.RecordedAt,
	})
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
