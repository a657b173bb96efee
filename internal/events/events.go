// Package events publishes transfer lifecycle events to Kafka.
//
// Publishing is best-effort: a broker outage is logged and never blocks or
// rolls back a state transition.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the lifecycle event topic.
const DefaultTopic = "transfer_lifecycle"

// Event is one lifecycle record. FromState is empty for submission events.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	TransferID string    `json:"transferId"`
	FromState  string    `json:"fromState,omitempty"`
	ToState    string    `json:"toState"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher emits lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	TransferTransitioned(ctx context.Context, transferID, event, fromState, toState string)
	Close() error
}

// Noop discards all events. Used when no brokers are configured.
type Noop struct{}

func (Noop) TransferTransitioned(context.Context, string, string, string, string) {}

func (Noop) Close() error { return nil }

// KafkaPublisher writes lifecycle events to a Kafka topic, keyed by
// transfer ID so per-transfer ordering survives partitioning.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) TransferTransitioned(ctx context.Context, transferID, event, fromState, toState string) {
	e := Event{
		ID:         uuid.NewString(),
		Type:       event,
		TransferID: transferID,
		FromState:  fromState,
		ToState:    toState,
		OccurredAt: time.Now().UTC(),
	}
	value, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("events: marshal event", "type", event, "error", err)
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(transferID),
		Value: value,
	})
	if err != nil {
		p.logger.Warn("events: publish failed", "type", event, "transfer", transferID, "error", err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var (
	_ Publisher = Noop{}
	_ Publisher = (*KafkaPublisher)(nil)
)
