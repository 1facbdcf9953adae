package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"tractkit/internal/config"
	"tractkit/internal/logging"
)

// Event names a pipeline lifecycle event.
type Event string

const (
	EventRunStarted    Event = "run_started"
	EventRunCompleted  Event = "run_completed"
	EventStageStart    Event = "stage_start"
	EventStageSkip     Event = "stage_skip"
	EventStageComplete Event = "stage_complete"
	EventStageFailure  Event = "stage_failure"
)

// Payload carries event attributes. Values must be JSON encodable; errors are
// rendered as their message.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewService builds a Kafka-backed notifier when events are enabled and a
// no-op notifier otherwise.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	if cfg == nil || !cfg.Events.Enabled || len(cfg.Events.Brokers) == 0 {
		return noopService{}
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Events.Brokers...),
		Topic:                  cfg.Events.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaService(writer, logger)
}

// NewKafkaService wraps an existing writer.
func NewKafkaService(writer MessageWriter, logger *slog.Logger) Service {
	return &kafkaService{writer: writer, logger: logging.NewComponentLogger(logger, "notifications")}
}

type kafkaService struct {
	writer MessageWriter
	logger *slog.Logger
}

type envelope struct {
	Event     Event          `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (k *kafkaService) Publish(ctx context.Context, event Event, payload Payload) error {
	body, err := json.Marshal(envelope{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Payload:   sanitize(payload),
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	msg := kafka.Message{
		Key:   []byte(messageKey(payload)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", event, err)
	}
	k.logger.Debug("event published",
		logging.String(logging.FieldEventType, "event_published"),
		logging.String("event", string(event)),
	)
	return nil
}

func (k *kafkaService) Close() error {
	return k.writer.Close()
}

// messageKey keeps every event of one run on the same partition.
func messageKey(payload Payload) string {
	if runID, ok := payload["run_id"].(string); ok {
		return runID
	}
	return ""
}

func sanitize(payload Payload) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.(type) {
		case error:
			out[key] = v.Error()
		case time.Duration:
			out[key] = v.Milliseconds()
		default:
			out[key] = v
		}
	}
	return out
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

func (noopService) Close() error { return nil }
