package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/geoquest/platform/internal/domain"
	"github.com/geoquest/platform/internal/guard"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaProducer wraps a kafka-go writer for publishing messages.
type KafkaProducer struct {
	writer  *kafka.Writer
	logger  *slog.Logger
	enabled bool
}

// NewKafkaProducer creates a Kafka producer. If brokers is empty or disabled, writes are no-ops.
func NewKafkaProducer(brokers string, enabled bool, logger *slog.Logger) *KafkaProducer {
	if !enabled || brokers == "" {
		logger.Info("kafka producer disabled")
		return &KafkaProducer{enabled: false, logger: logger}
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info("kafka producer initialized", "brokers", brokers)
	return &KafkaProducer{writer: w, logger: logger, enabled: true}
}

// Enabled reports whether messages are actually written.
func (p *KafkaProducer) Enabled() bool { return p.enabled }

// Publish sends a message to the given topic. No-op if disabled.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if !p.enabled {
		return nil
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

// Close shuts down the Kafka writer.
func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// Publisher is the sink an EventExporter writes to.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

const exportBreakerKey = "kafka"

// EventExporter ships game events to Kafka off the ingestion path. Events are
// queued without blocking and dropped when the queue is full or the circuit
// breaker is open.
type EventExporter struct {
	publisher Publisher
	topic     string
	breaker   *guard.CircuitBreaker
	queue     chan domain.GameEvent
	timeout   time.Duration
	logger    *slog.Logger
	done      chan struct{}
}

// NewEventExporter creates an exporter with a queue of queueSize events.
func NewEventExporter(p Publisher, topic string, queueSize int, logger *slog.Logger) *EventExporter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &EventExporter{
		publisher: p,
		topic:     topic,
		breaker:   guard.NewCircuitBreaker(5, 30*time.Second),
		queue:     make(chan domain.GameEvent, queueSize),
		timeout:   5 * time.Second,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// exportEnvelope is the Kafka message value.
type exportEnvelope struct {
	EventID    uuid.UUID        `json:"event_id"`
	EventType  string           `json:"event_type"`
	RiderID    string           `json:"rider_id"`
	Payload    domain.GameEvent `json:"payload"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Export queues ev. It never blocks.
func (x *EventExporter) Export(ev domain.GameEvent) {
	select {
	case x.queue <- ev:
	default:
		x.logger.Warn("event export queue full, dropping event", "rider_id", ev.RiderID)
	}
}

// Start drains the queue in a goroutine until ctx is cancelled.
func (x *EventExporter) Start(ctx context.Context) {
	x.logger.Info("event exporter started", "topic", x.topic)

	go func() {
		defer close(x.done)
		for {
			select {
			case <-ctx.Done():
				x.logger.Info("event exporter stopped")
				return
			case ev := <-x.queue:
				x.publish(ctx, ev)
			}
		}
	}()
}

// Wait blocks until the exporter goroutine has exited.
func (x *EventExporter) Wait() {
	<-x.done
}

func (x *EventExporter) publish(ctx context.Context, ev domain.GameEvent) {
	if res := x.breaker.Check(ctx, exportBreakerKey); !res.Allowed {
		x.logger.Debug("event export skipped", "reason", res.Reason, "rider_id", ev.RiderID)
		return
	}

	msg, err := json.Marshal(exportEnvelope{
		EventID:    uuid.New(),
		EventType:  ev.Type,
		RiderID:    ev.RiderID,
		Payload:    ev,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		x.logger.Error("event export marshal failed", "error", err)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	if err := x.publisher.Publish(pctx, x.topic, []byte(ev.RiderID), msg); err != nil {
		x.breaker.RecordFailure(exportBreakerKey)
		x.logger.Error("kafka publish failed", "rider_id", ev.RiderID, "error", err)
		if x.breaker.State(exportBreakerKey) == guard.CircuitOpen {
			x.logger.Warn("event export paused", "circuit", guard.CircuitOpen.String())
		}
		return
	}
	x.breaker.RecordSuccess(exportBreakerKey)
}
