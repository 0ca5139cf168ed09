package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/pkg/kafka"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Record headers set on every notification
const (
	HeaderNotificationType = "notification_type"
	HeaderNotificationID   = "notification_id"
	HeaderEventID          = "event_id"
	HeaderSource           = "source"
)

// EventPublisher delivers registration notifications to the notification sink
type EventPublisher interface {
	// Publish publishes one notification
	Publish(ctx context.Context, n *domain.Notification) error

	// Close closes the event publisher
	Close() error
}

// MessageProducer is the subset of kafka.Producer the publisher uses
type MessageProducer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
	Close()
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer    MessageProducer
	topic       string
	serviceName string
}

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "registration-service-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		BatchSize:     100,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewKafkaEventPublisherWithProducer(producer, cfg.Topic, cfg.ServiceName), nil
}

// NewKafkaEventPublisherWithProducer wraps an existing producer
func NewKafkaEventPublisherWithProducer(producer MessageProducer, topic, serviceName string) *KafkaEventPublisher {
	if topic == "" {
		topic = "registration-events"
	}
	if serviceName == "" {
		serviceName = "registration-service"
	}
	return &KafkaEventPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
	}
}

// Publish writes one notification record. Records are keyed by the
// campus event ID, so a consumer sees one event's status changes in the
// order they committed.
func (p *KafkaEventPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	ctx, span := telemetry.StartSpan(ctx, "publisher.kafka.publish")
	defer span.End()

	key := n.Key()
	span.SetAttributes(
		attribute.String("notification_type", n.Type.String()),
		attribute.String("notification_id", n.ID),
		attribute.String("event_id", key),
	)

	value, err := json.Marshal(n)
	if err != nil {
		telemetry.RecordError(span, err, "marshal")
		return fmt.Errorf("marshal %s notification: %w", n.Type, err)
	}

	headers := map[string]string{
		HeaderNotificationType: n.Type.String(),
		HeaderNotificationID:   n.ID,
		HeaderEventID:          key,
		HeaderSource:           p.serviceName,
		"content_type":         "application/json",
	}
	telemetry.InjectHeaders(ctx, headers)

	if err := p.producer.Produce(ctx, &kafka.Message{
		Topic:     p.topic,
		Key:       []byte(key),
		Value:     value,
		Headers:   headers,
		Timestamp: n.OccurredAt,
	}); err != nil {
		telemetry.RecordError(span, err, "produce")
		return fmt.Errorf("publish %s notification for event %s: %w", n.Type, key, err)
	}

	return nil
}

// Close closes the event publisher
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// NoOpEventPublisher is a no-op implementation of EventPublisher, used when
// Kafka is unavailable and in tests
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// Publish is a no-op
func (p *NoOpEventPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}
