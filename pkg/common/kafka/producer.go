package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/config"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/common/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	topic  string
}

func NewProducer(topic string) *Producer {
	cfg := config.Load()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{writer: writer, topic: topic}
}

func (p *Producer) PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	message, err := encodeEvent(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": eventType,
		}).Error("Failed to publish event")
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": eventType,
		"topic":      p.topic,
	}).Info("Event published successfully")

	return nil
}

// PublishFeatureRegistered announces a committed registration so downstream
// consumers (the forum notifier) can act on it asynchronously.
func (p *Producer) PublishFeatureRegistered(ctx context.Context, feature models.RegisteredFeature) error {
	data, err := toData(feature)
	if err != nil {
		return err
	}
	return p.PublishEvent(ctx, models.EventFeatureRegistered, "eval-server", data)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func encodeEvent(event models.Event) (kafka.Message, error) {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.ID),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "source", Value: []byte(event.Source)},
		},
	}, nil
}

func toData(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to convert event data: %w", err)
	}
	return data, nil
}

// DecodeRegisteredFeature is the inverse of PublishFeatureRegistered's payload encoding.
func DecodeRegisteredFeature(event models.Event) (models.RegisteredFeature, error) {
	var feature models.RegisteredFeature
	if event.Type != models.EventFeatureRegistered {
		return feature, fmt.Errorf("unexpected event type %q", event.Type)
	}
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return feature, fmt.Errorf("failed to marshal event data: %w", err)
	}
	if err := json.Unmarshal(raw, &feature); err != nil {
		return feature, fmt.Errorf("failed to decode registered feature: %w", err)
	}
	return feature, nil
}
