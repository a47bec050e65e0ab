package event_publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/events"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/repository"
)

const (
	publishInterval = 3 * time.Second
	batchSize       = 100
)

// Producer is the part of *kafka.Producer the publisher uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

type EventPublisher struct {
	logger     *zap.Logger
	producer   Producer
	kafkaTopic string
	outbox     repository.OutboxStore
	now        func() time.Time
	mu         sync.Mutex
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, logger *zap.Logger, outbox repository.OutboxStore) (*EventPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewEventPublisherWithProducer(producer, kafkaTopic, logger, outbox), nil
}

func NewEventPublisherWithProducer(producer Producer, kafkaTopic string, logger *zap.Logger, outbox repository.OutboxStore) *EventPublisher {
	return &EventPublisher{
		logger:     logger,
		producer:   producer,
		kafkaTopic: kafkaTopic,
		outbox:     outbox,
		now:        time.Now,
	}
}

// StartPublishing drains the outbox every few seconds until ctx is done.
func (ep *EventPublisher) StartPublishing(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ep.PublishPending(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

// PublishPending sends one batch of pending outbox events. Events that fail go back to
// pending for the next run.
func (ep *EventPublisher) PublishPending(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	pending, err := ep.outbox.ClaimPending(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim outbox events: %w", err)
	}

	successCount := 0
	for _, event := range pending {
		if err := ep.publish(event); err != nil {
			ep.logger.Error("Failed to publish event to Kafka",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			if markErr := ep.outbox.MarkFailed(ctx, event.ID); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.String("event_id", event.ID), zap.Error(markErr))
			}
			continue
		}

		// A failed mark means the event is sent again on a later run.
		if err := ep.outbox.MarkSent(ctx, event.ID); err != nil {
			ep.logger.Error("Failed to mark event as sent", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}
		successCount++
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(pending)))
	}
	return nil
}

func (ep *EventPublisher) publish(event model.OutboxEvent) error {
	msgBytes, err := json.Marshal(events.NewEnvelope(event, ep.now()))
	if err != nil {
		return err
	}

	deliveryChan := make(chan kafka.Event, 1)
	err = ep.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.WalletAddress),
		Value:          msgBytes,
	}, deliveryChan)
	if err != nil {
		return err
	}

	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		return ev.TopicPartition.Error
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (ep *EventPublisher) Close() error {
	if ep.producer != nil {
		ep.producer.Close()
	}
	return nil
}
