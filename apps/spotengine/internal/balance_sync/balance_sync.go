// Package balance_sync consumes engine events and invalidates cached wallet balances
// another instance has moved.
package balance_sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/events"
)

const pollTimeout = 500 * time.Millisecond

// Consumer is the part of *kafka.Consumer the syncer uses.
type Consumer interface {
	Subscribe(topic string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	Close() error
}

// Invalidator marks an address's cached balances stale. *walletguard.Registry implements it.
type Invalidator interface {
	MarkStale(address string) bool
}

type BalanceSync struct {
	logger     *zap.Logger
	consumer   Consumer
	guards     Invalidator
	kafkaTopic string
}

func NewBalanceSync(kafkaBroker, kafkaTopic, groupID string, logger *zap.Logger, guards Invalidator) (*BalanceSync, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"group.id":          groupID,
		"auto.offset.reset": "latest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return NewBalanceSyncWithConsumer(consumer, kafkaTopic, logger, guards), nil
}

func NewBalanceSyncWithConsumer(consumer Consumer, kafkaTopic string, logger *zap.Logger, guards Invalidator) *BalanceSync {
	return &BalanceSync{
		logger:     logger,
		consumer:   consumer,
		guards:     guards,
		kafkaTopic: kafkaTopic,
	}
}

// Start consumes until ctx is done.
func (bs *BalanceSync) Start(ctx context.Context) error {
	bs.logger.Info("Starting balance sync", zap.String("topic", bs.kafkaTopic))

	if err := bs.consumer.Subscribe(bs.kafkaTopic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", bs.kafkaTopic, err)
	}

	for ctx.Err() == nil {
		msg, err := bs.consumer.ReadMessage(pollTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			bs.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := bs.processMessage(msg); err != nil {
			bs.logger.Error("Error processing message",
				zap.Int32("partition", msg.TopicPartition.Partition),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
		}
	}
	bs.logger.Info("Stopping balance sync")
	return nil
}

// processMessage invalidates the wallet named by an activity event. Other event types
// are ignored.
func (bs *BalanceSync) processMessage(msg *kafka.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	if env.EventType != events.TypeActivity {
		return nil
	}

	var activity events.ActivityEvent
	if err := env.Decode(&activity); err != nil {
		return err
	}
	address := env.WalletAddress
	if address == "" {
		address = string(msg.Key)
	}
	if address == "" {
		return fmt.Errorf("activity event %s has no wallet address", env.ID)
	}

	if bs.guards.MarkStale(address) {
		bs.logger.Debug("Invalidated wallet balances",
			zap.String("wallet_address", address),
			zap.Uint64("chain_id", activity.ChainID),
			zap.Strings("tokens", activity.Tokens),
			zap.String("tx_hash", activity.TxHash))
	}
	return nil
}

func (bs *BalanceSync) Close() error {
	return bs.consumer.Close()
}
