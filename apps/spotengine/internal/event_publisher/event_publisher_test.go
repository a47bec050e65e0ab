package event_publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/events"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/repository/memory"
)

type fakeProducer struct {
	sent       []*kafka.Message
	produceErr error
	deliverErr error
	closed     bool
}

func (p *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if p.produceErr != nil {
		return p.produceErr
	}
	p.sent = append(p.sent, msg)
	delivered := *msg
	delivered.TopicPartition.Error = p.deliverErr
	deliveryChan <- &delivered
	return nil
}

func (p *fakeProducer) Close() { p.closed = true }

func seedActivity(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	w := &model.Wallet{Address: "0xWallet", Network: "evm", EncryptedKey: "k"}
	require.NoError(t, store.Accounts().CreateWallet(ctx, w))
	_, err := store.Activities().Create(ctx, &model.Activity{
		WalletID: w.ID,
		OrderID:  "order-1",
		Type:     model.ActivityBuyTrade,
		Status:   model.ActivitySuccess,
		ChainID:  43114,
		TxHash:   "0xswap",
	})
	require.NoError(t, err)
}

func TestPublishPendingSendsAndMarks(t *testing.T) {
	store := memory.New()
	seedActivity(t, store)
	producer := &fakeProducer{}
	ep := NewEventPublisherWithProducer(producer, "spot-events", zap.NewNop(), store.Outbox())
	ep.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }

	require.NoError(t, ep.PublishPending(context.Background()))

	require.Len(t, producer.sent, 1)
	msg := producer.sent[0]
	assert.Equal(t, "spot-events", *msg.TopicPartition.Topic)
	assert.Equal(t, "0xWallet", string(msg.Key))

	var env events.Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, events.TypeActivity, env.EventType)
	assert.Equal(t, "0xWallet", env.WalletAddress)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), env.Timestamp)

	var activity events.ActivityEvent
	require.NoError(t, env.Decode(&activity))
	assert.Equal(t, "0xswap", activity.TxHash)
	assert.Equal(t, "order-1", activity.OrderID)

	for _, e := range store.Events() {
		assert.Equal(t, model.OutboxSent, e.Status)
	}

	require.NoError(t, ep.PublishPending(context.Background()))
	assert.Len(t, producer.sent, 1, "sent events are not published twice")
}

func TestPublishPendingReturnsFailedEventsToPending(t *testing.T) {
	tests := []struct {
		name     string
		producer *fakeProducer
	}{
		{name: "produce error", producer: &fakeProducer{produceErr: errors.New("queue full")}},
		{name: "delivery error", producer: &fakeProducer{deliverErr: kafka.NewError(kafka.ErrMsgTimedOut, "timed out", false)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			seedActivity(t, store)
			ep := NewEventPublisherWithProducer(tt.producer, "spot-events", zap.NewNop(), store.Outbox())

			require.NoError(t, ep.PublishPending(context.Background()))

			for _, e := range store.Events() {
				assert.Equal(t, model.OutboxPending, e.Status)
			}

			tt.producer.produceErr, tt.producer.deliverErr = nil, nil
			require.NoError(t, ep.PublishPending(context.Background()))
			for _, e := range store.Events() {
				assert.Equal(t, model.OutboxSent, e.Status)
			}
		})
	}
}

func TestCloseClosesProducer(t *testing.T) {
	producer := &fakeProducer{}
	ep := NewEventPublisherWithProducer(producer, "t", zap.NewNop(), memory.New().Outbox())
	require.NoError(t, ep.Close())
	assert.True(t, producer.closed)
}
