package events

import (
	"encoding/json"
	"fmt"
	"time"

	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/model"
)

const (
	TypeActivity   = "activity"
	TypeOrderState = "order_state"
)

// Envelope is the Kafka message value. Data holds one of the typed payloads below.
type Envelope struct {
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	WalletAddress string          `json:"wallet_address"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ActivityEvent announces a settled on-chain effect. Tokens lists every balance the
// effect touched, the native asset included since it paid the network fee.
type ActivityEvent struct {
	ActivityID   string             `json:"activity_id"`
	OrderID      string             `json:"order_id,omitempty"`
	ActivityType model.ActivityType `json:"activity_type"`
	ChainID      uint64             `json:"chain_id"`
	TxHash       string             `json:"tx_hash"`
	Tokens       []string           `json:"tokens"`
}

type OrderStateEvent struct {
	OrderID   string            `json:"order_id"`
	Status    model.OrderStatus `json:"status"`
	OrderType model.OrderType   `json:"order_type"`
	Message   string            `json:"message"`
	Retry     int               `json:"retry"`
}

func NewActivityEvent(a *model.Activity) ActivityEvent {
	tokens := []string{chains.NativeAddress}
	if a.PayToken != nil && a.PayToken.Address != "" {
		tokens = append(tokens, a.PayToken.Address)
	}
	if a.ReceiveToken != nil && a.ReceiveToken.Address != "" {
		tokens = append(tokens, a.ReceiveToken.Address)
	}
	return ActivityEvent{
		ActivityID:   a.ID,
		OrderID:      a.OrderID,
		ActivityType: a.Type,
		ChainID:      a.ChainID,
		TxHash:       a.TxHash,
		Tokens:       tokens,
	}
}

func NewOrderStateEvent(o *model.Order) OrderStateEvent {
	return OrderStateEvent{
		OrderID:   o.ID,
		Status:    o.Status,
		OrderType: o.Type,
		Message:   o.Message,
		Retry:     o.Retry,
	}
}

// Marshal encodes a payload for the outbox.
func Marshal(payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return b, nil
}

// Decode unpacks an envelope's data into out.
func (e *Envelope) Decode(out any) error {
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s event: %w", e.EventType, err)
	}
	return nil
}

// NewEnvelope wraps an outbox row for publishing.
func NewEnvelope(e model.OutboxEvent, now time.Time) Envelope {
	return Envelope{
		ID:            e.ID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		WalletAddress: e.WalletAddress,
		Data:          e.Payload,
		Timestamp:     now,
	}
}
