package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxSent       = "sent"
	OutboxFailed     = "failed"
)

type OutboxEvent struct {
	ID            string          `db:"id"`
	EventType     string          `db:"event_type"`
	Status        string          `db:"status"`
	AggregateID   string          `db:"aggregate_id"`
	WalletAddress string          `db:"wallet_address"`
	Payload       json.RawMessage `db:"payload"`
	CreatedAt     time.Time       `db:"created_at"`
}
