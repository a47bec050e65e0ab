package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration creates the schema if it does not exist yet.
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			account VARCHAR(128) NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'active'
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			address VARCHAR(64) NOT NULL,
			encrypted_key TEXT NOT NULL,
			network VARCHAR(16) NOT NULL,
			name VARCHAR(128) NOT NULL DEFAULT '',
			UNIQUE(address, network)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			wallet_id UUID NOT NULL,
			name VARCHAR(128) NOT NULL DEFAULT '',
			category VARCHAR(16) NOT NULL,
			strategy VARCHAR(32) NOT NULL DEFAULT '',
			chain_id BIGINT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			slippage_bps BIGINT NOT NULL,
			order_asset JSONB NOT NULL,
			order_size NUMERIC(78,0) NOT NULL DEFAULT 0,
			token_amount NUMERIC(78,0) NOT NULL DEFAULT 0,
			entry JSONB NOT NULL,
			exit JSONB NOT NULL,
			re_entrance JSONB NOT NULL,
			status VARCHAR(16) NOT NULL,
			order_type VARCHAR(8) NOT NULL,
			message VARCHAR(64) NOT NULL DEFAULT '',
			is_busy BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			retry INTEGER NOT NULL DEFAULT 0,
			fee_in_usd NUMERIC(78,0),
			pay_in_usd NUMERIC(78,0),
			entry_price NUMERIC(78,0),
			exit_price NUMERIC(78,0),
			realized_pnl NUMERIC(78,0),
			checkpoint JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_active ON orders (is_active, is_busy, status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_accumulation ON orders (user_id, name, strategy, status)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id UUID PRIMARY KEY,
			wallet_id UUID NOT NULL,
			user_id UUID NOT NULL,
			order_id UUID,
			type VARCHAR(16) NOT NULL,
			status VARCHAR(16) NOT NULL,
			chain_id BIGINT NOT NULL,
			tx_hash VARCHAR(128) NOT NULL,
			index_token VARCHAR(64) NOT NULL DEFAULT '',
			receiver VARCHAR(64) NOT NULL DEFAULT '',
			pay_token JSONB,
			receive_token JSONB,
			tx_fee JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_order ON activities (order_id)`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
			id UUID PRIMARY KEY,
			event_type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			aggregate_id UUID NOT NULL,
			wallet_address VARCHAR(64) NOT NULL DEFAULT '',
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_status ON event_outbox (status, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}
	return nil
}
