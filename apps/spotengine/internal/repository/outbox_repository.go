package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/events"
	"spotengine/apps/spotengine/internal/model"
)

type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// enqueue writes an outbox row inside tx. The wallet address is resolved from walletID so
// events can be keyed by wallet.
func enqueue(ctx context.Context, tx *sql.Tx, eventType, aggregateID, walletID string, payload any) error {
	data, err := events.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_outbox (id, event_type, status, aggregate_id, wallet_address, payload)
		VALUES ($1, $2, $3, $4, COALESCE((SELECT address FROM wallets WHERE id = $5), ''), $6)
	`, uuid.New().String(), eventType, model.OutboxPending, aggregateID, walletID, []byte(data))
	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit pending events and marks them processing so concurrent
// publishers never pick the same rows.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_type, status, aggregate_id, wallet_address, payload, created_at
		FROM event_outbox
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, model.OutboxPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []model.OutboxEvent
	var ids []string
	for rows.Next() {
		var e model.OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Status, &e.AggregateID, &e.WalletAddress, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		claimed = append(claimed, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE event_outbox SET status = $1 WHERE id = ANY($2) AND status = $3
	`, model.OutboxProcessing, pq.Array(ids), model.OutboxPending); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for i := range claimed {
		claimed[i].Status = model.OutboxProcessing
	}
	return claimed, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE event_outbox SET status = $1 WHERE id = $2`, model.OutboxSent, id)
	return err
}

// MarkFailed hands a processing event back to the pending queue.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE event_outbox SET status = $1 WHERE id = $2 AND status = $3
	`, model.OutboxPending, id, model.OutboxProcessing)
	return err
}
