package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/events"
	"spotengine/apps/spotengine/internal/model"
)

const activityColumns = `id, wallet_id, user_id, COALESCE(order_id::text, ''), type, status, chain_id, tx_hash,
	index_token, receiver, pay_token, receive_token, tx_fee, created_at`

type ActivityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewActivityRepository(db *sql.DB, logger *zap.Logger) *ActivityRepository {
	return &ActivityRepository{db: db, logger: logger}
}

func scanActivity(row rowScanner) (*model.Activity, error) {
	var a model.Activity
	err := row.Scan(&a.ID, &a.WalletID, &a.UserID, &a.OrderID, &a.Type, &a.Status, &a.ChainID, &a.TxHash,
		&a.IndexToken, &a.Receiver, jsonb{&a.PayToken}, jsonb{&a.ReceiveToken}, jsonb{&a.TxFee}, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts the activity and its outbox event in one transaction and returns the id.
func (r *ActivityRepository) Create(ctx context.Context, a *model.Activity) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	pay, receive, fee, err := encodeActivityTokens(a)
	if err != nil {
		return "", err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin activity insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO activities (id, wallet_id, user_id, order_id, type, status, chain_id, tx_hash, index_token,
			receiver, pay_token, receive_token, tx_fee)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.WalletID, a.UserID, a.OrderID, a.Type, a.Status, int64(a.ChainID), a.TxHash, a.IndexToken,
		a.Receiver, pay, receive, fee)
	if err != nil {
		return "", fmt.Errorf("failed to create activity: %w", err)
	}
	if err := enqueue(ctx, tx, events.TypeActivity, a.ID, a.WalletID, events.NewActivityEvent(a)); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit activity: %w", err)
	}

	r.logger.Info("Created activity",
		zap.String("activity_id", a.ID),
		zap.String("order_id", a.OrderID),
		zap.String("type", string(a.Type)),
		zap.String("tx_hash", a.TxHash))
	return a.ID, nil
}

func (r *ActivityRepository) Get(ctx context.Context, id string) (*model.Activity, error) {
	a, err := scanActivity(r.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// BackfillUSD writes USD valuations that were unavailable when the activity was created.
func (r *ActivityRepository) BackfillUSD(ctx context.Context, id string, v model.ActivityValuation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin activity backfill: %w", err)
	}
	defer tx.Rollback()

	a, err := scanActivity(tx.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock activity: %w", err)
	}
	v.Apply(a)

	pay, receive, fee, err := encodeActivityTokens(a)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE activities SET pay_token = $2, receive_token = $3, tx_fee = $4 WHERE id = $1
	`, id, pay, receive, fee); err != nil {
		return fmt.Errorf("failed to backfill activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activity backfill: %w", err)
	}

	r.logger.Info("Backfilled activity valuation", zap.String("activity_id", id))
	return nil
}

func encodeActivityTokens(a *model.Activity) (pay, receive, fee []byte, err error) {
	if a.PayToken != nil {
		if pay, err = toJSON(a.PayToken); err != nil {
			return nil, nil, nil, err
		}
	}
	if a.ReceiveToken != nil {
		if receive, err = toJSON(a.ReceiveToken); err != nil {
			return nil, nil, nil, err
		}
	}
	if fee, err = toJSON(a.TxFee); err != nil {
		return nil, nil, nil, err
	}
	return pay, receive, fee, nil
}
