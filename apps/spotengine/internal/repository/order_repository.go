package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/events"
	"spotengine/apps/spotengine/internal/model"
)

const orderColumns = `id, user_id, wallet_id, name, category, strategy, chain_id, priority, slippage_bps,
	order_asset, order_size, token_amount, entry, exit, re_entrance, status, order_type, message,
	is_busy, is_active, retry, fee_in_usd, pay_in_usd, entry_price, exit_price, realized_pnl,
	checkpoint, created_at, updated_at`

type OrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderRepository(db *sql.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.WalletID, &o.Name, &o.Category, &o.Strategy, &o.ChainID,
		&o.Priority, &o.SlippageBps, jsonb{&o.Asset}, bigNum{&o.OrderSize}, bigNum{&o.TokenAmount},
		jsonb{&o.Entry}, jsonb{&o.Exit}, jsonb{&o.ReEntrance}, &o.Status, &o.Type, &o.Message,
		&o.IsBusy, &o.IsActive, &o.Retry, bigNum{&o.ExecutionFee.FeeInUSD}, bigNum{&o.ExecutionFee.PayInUSD},
		bigNum{&o.EntryPrice}, bigNum{&o.ExitPrice}, bigNum{&o.RealizedPnl}, jsonb{&o.Checkpoint},
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*model.Order, error) {
	defer rows.Close()
	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) Create(ctx context.Context, o *model.Order) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	asset, err := toJSON(o.Asset)
	if err != nil {
		return err
	}
	entry, err := toJSON(o.Entry)
	if err != nil {
		return err
	}
	exit, err := toJSON(o.Exit)
	if err != nil {
		return err
	}
	reEntrance, err := toJSON(o.ReEntrance)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, wallet_id, name, category, strategy, chain_id, priority, slippage_bps,
			order_asset, order_size, token_amount, entry, exit, re_entrance, status, order_type, message,
			is_busy, is_active, retry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, o.ID, o.UserID, o.WalletID, o.Name, o.Category, o.Strategy, int64(o.ChainID), o.Priority, int64(o.SlippageBps),
		asset, numOrZero(o.OrderSize), numOrZero(o.TokenAmount), entry, exit, reEntrance, o.Status, o.Type, o.Message,
		o.IsBusy, o.IsActive, o.Retry)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	r.logger.Info("Created order",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
		zap.String("order_type", string(o.Type)),
		zap.Uint64("chain_id", o.ChainID))
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// Claim moves an idle order in one of the from statuses to PROCESSING, sets is_busy and
// spends one retry. The conditional update is the mutual exclusion between workers.
func (r *OrderRepository) Claim(ctx context.Context, id string, from []model.OrderStatus) (*model.Order, error) {
	return r.claim(ctx, id, `
		UPDATE orders
		SET status = 'PROCESSING', is_busy = TRUE, message = $3, retry = retry + 1, updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE AND status = ANY($2) AND is_busy = FALSE AND retry < $4
		RETURNING `+orderColumns,
		id, pq.Array(statusStrings(from)), ClaimMessage(from), model.MaxRetry)
}

// ClaimForResume claims a PROCESSING order that carries a checkpoint. A busy order whose
// last write is older than BusyLease was left by a crashed worker and is claimable too.
func (r *OrderRepository) ClaimForResume(ctx context.Context, id string) (*model.Order, error) {
	return r.claim(ctx, id, `
		UPDATE orders
		SET is_busy = TRUE, message = $2, retry = retry + 1, updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE AND status = 'PROCESSING' AND checkpoint IS NOT NULL AND retry < $3
			AND (is_busy = FALSE OR updated_at < NOW() - make_interval(secs => $4))
		RETURNING `+orderColumns,
		id, model.MsgResumingOrder, model.MaxRetry, BusyLease.Seconds())
}

func (r *OrderRepository) claim(ctx context.Context, id, query string, args ...any) (*model.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	o, err := scanOrder(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotClaimed
		}
		return nil, fmt.Errorf("failed to claim order: %w", err)
	}
	if err := enqueueOrderState(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	r.logger.Info("Claimed order",
		zap.String("order_id", id),
		zap.String("reason", o.Message),
		zap.Int("retry", o.Retry))
	return o, nil
}

// Update applies a partial update under a row lock. A status change enqueues an
// order_state event in the same transaction.
func (r *OrderRepository) Update(ctx context.Context, id string, u model.OrderUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin order update: %w", err)
	}
	defer tx.Rollback()

	o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock order: %w", err)
	}
	u.Apply(o)

	exit, err := toJSON(o.Exit)
	if err != nil {
		return err
	}
	var checkpoint []byte
	if o.Checkpoint != nil {
		if checkpoint, err = toJSON(o.Checkpoint); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET token_amount = $2, exit = $3, status = $4, order_type = $5, message = $6, is_busy = $7,
			is_active = $8, retry = $9, fee_in_usd = $10, pay_in_usd = $11, entry_price = $12,
			exit_price = $13, realized_pnl = $14, checkpoint = $15, updated_at = NOW()
		WHERE id = $1
	`, id, numOrZero(o.TokenAmount), exit, o.Status, o.Type, o.Message, o.IsBusy, o.IsActive, o.Retry,
		num(o.ExecutionFee.FeeInUSD), num(o.ExecutionFee.PayInUSD), num(o.EntryPrice), num(o.ExitPrice),
		num(o.RealizedPnl), checkpoint)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	if u.Status != nil {
		if err := enqueueOrderState(ctx, tx, o); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order update: %w", err)
	}

	if u.Status != nil {
		r.logger.Info("Updated order status",
			zap.String("order_id", id),
			zap.String("status", string(o.Status)),
			zap.String("reason", o.Message))
	}
	return nil
}

// FindAccumulationSiblings returns the user's other idle OPENED positions that share o's
// name and strategy.
func (r *OrderRepository) FindAccumulationSiblings(ctx context.Context, o *model.Order) ([]*model.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND name = $2 AND strategy = $3 AND chain_id = $4 AND id <> $5
			AND status = 'OPENED' AND order_type = 'SELL' AND is_active = TRUE AND is_busy = FALSE
		ORDER BY created_at
	`, o.UserID, o.Name, o.Strategy, int64(o.ChainID), o.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find accumulation siblings: %w", err)
	}
	return scanOrders(rows)
}

// ListActive returns idle orders the listener may act on, plus checkpointed PROCESSING
// orders whose busy lease lapsed.
func (r *OrderRepository) ListActive(ctx context.Context) ([]*model.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE is_active = TRUE AND status = ANY($1)
			AND (is_busy = FALSE OR (status = 'PROCESSING' AND checkpoint IS NOT NULL
				AND updated_at < NOW() - make_interval(secs => $2)))
		ORDER BY priority DESC, created_at
	`, pq.Array(statusStrings(ListenableStatuses)), BusyLease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}
	return scanOrders(rows)
}

// ListenableStatuses are the statuses ListActive returns.
var ListenableStatuses = []model.OrderStatus{model.StatusPending, model.StatusOpened, model.StatusProcessing}

func enqueueOrderState(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	return enqueue(ctx, tx, events.TypeOrderState, o.ID, o.WalletID, events.NewOrderStateEvent(o))
}
