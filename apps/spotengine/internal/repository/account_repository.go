package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/model"
)

// AccountRepository stores users and their wallets.
type AccountRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAccountRepository(db *sql.DB, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{db: db, logger: logger}
}

func (r *AccountRepository) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, account, status) VALUES ($1, $2, $3)
	`, u.ID, u.Account, u.Status)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *AccountRepository) CreateWallet(ctx context.Context, w *model.Wallet) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	// An existing wallet keeps its id and key.
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO wallets (id, user_id, address, encrypted_key, network, name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address, network) DO UPDATE SET name = wallets.name
		RETURNING id
	`, w.ID, w.UserID, w.Address, w.EncryptedKey, w.Network, w.Name).Scan(&w.ID)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	r.logger.Info("Created wallet",
		zap.String("wallet_id", w.ID),
		zap.String("wallet_address", w.Address),
		zap.String("network", string(w.Network)))
	return nil
}

func (r *AccountRepository) User(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account, status FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Account, &u.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *AccountRepository) Wallet(ctx context.Context, id string) (*model.Wallet, error) {
	var w model.Wallet
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, address, encrypted_key, network, name FROM wallets WHERE id = $1
	`, id).Scan(&w.ID, &w.UserID, &w.Address, &w.EncryptedKey, &w.Network, &w.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}
