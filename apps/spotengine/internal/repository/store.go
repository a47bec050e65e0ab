package repository

import (
	"context"
	"errors"
	"time"

	"spotengine/apps/spotengine/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrNotClaimed means the conditional claim matched no row: the order is busy, in
	// another state, or out of retry budget.
	ErrNotClaimed = errors.New("order not claimed")
)

// BusyLease is how long a claim holds is_busy without a write. Once it lapses, a
// PROCESSING order with a checkpoint is listed and claimable for resume again.
const BusyLease = 15 * time.Minute

// OrderStore persists orders. Claim and ClaimForResume are the only ways to set IsBusy.
type OrderStore interface {
	Create(ctx context.Context, o *model.Order) error
	Get(ctx context.Context, id string) (*model.Order, error)
	Claim(ctx context.Context, id string, from []model.OrderStatus) (*model.Order, error)
	ClaimForResume(ctx context.Context, id string) (*model.Order, error)
	Update(ctx context.Context, id string, u model.OrderUpdate) error
	FindAccumulationSiblings(ctx context.Context, o *model.Order) ([]*model.Order, error)
	ListActive(ctx context.Context) ([]*model.Order, error)
}

type ActivityStore interface {
	Create(ctx context.Context, a *model.Activity) (string, error)
	Get(ctx context.Context, id string) (*model.Activity, error)
	BackfillUSD(ctx context.Context, id string, v model.ActivityValuation) error
}

type AccountStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	CreateWallet(ctx context.Context, w *model.Wallet) error
	User(ctx context.Context, id string) (*model.User, error)
	Wallet(ctx context.Context, id string) (*model.Wallet, error)
}

type OutboxStore interface {
	ClaimPending(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// ClaimMessage is the message written by a claim, per entry status.
func ClaimMessage(from []model.OrderStatus) string {
	for _, s := range from {
		if s == model.StatusProcessing {
			return model.MsgResumingOrder
		}
	}
	return model.MsgProcessingOrder
}

func statusStrings(in []model.OrderStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
