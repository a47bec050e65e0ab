// Package memory keeps orders, activities, accounts and outbox events in process. Claims
// follow the same conditional rules as the Postgres repositories.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"spotengine/apps/spotengine/internal/events"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/repository"
)

type Store struct {
	mu         sync.Mutex
	orders     map[string]*model.Order
	activities map[string]*model.Activity
	users      map[string]*model.User
	wallets    map[string]*model.Wallet
	outbox     []*model.OutboxEvent
	now        func() time.Time
}

func New() *Store {
	return &Store{
		orders:     make(map[string]*model.Order),
		activities: make(map[string]*model.Activity),
		users:      make(map[string]*model.User),
		wallets:    make(map[string]*model.Wallet),
		now:        time.Now,
	}
}

func (s *Store) Orders() *Orders         { return &Orders{s} }
func (s *Store) Activities() *Activities { return &Activities{s} }
func (s *Store) Accounts() *Accounts     { return &Accounts{s} }
func (s *Store) Outbox() *Outbox         { return &Outbox{s} }

// Events returns a copy of every outbox row, oldest first.
func (s *Store) Events() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OutboxEvent, len(s.outbox))
	for i, e := range s.outbox {
		out[i] = *e
	}
	return out
}

func (s *Store) enqueueLocked(eventType, aggregateID, walletID string, payload any) error {
	data, err := events.Marshal(payload)
	if err != nil {
		return err
	}
	var address string
	if w, ok := s.wallets[walletID]; ok {
		address = w.Address
	}
	s.outbox = append(s.outbox, &model.OutboxEvent{
		ID:            uuid.New().String(),
		EventType:     eventType,
		Status:        model.OutboxPending,
		AggregateID:   aggregateID,
		WalletAddress: address,
		Payload:       data,
		CreatedAt:     s.now(),
	})
	return nil
}

type Orders struct{ s *Store }

var _ repository.OrderStore = (*Orders)(nil)

func (r *Orders) Create(ctx context.Context, o *model.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := r.s.now()
	o.CreatedAt, o.UpdatedAt = now, now
	r.s.orders[o.ID] = o.Clone()
	return nil
}

func (r *Orders) Get(ctx context.Context, id string) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *Orders) Claim(ctx context.Context, id string, from []model.OrderStatus) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok || !o.IsActive || o.IsBusy || o.Retry >= model.MaxRetry || !hasStatus(from, o.Status) {
		return nil, repository.ErrNotClaimed
	}
	o.Status = model.StatusProcessing
	o.IsBusy = true
	o.Message = repository.ClaimMessage(from)
	o.Retry++
	o.UpdatedAt = r.s.now()
	if err := r.s.enqueueLocked(events.TypeOrderState, o.ID, o.WalletID, events.NewOrderStateEvent(o)); err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

func (r *Orders) ClaimForResume(ctx context.Context, id string) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok || !o.IsActive || o.Retry >= model.MaxRetry || o.Status != model.StatusProcessing || o.Checkpoint == nil {
		return nil, repository.ErrNotClaimed
	}
	if o.IsBusy && !r.s.leaseLapsedLocked(o) {
		return nil, repository.ErrNotClaimed
	}
	o.IsBusy = true
	o.Message = model.MsgResumingOrder
	o.Retry++
	o.UpdatedAt = r.s.now()
	if err := r.s.enqueueLocked(events.TypeOrderState, o.ID, o.WalletID, events.NewOrderStateEvent(o)); err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

func (r *Orders) Update(ctx context.Context, id string, u model.OrderUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Apply(o)
	o.UpdatedAt = r.s.now()
	if u.Status != nil {
		return r.s.enqueueLocked(events.TypeOrderState, o.ID, o.WalletID, events.NewOrderStateEvent(o))
	}
	return nil
}

func (r *Orders) FindAccumulationSiblings(ctx context.Context, o *model.Order) ([]*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Order
	for _, c := range r.s.orders {
		if c.ID == o.ID || c.UserID != o.UserID || c.Name != o.Name || c.Strategy != o.Strategy || c.ChainID != o.ChainID {
			continue
		}
		if c.Status != model.StatusOpened || c.Type != model.TypeSell || !c.IsActive || c.IsBusy {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Orders) ListActive(ctx context.Context) ([]*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Order
	for _, o := range r.s.orders {
		if !o.IsActive || !hasStatus(repository.ListenableStatuses, o.Status) {
			continue
		}
		if !o.IsBusy || (o.Status == model.StatusProcessing && o.Checkpoint != nil && r.s.leaseLapsedLocked(o)) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) leaseLapsedLocked(o *model.Order) bool {
	return s.now().Sub(o.UpdatedAt) > repository.BusyLease
}

func hasStatus(set []model.OrderStatus, s model.OrderStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

type Activities struct{ s *Store }

var _ repository.ActivityStore = (*Activities)(nil)

func (r *Activities) Create(ctx context.Context, a *model.Activity) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = r.s.now()
	r.s.activities[a.ID] = a.Clone()
	if err := r.s.enqueueLocked(events.TypeActivity, a.ID, a.WalletID, events.NewActivityEvent(a)); err != nil {
		return "", err
	}
	return a.ID, nil
}

func (r *Activities) Get(ctx context.Context, id string) (*model.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.activities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a.Clone(), nil
}

// ByOrder returns the activities recorded for an order, oldest first.
func (r *Activities) ByOrder(orderID string) []*model.Activity {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Activity
	for _, a := range r.s.activities {
		if a.OrderID == orderID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Activities) BackfillUSD(ctx context.Context, id string, v model.ActivityValuation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.activities[id]
	if !ok {
		return repository.ErrNotFound
	}
	v.Apply(a)
	return nil
}

type Accounts struct{ s *Store }

var _ repository.AccountStore = (*Accounts)(nil)

func (r *Accounts) CreateUser(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

func (r *Accounts) CreateWallet(ctx context.Context, w *model.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.wallets {
		if strings.EqualFold(existing.Address, w.Address) && existing.Network == w.Network {
			w.ID = existing.ID
			return nil
		}
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	cp := *w
	r.s.wallets[w.ID] = &cp
	return nil
}

func (r *Accounts) User(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *Accounts) Wallet(ctx context.Context, id string) (*model.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

type Outbox struct{ s *Store }

var _ repository.OutboxStore = (*Outbox)(nil)

func (r *Outbox) ClaimPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.OutboxEvent
	for _, e := range r.s.outbox {
		if len(out) >= limit {
			break
		}
		if e.Status != model.OutboxPending {
			continue
		}
		e.Status = model.OutboxProcessing
		out = append(out, *e)
	}
	return out, nil
}

func (r *Outbox) MarkSent(ctx context.Context, id string) error {
	return r.setStatus(id, "", model.OutboxSent)
}

func (r *Outbox) MarkFailed(ctx context.Context, id string) error {
	return r.setStatus(id, model.OutboxProcessing, model.OutboxPending)
}

func (r *Outbox) setStatus(id, from, to string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.outbox {
		if e.ID == id && (from == "" || e.Status == from) {
			e.Status = to
		}
	}
	return nil
}
