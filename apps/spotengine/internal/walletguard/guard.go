// Package walletguard keeps an in-process reservation ledger per wallet so concurrent
// orders cannot spend the same on-chain balance twice.
package walletguard

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/errclass"
	"spotengine/apps/spotengine/internal/metrics"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrStaleBalance means no balance could be read since the wallet was last marked stale.
	ErrStaleBalance = errors.New("balance unavailable")
)

// BalanceReader reads on-chain balances. *chain.Registry implements it.
type BalanceReader interface {
	Balance(ctx context.Context, chainID uint64, owner, token string) (*big.Int, error)
}

type cachedBalance struct {
	amount *big.Int
	state  uint64
}

// Wallet is the ledger of one address.
type Wallet struct {
	mu       sync.Mutex
	address  string
	pending  map[string]*big.Int
	balances map[string]cachedBalance
	// state is bumped whenever on-chain balances are known to have moved; cached balances
	// read before the bump are not trusted when a refresh fails.
	state    uint64
	lastUsed time.Time

	reader  BalanceReader
	policy  errclass.Policy
	metrics *metrics.Metrics
	now     func() time.Time
}

func (w *Wallet) Address() string {
	return w.address
}

func (w *Wallet) touch() {
	w.lastUsed = w.now()
}

// RefreshBalance re-reads the balance of token with bounded retry. When every attempt
// fails, the cached value is returned if it is still current; otherwise ErrStaleBalance.
func (w *Wallet) RefreshBalance(ctx context.Context, chainID uint64, token string) (*big.Int, error) {
	key := chains.Key(chainID, token)
	source := errclass.SourceEVM
	if chainID == chains.Solana {
		source = errclass.SourceSolana
	}
	balance, err := errclass.Retry(ctx, w.policy, source, func(ctx context.Context) (*big.Int, error) {
		return w.reader.Balance(ctx, chainID, w.address, token)
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	w.touch()
	if err == nil {
		w.balances[key] = cachedBalance{amount: new(big.Int).Set(balance), state: w.state}
		return balance, nil
	}
	if cached, ok := w.balances[key]; ok && cached.state == w.state {
		return new(big.Int).Set(cached.amount), nil
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrStaleBalance, key, err)
}

// CheckSufficientFunds refreshes the balance and verifies that balance minus pending
// spends covers amount.
func (w *Wallet) CheckSufficientFunds(ctx context.Context, chainID uint64, token string, amount *big.Int) error {
	balance, err := w.RefreshBalance(ctx, chainID, token)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.coversLocked(chains.Key(chainID, token), balance, amount)
}

func (w *Wallet) coversLocked(key string, balance, amount *big.Int) error {
	effective := new(big.Int).Sub(balance, w.pendingLocked(key))
	if effective.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s available %s, locked %s, needed %s",
			ErrInsufficientFunds, key, balance, w.pendingLocked(key), amount)
	}
	return nil
}

func (w *Wallet) pendingLocked(key string) *big.Int {
	if p, ok := w.pending[key]; ok {
		return p
	}
	return new(big.Int)
}

// AddPendingSpend reserves amount against the last read balance. It fails closed: without
// a current balance, or when the reservation would overdraw it, nothing is reserved.
func (w *Wallet) AddPendingSpend(chainID uint64, token string, amount *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reserveLocked(chainID, token, amount)
}

func (w *Wallet) reserveLocked(chainID uint64, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid reservation amount %v", amount)
	}
	key := chains.Key(chainID, token)
	cached, ok := w.balances[key]
	if !ok || cached.state != w.state {
		return fmt.Errorf("%w for %s", ErrStaleBalance, key)
	}
	if err := w.coversLocked(key, cached.amount, amount); err != nil {
		return err
	}
	w.pending[key] = new(big.Int).Add(w.pendingLocked(key), amount)
	w.touch()
	return nil
}

// RemovePendingSpend releases amount. The ledger floors at zero, so releasing more than
// was reserved is harmless.
func (w *Wallet) RemovePendingSpend(chainID uint64, token string, amount *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.releaseLocked(chainID, token, amount)
}

func (w *Wallet) releaseLocked(chainID uint64, token string, amount *big.Int) {
	key := chains.Key(chainID, token)
	current, ok := w.pending[key]
	w.touch()
	if !ok {
		return
	}
	next := new(big.Int).Sub(current, amount)
	if next.Sign() <= 0 {
		delete(w.pending, key)
	} else {
		w.pending[key] = next
	}
}

// Pending returns the amount currently reserved for token.
func (w *Wallet) Pending(chainID uint64, token string) *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return new(big.Int).Set(w.pendingLocked(chains.Key(chainID, token)))
}

// MarkStale records that on-chain balances moved outside this ledger.
func (w *Wallet) MarkStale() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state++
}

func (w *Wallet) idle(now time.Time, ttl time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) == 0 && now.Sub(w.lastUsed) > ttl
}

// Snapshot is a read-only view of a wallet ledger.
type Snapshot struct {
	Address  string            `json:"address"`
	Pending  map[string]string `json:"pending"`
	Balances map[string]string `json:"balances"`
	State    uint64            `json:"state"`
	LastUsed time.Time         `json:"last_used"`
}

func (w *Wallet) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Snapshot{
		Address:  w.address,
		Pending:  make(map[string]string, len(w.pending)),
		Balances: make(map[string]string, len(w.balances)),
		State:    w.state,
		LastUsed: w.lastUsed,
	}
	for k, v := range w.pending {
		s.Pending[k] = v.String()
	}
	for k, v := range w.balances {
		s.Balances[k] = v.amount.String()
	}
	return s
}

// Registry owns every wallet ledger of the process, keyed by lowercased address.
type Registry struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	ttl     time.Duration

	reader  BalanceReader
	policy  errclass.Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry creates a guard registry. Wallets idle for ttl with nothing reserved are evicted.
func NewRegistry(reader BalanceReader, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		wallets: make(map[string]*Wallet),
		ttl:     ttl,
		reader:  reader,
		policy:  errclass.DefaultPolicy,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Wallet returns the ledger of address, creating it on first use.
func (r *Registry) Wallet(address string) *Wallet {
	key := strings.ToLower(address)

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[key]; ok {
		w.mu.Lock()
		w.touch()
		w.mu.Unlock()
		return w
	}

	r.evictLocked()
	w := &Wallet{
		address:  address,
		pending:  make(map[string]*big.Int),
		balances: make(map[string]cachedBalance),
		lastUsed: r.now(),
		reader:   r.reader,
		policy:   r.policy,
		metrics:  r.metrics,
		now:      r.now,
	}
	r.wallets[key] = w
	r.metrics.SetTrackedWallets(len(r.wallets))
	return w
}

// Lookup returns the ledger of address without creating one.
func (r *Registry) Lookup(address string) (*Wallet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[strings.ToLower(address)]
	return w, ok
}

// MarkStale invalidates cached balances of address if this process tracks it.
func (r *Registry) MarkStale(address string) bool {
	w, ok := r.Lookup(address)
	if ok {
		w.MarkStale()
	}
	return ok
}

// Evict drops idle wallets with no reservations and returns how many were removed.
func (r *Registry) Evict() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictLocked()
}

func (r *Registry) evictLocked() int {
	now := r.now()
	removed := 0
	for key, w := range r.wallets {
		if w.idle(now, r.ttl) {
			delete(r.wallets, key)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("Evicted idle wallet ledgers", zap.Int("count", removed))
		r.metrics.SetTrackedWallets(len(r.wallets))
	}
	return removed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.wallets)
}
