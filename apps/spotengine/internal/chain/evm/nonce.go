package evm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource reads the pending nonce of an account.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type nonceEntry struct {
	next     uint64
	lastUsed time.Time
}

// NonceTracker hands out consecutive nonces per address without a round trip per send.
// An entry is seeded from the pending nonce on first use and dropped by Reset after a
// nonce error. The cache is bounded: idle entries expire and the oldest tenth is evicted
// when full.
type NonceTracker struct {
	mu       sync.Mutex
	entries  map[common.Address]*nonceEntry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

func NewNonceTracker(capacity int, ttl time.Duration) *NonceTracker {
	return &NonceTracker{
		entries:  make(map[common.Address]*nonceEntry),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Next returns the nonce to use for the next transaction from addr.
func (t *NonceTracker) Next(ctx context.Context, src NonceSource, addr common.Address) (uint64, error) {
	t.mu.Lock()
	if e, ok := t.entries[addr]; ok && t.now().Sub(e.lastUsed) < t.ttl {
		n := e.next
		e.next++
		e.lastUsed = t.now()
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	pending, err := src.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok || t.now().Sub(e.lastUsed) >= t.ttl {
		t.evictLocked()
		e = &nonceEntry{next: pending}
		t.entries[addr] = e
	}
	n := e.next
	e.next++
	e.lastUsed = t.now()
	return n, nil
}

// Reset forgets addr so the next call re-reads the chain.
func (t *NonceTracker) Reset(addr common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, addr)
}

func (t *NonceTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *NonceTracker) evictLocked() {
	now := t.now()
	for addr, e := range t.entries {
		if now.Sub(e.lastUsed) >= t.ttl {
			delete(t.entries, addr)
		}
	}
	if len(t.entries) < t.capacity {
		return
	}

	type aged struct {
		addr     common.Address
		lastUsed time.Time
	}
	all := make([]aged, 0, len(t.entries))
	for addr, e := range t.entries {
		all = append(all, aged{addr, e.lastUsed})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastUsed.Before(all[j].lastUsed) })

	drop := len(all) / 10
	if drop == 0 {
		drop = 1
	}
	for _, a := range all[:drop] {
		delete(t.entries, a.addr)
	}
}
