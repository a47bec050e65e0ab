package walletguard

import (
	"math/big"
	"slices"
	"sync"

	"spotengine/apps/spotengine/internal/chains"
)

// Spend is one (chain, token, amount) reservation request.
type Spend struct {
	ChainID uint64
	Token   string
	Amount  *big.Int
}

// Reservation holds spends until Release. Release is safe to call more than once and from
// a defer that runs even when the reservation was never used.
type Reservation struct {
	wallet *Wallet
	spends []Spend
	once   sync.Once
}

// Reserve adds every spend or none of them. Spends on the same key are merged first so
// their sum is checked against the balance.
func (w *Wallet) Reserve(spends ...Spend) (*Reservation, error) {
	merged := mergeSpends(spends)

	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range merged {
		if err := w.reserveLocked(s.ChainID, s.Token, s.Amount); err != nil {
			for _, done := range merged[:i] {
				w.releaseLocked(done.ChainID, done.Token, done.Amount)
			}
			return nil, err
		}
	}
	for _, chainID := range chainsOf(merged) {
		w.metrics.ReservationDelta(chainID, 1)
	}
	return &Reservation{wallet: w, spends: merged}, nil
}

// Release returns every reserved amount to the wallet.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		w := r.wallet
		w.mu.Lock()
		defer w.mu.Unlock()
		for _, s := range r.spends {
			w.releaseLocked(s.ChainID, s.Token, s.Amount)
		}
		for _, chainID := range chainsOf(r.spends) {
			w.metrics.ReservationDelta(chainID, -1)
		}
	})
}

// chainsOf lists each chain touched by spends once. The reservation gauge counts
// reservations per chain, not spends.
func chainsOf(spends []Spend) []uint64 {
	var out []uint64
	for _, s := range spends {
		if !slices.Contains(out, s.ChainID) {
			out = append(out, s.ChainID)
		}
	}
	return out
}

func mergeSpends(spends []Spend) []Spend {
	index := map[string]int{}
	var merged []Spend
	for _, s := range spends {
		if s.Amount == nil || s.Amount.Sign() == 0 {
			continue
		}
		key := chains.Key(s.ChainID, s.Token)
		if i, ok := index[key]; ok {
			merged[i].Amount = new(big.Int).Add(merged[i].Amount, s.Amount)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, Spend{ChainID: s.ChainID, Token: s.Token, Amount: new(big.Int).Set(s.Amount)})
	}
	return merged
}
