package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/errclass"
)

type PriceSource interface {
	TokenPrices(ctx context.Context, tokens []PriceQuery) ([]TokenPrice, error)
}

// PriceCache keeps the USD prices of every chain's wrapped native and stable tokens.
// Prices are fixed-point integers scaled by units.PrecisionDecimals.
type PriceCache struct {
	source    PriceSource
	chains    *chains.Registry
	interval  time.Duration
	mu        sync.RWMutex
	prices    map[string]*big.Int
	updatedAt time.Time
	logger    *zap.Logger
}

func NewPriceCache(source PriceSource, registry *chains.Registry, interval time.Duration, logger *zap.Logger) *PriceCache {
	return &PriceCache{
		source:   source,
		chains:   registry,
		interval: interval,
		prices:   make(map[string]*big.Int),
		logger:   logger,
	}
}

// Start refreshes once and then every interval until ctx is done.
func (c *PriceCache) Start(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Error("Initial price refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("Error refreshing token prices", zap.Error(err))
			}
		}
	}
}

// Refresh fetches all priced tokens in one request. Tokens missing from the response
// keep their previous price.
func (c *PriceCache) Refresh(ctx context.Context) error {
	var queries []PriceQuery
	for _, id := range c.chains.IDs() {
		chain := c.chains.MustGet(id)
		for _, t := range chain.PricedTokens() {
			queries = append(queries, PriceQuery{Address: t.Address, NetworkID: id})
		}
	}

	prices, err := errclass.Retry(ctx, errclass.DefaultPolicy, errclass.SourceHTTP,
		func(ctx context.Context) ([]TokenPrice, error) {
			return c.source.TokenPrices(ctx, queries)
		})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	updated := 0
	for _, p := range prices {
		scaled := p.Scaled()
		if scaled.Sign() <= 0 {
			continue
		}
		c.prices[chains.Key(p.NetworkID, p.Address)] = scaled
		updated++
	}
	c.updatedAt = time.Now()

	c.logger.Info("Refreshed token prices", zap.Int("updated", updated), zap.Int("requested", len(queries)))
	return nil
}

// Price returns the cached price of address on chainID. The native sentinel resolves to
// the chain's wrapped native token.
func (c *PriceCache) Price(chainID uint64, address string) (*big.Int, bool) {
	if chains.IsNative(address) {
		chain, ok := c.chains.Get(chainID)
		if !ok {
			return nil, false
		}
		address = chain.WrappedNative.Address
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[chains.Key(chainID, address)]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(p), true
}

func (c *PriceCache) NativePrice(chainID uint64) (*big.Int, bool) {
	return c.Price(chainID, chains.NativeAddress)
}

// Set stores a price directly, used for prices learned outside the periodic refresh.
func (c *PriceCache) Set(chainID uint64, address string, price *big.Int) {
	if price == nil || price.Sign() <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[chains.Key(chainID, address)] = new(big.Int).Set(price)
}

func (c *PriceCache) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}
