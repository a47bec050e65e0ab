package listener

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/condition"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/oracle"
	"spotengine/apps/spotengine/internal/repository/memory"
	"spotengine/apps/spotengine/internal/units"
)

const (
	avalanche = 43114
	tokenAddr = "0xToKen"
)

type call struct {
	path string
	id   string
	snap model.TokenSnapshot
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []call
	expired []string
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeExecutor) record(path, id string, snap model.TokenSnapshot) {
	f.mu.Lock()
	f.calls = append(f.calls, call{path: path, id: id, snap: snap})
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
}

func (f *fakeExecutor) Open(ctx context.Context, id string, snap model.TokenSnapshot) error {
	f.record("open", id, snap)
	return nil
}

func (f *fakeExecutor) Close(ctx context.Context, id string, snap model.TokenSnapshot) error {
	f.record("close", id, snap)
	return nil
}

func (f *fakeExecutor) Process(ctx context.Context, id string, snap model.TokenSnapshot) error {
	f.record("process", id, snap)
	return errors.New("parked")
}

func (f *fakeExecutor) Expire(ctx context.Context, o *model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, o.ID)
	return nil
}

func (f *fakeExecutor) paths() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.calls))
	for _, c := range f.calls {
		out[c.id] = c.path
	}
	return out
}

type fakeMarket struct {
	mu          sync.Mutex
	tokens      []oracle.FilteredToken
	filterErr   error
	candles     model.CandleSet
	candleErr   error
	filterCalls int
	candleCalls int
}

func (f *fakeMarket) FilterTokens(ctx context.Context, keys []string) ([]oracle.FilteredToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls++
	return f.tokens, f.filterErr
}

func (f *fakeMarket) MultiTimeframeCandles(ctx context.Context, q oracle.CandleQuery) (model.CandleSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candleCalls++
	return f.candles, f.candleErr
}

// alwaysMet meets every condition and records what it evaluated.
type alwaysMet struct {
	mu        sync.Mutex
	evaluated []string
}

func (c *alwaysMet) Entry(o *model.Order, snap model.TokenSnapshot, candles model.CandleSet) condition.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluated = append(c.evaluated, o.ID)
	return condition.Decision{Met: true, Kind: condition.KindTechnical, Reason: condition.ReasonTechnicalMet}
}

func (c *alwaysMet) Exit(o *model.Order, snap model.TokenSnapshot, candles model.CandleSet) condition.Decision {
	return c.Entry(o, snap, candles)
}

func filtered(address string, chainID uint64, price string) oracle.FilteredToken {
	var t oracle.FilteredToken
	t.Token.Address = address
	t.Token.NetworkID = chainID
	t.Token.ID = oracle.TokenKey(address, chainID)
	t.Pair.Address = "0xpair"
	t.QuoteToken = "token1"
	t.PriceUSD = decimal.RequireFromString(price)
	t.Liquidity = decimal.RequireFromString("100000")
	return t
}

func usd(s string) *big.Int {
	v, err := units.ParseUnits(s, units.PrecisionDecimals)
	if err != nil {
		panic(err)
	}
	return v
}

func newOrder(id string, typ model.OrderType, status model.OrderStatus) *model.Order {
	return &model.Order{
		ID:       id,
		ChainID:  avalanche,
		Type:     typ,
		Status:   status,
		IsActive: true,
		Asset: model.OrderAsset{
			OrderToken: model.Token{Address: tokenAddr, Decimals: 18},
		},
	}
}

func seed(t *testing.T, store *memory.Store, orders ...*model.Order) {
	t.Helper()
	for _, o := range orders {
		require.NoError(t, store.Orders().Create(context.Background(), o))
	}
}

func TestTickDispatchesByStatusAndCondition(t *testing.T) {
	store := memory.New()

	buyMet := newOrder("buy-met", model.TypeBuy, model.StatusPending)
	buyMet.Entry.PriceThreshold = usd("2")
	buyNotMet := newOrder("buy-not-met", model.TypeBuy, model.StatusPending)
	buyNotMet.Entry.PriceThreshold = usd("1")
	sellMet := newOrder("sell-met", model.TypeSell, model.StatusOpened)
	sellMet.Exit.TakeProfit.Price = usd("1.2")
	processing := newOrder("processing", model.TypeBuy, model.StatusProcessing)
	processing.Checkpoint = &model.Checkpoint{ProcessType: model.TypeBuy}
	exhausted := newOrder("exhausted", model.TypeBuy, model.StatusPending)
	exhausted.Retry = model.MaxRetry
	seed(t, store, buyMet, buyNotMet, sellMet, processing, exhausted)

	market := &fakeMarket{tokens: []oracle.FilteredToken{filtered(tokenAddr, avalanche, "1.5")}}
	exec := &fakeExecutor{}
	l := NewListener(store.Orders(), market, condition.NewEvaluator(condition.Standard{}, zap.NewNop()), exec, Config{Concurrency: 2}, nil, zap.NewNop())

	l.Tick(context.Background())

	assert.Equal(t, map[string]string{
		"buy-met":    "open",
		"sell-met":   "close",
		"processing": "process",
	}, exec.paths())
	assert.Equal(t, []string{"exhausted"}, exec.expired)
	assert.Equal(t, 1, market.filterCalls)
	assert.Zero(t, market.candleCalls, "price orders need no candles")

	for _, c := range exec.calls {
		assert.Equal(t, "1.5", c.snap.PriceUSD)
		assert.Equal(t, "0xpair", c.snap.PairAddress)
	}
}

func TestTickSkipsTechnicalOrdersWithoutCandles(t *testing.T) {
	store := memory.New()

	technical := newOrder("technical", model.TypeBuy, model.StatusPending)
	technical.Entry.IsTechnical = true
	processing := newOrder("processing", model.TypeSell, model.StatusProcessing)
	processing.Exit.IsTechnicalExit = true
	processing.Checkpoint = &model.Checkpoint{ProcessType: model.TypeSell}
	seed(t, store, technical, processing)

	market := &fakeMarket{
		tokens:  []oracle.FilteredToken{filtered(tokenAddr, avalanche, "1")},
		candles: model.CandleSet{"1": {{Close: 1}}},
	}
	exec := &fakeExecutor{}
	conds := &alwaysMet{}
	l := NewListener(store.Orders(), market, conds, exec, Config{}, nil, zap.NewNop())

	l.Tick(context.Background())

	assert.Equal(t, 1, market.candleCalls)
	assert.Empty(t, conds.evaluated)
	assert.Equal(t, map[string]string{"processing": "process"}, exec.paths())

	market.candles["60"] = []model.Candle{{Close: 1}}
	l.Tick(context.Background())
	assert.Equal(t, []string{"technical"}, conds.evaluated)
	assert.Equal(t, "open", exec.paths()["technical"])
}

func TestTickWithoutMarketData(t *testing.T) {
	tests := []struct {
		name   string
		market *fakeMarket
	}{
		{name: "oracle error", market: &fakeMarket{filterErr: errors.New("boom")}},
		{name: "token missing", market: &fakeMarket{tokens: []oracle.FilteredToken{filtered("0xother", avalanche, "1")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			seed(t, store, newOrder("o1", model.TypeBuy, model.StatusPending))
			exec := &fakeExecutor{}
			l := NewListener(store.Orders(), tt.market, &alwaysMet{}, exec, Config{}, nil, zap.NewNop())

			l.Tick(context.Background())

			assert.Empty(t, exec.paths())
		})
	}
}

func TestTickMatchesTokenKeyCaseInsensitively(t *testing.T) {
	store := memory.New()
	seed(t, store, newOrder("o1", model.TypeBuy, model.StatusPending))
	market := &fakeMarket{tokens: []oracle.FilteredToken{filtered("0xtoken", avalanche, "1")}}
	exec := &fakeExecutor{}
	l := NewListener(store.Orders(), market, &alwaysMet{}, exec, Config{}, nil, zap.NewNop())

	l.Tick(context.Background())

	assert.Equal(t, "open", exec.paths()["o1"])
}

func TestTickDoesNotOverlap(t *testing.T) {
	store := memory.New()
	seed(t, store, newOrder("o1", model.TypeBuy, model.StatusPending))
	market := &fakeMarket{tokens: []oracle.FilteredToken{filtered(tokenAddr, avalanche, "1")}}
	exec := &fakeExecutor{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	l := NewListener(store.Orders(), market, &alwaysMet{}, exec, Config{}, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		l.Tick(context.Background())
		close(done)
	}()

	select {
	case <-exec.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick never dispatched")
	}

	l.Tick(context.Background())
	close(exec.block)
	<-done

	assert.Equal(t, 1, market.filterCalls)
	assert.Len(t, exec.calls, 1)
}

func TestGroupOrdersLargestFirst(t *testing.T) {
	a1 := newOrder("a1", model.TypeBuy, model.StatusPending)
	b1 := newOrder("b1", model.TypeBuy, model.StatusPending)
	b1.Asset.OrderToken.Address = "0xB"
	b2 := newOrder("b2", model.TypeSell, model.StatusOpened)
	b2.Asset.OrderToken.Address = "0xb"
	noChain := newOrder("c1", model.TypeBuy, model.StatusPending)
	noChain.ChainID = 0

	groups := groupOrders([]*model.Order{a1, b1, b2, noChain})

	require.Len(t, groups, 2)
	assert.Equal(t, "0xb:43114", groups[0].key)
	assert.Len(t, groups[0].orders, 2)
	assert.Equal(t, "0xtoken:43114", groups[1].key)
}

func TestStartRunsFirstTickAndStops(t *testing.T) {
	store := memory.New()
	seed(t, store, newOrder("o1", model.TypeBuy, model.StatusPending))
	market := &fakeMarket{tokens: []oracle.FilteredToken{filtered(tokenAddr, avalanche, "1")}}
	exec := &fakeExecutor{}
	l := NewListener(store.Orders(), market, &alwaysMet{}, exec, Config{Interval: time.Hour}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Start(ctx))

	assert.Equal(t, "open", exec.paths()["o1"])
}
