// Package listener polls active orders and hands the ones whose condition holds to the
// orchestrator.
package listener

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/condition"
	"spotengine/apps/spotengine/internal/metrics"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/oracle"
	"spotengine/apps/spotengine/internal/repository"
)

// Executor runs one order. *orchestrator.Orchestrator implements it.
type Executor interface {
	Open(ctx context.Context, orderID string, snap model.TokenSnapshot) error
	Close(ctx context.Context, orderID string, snap model.TokenSnapshot) error
	Process(ctx context.Context, orderID string, snap model.TokenSnapshot) error
	Expire(ctx context.Context, order *model.Order) error
}

// MarketData is the part of the oracle client a tick needs.
type MarketData interface {
	FilterTokens(ctx context.Context, tokenKeys []string) ([]oracle.FilteredToken, error)
	MultiTimeframeCandles(ctx context.Context, q oracle.CandleQuery) (model.CandleSet, error)
}

type Conditions interface {
	Entry(o *model.Order, snap model.TokenSnapshot, candles model.CandleSet) condition.Decision
	Exit(o *model.Order, snap model.TokenSnapshot, candles model.CandleSet) condition.Decision
}

type Config struct {
	Interval    time.Duration
	Concurrency int
}

type Listener struct {
	orders     repository.OrderStore
	market     MarketData
	conditions Conditions
	executor   Executor
	cfg        Config
	metrics    *metrics.Metrics
	logger     *zap.Logger

	running atomic.Bool
}

func NewListener(orders repository.OrderStore, market MarketData, conditions Conditions, executor Executor, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Listener {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Listener{
		orders:     orders,
		market:     market,
		conditions: conditions,
		executor:   executor,
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
	}
}

// Start runs a tick immediately and then every interval until ctx is done. It returns
// once the tick in flight has finished.
func (l *Listener) Start(ctx context.Context) error {
	l.logger.Info("Starting order listener", zap.Duration("interval", l.cfg.Interval), zap.Int("concurrency", l.cfg.Concurrency))

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	var ticks conc.WaitGroup
	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Stopping order listener")
			ticks.Wait()
			return nil
		case <-ticker.C:
			ticks.Go(func() { l.Tick(ctx) })
		}
	}
}

// group is the set of active orders trading one token on one chain.
type group struct {
	key     string
	chainID uint64
	token   string
	orders  []*model.Order
	snap    model.TokenSnapshot
	pair    oracle.FilteredToken
	candles model.CandleSet
}

// Tick evaluates every active order once. A tick that starts while another is still
// running returns immediately.
func (l *Listener) Tick(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		l.metrics.SkipTick()
		l.logger.Debug("Previous tick still running, skipping")
		return
	}
	defer l.running.Store(false)

	start := time.Now()
	defer func() { l.metrics.ObserveTick(time.Since(start)) }()

	active, err := l.orders.ListActive(ctx)
	if err != nil {
		l.logger.Error("Failed to list active orders", zap.Error(err))
		return
	}

	live := make([]*model.Order, 0, len(active))
	for _, o := range active {
		if o.Retry < model.MaxRetry {
			live = append(live, o)
			continue
		}
		if err := l.executor.Expire(ctx, o); err != nil {
			l.logger.Error("Failed to expire order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	groups := groupOrders(live)
	if len(groups) == 0 {
		return
	}
	groups = l.attachSnapshots(ctx, groups)
	l.attachCandles(ctx, groups)

	// Claimed orders must reach a final write even when shutdown starts mid-execution.
	execCtx := context.WithoutCancel(ctx)
	p := pool.New().WithMaxGoroutines(l.cfg.Concurrency)
	dispatched := 0
	for _, g := range groups {
		for _, o := range g.orders {
			if needsCandles(o) && !hasCandles(g.candles) {
				l.logger.Debug("Skipping technical order without candles", zap.String("order_id", o.ID), zap.String("token", g.key))
				continue
			}
			dispatched++
			p.Go(func() {
				l.dispatch(execCtx, o, g.snap, g.candles)
			})
		}
	}
	p.Wait()

	l.logger.Debug("Tick finished",
		zap.Int("active_orders", len(active)),
		zap.Int("token_groups", len(groups)),
		zap.Int("dispatched", dispatched),
		zap.Duration("took", time.Since(start)))
}

// groupOrders buckets orders by (chain, token), largest group first.
func groupOrders(orders []*model.Order) []*group {
	byKey := make(map[string]*group)
	var out []*group
	for _, o := range orders {
		token := o.Asset.OrderToken.Address
		if token == "" || o.ChainID == 0 {
			continue
		}
		key := strings.ToLower(oracle.TokenKey(token, o.ChainID))
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key, chainID: o.ChainID, token: token}
			byKey[key] = g
			out = append(out, g)
		}
		g.orders = append(g.orders, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].orders) > len(out[j].orders) })
	return out
}

// attachSnapshots fetches one market snapshot per group and drops groups the oracle has
// no data for.
func (l *Listener) attachSnapshots(ctx context.Context, groups []*group) []*group {
	keys := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = oracle.TokenKey(g.token, g.chainID)
	}
	tokens, err := l.market.FilterTokens(ctx, keys)
	if err != nil {
		l.logger.Error("Failed to fetch market data", zap.Int("tokens", len(keys)), zap.Error(err))
		return nil
	}

	byKey := make(map[string]oracle.FilteredToken, len(tokens))
	for _, t := range tokens {
		key := strings.ToLower(t.Token.ID)
		if key == "" {
			key = strings.ToLower(oracle.TokenKey(t.Token.Address, t.Token.NetworkID))
		}
		byKey[key] = t
	}

	out := groups[:0]
	for _, g := range groups {
		t, ok := byKey[g.key]
		if !ok {
			l.logger.Warn("Token data not found", zap.String("token", g.key))
			continue
		}
		g.pair = t
		g.snap = t.Snapshot()
		out = append(out, g)
	}
	return out
}

// attachCandles fetches candles for the groups holding at least one technical order.
func (l *Listener) attachCandles(ctx context.Context, groups []*group) {
	p := pool.New().WithMaxGoroutines(l.cfg.Concurrency)
	for _, g := range groups {
		if !anyNeedsCandles(g.orders) {
			continue
		}
		p.Go(func() {
			candles, err := l.market.MultiTimeframeCandles(ctx, oracle.CandleQuery{
				PairAddress: g.pair.Pair.Address,
				ChainID:     g.pair.Token.NetworkID,
				QuoteToken:  g.pair.QuoteToken,
				Resolutions: oracle.DefaultResolutions,
				CreatedAt:   g.pair.CreatedAt,
				Limit:       oracle.DefaultCandleLimit,
			})
			if err != nil {
				l.logger.Warn("Failed to fetch candles", zap.String("token", g.key), zap.Error(err))
				return
			}
			g.candles = candles
		})
	}
	p.Wait()
}

// dispatch evaluates the order's condition and runs it when the condition holds.
// Orders parked in PROCESSING resume without evaluation.
func (l *Listener) dispatch(ctx context.Context, o *model.Order, snap model.TokenSnapshot, candles model.CandleSet) {
	var (
		path string
		err  error
	)
	switch {
	case o.Status == model.StatusProcessing:
		path = "process"
		err = l.executor.Process(ctx, o.ID, snap)

	case o.Type == model.TypeBuy && o.Status == model.StatusPending:
		d := l.conditions.Entry(o, snap, candles)
		if !d.Met {
			l.logger.Debug("Entry condition not met", zap.String("order_id", o.ID), zap.String("reason", d.Reason))
			return
		}
		l.logger.Info("Entry condition met", zap.String("order_id", o.ID), zap.String("reason", d.Reason))
		path = "open"
		err = l.executor.Open(ctx, o.ID, snap)

	case o.Type == model.TypeSell && (o.Status == model.StatusPending || o.Status == model.StatusOpened):
		d := l.conditions.Exit(o, snap, candles)
		if !d.Met {
			l.logger.Debug("Exit condition not met", zap.String("order_id", o.ID), zap.String("reason", d.Reason))
			return
		}
		l.logger.Info("Exit condition met", zap.String("order_id", o.ID), zap.String("reason", d.Reason))
		path = "close"
		err = l.executor.Close(ctx, o.ID, snap)

	default:
		return
	}
	if err != nil {
		l.logger.Error("Order execution returned error", zap.String("order_id", o.ID), zap.String("path", path), zap.Error(err))
	}
}

// needsCandles reports whether the condition evaluated for o this tick is technical.
func needsCandles(o *model.Order) bool {
	switch {
	case o.Status == model.StatusProcessing:
		return false
	case o.Type == model.TypeBuy:
		return o.Entry.IsTechnical
	default:
		return o.Exit.IsTechnicalExit
	}
}

func anyNeedsCandles(orders []*model.Order) bool {
	for _, o := range orders {
		if needsCandles(o) {
			return true
		}
	}
	return false
}

func hasCandles(set model.CandleSet) bool {
	for _, r := range oracle.DefaultResolutions {
		if len(set[r]) == 0 {
			return false
		}
	}
	return true
}
