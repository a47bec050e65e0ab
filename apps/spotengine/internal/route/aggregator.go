package route

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/errclass"
	"spotengine/apps/spotengine/internal/metrics"
)

var (
	// ErrNoRoute means no aggregator reported a failure yet none returned a usable route.
	ErrNoRoute = errors.New("no route found")
	// ErrQuotesFailed means at least one aggregator failed and none returned a usable route.
	ErrQuotesFailed = errors.New("route quotes failed")
)

// Aggregator races every configured quoter for a chain family and ranks the results.
type Aggregator struct {
	quoter  Quoter
	chains  *chains.Registry
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewAggregator(quoter Quoter, registry *chains.Registry, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	return &Aggregator{quoter: quoter, chains: registry, timeout: timeout, metrics: m, logger: logger}
}

type quoteFailure struct {
	aggregator string
	err        *errclass.Error
}

// BestRoutes returns every valid route, best amountOut first. Routes with equal output keep
// the order in which they arrived. Quotes still outstanding when the timeout fires are dropped.
// When nothing valid arrives the error carries the retryability of the last failure seen.
func (a *Aggregator) BestRoutes(ctx context.Context, req Request) ([]Route, error) {
	chain, ok := a.chains.Get(req.ChainID)
	if !ok {
		return nil, errclass.New(errclass.SourceHTTP, errclass.KindValidation, false, fmt.Sprintf("unsupported chain %d", req.ChainID))
	}
	aggregators := EVMAggregators
	if chain.Family == chains.FamilySolana {
		aggregators = SolanaAggregators
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		routes   []Route
		failures []quoteFailure
		wg       conc.WaitGroup
	)

	for _, name := range aggregators {
		wg.Go(func() {
			started := time.Now()
			var (
				quoted *Route
				err    error
			)
			var pc panics.Catcher
			pc.Try(func() { quoted, err = a.quoter.Quote(ctx, name, req) })
			if r := pc.Recovered(); r != nil {
				err = r.AsError()
			}
			a.metrics.ObserveQuote(name, string(chain.Family), time.Since(started), err)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures = append(failures, quoteFailure{aggregator: name, err: errclass.Classify(err, errclass.SourceHTTP)})
				a.logger.Warn("Aggregator quote failed",
					zap.String("aggregator", name),
					zap.Uint64("chain_id", req.ChainID),
					zap.Error(err))
			case quoted.Valid():
				quoted.Aggregator = name
				routes = append(routes, *quoted)
			}
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	timedOut := false
	select {
	case <-done:
	case <-ctx.Done():
		timedOut = true
	}

	mu.Lock()
	found := append([]Route(nil), routes...)
	seen := append([]quoteFailure(nil), failures...)
	mu.Unlock()

	if len(found) == 0 {
		return nil, noRouteError(seen, timedOut)
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].AmountOut.Cmp(found[j].AmountOut) > 0
	})
	return found, nil
}

func noRouteError(failures []quoteFailure, timedOut bool) error {
	if len(failures) > 0 {
		last := failures[len(failures)-1]
		return &errclass.Error{
			Source:    errclass.SourceHTTP,
			Kind:      errclass.KindRouteUnavailable,
			Retryable: last.err.Retryable,
			Message:   fmt.Sprintf("%s: %s", last.aggregator, last.err.Message),
			Err:       ErrQuotesFailed,
		}
	}
	return &errclass.Error{
		Source:    errclass.SourceHTTP,
		Kind:      errclass.KindRouteUnavailable,
		Retryable: timedOut,
		Message:   "all aggregators failed to return a route",
		Err:       ErrNoRoute,
	}
}
