package route

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/errclass"
)

type stubQuote struct {
	amount int64
	err    error
	delay  time.Duration
}

type stubQuoter struct {
	quotes map[string]stubQuote
	calls  atomic.Int32
}

func (s *stubQuoter) Quote(ctx context.Context, aggregator string, req Request) (*Route, error) {
	s.calls.Add(1)
	q, ok := s.quotes[aggregator]
	if !ok {
		return nil, nil
	}
	if q.delay > 0 {
		select {
		case <-time.After(q.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if q.err != nil {
		return nil, q.err
	}
	return &Route{AmountOut: big.NewInt(q.amount), EVM: &EVMTx{To: "0xrouter"}}, nil
}

func newTestAggregator(q Quoter, timeout time.Duration) *Aggregator {
	return NewAggregator(q, chains.NewRegistry(), timeout, nil, zap.NewNop())
}

func evmRequest() Request {
	return Request{TokenIn: "0xin", TokenOut: "0xout", AmountIn: big.NewInt(1000), SlippageBps: 500, ChainID: chains.Avalanche, UserAddress: "0xuser"}
}

func TestBestRoutesPicksHighestOutput(t *testing.T) {
	q := &stubQuoter{quotes: map[string]stubQuote{
		"okx":      {amount: 100},
		"joe":      {amount: 250},
		"flytrade": {amount: 80},
		"odos":     {err: errors.New("odos exploded")},
	}}

	routes, err := newTestAggregator(q, time.Second).BestRoutes(context.Background(), evmRequest())
	require.NoError(t, err)
	require.Len(t, routes, 3)
	assert.Equal(t, int64(250), routes[0].AmountOut.Int64())
	assert.Equal(t, "joe", routes[0].Aggregator)
	assert.Equal(t, int64(100), routes[1].AmountOut.Int64())
	assert.Equal(t, int64(80), routes[2].AmountOut.Int64())
	assert.Equal(t, int32(len(EVMAggregators)), q.calls.Load())
}

func TestBestRoutesSkipsZeroOutput(t *testing.T) {
	q := &stubQuoter{quotes: map[string]stubQuote{
		"okx": {amount: 0},
		"joe": {amount: 5},
	}}

	routes, err := newTestAggregator(q, time.Second).BestRoutes(context.Background(), evmRequest())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "joe", routes[0].Aggregator)
}

func TestBestRoutesAllFailPropagatesLastRetryable(t *testing.T) {
	q := &stubQuoter{quotes: map[string]stubQuote{
		"okx": {err: &errclass.StatusError{StatusCode: 503}},
	}}

	_, err := newTestAggregator(q, time.Second).BestRoutes(context.Background(), evmRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotesFailed)

	var classified *errclass.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, errclass.KindRouteUnavailable, classified.Kind)
	assert.True(t, classified.Retryable)

	q = &stubQuoter{quotes: map[string]stubQuote{
		"okx": {err: &errclass.StatusError{StatusCode: 400}},
	}}
	_, err = newTestAggregator(q, time.Second).BestRoutes(context.Background(), evmRequest())
	require.ErrorAs(t, err, &classified)
	assert.False(t, classified.Retryable)
}

func TestBestRoutesTimeoutKeepsCompleted(t *testing.T) {
	q := &stubQuoter{quotes: map[string]stubQuote{
		"okx": {amount: 10},
		"joe": {amount: 999, delay: time.Second},
	}}

	started := time.Now()
	routes, err := newTestAggregator(q, 50*time.Millisecond).BestRoutes(context.Background(), evmRequest())
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 900*time.Millisecond)
	require.Len(t, routes, 1)
	assert.Equal(t, "okx", routes[0].Aggregator)
}

func TestBestRoutesSolanaUsesSolanaAggregators(t *testing.T) {
	q := &stubQuoter{quotes: map[string]stubQuote{}}
	req := evmRequest()
	req.ChainID = chains.Solana

	_, err := newTestAggregator(q, time.Second).BestRoutes(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(len(SolanaAggregators)), q.calls.Load())
}

func TestBestRoutesRecoversQuoterPanic(t *testing.T) {
	q := &panicQuoter{}
	_, err := newTestAggregator(q, time.Second).BestRoutes(context.Background(), evmRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotesFailed)
}

type panicQuoter struct{}

func (panicQuoter) Quote(context.Context, string, Request) (*Route, error) {
	panic("boom")
}
