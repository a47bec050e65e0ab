package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/metrics"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/oracle"
	"spotengine/apps/spotengine/internal/repository/memory"
	"spotengine/apps/spotengine/internal/walletguard"
)

type triggered struct {
	action string
	id     string
	snap   model.TokenSnapshot
}

type fakeExecutor struct {
	calls []triggered
}

func (f *fakeExecutor) Open(ctx context.Context, id string, snap model.TokenSnapshot) error {
	f.calls = append(f.calls, triggered{"open", id, snap})
	return nil
}

func (f *fakeExecutor) Close(ctx context.Context, id string, snap model.TokenSnapshot) error {
	f.calls = append(f.calls, triggered{"close", id, snap})
	return nil
}

func (f *fakeExecutor) Process(ctx context.Context, id string, snap model.TokenSnapshot) error {
	f.calls = append(f.calls, triggered{"process", id, snap})
	return errors.New("still parked")
}

type fakeFilter struct {
	tokens []oracle.FilteredToken
	err    error
}

func (f *fakeFilter) FilterTokens(ctx context.Context, keys []string) ([]oracle.FilteredToken, error) {
	return f.tokens, f.err
}

type zeroBalances struct{}

func (zeroBalances) Balance(ctx context.Context, chainID uint64, owner, token string) (*big.Int, error) {
	return big.NewInt(0), nil
}

type harness struct {
	store  *memory.Store
	exec   *fakeExecutor
	market *fakeFilter
	guards *walletguard.Registry
	router http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  memory.New(),
		exec:   &fakeExecutor{},
		market: &fakeFilter{},
		guards: walletguard.NewRegistry(zeroBalances{}, time.Hour, nil, zap.NewNop()),
	}
	orders := NewOrderHandler(context.Background(), h.store.Orders(), h.exec, h.market, zap.NewNop())
	orders.run = func(f func()) { f() }
	m := metrics.New(prometheus.NewRegistry())
	m.SkipTick()
	h.router = NewServer(0, orders, NewWalletHandler(h.guards, zap.NewNop()), m.Handler(), zap.NewNop()).Router()

	require.NoError(t, h.store.Orders().Create(context.Background(), &model.Order{
		ID:          "order-1",
		ChainID:     43114,
		Status:      model.StatusOpened,
		Type:        model.TypeSell,
		IsActive:    true,
		Asset:       model.OrderAsset{OrderToken: model.Token{Address: "0xToken", Decimals: 18}},
		TokenAmount: big.NewInt(5000),
		Checkpoint:  &model.Checkpoint{Tx: model.TxState{Signature: "0xswap"}},
	}))
	return h
}

func (h *harness) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestGetOrder(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/orders/order-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, "OPENED", resp.Status)
	assert.Equal(t, "5000", resp.TokenAmount)
	assert.Equal(t, "0", resp.OrderSize)
	assert.Equal(t, "awaiting_tx_info", resp.Phase)

	rec = h.do(http.MethodGet, "/api/orders/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "order_not_found")
}

func TestExecuteTriggers(t *testing.T) {
	var listed oracle.FilteredToken
	listed.Token.Address = "0xtoken"
	listed.Token.NetworkID = 43114
	listed.PriceUSD = decimal.RequireFromString("0.25")

	tests := []struct {
		name      string
		path      string
		market    fakeFilter
		wantCode  int
		wantCall  string
		wantPrice string
	}{
		{name: "open", path: "/api/orders/order-1/open", market: fakeFilter{tokens: []oracle.FilteredToken{listed}}, wantCode: http.StatusAccepted, wantCall: "open", wantPrice: "0.25"},
		{name: "close", path: "/api/orders/order-1/close", market: fakeFilter{tokens: []oracle.FilteredToken{listed}}, wantCode: http.StatusAccepted, wantCall: "close", wantPrice: "0.25"},
		{name: "process without listing", path: "/api/orders/order-1/process", wantCode: http.StatusAccepted, wantCall: "process"},
		{name: "unknown action", path: "/api/orders/order-1/cancel", wantCode: http.StatusNotFound},
		{name: "unknown order", path: "/api/orders/nope/open", wantCode: http.StatusNotFound},
		{name: "oracle down", path: "/api/orders/order-1/open", market: fakeFilter{err: errors.New("502")}, wantCode: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			*h.market = tt.market

			rec := h.do(http.MethodPost, tt.path)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCall == "" {
				assert.Empty(t, h.exec.calls)
				return
			}
			require.Len(t, h.exec.calls, 1)
			call := h.exec.calls[0]
			assert.Equal(t, tt.wantCall, call.action)
			assert.Equal(t, "order-1", call.id)
			assert.Equal(t, tt.wantPrice, call.snap.PriceUSD)
			assert.Equal(t, uint64(43114), call.snap.ChainID)

			var resp ExecuteResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "accepted", resp.Status)
		})
	}
}

func TestGetGuard(t *testing.T) {
	h := newHarness(t)
	h.guards.Wallet("0xWallet")

	rec := h.do(http.MethodGet, "/api/wallets/0xwallet/guard")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap walletguard.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "0xWallet", snap.Address)

	rec = h.do(http.MethodGet, "/api/wallets/0xunknown/guard")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "spotengine_listener_ticks_skipped_total"))
}
