// Package oracle reads token prices, market snapshots and OHLCV bars from a Codex-style
// GraphQL market data API.
package oracle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"spotengine/apps/spotengine/internal/errclass"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/units"
)

const DefaultEndpoint = "https://graph.defined.fi/graphql"

const (
	DefaultCandleLimit = 500
	// candleLookback is the widest window requested for bars.
	candleLookback = 365 * 24 * time.Hour
	// earliestCreatedAt is used when a token's creation time is unknown.
	earliestCreatedAt = 1700000000
)

// DefaultResolutions are the bar resolutions fetched for technical orders.
var DefaultResolutions = []string{"1", "60"}

const tokenPricesQuery = `query GetTokenPrices($inputs: [GetPriceInput]) {
  getTokenPrices(inputs: $inputs) {
    address
    networkId
    priceUsd
    timestamp
  }
}`

const filterTokensQuery = `query FilterTokens($tokens: [String], $rankings: [TokenRanking], $limit: Int) {
  filterTokens(tokens: $tokens, rankings: $rankings, limit: $limit) {
    results {
      createdAt
      holders
      liquidity
      priceUSD
      quoteToken
      volume24
      pair {
        address
      }
      token {
        address
        decimals
        id
        name
        networkId
        symbol
      }
    }
  }
}`

type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
	logger     *zap.Logger
}

func NewClient(endpoint, apiKey string, httpClient *http.Client, limiter *rate.Limiter, logger *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    limiter,
		now:        time.Now,
		logger:     logger,
	}
}

type PriceQuery struct {
	Address   string `json:"address"`
	NetworkID uint64 `json:"networkId"`
}

type TokenPrice struct {
	Address   string          `json:"address"`
	NetworkID uint64          `json:"networkId"`
	PriceUSD  decimal.Decimal `json:"priceUsd"`
	Timestamp int64           `json:"timestamp"`
}

// Scaled returns the price as a fixed-point integer with units.PrecisionDecimals.
func (p TokenPrice) Scaled() *big.Int {
	return scale(p.PriceUSD)
}

// TokenPrices returns the USD prices of the given tokens. Unknown tokens are omitted by
// the API rather than reported as errors.
func (c *Client) TokenPrices(ctx context.Context, tokens []PriceQuery) ([]TokenPrice, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var resp struct {
		GetTokenPrices []*TokenPrice `json:"getTokenPrices"`
	}
	if err := c.query(ctx, tokenPricesQuery, map[string]any{"inputs": tokens}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch token prices: %w", err)
	}
	prices := make([]TokenPrice, 0, len(resp.GetTokenPrices))
	for _, p := range resp.GetTokenPrices {
		if p != nil {
			prices = append(prices, *p)
		}
	}
	return prices, nil
}

// FilteredToken is one filterTokens result.
type FilteredToken struct {
	CreatedAt  int64           `json:"createdAt"`
	Holders    int64           `json:"holders"`
	Liquidity  decimal.Decimal `json:"liquidity"`
	PriceUSD   decimal.Decimal `json:"priceUSD"`
	QuoteToken string          `json:"quoteToken"`
	Volume24   decimal.Decimal `json:"volume24"`
	Pair       struct {
		Address string `json:"address"`
	} `json:"pair"`
	Token struct {
		Address   string `json:"address"`
		Decimals  int    `json:"decimals"`
		ID        string `json:"id"`
		Name      string `json:"name"`
		NetworkID uint64 `json:"networkId"`
		Symbol    string `json:"symbol"`
	} `json:"token"`
}

// Snapshot converts the result into the market view used by the condition evaluator.
func (t FilteredToken) Snapshot() model.TokenSnapshot {
	return model.TokenSnapshot{
		Address:     t.Token.Address,
		ChainID:     t.Token.NetworkID,
		PairAddress: t.Pair.Address,
		QuoteToken:  t.QuoteToken,
		PriceUSD:    t.PriceUSD.String(),
		Liquidity:   t.Liquidity.String(),
		Volume24:    t.Volume24.String(),
		Holders:     t.Holders,
		CreatedAt:   t.CreatedAt,
	}
}

// TokenKey formats the "address:networkId" identifier filterTokens expects.
func TokenKey(address string, chainID uint64) string {
	return fmt.Sprintf("%s:%d", address, chainID)
}

// FilterTokens fetches market snapshots for tokenKeys, ranked by liquidity.
func (c *Client) FilterTokens(ctx context.Context, tokenKeys []string) ([]FilteredToken, error) {
	if len(tokenKeys) == 0 {
		return nil, nil
	}
	vars := map[string]any{
		"tokens":   tokenKeys,
		"limit":    len(tokenKeys),
		"rankings": []map[string]string{{"attribute": "liquidity", "direction": "DESC"}},
	}
	var resp struct {
		FilterTokens struct {
			Results []FilteredToken `json:"results"`
		} `json:"filterTokens"`
	}
	if err := c.query(ctx, filterTokensQuery, vars, &resp); err != nil {
		return nil, fmt.Errorf("failed to filter tokens: %w", err)
	}
	return resp.FilterTokens.Results, nil
}

type CandleQuery struct {
	PairAddress string
	ChainID     uint64
	QuoteToken  string
	Resolutions []string
	CreatedAt   int64
	Limit       int
}

type bars struct {
	T      []int64   `json:"t"`
	O      []float64 `json:"o"`
	H      []float64 `json:"h"`
	L      []float64 `json:"l"`
	C      []float64 `json:"c"`
	Volume []float64 `json:"volume"`
}

// MultiTimeframeCandles fetches bars for every resolution in one request by aliasing one
// getBars field per resolution. A resolution without data maps to an empty slice.
func (c *Client) MultiTimeframeCandles(ctx context.Context, q CandleQuery) (model.CandleSet, error) {
	if q.PairAddress == "" || q.ChainID == 0 || q.QuoteToken == "" {
		return nil, fmt.Errorf("pair address, chain id and quote token are required")
	}
	if len(q.Resolutions) == 0 {
		q.Resolutions = DefaultResolutions
	}
	if q.Limit <= 0 {
		q.Limit = DefaultCandleLimit
	}
	if q.CreatedAt <= 0 {
		q.CreatedAt = earliestCreatedAt
	}

	to := c.now().Unix()
	from := to - int64(candleLookback/time.Second)
	if from < q.CreatedAt {
		from = q.CreatedAt
	}

	vars := map[string]any{
		"symbol":                  fmt.Sprintf("%s:%d", q.PairAddress, q.ChainID),
		"to":                      to,
		"from":                    from,
		"countback":               q.Limit,
		"currencyCode":            "USD",
		"quoteToken":              q.QuoteToken,
		"statsType":               "FILTERED",
		"removeLeadingNullValues": true,
		"removeEmptyBars":         true,
	}
	defs := []string{
		"$symbol: String!", "$to: Int!", "$from: Int!", "$countback: Int", "$currencyCode: String",
		"$quoteToken: QuoteToken", "$statsType: TokenPairStatisticsType",
		"$removeLeadingNullValues: Boolean", "$removeEmptyBars: Boolean",
	}
	var body strings.Builder
	for i, res := range q.Resolutions {
		name := fmt.Sprintf("resolution_%d", i)
		defs = append(defs, fmt.Sprintf("$%s: String!", name))
		vars[name] = res
		fmt.Fprintf(&body, `
  res_%d: getBars(symbol: $symbol, countback: $countback, from: $from, to: $to, resolution: $%s,
    currencyCode: $currencyCode, quoteToken: $quoteToken, statsType: $statsType,
    removeLeadingNullValues: $removeLeadingNullValues, removeEmptyBars: $removeEmptyBars) {
    o h l c t volume
  }`, i, name)
	}
	gql := fmt.Sprintf("query GetMultiTimeframeBars(%s) {%s\n}", strings.Join(defs, ", "), body.String())

	var resp map[string]*bars
	if err := c.query(ctx, gql, vars, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", q.PairAddress, err)
	}

	set := make(model.CandleSet, len(q.Resolutions))
	for i, res := range q.Resolutions {
		set[res] = resp[fmt.Sprintf("res_%d", i)].candles()
	}
	return set, nil
}

func (b *bars) candles() []model.Candle {
	if b == nil {
		return []model.Candle{}
	}
	out := make([]model.Candle, 0, len(b.T))
	for i, ts := range b.T {
		out = append(out, model.Candle{
			Timestamp: ts,
			Open:      at(b.O, i),
			High:      at(b.H, i),
			Low:       at(b.L, i),
			Close:     at(b.C, i),
			Volume:    at(b.Volume, i),
		})
	}
	return out
}

func at(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (c *Client) query(ctx context.Context, query string, vars map[string]any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query oracle: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read oracle response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errclass.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode oracle response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return &errclass.Error{
			Source:  errclass.SourceHTTP,
			Kind:    errclass.KindPriceUnavailable,
			Message: envelope.Errors[0].Message,
		}
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return &errclass.Error{Source: errclass.SourceHTTP, Kind: errclass.KindPriceUnavailable, Message: "empty data"}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode oracle data: %w", err)
	}
	return nil
}

// scale converts a USD decimal to a fixed-point integer, rounding half up.
func scale(d decimal.Decimal) *big.Int {
	return d.Shift(units.PrecisionDecimals).Round(0).BigInt()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
