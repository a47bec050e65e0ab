package model

// TokenSnapshot is the market view of a token at the time a tick evaluates its orders.
type TokenSnapshot struct {
	Address     string `json:"address"`
	ChainID     uint64 `json:"chain_id"`
	PairAddress string `json:"pair_address"`
	QuoteToken  string `json:"quote_token"`
	PriceUSD    string `json:"price_usd"`
	Liquidity   string `json:"liquidity"`
	Volume24    string `json:"volume_24"`
	Holders     int64  `json:"holders"`
	CreatedAt   int64  `json:"created_at"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

// CandleSet maps a resolution ("1", "60") to its bars, oldest first.
type CandleSet map[string][]Candle
