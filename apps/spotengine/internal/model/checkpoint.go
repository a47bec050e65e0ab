package model

import "math/big"

// Phase is the next step a resumed order has to complete.
type Phase int

const (
	// PhaseNotBroadcast means no swap signature was ever recorded.
	PhaseNotBroadcast Phase = iota
	PhaseAwaitingTxInfo
	PhaseAwaitingFeeCollection
	PhaseAwaitingPriceData
	PhaseReadyToFinalize
)

func (p Phase) String() string {
	switch p {
	case PhaseNotBroadcast:
		return "not_broadcast"
	case PhaseAwaitingTxInfo:
		return "awaiting_tx_info"
	case PhaseAwaitingFeeCollection:
		return "awaiting_fee_collection"
	case PhaseAwaitingPriceData:
		return "awaiting_price_data"
	case PhaseReadyToFinalize:
		return "ready_to_finalize"
	}
	return "unknown"
}

type TxState struct {
	Signature string   `json:"signature,omitempty"`
	AmountOut *big.Int `json:"amount_out,omitempty"`
	Fee       *big.Int `json:"fee,omitempty"`
}

// TradeFeeState tracks the protocol fee sub-transfer.
type TradeFeeState struct {
	Executed   bool     `json:"executed"`
	Amount     *big.Int `json:"amount,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	TxFee      *big.Int `json:"tx_fee,omitempty"`
	FeeInUSD   *big.Int `json:"fee_in_usd,omitempty"`
	ValueInUSD *big.Int `json:"value_in_usd,omitempty"`
	ActivityID string   `json:"activity_id,omitempty"`
}

// Checkpoint is the persisted progress of a swap whose accounting has not been posted yet.
type Checkpoint struct {
	ActivityID         string        `json:"activity_id,omitempty"`
	ProcessType        OrderType     `json:"process_type"`
	NativePriceUSD     *big.Int      `json:"native_price_usd,omitempty"`
	TokenPriceUSD      *big.Int      `json:"token_price_usd,omitempty"`
	CollateralPriceUSD *big.Int      `json:"collateral_price_usd,omitempty"`
	OutputPriceUSD     *big.Int      `json:"output_price_usd,omitempty"`
	OracleCalculation  bool          `json:"oracle_calculation"`
	TradeFee           TradeFeeState `json:"trade_fee"`
	Tx                 TxState       `json:"tx"`
}

// Phase derives the next outstanding step from what has been recorded.
func (c *Checkpoint) Phase() Phase {
	switch {
	case c == nil || c.Tx.Signature == "":
		return PhaseNotBroadcast
	case !positive(c.Tx.AmountOut) || !positive(c.Tx.Fee):
		return PhaseAwaitingTxInfo
	case c.FeeOutstanding():
		return PhaseAwaitingFeeCollection
	case !c.PricesComplete():
		return PhaseAwaitingPriceData
	}
	return PhaseReadyToFinalize
}

// FeeOutstanding reports whether a non-zero trade fee still has to be transferred.
func (c *Checkpoint) FeeOutstanding() bool {
	return positive(c.TradeFee.Amount) && (!c.TradeFee.Executed || c.TradeFee.Signature == "")
}

// SettlementPrice is the price of the token the trade fee is paid in.
func (c *Checkpoint) SettlementPrice() *big.Int {
	if c.ProcessType == TypeSell {
		return c.OutputPriceUSD
	}
	return c.CollateralPriceUSD
}

func (c *Checkpoint) PricesComplete() bool {
	return positive(c.NativePriceUSD) && positive(c.TokenPriceUSD) && positive(c.SettlementPrice())
}

func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.NativePriceUSD = cloneInt(c.NativePriceUSD)
	out.TokenPriceUSD = cloneInt(c.TokenPriceUSD)
	out.CollateralPriceUSD = cloneInt(c.CollateralPriceUSD)
	out.OutputPriceUSD = cloneInt(c.OutputPriceUSD)
	out.TradeFee.Amount = cloneInt(c.TradeFee.Amount)
	out.TradeFee.TxFee = cloneInt(c.TradeFee.TxFee)
	out.TradeFee.FeeInUSD = cloneInt(c.TradeFee.FeeInUSD)
	out.TradeFee.ValueInUSD = cloneInt(c.TradeFee.ValueInUSD)
	out.Tx.AmountOut = cloneInt(c.Tx.AmountOut)
	out.Tx.Fee = cloneInt(c.Tx.Fee)
	return &out
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
