package model

import (
	"math/big"
	"time"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusOpened     OrderStatus = "OPENED"
	StatusFailed     OrderStatus = "FAILED"
	StatusClosed     OrderStatus = "CLOSED"
	StatusStopped    OrderStatus = "STOPPED"
)

// IsTerminal reports whether the listener never picks the order up again on its own.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusStopped || s == StatusFailed
}

type OrderType string

const (
	TypeBuy  OrderType = "BUY"
	TypeSell OrderType = "SELL"
)

type Category string

const (
	CategorySpot      Category = "spot"
	CategoryPerpetual Category = "perpetual"
)

// Reason codes stored in Order.Message.
const (
	MsgProcessingOrder      = "PROCESSING_ORDER"
	MsgResumingOrder        = "RESUMING_ORDER"
	MsgInvalidOrder         = "INVALID_ORDER"
	MsgSignerFailed         = "SIGNER_FAILED"
	MsgWalletFailed         = "WALLET_FAILED"
	MsgInsufficientFund     = "INSUFFICIENT_FUND"
	MsgTxFailed             = "TX_FAILED"
	MsgTradeFeeFailed       = "TRADE_FEE_EXECUTED_FAILED"
	MsgTxProcessingFailed   = "TX_PROCESSING_FAILED"
	MsgPriceNotFetched      = "PRICE_NOT_FETCHED"
	MsgOrderOpened          = "ORDER_OPENED"
	MsgOrderClosed          = "ORDER_CLOSED"
	MsgOrderRestart         = "ORDER_RESTART"
	MsgOrderNotExecuted     = "ORDER_NOT_EXECUTED"
	MsgUnexpectedError      = "UNEXPECTED_ERROR"
	MsgRetryBudgetExhausted = "RETRY_LIMIT_REACHED"
)

// MaxRetry bounds how many times an order may be claimed before it must be reset.
const MaxRetry = 3

const (
	DefaultTakeProfitBps = 1000
	DefaultStopLossBps   = 3000
)

// AccumulationStrategies share one exit price across sibling fills.
var AccumulationStrategies = []string{"grid", "dca"}

func IsAccumulationStrategy(strategy string) bool {
	for _, s := range AccumulationStrategies {
		if s == strategy {
			return true
		}
	}
	return false
}

type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
	IsNative bool   `json:"is_native,omitempty"`
}

type OrderAsset struct {
	CollateralToken Token `json:"collateral_token"`
	OrderToken      Token `json:"order_token"`
	OutputToken     Token `json:"output_token"`
}

type Entry struct {
	IsTechnical bool `json:"is_technical"`
	// PriceThreshold is a USD price scaled by units.PrecisionDecimals.
	PriceThreshold *big.Int `json:"price_threshold,omitempty"`
	Logic          *Logic   `json:"logic,omitempty"`
}

type TakeProfit struct {
	Price         *big.Int `json:"price"`
	PercentageBps uint64   `json:"percentage_bps"`
	ProfitUSD     *big.Int `json:"profit_usd"`
}

type StopLoss struct {
	Price         *big.Int `json:"price"`
	PercentageBps uint64   `json:"percentage_bps"`
	SaveUSD       *big.Int `json:"save_usd"`
	IsActive      bool     `json:"is_active"`
}

type Exit struct {
	IsTechnicalExit bool       `json:"is_technical_exit"`
	Logic           *Logic     `json:"logic,omitempty"`
	TakeProfit      TakeProfit `json:"take_profit"`
	StopLoss        StopLoss   `json:"stop_loss"`
}

type ReEntrance struct {
	Enabled bool `json:"enabled"`
	Limit   int  `json:"limit"`
}

// ExecutionFee holds the USD cost basis of the open position.
type ExecutionFee struct {
	FeeInUSD *big.Int `json:"fee_in_usd"`
	PayInUSD *big.Int `json:"pay_in_usd"`
}

type Order struct {
	ID       string   `db:"id"`
	UserID   string   `db:"user_id"`
	WalletID string   `db:"wallet_id"`
	Name     string   `db:"name"`
	Category Category `db:"category"`
	Strategy string   `db:"strategy"`
	ChainID  uint64   `db:"chain_id"`
	Priority int      `db:"priority"`
	// SlippageBps is the tolerated slippage for every swap of this order.
	SlippageBps uint64 `db:"slippage_bps"`

	Asset       OrderAsset `db:"order_asset"`
	OrderSize   *big.Int   `db:"order_size"`
	TokenAmount *big.Int   `db:"token_amount"`
	Entry       Entry      `db:"entry"`
	Exit        Exit       `db:"exit"`
	ReEntrance  ReEntrance `db:"re_entrance"`

	Status   OrderStatus `db:"status"`
	Type     OrderType   `db:"order_type"`
	Message  string      `db:"message"`
	IsBusy   bool        `db:"is_busy"`
	IsActive bool        `db:"is_active"`
	Retry    int         `db:"retry"`

	ExecutionFee ExecutionFee `db:"execution_fee"`
	EntryPrice   *big.Int     `db:"entry_price"`
	ExitPrice    *big.Int     `db:"exit_price"`
	RealizedPnl  *big.Int     `db:"realized_pnl"`
	Checkpoint   *Checkpoint  `db:"checkpoint"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// OrderUpdate is a partial update. Nil fields are left untouched. ClearCheckpoint
// writes NULL to the checkpoint column.
type OrderUpdate struct {
	Status          *OrderStatus
	Type            *OrderType
	Message         *string
	IsBusy          *bool
	IsActive        *bool
	Retry           *int
	TokenAmount     *big.Int
	FeeInUSD        *big.Int
	PayInUSD        *big.Int
	EntryPrice      *big.Int
	ExitPrice       *big.Int
	RealizedPnl     *big.Int
	TakeProfitPrice *big.Int
	ProfitUSD       *big.Int
	StopLossPrice   *big.Int
	SaveUSD         *big.Int
	Checkpoint      *Checkpoint
	ClearCheckpoint bool
}

// Apply writes the non-nil fields of u onto o.
func (u OrderUpdate) Apply(o *Order) {
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.Type != nil {
		o.Type = *u.Type
	}
	if u.Message != nil {
		o.Message = *u.Message
	}
	if u.IsBusy != nil {
		o.IsBusy = *u.IsBusy
	}
	if u.IsActive != nil {
		o.IsActive = *u.IsActive
	}
	if u.Retry != nil {
		o.Retry = *u.Retry
	}
	if u.TokenAmount != nil {
		o.TokenAmount = new(big.Int).Set(u.TokenAmount)
	}
	if u.FeeInUSD != nil {
		o.ExecutionFee.FeeInUSD = new(big.Int).Set(u.FeeInUSD)
	}
	if u.PayInUSD != nil {
		o.ExecutionFee.PayInUSD = new(big.Int).Set(u.PayInUSD)
	}
	if u.EntryPrice != nil {
		o.EntryPrice = new(big.Int).Set(u.EntryPrice)
	}
	if u.ExitPrice != nil {
		o.ExitPrice = new(big.Int).Set(u.ExitPrice)
	}
	if u.RealizedPnl != nil {
		o.RealizedPnl = new(big.Int).Set(u.RealizedPnl)
	}
	if u.TakeProfitPrice != nil {
		o.Exit.TakeProfit.Price = new(big.Int).Set(u.TakeProfitPrice)
	}
	if u.ProfitUSD != nil {
		o.Exit.TakeProfit.ProfitUSD = new(big.Int).Set(u.ProfitUSD)
	}
	if u.StopLossPrice != nil {
		o.Exit.StopLoss.Price = new(big.Int).Set(u.StopLossPrice)
	}
	if u.SaveUSD != nil {
		o.Exit.StopLoss.SaveUSD = new(big.Int).Set(u.SaveUSD)
	}
	if u.ClearCheckpoint {
		o.Checkpoint = nil
	} else if u.Checkpoint != nil {
		o.Checkpoint = u.Checkpoint.Clone()
	}
}

// Ptr returns a pointer to v. Used to build OrderUpdate values.
func Ptr[T any](v T) *T {
	return &v
}

// Clone returns a deep copy of o. Logic trees are shared; nothing mutates them.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	out := *o
	out.OrderSize = cloneInt(o.OrderSize)
	out.TokenAmount = cloneInt(o.TokenAmount)
	out.Entry.PriceThreshold = cloneInt(o.Entry.PriceThreshold)
	out.Exit.TakeProfit.Price = cloneInt(o.Exit.TakeProfit.Price)
	out.Exit.TakeProfit.ProfitUSD = cloneInt(o.Exit.TakeProfit.ProfitUSD)
	out.Exit.StopLoss.Price = cloneInt(o.Exit.StopLoss.Price)
	out.Exit.StopLoss.SaveUSD = cloneInt(o.Exit.StopLoss.SaveUSD)
	out.ExecutionFee.FeeInUSD = cloneInt(o.ExecutionFee.FeeInUSD)
	out.ExecutionFee.PayInUSD = cloneInt(o.ExecutionFee.PayInUSD)
	out.EntryPrice = cloneInt(o.EntryPrice)
	out.ExitPrice = cloneInt(o.ExitPrice)
	out.RealizedPnl = cloneInt(o.RealizedPnl)
	out.Checkpoint = o.Checkpoint.Clone()
	return &out
}
