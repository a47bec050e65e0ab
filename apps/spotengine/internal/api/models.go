package api

import (
	"math/big"
	"time"

	"spotengine/apps/spotengine/internal/model"
)

// OrderResponse is the operator view of an order. Amounts are base-unit integers and
// USD values are scaled by units.PrecisionDecimals, both as decimal strings.
type OrderResponse struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	WalletID    string `json:"wallet_id"`
	Name        string `json:"name"`
	Strategy    string `json:"strategy"`
	ChainID     uint64 `json:"chain_id"`
	Status      string `json:"status"`
	OrderType   string `json:"order_type"`
	Message     string `json:"message"`
	IsBusy      bool   `json:"is_busy"`
	IsActive    bool   `json:"is_active"`
	Retry       int    `json:"retry"`
	OrderToken  string `json:"order_token"`
	OrderSize   string `json:"order_size"`
	TokenAmount string `json:"token_amount"`
	EntryPrice  string `json:"entry_price"`
	ExitPrice   string `json:"exit_price"`
	RealizedPnl string `json:"realized_pnl"`
	PayInUSD    string `json:"pay_in_usd"`
	FeeInUSD    string `json:"fee_in_usd"`
	TakeProfit  string `json:"take_profit_price"`
	StopLoss    string `json:"stop_loss_price"`
	// Phase is set while the order is parked with a checkpoint.
	Phase     string    `json:"phase,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newOrderResponse(o *model.Order) OrderResponse {
	resp := OrderResponse{
		OrderID:     o.ID,
		UserID:      o.UserID,
		WalletID:    o.WalletID,
		Name:        o.Name,
		Strategy:    o.Strategy,
		ChainID:     o.ChainID,
		Status:      string(o.Status),
		OrderType:   string(o.Type),
		Message:     o.Message,
		IsBusy:      o.IsBusy,
		IsActive:    o.IsActive,
		Retry:       o.Retry,
		OrderToken:  o.Asset.OrderToken.Address,
		OrderSize:   amount(o.OrderSize),
		TokenAmount: amount(o.TokenAmount),
		EntryPrice:  amount(o.EntryPrice),
		ExitPrice:   amount(o.ExitPrice),
		RealizedPnl: amount(o.RealizedPnl),
		PayInUSD:    amount(o.ExecutionFee.PayInUSD),
		FeeInUSD:    amount(o.ExecutionFee.FeeInUSD),
		TakeProfit:  amount(o.Exit.TakeProfit.Price),
		StopLoss:    amount(o.Exit.StopLoss.Price),
		UpdatedAt:   o.UpdatedAt,
	}
	if o.Checkpoint != nil {
		resp.Phase = o.Checkpoint.Phase().String()
	}
	return resp
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ExecuteResponse acknowledges a manual trigger. The execution runs in the background.
type ExecuteResponse struct {
	OrderID string `json:"order_id"`
	Action  string `json:"action"`
	Status  string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
