package model

import (
	"math/big"
	"time"
)

type ActivityType string

const (
	ActivityBuyTrade  ActivityType = "BUY TRADE"
	ActivitySellTrade ActivityType = "SELL TRADE"
	ActivityTradeFee  ActivityType = "TRADE_FEE"
	ActivityTransfer  ActivityType = "TRANSFER"
)

const ActivitySuccess = "Success"

type TokenAmount struct {
	Token
	Amount      *big.Int `json:"amount"`
	AmountInUSD *big.Int `json:"amount_in_usd"`
}

type TxFee struct {
	Amount   *big.Int `json:"fee_amount"`
	FeeInUSD *big.Int `json:"fee_in_usd"`
}

// Activity records one settled on-chain effect. Only the USD valuations are ever updated.
type Activity struct {
	ID           string       `db:"id"`
	WalletID     string       `db:"wallet_id"`
	UserID       string       `db:"user_id"`
	OrderID      string       `db:"order_id"`
	Type         ActivityType `db:"type"`
	Status       string       `db:"status"`
	ChainID      uint64       `db:"chain_id"`
	TxHash       string       `db:"tx_hash"`
	IndexToken   string       `db:"index_token"`
	Receiver     string       `db:"receiver"`
	PayToken     *TokenAmount `db:"pay_token"`
	ReceiveToken *TokenAmount `db:"receive_token"`
	TxFee        TxFee        `db:"tx_fee"`
	CreatedAt    time.Time    `db:"created_at"`
}

// ActivityValuation carries backfilled USD values. Nil fields are left untouched.
type ActivityValuation struct {
	PayInUSD     *big.Int
	ReceiveInUSD *big.Int
	FeeInUSD     *big.Int
}

func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	out := *a
	out.PayToken = a.PayToken.clone()
	out.ReceiveToken = a.ReceiveToken.clone()
	out.TxFee = TxFee{Amount: cloneInt(a.TxFee.Amount), FeeInUSD: cloneInt(a.TxFee.FeeInUSD)}
	return &out
}

// Apply writes the non-nil valuations onto a.
func (v ActivityValuation) Apply(a *Activity) {
	if v.PayInUSD != nil && a.PayToken != nil {
		a.PayToken.AmountInUSD = cloneInt(v.PayInUSD)
	}
	if v.ReceiveInUSD != nil && a.ReceiveToken != nil {
		a.ReceiveToken.AmountInUSD = cloneInt(v.ReceiveInUSD)
	}
	if v.FeeInUSD != nil {
		a.TxFee.FeeInUSD = cloneInt(v.FeeInUSD)
	}
}

func (t *TokenAmount) clone() *TokenAmount {
	if t == nil {
		return nil
	}
	out := *t
	out.Amount = cloneInt(t.Amount)
	out.AmountInUSD = cloneInt(t.AmountInUSD)
	return &out
}
