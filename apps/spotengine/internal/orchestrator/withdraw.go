package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/oracle"
	"spotengine/apps/spotengine/internal/units"
)

var errNoCollector = errors.New("no fee collector configured")

type WithdrawRequest struct {
	Order   *model.OrderContext
	Signer  chain.Signer
	Adapter chain.Adapter
	Token   model.Token
	Amount  *big.Int
	// Receiver defaults to the fee collector of the chain family.
	Receiver string
	// Type defaults to ActivityTradeFee.
	Type        model.ActivityType
	NativePrice *big.Int
	TokenPrice  *big.Int
}

// Withdraw transfers Amount of Token out of the order's wallet and records the activity.
// USD values use the supplied prices and fall back to the oracle. Once the transfer
// succeeds the returned state is executed even when the activity could not be stored,
// so the transfer is never repeated.
func (o *Orchestrator) Withdraw(ctx context.Context, req WithdrawRequest) (model.TradeFeeState, error) {
	order := req.Order.Order
	c, ok := o.chains.Get(order.ChainID)
	if !ok {
		return model.TradeFeeState{}, fmt.Errorf("failed to withdraw: unsupported chain %d", order.ChainID)
	}
	receiver := req.Receiver
	if receiver == "" {
		receiver = o.feeCollector(c)
	}
	if receiver == "" {
		return model.TradeFeeState{}, errNoCollector
	}
	activityType := req.Type
	if activityType == "" {
		activityType = model.ActivityTradeFee
	}

	transfer, err := req.Adapter.Transfer(ctx, chain.TransferRequest{
		ChainID:  order.ChainID,
		Token:    req.Token.Address,
		Receiver: receiver,
		Amount:   req.Amount,
		Signer:   req.Signer,
	})
	if err != nil {
		return model.TradeFeeState{}, fmt.Errorf("failed to transfer %s: %w", activityType, err)
	}
	if transfer.Signature == "" {
		return model.TradeFeeState{}, fmt.Errorf("failed to transfer %s: no signature returned", activityType)
	}
	o.guards.MarkStale(req.Order.Wallet.Address)

	nativePrice, tokenPrice := units.Clone(req.NativePrice), units.Clone(req.TokenPrice)
	if nativePrice.Sign() == 0 || tokenPrice.Sign() == 0 {
		nativePrice, tokenPrice = o.fallbackPrices(ctx, c.ID, c.WrappedNative.Address, req.Token, nativePrice, tokenPrice)
	}

	state := model.TradeFeeState{
		Executed:   true,
		Amount:     units.Clone(req.Amount),
		Signature:  transfer.Signature,
		TxFee:      units.Clone(transfer.Fee),
		FeeInUSD:   units.ConvertToUSD(transfer.Fee, c.NativeDecimals, nativePrice),
		ValueInUSD: units.ConvertToUSD(req.Amount, req.Token.Decimals, tokenPrice),
	}

	id, err := o.activities.Create(ctx, &model.Activity{
		WalletID:   req.Order.Wallet.ID,
		UserID:     order.UserID,
		OrderID:    order.ID,
		Type:       activityType,
		Status:     model.ActivitySuccess,
		ChainID:    order.ChainID,
		TxHash:     transfer.Signature,
		IndexToken: req.Token.Address,
		Receiver:   receiver,
		PayToken:   &model.TokenAmount{Token: req.Token, Amount: units.Clone(req.Amount), AmountInUSD: units.Clone(state.ValueInUSD)},
		TxFee:      model.TxFee{Amount: units.Clone(transfer.Fee), FeeInUSD: units.Clone(state.FeeInUSD)},
	})
	if err != nil {
		o.logger.Error("Failed to record withdrawal activity",
			zap.String("order_id", order.ID),
			zap.String("signature", transfer.Signature),
			zap.Error(err))
		return state, nil
	}
	state.ActivityID = id

	o.logger.Info("Withdrew funds",
		zap.String("order_id", order.ID),
		zap.String("type", string(activityType)),
		zap.String("receiver", receiver),
		zap.String("amount", req.Amount.String()),
		zap.String("signature", transfer.Signature))
	return state, nil
}

// fallbackPrices asks the oracle for whichever of the two prices is missing. Failures
// leave them at zero for the resume path to fill.
func (o *Orchestrator) fallbackPrices(ctx context.Context, chainID uint64, wrappedNative string, token model.Token, native, tokenPrice *big.Int) (*big.Int, *big.Int) {
	if o.oracle == nil {
		return native, tokenPrice
	}
	queries := []oracle.PriceQuery{{Address: wrappedNative, NetworkID: chainID}}
	if !isNativeToken(token) {
		queries = append(queries, oracle.PriceQuery{Address: token.Address, NetworkID: chainID})
	}
	prices, err := o.oracle.TokenPrices(ctx, queries)
	if err != nil {
		o.logger.Warn("Failed to fetch fallback prices", zap.Uint64("chain_id", chainID), zap.Error(err))
		return native, tokenPrice
	}
	for _, p := range prices {
		switch {
		case strings.EqualFold(p.Address, wrappedNative) && native.Sign() == 0:
			native = p.Scaled()
		case strings.EqualFold(p.Address, token.Address) && tokenPrice.Sign() == 0:
			tokenPrice = p.Scaled()
		}
	}
	if isNativeToken(token) && tokenPrice.Sign() == 0 {
		tokenPrice = units.Clone(native)
	}
	return native, tokenPrice
}
