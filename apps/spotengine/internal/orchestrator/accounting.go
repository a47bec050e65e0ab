package orchestrator

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/units"
)

// legs returns the token paid and the token received by the checkpointed swap.
func legs(order *model.Order, cp *model.Checkpoint) (pay, receive model.Token, payAmount *big.Int) {
	if cp.ProcessType == model.TypeSell {
		return order.Asset.OrderToken, order.Asset.OutputToken, order.TokenAmount
	}
	return order.Asset.CollateralToken, order.Asset.OrderToken, order.OrderSize
}

// settlementToken is the token the trade fee is paid in.
func settlementToken(order *model.Order, cp *model.Checkpoint) model.Token {
	if cp.ProcessType == model.TypeSell {
		return order.Asset.OutputToken
	}
	return order.Asset.CollateralToken
}

// samplePrices fills every checkpoint price that is still missing from the cache and
// the snapshot.
func (o *Orchestrator) samplePrices(c *chains.Chain, order *model.Order, cp *model.Checkpoint, snap model.TokenSnapshot) {
	if !units.IsPositive(cp.NativePriceUSD) {
		cp.NativePriceUSD = o.price(c.ID, c.WrappedNative.Address)
	}
	if !units.IsPositive(cp.TokenPriceUSD) {
		cp.TokenPriceUSD = tokenPrice(snap)
	}

	settlement := settlementToken(order, cp)
	price := cp.SettlementPrice()
	if units.IsPositive(price) {
		return
	}
	if isNativeToken(settlement) {
		price = units.Clone(cp.NativePriceUSD)
	} else {
		price = o.price(c.ID, settlement.Address)
	}
	if cp.ProcessType == model.TypeSell {
		cp.OutputPriceUSD = price
	} else {
		cp.CollateralPriceUSD = price
	}
}

// tradeActivity values the checkpointed swap at the checkpoint prices.
func tradeActivity(oc *model.OrderContext, c *chains.Chain, cp *model.Checkpoint) *model.Activity {
	order := oc.Order
	pay, receive, payAmount := legs(order, cp)

	payPrice, receivePrice := cp.CollateralPriceUSD, cp.TokenPriceUSD
	activityType := model.ActivityBuyTrade
	index := receive.Address
	if cp.ProcessType == model.TypeSell {
		payPrice, receivePrice = cp.TokenPriceUSD, cp.OutputPriceUSD
		activityType = model.ActivitySellTrade
		index = pay.Address
	}

	return &model.Activity{
		WalletID:   oc.Wallet.ID,
		UserID:     order.UserID,
		OrderID:    order.ID,
		Type:       activityType,
		Status:     model.ActivitySuccess,
		ChainID:    order.ChainID,
		TxHash:     cp.Tx.Signature,
		IndexToken: index,
		PayToken: &model.TokenAmount{
			Token:       pay,
			Amount:      units.Clone(payAmount),
			AmountInUSD: units.ConvertToUSD(payAmount, pay.Decimals, payPrice),
		},
		ReceiveToken: &model.TokenAmount{
			Token:       receive,
			Amount:      units.Clone(cp.Tx.AmountOut),
			AmountInUSD: units.ConvertToUSD(cp.Tx.AmountOut, receive.Decimals, receivePrice),
		},
		TxFee: model.TxFee{
			Amount:   units.Clone(cp.Tx.Fee),
			FeeInUSD: units.ConvertToUSD(cp.Tx.Fee, c.NativeDecimals, cp.NativePriceUSD),
		},
	}
}

// collectFee withdraws the outstanding trade fee and persists it on the checkpoint.
func (o *Orchestrator) collectFee(ctx context.Context, oc *model.OrderContext, signer chain.Signer, adapter chain.Adapter, cp *model.Checkpoint) error {
	state, err := o.Withdraw(ctx, WithdrawRequest{
		Order:       oc,
		Signer:      signer,
		Adapter:     adapter,
		Token:       settlementToken(oc.Order, cp),
		Amount:      cp.TradeFee.Amount,
		NativePrice: cp.NativePriceUSD,
		TokenPrice:  cp.SettlementPrice(),
	})
	if err != nil {
		return err
	}
	cp.TradeFee = state
	return o.checkpoint(ctx, oc.Order.ID, cp)
}

// recordTrade stores the trade activity once and persists its id.
func (o *Orchestrator) recordTrade(ctx context.Context, oc *model.OrderContext, c *chains.Chain, cp *model.Checkpoint) error {
	if cp.ActivityID != "" {
		return nil
	}
	id, err := o.activities.Create(ctx, tradeActivity(oc, c, cp))
	if err != nil {
		return fmt.Errorf("failed to record trade activity: %w", err)
	}
	cp.ActivityID = id
	return o.checkpoint(ctx, oc.Order.ID, cp)
}

// revalue backfills USD values recorded while prices were missing. Backfill failures are
// logged; the valuations are informational.
func (o *Orchestrator) revalue(ctx context.Context, oc *model.OrderContext, c *chains.Chain, cp *model.Checkpoint) {
	fee := &cp.TradeFee
	if units.IsPositive(fee.Amount) && (!units.IsPositive(fee.FeeInUSD) || !units.IsPositive(fee.ValueInUSD)) {
		fee.FeeInUSD = units.ConvertToUSD(fee.TxFee, c.NativeDecimals, cp.NativePriceUSD)
		fee.ValueInUSD = units.ConvertToUSD(fee.Amount, settlementToken(oc.Order, cp).Decimals, cp.SettlementPrice())
		if fee.ActivityID != "" {
			err := o.activities.BackfillUSD(ctx, fee.ActivityID, model.ActivityValuation{
				PayInUSD: fee.ValueInUSD,
				FeeInUSD: fee.FeeInUSD,
			})
			if err != nil {
				o.logger.Warn("Failed to backfill trade fee activity", zap.String("activity_id", fee.ActivityID), zap.Error(err))
			}
		}
	}

	if cp.OracleCalculation || cp.ActivityID == "" {
		return
	}
	a := tradeActivity(oc, c, cp)
	err := o.activities.BackfillUSD(ctx, cp.ActivityID, model.ActivityValuation{
		PayInUSD:     a.PayToken.AmountInUSD,
		ReceiveInUSD: a.ReceiveToken.AmountInUSD,
		FeeInUSD:     a.TxFee.FeeInUSD,
	})
	if err != nil {
		o.logger.Warn("Failed to backfill trade activity", zap.String("activity_id", cp.ActivityID), zap.Error(err))
	}
}

// settle posts the final accounting from a complete checkpoint.
func (o *Orchestrator) settle(ctx context.Context, path string, order *model.Order, c *chains.Chain, cp *model.Checkpoint) error {
	txFee := new(big.Int).Add(units.Clone(cp.Tx.Fee), units.Clone(cp.TradeFee.TxFee))
	feeUSD := units.ConvertToUSD(txFee, c.NativeDecimals, cp.NativePriceUSD)

	if cp.ProcessType == model.TypeSell {
		net := new(big.Int).Sub(units.Clone(cp.Tx.AmountOut), units.Clone(cp.TradeFee.Amount))
		receiveUSD := units.ConvertToUSD(net, order.Asset.OutputToken.Decimals, cp.OutputPriceUSD)
		return o.settleSell(ctx, path, order, feeUSD, receiveUSD, cp.TokenPriceUSD)
	}

	spent := new(big.Int).Add(units.Clone(order.OrderSize), units.Clone(cp.TradeFee.Amount))
	payUSD := units.ConvertToUSD(spent, order.Asset.CollateralToken.Decimals, cp.CollateralPriceUSD)
	return o.settleBuy(ctx, path, order, feeUSD, payUSD, cp.Tx.AmountOut, cp.TokenPriceUSD)
}

// account runs everything after a successful swap: prices, the trade activity, fee
// collection and settlement. Any step that cannot complete parks the order.
func (o *Orchestrator) account(ctx context.Context, path string, oc *model.OrderContext, c *chains.Chain, signer chain.Signer, adapter chain.Adapter, cp *model.Checkpoint, snap model.TokenSnapshot) error {
	order := oc.Order
	o.samplePrices(c, order, cp, snap)
	if !units.IsPositive(cp.Tx.AmountOut) || !units.IsPositive(cp.Tx.Fee) {
		return o.park(ctx, path, order.ID, model.MsgTxProcessingFailed, cp)
	}

	if err := o.recordTrade(ctx, oc, c, cp); err != nil {
		return err
	}

	if cp.FeeOutstanding() {
		if err := o.collectFee(ctx, oc, signer, adapter, cp); err != nil {
			o.logger.Warn("Failed to collect trade fee", zap.String("order_id", order.ID), zap.Error(err))
			return o.park(ctx, path, order.ID, model.MsgTradeFeeFailed, cp)
		}
	} else if !units.IsPositive(cp.TradeFee.Amount) {
		cp.TradeFee = model.TradeFeeState{Executed: true, Amount: new(big.Int)}
	}

	if !cp.PricesComplete() {
		return o.park(ctx, path, order.ID, model.MsgPriceNotFetched, cp)
	}
	cp.OracleCalculation = true
	return o.settle(ctx, path, order, c, cp)
}
