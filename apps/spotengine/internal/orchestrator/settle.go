package orchestrator

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/units"
)

// settleBuy posts the final accounting of a filled buy. Technical exits open without a
// derived take profit or stop loss.
func (o *Orchestrator) settleBuy(ctx context.Context, path string, order *model.Order, feeUSD, payUSD, received, tokenPrice *big.Int) error {
	if order.Exit.IsTechnicalExit {
		return o.update(ctx, path, order.ID, model.OrderUpdate{
			Status:          model.Ptr(model.StatusOpened),
			Type:            model.Ptr(model.TypeSell),
			Message:         model.Ptr(model.MsgOrderOpened),
			TokenAmount:     received,
			FeeInUSD:        feeUSD,
			PayInUSD:        payUSD,
			Retry:           model.Ptr(0),
			IsBusy:          model.Ptr(false),
			IsActive:        model.Ptr(true),
			ClearCheckpoint: true,
		})
	}
	return o.openPosition(ctx, path, order, feeUSD, payUSD, received, tokenPrice)
}

// openPosition derives the entry, take profit and stop loss prices of a filled buy.
// Accumulation strategies merge the cost basis and holdings of their open siblings and
// write the shared exit prices back to them.
func (o *Orchestrator) openPosition(ctx context.Context, path string, order *model.Order, feeUSD, payUSD, received, tokenPrice *big.Int) error {
	scale := units.ExpandDecimals(1, order.Asset.OrderToken.Decimals)

	entry := new(big.Int)
	if received.Sign() > 0 {
		entry.Mul(payUSD, scale)
		entry.Quo(entry, received)
	}
	if entry.Sign() == 0 {
		entry = units.Clone(tokenPrice)
	}

	totalCost := new(big.Int).Add(feeUSD, payUSD)
	totalTokens := units.Clone(received)

	var siblings []*model.Order
	if model.IsAccumulationStrategy(order.Strategy) {
		var err error
		siblings, err = o.orders.FindAccumulationSiblings(ctx, order)
		if err != nil {
			return fmt.Errorf("failed to load accumulation siblings: %w", err)
		}
		for _, s := range siblings {
			totalCost.Add(totalCost, units.Clone(s.ExecutionFee.PayInUSD))
			totalCost.Add(totalCost, units.Clone(s.ExecutionFee.FeeInUSD))
			totalTokens.Add(totalTokens, units.Clone(s.TokenAmount))
		}
	}

	tpBps := order.Exit.TakeProfit.PercentageBps
	if tpBps == 0 {
		tpBps = model.DefaultTakeProfitBps
	}
	profitUSD := units.MulBps(totalCost, tpBps)
	tpPrice := pricePerToken(new(big.Int).Add(totalCost, profitUSD), scale, totalTokens)

	saveUSD, slPrice := new(big.Int), new(big.Int)
	if order.Exit.StopLoss.IsActive {
		slBps := order.Exit.StopLoss.PercentageBps
		if slBps == 0 {
			slBps = model.DefaultStopLossBps
		}
		slBps = min(slBps, units.BasisPointDivisor)
		saveUSD = units.MulBps(totalCost, units.BasisPointDivisor-slBps)
		slPrice = pricePerToken(saveUSD, scale, totalTokens)
	}

	err := o.update(ctx, path, order.ID, model.OrderUpdate{
		Status:          model.Ptr(model.StatusOpened),
		Type:            model.Ptr(model.TypeSell),
		Message:         model.Ptr(model.MsgOrderOpened),
		ProfitUSD:       profitUSD,
		SaveUSD:         saveUSD,
		TakeProfitPrice: tpPrice,
		StopLossPrice:   slPrice,
		TokenAmount:     received,
		FeeInUSD:        feeUSD,
		PayInUSD:        payUSD,
		EntryPrice:      entry,
		Retry:           model.Ptr(0),
		IsBusy:          model.Ptr(false),
		IsActive:        model.Ptr(true),
		ClearCheckpoint: true,
	})
	if err != nil {
		return err
	}

	for _, s := range siblings {
		amount := units.Clone(s.TokenAmount)
		u := model.OrderUpdate{
			TakeProfitPrice: tpPrice,
			StopLossPrice:   slPrice,
			ProfitUSD:       pricePerToken(new(big.Int).Mul(tpPrice, amount), big.NewInt(1), scale),
			SaveUSD:         pricePerToken(new(big.Int).Mul(slPrice, amount), big.NewInt(1), scale),
		}
		if err := o.orders.Update(ctx, s.ID, u); err != nil {
			o.logger.Error("Failed to update accumulation sibling",
				zap.String("order_id", order.ID),
				zap.String("sibling_id", s.ID),
				zap.Error(err))
		}
	}
	if len(siblings) > 0 {
		o.logger.Info("Shared exit prices with accumulation siblings",
			zap.String("order_id", order.ID),
			zap.Int("siblings", len(siblings)),
			zap.String("take_profit_price", tpPrice.String()))
	}
	return nil
}

// settleSell closes the position, or restarts it as a buy when re-entrance is enabled.
func (o *Orchestrator) settleSell(ctx context.Context, path string, order *model.Order, feeUSD, receiveUSD, tokenPrice *big.Int) error {
	cost := new(big.Int).Add(units.Clone(order.ExecutionFee.FeeInUSD), units.Clone(order.ExecutionFee.PayInUSD))
	pnl := new(big.Int).Sub(receiveUSD, feeUSD)
	pnl.Sub(pnl, cost)

	status, orderType, reason := model.StatusClosed, model.TypeSell, model.MsgOrderClosed
	if order.ReEntrance.Enabled {
		status, orderType, reason = model.StatusPending, model.TypeBuy, model.MsgOrderRestart
	}
	return o.update(ctx, path, order.ID, model.OrderUpdate{
		Status:          model.Ptr(status),
		Type:            model.Ptr(orderType),
		Message:         model.Ptr(reason),
		ExitPrice:       units.Clone(tokenPrice),
		RealizedPnl:     pnl,
		TakeProfitPrice: new(big.Int),
		StopLossPrice:   new(big.Int),
		ProfitUSD:       new(big.Int),
		SaveUSD:         new(big.Int),
		Retry:           model.Ptr(0),
		IsBusy:          model.Ptr(false),
		IsActive:        model.Ptr(true),
		ClearCheckpoint: true,
	})
}

// pricePerToken returns value * scale / tokens, or zero when tokens is not positive.
func pricePerToken(value, scale, tokens *big.Int) *big.Int {
	if tokens.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(value, scale)
	return out.Quo(out, tokens)
}
