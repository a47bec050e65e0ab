package orchestrator

import (
	"context"
	"errors"
	"math/big"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/units"
	"spotengine/apps/spotengine/internal/walletguard"
)

// Open buys the order token for a PENDING buy order. A concurrent or repeated call for
// the same order is a no-op once the first one holds the claim.
func (o *Orchestrator) Open(ctx context.Context, orderID string, snap model.TokenSnapshot) error {
	oc, err := o.claim(ctx, PathOpen, orderID, model.StatusPending, func() (*model.Order, error) {
		return o.orders.Claim(ctx, orderID, []model.OrderStatus{model.StatusPending})
	})
	if err != nil || oc == nil {
		return err
	}

	cp := &model.Checkpoint{ProcessType: model.TypeBuy}
	defer o.recoverPanic(ctx, PathOpen, orderID, cp)
	return o.finish(ctx, PathOpen, orderID, cp, o.buy(ctx, oc, cp, snap))
}

func (o *Orchestrator) buy(ctx context.Context, oc *model.OrderContext, cp *model.Checkpoint, snap model.TokenSnapshot) error {
	order := oc.Order
	collateral, target := order.Asset.CollateralToken, order.Asset.OrderToken

	c, ok := o.chains.Get(order.ChainID)
	if !ok || c.WrappedNative.Address == "" || collateral.Address == "" || target.Address == "" ||
		!units.IsPositive(order.OrderSize) || !validAccounts(oc) {
		return o.release(ctx, PathOpen, order.ID, model.StatusFailed, model.MsgInvalidOrder)
	}

	signer, err := o.signers.Signer(*oc.Wallet)
	if err != nil {
		o.logger.Warn("Failed to load signer", zap.String("order_id", order.ID), zap.Error(err))
		return o.release(ctx, PathOpen, order.ID, model.StatusPending, model.MsgSignerFailed)
	}
	adapter, err := o.adapters.For(order.ChainID)
	if err != nil {
		o.logger.Warn("No adapter for chain", zap.String("order_id", order.ID), zap.Uint64("chain_id", order.ChainID), zap.Error(err))
		return o.release(ctx, PathOpen, order.ID, model.StatusPending, model.MsgSignerFailed)
	}

	feeBps := o.TradeFeeBps(oc.User.Status, order.Priority)
	tradeFee := units.MulBps(order.OrderSize, feeBps)
	networkFee, err := adapter.EstimateNetworkFee(ctx, order.ChainID)
	if err != nil {
		o.logger.Warn("Failed to estimate network fee", zap.String("order_id", order.ID), zap.Error(err))
		return o.release(ctx, PathOpen, order.ID, model.StatusPending, model.MsgWalletFailed)
	}

	wallet := o.guards.Wallet(oc.Wallet.Address)
	spend := new(big.Int).Add(order.OrderSize, tradeFee)
	spends, err := o.checkFunds(ctx, wallet, order.ChainID, collateral.Address, spend, networkFee)
	if errors.Is(err, walletguard.ErrInsufficientFunds) {
		return o.release(ctx, PathOpen, order.ID, model.StatusFailed, model.MsgInsufficientFund)
	}
	if err != nil {
		o.logger.Warn("Failed to check funds", zap.String("order_id", order.ID), zap.Error(err))
		return o.release(ctx, PathOpen, order.ID, model.StatusPending, model.MsgWalletFailed)
	}

	result, err := o.swap(ctx, adapter, wallet, spends, chain.SwapRequest{
		ChainID:     order.ChainID,
		TokenIn:     collateral.Address,
		TokenOut:    target.Address,
		AmountIn:    order.OrderSize,
		SlippageBps: order.SlippageBps,
		Signer:      signer,
	})
	if err != nil {
		o.logger.Warn("Failed to reserve funds", zap.String("order_id", order.ID), zap.Error(err))
		return o.release(ctx, PathOpen, order.ID, model.StatusPending, model.MsgWalletFailed)
	}
	if !result.Success || result.Signature == "" {
		status := model.StatusFailed
		if result.Retryable {
			status = model.StatusPending
		}
		o.logger.Warn("Swap failed", zap.String("order_id", order.ID), zap.String("reason", result.Label()), zap.Error(result.Err))
		return o.release(ctx, PathOpen, order.ID, status, result.Label())
	}

	cp.Tx = model.TxState{Signature: result.Signature, AmountOut: units.Clone(result.TotalReceived), Fee: units.Clone(result.Fee)}
	cp.TradeFee.Amount = tradeFee
	if err := o.checkpoint(ctx, order.ID, cp); err != nil {
		return err
	}
	return o.account(ctx, PathOpen, oc, c, signer, adapter, cp, snap)
}
