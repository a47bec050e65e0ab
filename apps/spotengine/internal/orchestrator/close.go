package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/units"
	"spotengine/apps/spotengine/internal/walletguard"
)

// Close sells the held token amount of an open position into the output token.
func (o *Orchestrator) Close(ctx context.Context, orderID string, snap model.TokenSnapshot) error {
	oc, err := o.claim(ctx, PathClose, orderID, model.StatusOpened, func() (*model.Order, error) {
		return o.orders.Claim(ctx, orderID, []model.OrderStatus{model.StatusPending, model.StatusOpened})
	})
	if err != nil || oc == nil {
		return err
	}

	cp := &model.Checkpoint{ProcessType: model.TypeSell}
	defer o.recoverPanic(ctx, PathClose, orderID, cp)
	return o.finish(ctx, PathClose, orderID, cp, o.sell(ctx, oc, cp, snap))
}

func (o *Orchestrator) sell(ctx context.Context, oc *model.OrderContext, cp *model.Checkpoint, snap model.TokenSnapshot) error {
	order := oc.Order
	held, output := order.Asset.OrderToken, order.Asset.OutputToken

	c, ok := o.chains.Get(order.ChainID)
	if !ok || c.WrappedNative.Address == "" || held.Address == "" || output.Address == "" ||
		!units.IsPositive(order.TokenAmount) || !validAccounts(oc) {
		return o.release(ctx, PathClose, order.ID, model.StatusFailed, model.MsgInvalidOrder)
	}

	signer, err := o.signers.Signer(*oc.Wallet)
	if err != nil {
		o.logger.Warn("Failed to load signer", zap.String("order_id", order.ID), zap.Error(err))
		return o.release(ctx, PathClose, order.ID, model.StatusOpened, model.MsgSignerFailed)
	}
	adapter, err := o.adapters.For(order.ChainID)
	if err != nil {
		o.logger.Warn("No adapter for chain", zap.String("order_id", order.ID), zap.Uint64("chain_id", order.ChainID), zap.Error(err))
		return o.release(ctx, PathClose, order.ID, model.StatusOpened, model.MsgSignerFailed)
	}

	networkFee, err := adapter.EstimateNetworkFee(ctx, order.ChainID)
	if err != nil {
		o.logger.Warn("Failed to estimate network fee", zap.String("order_id", order.ID), zap.Error(err))
		return o.release(ctx, PathClose, order.ID, model.StatusOpened, model.MsgWalletFailed)
	}

	wallet := o.guards.Wallet(oc.Wallet.Address)
	spends, err := o.checkFunds(ctx, wallet, order.ChainID, held.Address, order.TokenAmount, networkFee)
	if errors.Is(err, walletguard.ErrInsufficientFunds) {
		return o.release(ctx, PathClose, order.ID, model.StatusFailed, model.MsgInsufficientFund)
	}
	if err != nil {
		o.logger.Warn("Failed to check funds", zap.String("order_id", order.ID), zap.Error(err))
		return o.release(ctx, PathClose, order.ID, model.StatusOpened, model.MsgWalletFailed)
	}

	result, err := o.swap(ctx, adapter, wallet, spends, chain.SwapRequest{
		ChainID:     order.ChainID,
		TokenIn:     held.Address,
		TokenOut:    output.Address,
		AmountIn:    order.TokenAmount,
		SlippageBps: order.SlippageBps,
		Signer:      signer,
	})
	if err != nil {
		o.logger.Warn("Failed to reserve funds", zap.String("order_id", order.ID), zap.Error(err))
		return o.release(ctx, PathClose, order.ID, model.StatusOpened, model.MsgWalletFailed)
	}
	if !result.Success || result.Signature == "" {
		status := model.StatusFailed
		if result.Retryable {
			status = model.StatusOpened
		}
		o.logger.Warn("Swap failed", zap.String("order_id", order.ID), zap.String("reason", result.Label()), zap.Error(result.Err))
		return o.release(ctx, PathClose, order.ID, status, result.Label())
	}

	cp.Tx = model.TxState{Signature: result.Signature, AmountOut: units.Clone(result.TotalReceived), Fee: units.Clone(result.Fee)}
	// the trade fee is taken from what the sell returned
	cp.TradeFee.Amount = units.MulBps(cp.Tx.AmountOut, o.TradeFeeBps(oc.User.Status, order.Priority))
	if err := o.checkpoint(ctx, order.ID, cp); err != nil {
		return err
	}
	return o.account(ctx, PathClose, oc, c, signer, adapter, cp, snap)
}
