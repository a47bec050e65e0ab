package orchestrator

import (
	"context"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/model"
	"spotengine/apps/spotengine/internal/units"
)

// Process resumes an order parked in PROCESSING. It never repeats the swap: it completes
// whatever phase the checkpoint is missing and settles once nothing is outstanding.
func (o *Orchestrator) Process(ctx context.Context, orderID string, snap model.TokenSnapshot) error {
	oc, err := o.claim(ctx, PathProcess, orderID, model.StatusProcessing, func() (*model.Order, error) {
		return o.orders.ClaimForResume(ctx, orderID)
	})
	if err != nil || oc == nil {
		return err
	}

	cp := oc.Order.Checkpoint.Clone()
	if cp == nil {
		cp = &model.Checkpoint{}
	}
	if cp.ProcessType == "" {
		cp.ProcessType = oc.Order.Type
	}
	defer o.recoverPanic(ctx, PathProcess, orderID, cp)
	return o.finish(ctx, PathProcess, orderID, cp, o.resume(ctx, oc, cp, snap))
}

func (o *Orchestrator) resume(ctx context.Context, oc *model.OrderContext, cp *model.Checkpoint, snap model.TokenSnapshot) error {
	order := oc.Order
	pay, receive, _ := legs(order, cp)

	c, ok := o.chains.Get(order.ChainID)
	if !ok || pay.Address == "" || receive.Address == "" || !validAccounts(oc) {
		return o.release(ctx, PathProcess, order.ID, model.StatusFailed, model.MsgInvalidOrder)
	}
	if cp.Phase() == model.PhaseNotBroadcast {
		return o.update(ctx, PathProcess, order.ID, model.OrderUpdate{
			Status:          model.Ptr(model.StatusFailed),
			Message:         model.Ptr(model.MsgOrderNotExecuted),
			IsBusy:          model.Ptr(false),
			ClearCheckpoint: true,
		})
	}

	adapter, err := o.adapters.For(order.ChainID)
	if err != nil {
		o.logger.Warn("No adapter for chain", zap.String("order_id", order.ID), zap.Uint64("chain_id", order.ChainID), zap.Error(err))
		return o.park(ctx, PathProcess, order.ID, model.MsgTxProcessingFailed, cp)
	}
	o.samplePrices(c, order, cp, snap)

	for {
		phase := cp.Phase()
		o.logger.Debug("Resuming order", zap.String("order_id", order.ID), zap.String("phase", phase.String()))

		switch phase {
		case model.PhaseAwaitingTxInfo:
			info, err := adapter.TxInfo(ctx, chain.TxInfoRequest{
				ChainID:   order.ChainID,
				Signature: cp.Tx.Signature,
				Receiver:  oc.Wallet.Address,
				TokenOut:  receive.Address,
			})
			if err != nil || !units.IsPositive(info.TotalReceived) || !units.IsPositive(info.Fee) {
				o.logger.Warn("Failed to recover transaction info",
					zap.String("order_id", order.ID),
					zap.String("signature", cp.Tx.Signature),
					zap.Error(err))
				return o.park(ctx, PathProcess, order.ID, model.MsgTxProcessingFailed, cp)
			}
			cp.Tx.AmountOut, cp.Tx.Fee = units.Clone(info.TotalReceived), units.Clone(info.Fee)
			if cp.ProcessType == model.TypeSell && !cp.TradeFee.Executed && cp.TradeFee.Signature == "" {
				cp.TradeFee.Amount = units.MulBps(cp.Tx.AmountOut, o.TradeFeeBps(oc.User.Status, order.Priority))
			}
			if err := o.recordTrade(ctx, oc, c, cp); err != nil {
				return err
			}

		case model.PhaseAwaitingFeeCollection:
			signer, err := o.signers.Signer(*oc.Wallet)
			if err == nil {
				err = o.collectFee(ctx, oc, signer, adapter, cp)
			}
			if err != nil {
				o.logger.Warn("Failed to collect trade fee", zap.String("order_id", order.ID), zap.Error(err))
				return o.park(ctx, PathProcess, order.ID, model.MsgTradeFeeFailed, cp)
			}

		case model.PhaseAwaitingPriceData:
			return o.park(ctx, PathProcess, order.ID, model.MsgPriceNotFetched, cp)

		case model.PhaseReadyToFinalize:
			if !units.IsPositive(cp.TradeFee.Amount) {
				cp.TradeFee.Executed = true
			}
			if cp.ActivityID == "" {
				cp.OracleCalculation = true
				if err := o.recordTrade(ctx, oc, c, cp); err != nil {
					return err
				}
			}
			o.revalue(ctx, oc, c, cp)
			cp.OracleCalculation = true
			return o.settle(ctx, PathProcess, order, c, cp)

		default:
			return o.park(ctx, PathProcess, order.ID, model.MsgUnexpectedError, cp)
		}
	}
}
