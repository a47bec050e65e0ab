package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/errclass"
	"spotengine/apps/spotengine/internal/route"
)

var ErrGasLimitExceeded = errors.New("gas limit exceeded")

// Swap executes the best executable route for req. It never returns an error; every
// failure is folded into the result.
func (a *Adapter) Swap(ctx context.Context, req chain.SwapRequest) (res chain.SwapResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Swap panicked", zap.Uint64("chain_id", req.ChainID), zap.Any("panic", r))
			res = chain.SwapResult{ErrorLabel: chain.LabelSwapFailed, Err: fmt.Errorf("swap panicked: %v", r)}
		}
		a.metrics.SwapResult(req.ChainID, res.Label())
	}()

	c, client, err := a.resolve(req.ChainID)
	if err != nil {
		return chain.Failed(chain.LabelSwapFailed, errclass.SourceEVM, err)
	}
	signer, ok := req.Signer.(KeySigner)
	if !ok {
		return chain.Failed(chain.LabelSwapFailed, errclass.SourceEVM,
			errclass.New(errclass.SourceEVM, errclass.KindValidation, false, "signer is not an evm key"))
	}
	key := signer.PrivateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)

	routes, err := a.routes.BestRoutes(ctx, route.Request{
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		AmountIn:    req.AmountIn,
		SlippageBps: req.SlippageBps,
		ChainID:     req.ChainID,
		UserAddress: from.Hex(),
	})
	if err != nil {
		if errors.Is(err, route.ErrNoRoute) {
			return chain.Failed(chain.LabelNoRouteFound, errclass.SourceHTTP, err)
		}
		return chain.Failed(chain.LabelRouteOracleFailed, errclass.SourceHTTP, err)
	}
	evmRoutes := routes[:0:0]
	for _, r := range routes {
		if r.EVM != nil {
			evmRoutes = append(evmRoutes, r)
		}
	}
	if len(evmRoutes) == 0 {
		return chain.Failed(chain.LabelNoRouteFound, errclass.SourceHTTP, route.ErrNoRoute)
	}

	totalFee := new(big.Int)
	if !chains.IsNative(req.TokenIn) {
		spender := common.HexToAddress(c.Router)
		if c.Router == "" {
			spender = common.HexToAddress(evmRoutes[0].EVM.To)
		}
		approveFee, err := a.ensureAllowance(ctx, client, c.ID, key, common.HexToAddress(req.TokenIn), spender, req.AmountIn)
		if err != nil {
			return chain.Failed(chain.LabelApproveFailed, errclass.SourceEVM, err)
		}
		totalFee.Add(totalFee, approveFee)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return chain.Failed(chain.LabelSimulationFailed, errclass.SourceEVM, err)
	}

	selected, gas, err := a.selectRoute(ctx, client, from, evmRoutes)
	if err != nil {
		return chain.Failed(chain.LabelSimulationFailed, errclass.SourceEVM, err)
	}

	if fee := a.bufferedFee(gas, gasPrice); c.MaxGasFee != nil && fee.Cmp(c.MaxGasFee) > 0 {
		a.logger.Warn("Swap gas above ceiling",
			zap.Uint64("chain_id", c.ID),
			zap.String("fee", fee.String()),
			zap.String("ceiling", c.MaxGasFee.String()))
		return chain.SwapResult{ErrorLabel: chain.LabelSwapFailed, Retryable: true, Err: ErrGasLimitExceeded}
	}

	hash, receipt, err := a.send(ctx, client, c.ID, key, call{
		to:       common.HexToAddress(selected.EVM.To),
		data:     selected.EVM.Data,
		value:    selected.EVM.Value,
		gas:      a.bufferedGas(gas),
		gasPrice: gasPrice,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrReceiptUnavailable):
		a.logger.Warn("Swap broadcast without receipt",
			zap.String("tx_hash", hash.Hex()),
			zap.Uint64("chain_id", c.ID))
		return chain.SwapResult{Success: true, Signature: hash.Hex()}
	case errors.Is(err, ErrNonceExhausted):
		return chain.Failed(chain.LabelTxNonceFailed, errclass.SourceEVM, err)
	default:
		return chain.Failed(chain.LabelTxFailed, errclass.SourceEVM, err)
	}

	totalFee.Add(totalFee, gasCost(receipt))
	received, err := a.receivedAmount(ctx, client, receipt, from, req.TokenOut)
	if err != nil {
		a.logger.Warn("Swap confirmed but received amount unknown",
			zap.String("tx_hash", hash.Hex()),
			zap.Error(err))
		return chain.SwapResult{Success: true, Signature: hash.Hex(), Fee: totalFee}
	}

	a.logger.Info("Swap confirmed",
		zap.String("tx_hash", hash.Hex()),
		zap.String("aggregator", selected.Aggregator),
		zap.String("received", received.String()),
		zap.String("fee", totalFee.String()))
	return chain.SwapResult{Success: true, Signature: hash.Hex(), TotalReceived: received, Fee: totalFee}
}

// selectRoute estimates gas for routes best to worst and returns the first that passes.
// A route is retried once after a nonce race or a transient failure before moving on.
func (a *Adapter) selectRoute(ctx context.Context, client Client, from common.Address, routes []route.Route) (route.Route, uint64, error) {
	var lastErr error
	for i := 0; i < len(routes); i++ {
		r := routes[i]
		to := common.HexToAddress(r.EVM.To)
		msg := ethereum.CallMsg{From: from, To: &to, Value: r.EVM.Value, Data: r.EVM.Data}

		for retried := false; ; retried = true {
			gas, err := client.EstimateGas(ctx, msg)
			if err == nil {
				return r, gas, nil
			}
			classified := errclass.Classify(err, errclass.SourceEVM)
			lastErr = classified
			if retried || !classified.Retryable {
				a.logger.Warn("Skipping route",
					zap.String("aggregator", r.Aggregator),
					zap.Error(err))
				break
			}
			if classified.Kind == errclass.KindNonceRace {
				a.nonces.Reset(from)
				continue
			}
			if err := sleep(ctx, a.cfg.SendDelay); err != nil {
				return route.Route{}, 0, err
			}
		}
	}
	if lastErr == nil {
		lastErr = errclass.New(errclass.SourceEVM, errclass.KindSimulationRevert, false, "no executable route")
	}
	return route.Route{}, 0, lastErr
}
