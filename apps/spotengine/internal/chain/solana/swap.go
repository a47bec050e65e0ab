package solana

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/errclass"
	"spotengine/apps/spotengine/internal/route"
	"spotengine/apps/spotengine/internal/units"
)

type plan struct {
	route  route.Route
	ixs    []Instruction
	tables []LookupTable
	units  uint64
}

// Swap executes the best route that simulates cleanly. Failures are folded into the result.
func (a *Adapter) Swap(ctx context.Context, req chain.SwapRequest) (res chain.SwapResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Swap panicked", zap.Uint64("chain_id", req.ChainID), zap.Any("panic", r))
			res = chain.SwapResult{ErrorLabel: chain.LabelSwapFailed, Err: fmt.Errorf("swap panicked: %v", r)}
		}
		a.metrics.SwapResult(req.ChainID, res.Label())
	}()

	c, err := a.resolve(req.ChainID)
	if err != nil {
		return chain.Failed(chain.LabelSwapFailed, errclass.SourceSolana, err)
	}
	key, err := signerKey(req.Signer)
	if err != nil {
		return chain.Failed(chain.LabelSwapFailed, errclass.SourceSolana,
			errclass.New(errclass.SourceSolana, errclass.KindValidation, false, err.Error()))
	}
	payer := publicKeyOf(key)

	routes, err := a.routes.BestRoutes(ctx, route.Request{
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		AmountIn:    req.AmountIn,
		SlippageBps: req.SlippageBps,
		ChainID:     req.ChainID,
		UserAddress: payer.String(),
	})
	if err != nil {
		if errors.Is(err, route.ErrNoRoute) {
			return chain.Failed(chain.LabelNoRouteFound, errclass.SourceHTTP, err)
		}
		return chain.Failed(chain.LabelRouteOracleFailed, errclass.SourceHTTP, err)
	}

	p, err := a.selectRoute(ctx, key, routes)
	if err != nil {
		return chain.Failed(chain.LabelSimulationFailed, errclass.SourceSolana, err)
	}

	limit := units.MulBps(new(big.Int).SetUint64(p.units), a.cfg.ComputeBufferBps).Uint64()
	if fee := a.networkFee(limit); c.MaxGasFee != nil && fee.Cmp(c.MaxGasFee) > 0 {
		a.logger.Warn("Swap fee above ceiling", zap.String("fee", fee.String()), zap.String("ceiling", c.MaxGasFee.String()))
		return chain.SwapResult{ErrorLabel: chain.LabelSwapFailed, Retryable: true, Err: ErrFeeLimitExceeded}
	}

	signature, err := a.submit(ctx, key, a.withComputeBudget(p.ixs, limit), p.tables)
	if err != nil {
		if errclass.KindOf(err) == errclass.KindBlockhashRace {
			return chain.Failed(chain.LabelTxNonceFailed, errclass.SourceSolana, err)
		}
		return chain.Failed(chain.LabelTxFailed, errclass.SourceSolana, err)
	}

	if err := a.confirm(ctx, signature); err != nil {
		if errors.Is(err, ErrConfirmationTimeout) {
			a.logger.Warn("Swap broadcast without confirmation", zap.String("signature", signature))
			return chain.SwapResult{Success: true, Signature: signature}
		}
		return chain.Failed(chain.LabelTxFailed, errclass.SourceSolana, err)
	}

	info, err := a.txInfo(ctx, signature, payer.String(), req.TokenOut)
	if err != nil {
		a.logger.Warn("Swap confirmed but received amount unknown",
			zap.String("signature", signature),
			zap.Error(err))
		return chain.SwapResult{Success: true, Signature: signature}
	}

	a.logger.Info("Swap confirmed",
		zap.String("signature", signature),
		zap.String("aggregator", p.route.Aggregator),
		zap.String("received", info.TotalReceived.String()),
		zap.String("fee", info.Fee.String()))
	return chain.SwapResult{Success: true, Signature: signature, TotalReceived: info.TotalReceived, Fee: info.Fee}
}

// selectRoute simulates routes best to worst and keeps the first without an error. An
// expired blockhash retries the same route once with a fresh one.
func (a *Adapter) selectRoute(ctx context.Context, key ed25519.PrivateKey, routes []route.Route) (plan, error) {
	var lastErr error
	for _, r := range routes {
		if len(r.Instructions) == 0 {
			continue
		}
		ixs, err := convertInstructions(r.Instructions)
		if err != nil {
			lastErr = err
			continue
		}
		tables, err := a.lookupTables(ctx, r.LookupTables)
		if err != nil {
			lastErr = err
			continue
		}

		for retried := false; ; retried = true {
			consumed, err := a.simulate(ctx, key, a.withComputeBudget(ixs, MaxComputeUnits), tables)
			if err == nil {
				return plan{route: r, ixs: ixs, tables: tables, units: consumed}, nil
			}
			classified := errclass.Classify(err, errclass.SourceSolana)
			lastErr = classified
			if retried || classified.Kind != errclass.KindBlockhashRace {
				a.logger.Warn("Skipping route",
					zap.String("aggregator", r.Aggregator),
					zap.Error(err))
				break
			}
		}
	}
	if lastErr == nil {
		lastErr = errclass.New(errclass.SourceSolana, errclass.KindRouteUnavailable, false, "no solana route")
	}
	return plan{}, lastErr
}

func convertInstructions(in []route.Instruction) ([]Instruction, error) {
	out := make([]Instruction, 0, len(in))
	for _, ix := range in {
		program, err := ParsePublicKey(ix.ProgramID)
		if err != nil {
			return nil, err
		}
		converted := Instruction{ProgramID: program, Data: ix.Data}
		for _, acc := range ix.Accounts {
			k, err := ParsePublicKey(acc.Address)
			if err != nil {
				return nil, err
			}
			converted.Accounts = append(converted.Accounts, AccountMeta{PublicKey: k, IsSigner: acc.IsSigner, IsWritable: acc.IsWritable})
		}
		out = append(out, converted)
	}
	return out, nil
}

func (a *Adapter) lookupTables(ctx context.Context, addresses []string) ([]LookupTable, error) {
	tables := make([]LookupTable, 0, len(addresses))
	for _, addr := range addresses {
		key, err := ParsePublicKey(addr)
		if err != nil {
			return nil, err
		}
		info, err := a.rpc.GetAccountInfo(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to load lookup table %s: %w", addr, err)
		}
		if info == nil {
			return nil, fmt.Errorf("lookup table %s not found", addr)
		}
		t, err := ParseLookupTable(key, info.Data)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}
