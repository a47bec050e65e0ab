package solana

import (
	"context"
	"fmt"
	"math/big"

	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/errclass"
)

// receivedAmount derives what receiver got in tx. SOL output is the lamport delta of the
// receiver, with the fee added back when the receiver paid it. Token output is the
// post minus pre balance of the receiver's accounts for that mint.
func receivedAmount(tx *ConfirmedTransaction, receiver, tokenOut string) (*big.Int, error) {
	meta := tx.Meta
	if meta == nil {
		return nil, fmt.Errorf("transaction has no meta")
	}

	if isNative(tokenOut) {
		idx := -1
		for i, k := range tx.AccountKeys() {
			if k == receiver {
				idx = i
				break
			}
		}
		if idx < 0 || idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
			return nil, fmt.Errorf("receiver %s not in transaction", receiver)
		}
		delta := new(big.Int).SetUint64(meta.PostBalances[idx])
		delta.Sub(delta, new(big.Int).SetUint64(meta.PreBalances[idx]))
		if idx == 0 {
			delta.Add(delta, new(big.Int).SetUint64(meta.Fee))
		}
		if delta.Sign() < 0 {
			delta.SetInt64(0)
		}
		return delta, nil
	}

	pre := map[int]*big.Int{}
	for _, b := range meta.PreTokenBalances {
		if b.Mint == tokenOut && b.Owner == receiver {
			amount, ok := new(big.Int).SetString(b.UITokenAmount.Amount, 10)
			if !ok {
				return nil, fmt.Errorf("invalid token amount %q", b.UITokenAmount.Amount)
			}
			pre[b.AccountIndex] = amount
		}
	}

	total := new(big.Int)
	found := false
	for _, b := range meta.PostTokenBalances {
		if b.Mint != tokenOut || b.Owner != receiver {
			continue
		}
		post, ok := new(big.Int).SetString(b.UITokenAmount.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid token amount %q", b.UITokenAmount.Amount)
		}
		found = true
		if before, ok := pre[b.AccountIndex]; ok {
			post.Sub(post, before)
		}
		total.Add(total, post)
	}
	if !found {
		return nil, fmt.Errorf("no %s balance for %s in transaction", tokenOut, receiver)
	}
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
	return total, nil
}

func (a *Adapter) txInfo(ctx context.Context, signature, receiver, tokenOut string) (chain.TxInfo, error) {
	tx, err := a.rpc.GetTransaction(ctx, signature)
	if err != nil {
		return chain.TxInfo{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	if tx == nil || tx.Meta == nil {
		return chain.TxInfo{}, errclass.New(errclass.SourceSolana, errclass.KindNetworkTransient, true,
			fmt.Sprintf("transaction %s not available yet", signature))
	}
	if len(tx.Meta.Err) > 0 && string(tx.Meta.Err) != "null" {
		return chain.TxInfo{}, errclass.New(errclass.SourceSolana, errclass.KindSimulationRevert, false,
			fmt.Sprintf("transaction %s failed: %s", signature, tx.Meta.Err))
	}

	received, err := receivedAmount(tx, receiver, tokenOut)
	if err != nil {
		return chain.TxInfo{}, err
	}
	return chain.TxInfo{TotalReceived: received, Fee: new(big.Int).SetUint64(tx.Meta.Fee)}, nil
}

// TxInfo re-derives the outcome of a confirmed swap.
func (a *Adapter) TxInfo(ctx context.Context, req chain.TxInfoRequest) (chain.TxInfo, error) {
	if _, err := a.resolve(req.ChainID); err != nil {
		return chain.TxInfo{}, err
	}
	return a.txInfo(ctx, req.Signature, req.Receiver, req.TokenOut)
}
