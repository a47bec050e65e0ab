package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/errclass"
)

// MaxUint256 is the allowance granted by an infinite approval.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ensureAllowance approves spender for an unlimited amount of token when the current
// allowance does not cover amount. It returns the gas paid, zero when nothing was sent.
func (a *Adapter) ensureAllowance(ctx context.Context, client Client, chainID uint64, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (*big.Int, error) {
	owner := crypto.PubkeyToAddress(key.PublicKey)

	balance, err := a.erc20Uint(ctx, client, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, errclass.New(errclass.SourceEVM, errclass.KindInsufficientFunds, false,
			fmt.Sprintf("token balance %s below %s", balance, amount))
	}

	allowance, err := a.erc20Uint(ctx, client, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(amount) >= 0 {
		return new(big.Int), nil
	}

	data, err := a.erc20.Pack("approve", spender, MaxUint256)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve call: %w", err)
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: owner, To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate approve gas: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	hash, receipt, err := a.send(ctx, client, chainID, key, call{
		to:       token,
		data:     data,
		gas:      a.bufferedGas(gas),
		gasPrice: gasPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to approve %s: %w", token.Hex(), err)
	}

	a.logger.Info("Approved spender",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("tx_hash", hash.Hex()))
	return gasCost(receipt), nil
}
