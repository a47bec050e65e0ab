package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/errclass"
)

// TransferEventSig is the ERC20 Transfer(address,address,uint256) topic
var TransferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// gasCost is gasUsed * effectiveGasPrice.
func gasCost(receipt *types.Receipt) *big.Int {
	price := receipt.EffectiveGasPrice
	if price == nil {
		price = new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), price)
}

// transferredTo returns the amount of the first token Transfer log paying receiver.
func transferredTo(receipt *types.Receipt, token, receiver common.Address) (*big.Int, bool) {
	receiverTopic := common.BytesToHash(receiver.Bytes())
	for _, log := range receipt.Logs {
		if log.Address != token || len(log.Topics) < 3 {
			continue
		}
		// Topics[0] is the event signature hash
		// Topics[2] is the recipient
		if log.Topics[0] == TransferEventSig && log.Topics[2] == receiverTopic {
			return new(big.Int).SetBytes(log.Data), true
		}
	}
	return nil, false
}

// receivedAmount derives what receiver got from the swap in receipt. Native output is the
// balance delta across the confirming block plus the gas the same account paid.
func (a *Adapter) receivedAmount(ctx context.Context, client Client, receipt *types.Receipt, receiver common.Address, tokenOut string) (*big.Int, error) {
	if !chains.IsNative(tokenOut) {
		amount, ok := transferredTo(receipt, common.HexToAddress(tokenOut), receiver)
		if !ok {
			return nil, fmt.Errorf("no transfer of %s to %s in %s", tokenOut, receiver.Hex(), receipt.TxHash.Hex())
		}
		return amount, nil
	}

	block := receipt.BlockNumber
	if block == nil || block.Sign() <= 0 {
		return nil, fmt.Errorf("receipt %s has no block number", receipt.TxHash.Hex())
	}
	prior := new(big.Int).Sub(block, big.NewInt(1))

	balances, err := errclass.Retry(ctx, errclass.DefaultPolicy, errclass.SourceEVM, func(ctx context.Context) ([2]*big.Int, error) {
		before, err := client.BalanceAt(ctx, receiver, prior)
		if err != nil {
			return [2]*big.Int{}, err
		}
		after, err := client.BalanceAt(ctx, receiver, block)
		if err != nil {
			return [2]*big.Int{}, err
		}
		return [2]*big.Int{before, after}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read balances around block %s: %w", block, err)
	}

	received := new(big.Int).Sub(balances[1], balances[0])
	return received.Add(received, gasCost(receipt)), nil
}

// TxInfo re-derives the swap outcome of a confirmed transaction.
func (a *Adapter) TxInfo(ctx context.Context, req chain.TxInfoRequest) (chain.TxInfo, error) {
	_, client, err := a.resolve(req.ChainID)
	if err != nil {
		return chain.TxInfo{}, err
	}
	if !strings.HasPrefix(req.Signature, "0x") {
		return chain.TxInfo{}, fmt.Errorf("invalid transaction hash %q", req.Signature)
	}

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(req.Signature))
	if err != nil {
		return chain.TxInfo{}, fmt.Errorf("failed to get receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return chain.TxInfo{}, errclass.New(errclass.SourceEVM, errclass.KindSimulationRevert, false, "transaction reverted")
	}

	received, err := a.receivedAmount(ctx, client, receipt, common.HexToAddress(req.Receiver), req.TokenOut)
	if err != nil {
		return chain.TxInfo{}, err
	}
	return chain.TxInfo{TotalReceived: received, Fee: gasCost(receipt)}, nil
}
