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
)

// Transfer sends a native or ERC20 amount to req.Receiver. A broadcast transfer whose
// receipt never arrived is reported with its signature and no fee so that it is never
// sent twice.
func (a *Adapter) Transfer(ctx context.Context, req chain.TransferRequest) (chain.TransferResult, error) {
	c, client, err := a.resolve(req.ChainID)
	if err != nil {
		return chain.TransferResult{}, err
	}
	signer, ok := req.Signer.(KeySigner)
	if !ok {
		return chain.TransferResult{}, errclass.New(errclass.SourceEVM, errclass.KindValidation, false, "signer is not an evm key")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return chain.TransferResult{}, errclass.New(errclass.SourceEVM, errclass.KindValidation, false, "transfer amount must be positive")
	}
	key := signer.PrivateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	receiver := common.HexToAddress(req.Receiver)

	tx := call{to: receiver, value: req.Amount}
	if !chains.IsNative(req.Token) {
		data, err := a.erc20.Pack("transfer", receiver, req.Amount)
		if err != nil {
			return chain.TransferResult{}, fmt.Errorf("failed to pack transfer call: %w", err)
		}
		tx = call{to: common.HexToAddress(req.Token), data: data, value: new(big.Int)}
	}

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &tx.to, Value: tx.value, Data: tx.data})
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("failed to estimate transfer gas: %w", err)
	}
	if tx.gasPrice, err = client.SuggestGasPrice(ctx); err != nil {
		return chain.TransferResult{}, fmt.Errorf("failed to get gas price: %w", err)
	}
	tx.gas = a.bufferedGas(gas)

	hash, receipt, err := a.send(ctx, client, c.ID, key, tx)
	if errors.Is(err, ErrReceiptUnavailable) {
		a.logger.Warn("Transfer broadcast without receipt", zap.String("tx_hash", hash.Hex()))
		return chain.TransferResult{Signature: hash.Hex(), Fee: new(big.Int)}, nil
	}
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("failed to send transfer: %w", err)
	}

	a.logger.Info("Transfer confirmed",
		zap.String("tx_hash", hash.Hex()),
		zap.String("token", req.Token),
		zap.String("receiver", req.Receiver),
		zap.String("amount", req.Amount.String()))
	return chain.TransferResult{Signature: hash.Hex(), Fee: gasCost(receipt)}, nil
}
