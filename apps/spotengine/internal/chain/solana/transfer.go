package solana

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/errclass"
)

// mintDecimalsOffset is where an SPL mint account stores its decimals.
const mintDecimalsOffset = 44

// Transfer sends SOL or an SPL token to req.Receiver, creating the receiver's associated
// token account when needed. An unconfirmed transfer reports its signature with no fee.
func (a *Adapter) Transfer(ctx context.Context, req chain.TransferRequest) (chain.TransferResult, error) {
	if _, err := a.resolve(req.ChainID); err != nil {
		return chain.TransferResult{}, err
	}
	key, err := signerKey(req.Signer)
	if err != nil {
		return chain.TransferResult{}, errclass.New(errclass.SourceSolana, errclass.KindValidation, false, err.Error())
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 || !req.Amount.IsUint64() {
		return chain.TransferResult{}, errclass.New(errclass.SourceSolana, errclass.KindValidation, false, "transfer amount out of range")
	}
	receiver, err := ParsePublicKey(req.Receiver)
	if err != nil {
		return chain.TransferResult{}, err
	}
	payer := publicKeyOf(key)
	amount := req.Amount.Uint64()

	var ixs []Instruction
	if isNative(req.Token) {
		ixs = []Instruction{SystemTransfer(payer, receiver, amount)}
	} else {
		ixs, err = a.tokenTransfer(ctx, payer, receiver, req.Token, amount)
		if err != nil {
			return chain.TransferResult{}, err
		}
	}

	signature, err := a.submit(ctx, key, a.withComputeBudget(ixs, transferComputeUnits), nil)
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("failed to send transfer: %w", err)
	}
	if err := a.confirm(ctx, signature); err != nil {
		if errors.Is(err, ErrConfirmationTimeout) {
			a.logger.Warn("Transfer broadcast without confirmation", zap.String("signature", signature))
			return chain.TransferResult{Signature: signature, Fee: new(big.Int)}, nil
		}
		return chain.TransferResult{}, err
	}

	fee := a.networkFee(transferComputeUnits)
	if tx, err := a.rpc.GetTransaction(ctx, signature); err == nil && tx != nil && tx.Meta != nil {
		fee = new(big.Int).SetUint64(tx.Meta.Fee)
	}

	a.logger.Info("Transfer confirmed",
		zap.String("signature", signature),
		zap.String("token", req.Token),
		zap.String("receiver", req.Receiver),
		zap.Uint64("amount", amount))
	return chain.TransferResult{Signature: signature, Fee: fee}, nil
}

func (a *Adapter) tokenTransfer(ctx context.Context, payer, receiver PublicKey, token string, amount uint64) ([]Instruction, error) {
	mint, err := ParsePublicKey(token)
	if err != nil {
		return nil, err
	}
	info, err := a.rpc.GetAccountInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load mint %s: %w", token, err)
	}
	if info == nil || len(info.Data) <= mintDecimalsOffset {
		return nil, fmt.Errorf("mint %s not found", token)
	}
	program, err := ParsePublicKey(info.Owner)
	if err != nil {
		return nil, err
	}
	if program != TokenProgram && program != Token2022Program {
		return nil, fmt.Errorf("mint %s is owned by %s", token, info.Owner)
	}

	source, err := AssociatedTokenAddress(payer, mint, program)
	if err != nil {
		return nil, err
	}
	dest, err := AssociatedTokenAddress(receiver, mint, program)
	if err != nil {
		return nil, err
	}
	return []Instruction{
		CreateAssociatedTokenAccountIdempotent(payer, dest, receiver, mint, program),
		TransferChecked(program, source, mint, dest, payer, amount, info.Data[mintDecimalsOffset]),
	}, nil
}
