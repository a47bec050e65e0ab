package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/errclass"
)

var (
	// ErrNonceExhausted is returned when a send still hits a nonce error after the
	// tracker was refreshed once.
	ErrNonceExhausted = errors.New("nonce refresh exhausted")
	// ErrReceiptUnavailable means the transaction was broadcast but no receipt arrived in time.
	ErrReceiptUnavailable = errors.New("transaction receipt unavailable")
)

type call struct {
	to       common.Address
	data     []byte
	value    *big.Int
	gas      uint64
	gasPrice *big.Int
}

// send signs and submits c, then waits for its receipt.
//
// Once a send fails without a definite rejection from the node, the transaction may
// already be in the mempool, so the same signed bytes are resent and never re-signed.
// "already known", or a nonce error after such a send, means the transaction was
// accepted. A nonce rejection of a transaction that cannot have landed triggers exactly
// one tracker refresh and re-sign. Other retryable failures are retried up to SendRetries
// with a fixed delay. When the transaction may have been broadcast but no receipt arrived,
// the hash is returned together with ErrReceiptUnavailable.
func (a *Adapter) send(ctx context.Context, client Client, chainID uint64, key *ecdsa.PrivateKey, c call) (common.Hash, *types.Receipt, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	value := c.value
	if value == nil {
		value = new(big.Int)
	}

	var (
		signed         *types.Transaction
		maybeSent      bool
		nonceRefreshed bool
		attempt        uint
	)
	for {
		if signed == nil {
			nonce, err := a.nonces.Next(ctx, client, from)
			if err != nil {
				return common.Hash{}, nil, fmt.Errorf("failed to get nonce: %w", err)
			}
			signed, err = types.SignTx(types.NewTx(&types.LegacyTx{
				Nonce:    nonce,
				GasPrice: c.gasPrice,
				Gas:      c.gas,
				To:       &c.to,
				Value:    value,
				Data:     c.data,
			}), signer, key)
			if err != nil {
				return common.Hash{}, nil, fmt.Errorf("failed to sign transaction: %w", err)
			}
		}

		err := client.SendTransaction(ctx, signed)
		if err == nil {
			return a.confirm(ctx, client, from, signed.Hash(), maybeSent)
		}

		classified := errclass.Classify(err, errclass.SourceEVM)
		if classified.Kind == errclass.KindConflict {
			return a.confirm(ctx, client, from, signed.Hash(), maybeSent)
		}
		if maybeSent && classified.Kind == errclass.KindNonceRace {
			a.logger.Warn("Nonce consumed after unconfirmed send, awaiting receipt",
				zap.String("tx_hash", signed.Hash().Hex()),
				zap.Error(err))
			return a.confirm(ctx, client, from, signed.Hash(), true)
		}
		if !rejected(classified) {
			maybeSent = true
		}

		if !maybeSent {
			// the nonce was not consumed, the next signature re-reads it
			a.nonces.Reset(from)
			if classified.Kind == errclass.KindNonceRace {
				if nonceRefreshed {
					return common.Hash{}, nil, fmt.Errorf("%w: %w", ErrNonceExhausted, classified)
				}
				nonceRefreshed = true
				a.logger.Warn("Nonce rejected, refreshing",
					zap.String("address", from.Hex()),
					zap.Uint64("nonce", signed.Nonce()),
					zap.Error(err))
				signed = nil
				continue
			}
		}

		attempt++
		if !classified.Retryable || attempt >= a.cfg.SendRetries {
			if maybeSent {
				return a.confirm(ctx, client, from, signed.Hash(), true)
			}
			return common.Hash{}, nil, classified
		}
		a.logger.Warn("Send failed, retrying",
			zap.String("address", from.Hex()),
			zap.String("tx_hash", signed.Hash().Hex()),
			zap.Uint("attempt", attempt),
			zap.Error(err))
		if err := sleep(ctx, a.cfg.SendDelay); err != nil {
			if maybeSent {
				return signed.Hash(), nil, fmt.Errorf("%w: %s", ErrReceiptUnavailable, signed.Hash().Hex())
			}
			return common.Hash{}, nil, err
		}
	}
}

// confirm waits for the receipt of hash. When the broadcast itself was unconfirmed and no
// receipt arrives, the tracker is dropped so the next send reads the pending nonce again.
func (a *Adapter) confirm(ctx context.Context, client Client, from common.Address, hash common.Hash, maybeSent bool) (common.Hash, *types.Receipt, error) {
	receipt, err := a.waitReceipt(ctx, client, hash)
	if maybeSent && errors.Is(err, ErrReceiptUnavailable) {
		a.nonces.Reset(from)
	}
	return hash, receipt, err
}

// rejected reports whether the node answered the send with a definite refusal, which
// means the transaction was not accepted.
func rejected(err *errclass.Error) bool {
	switch err.Kind {
	case errclass.KindNetworkTransient, errclass.KindUnknown, errclass.KindUnexpected:
		return false
	}
	return true
}

func (a *Adapter) waitReceipt(ctx context.Context, client Client, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(a.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, errclass.New(errclass.SourceEVM, errclass.KindSimulationRevert, false,
					fmt.Sprintf("transaction %s reverted", hash.Hex()))
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			a.logger.Warn("Failed to fetch receipt",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrReceiptUnavailable, hash.Hex())
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
