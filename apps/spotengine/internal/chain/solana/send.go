package solana

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/errclass"
)

var errPending = errors.New("signature not confirmed yet")

// simulate signs ixs against a fresh blockhash and dry-runs them, returning consumed units.
func (a *Adapter) simulate(ctx context.Context, key ed25519.PrivateKey, ixs []Instruction, tables []LookupTable) (uint64, error) {
	blockhash, err := a.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get blockhash: %w", err)
	}
	msg, err := CompileMessage(publicKeyOf(key), ixs, blockhash, tables)
	if err != nil {
		return 0, err
	}
	tx, _, err := SignTransaction(msg, key)
	if err != nil {
		return 0, err
	}

	res, err := a.rpc.SimulateTransaction(ctx, tx)
	if err != nil {
		return 0, err
	}
	if res.Failed() {
		return 0, &errclass.SimulationFailure{Reason: string(res.Err), Logs: res.Logs}
	}
	return res.UnitsConsumed, nil
}

// submit signs and broadcasts ixs with linear backoff. The signed bytes are reused across
// attempts so a resend after an ambiguous failure cannot land twice; only an expired
// blockhash forces a rebuild.
func (a *Adapter) submit(ctx context.Context, key ed25519.PrivateKey, ixs []Instruction, tables []LookupTable) (string, error) {
	var tx []byte
	var signature string

	return errclass.Retry(ctx, errclass.Linear(a.cfg.SendRetries, a.cfg.SendStep), errclass.SourceSolana, func(ctx context.Context) (string, error) {
		if tx == nil {
			blockhash, err := a.rpc.GetLatestBlockhash(ctx)
			if err != nil {
				return "", fmt.Errorf("failed to get blockhash: %w", err)
			}
			msg, err := CompileMessage(publicKeyOf(key), ixs, blockhash, tables)
			if err != nil {
				return "", err
			}
			signed, sig, err := SignTransaction(msg, key)
			if err != nil {
				return "", err
			}
			tx, signature = signed, base58.Encode(sig)
		}

		if _, err := a.rpc.SendTransaction(ctx, tx); err != nil {
			if errclass.Classify(err, errclass.SourceSolana).Kind == errclass.KindBlockhashRace {
				a.logger.Warn("Blockhash expired, re-signing", zap.String("signature", signature))
				tx = nil
			}
			return "", err
		}
		return signature, nil
	})
}

// confirm polls the signature status until it is confirmed, fails, or the timeout passes.
func (a *Adapter) confirm(ctx context.Context, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConfirmTimeout)
	defer cancel()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		status, err := a.rpc.GetSignatureStatus(ctx, signature)
		if err != nil {
			return struct{}{}, err
		}
		if status == nil {
			return struct{}{}, errPending
		}
		if status.Failed() {
			return struct{}{}, backoff.Permanent(errclass.New(errclass.SourceSolana, errclass.KindSimulationRevert, false,
				fmt.Sprintf("transaction %s failed: %s", signature, status.Err)))
		}
		if !status.Confirmed() {
			return struct{}{}, errPending
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(a.cfg.ConfirmPoll)))
	if err == nil {
		return nil
	}

	var failed *errclass.Error
	if errors.As(err, &failed) {
		return failed
	}
	return fmt.Errorf("%w: %s", ErrConfirmationTimeout, signature)
}
