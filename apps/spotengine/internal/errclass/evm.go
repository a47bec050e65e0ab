package errclass

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

func classifyEVM(err error) *Error {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "already known", "known transaction"):
		// the identical signed transaction is already in the mempool
		return wrap(SourceEVM, KindConflict, false, err)
	case containsAny(msg, "nonce too low", "nonce too high", "invalid nonce", "nonce has already been used",
		"replacement transaction underpriced"):
		return wrap(SourceEVM, KindNonceRace, true, err)
	case containsAny(msg, "insufficient funds", "exceeds balance", "transfer amount exceeds"):
		return wrap(SourceEVM, KindInsufficientFunds, false, err)
	case containsAny(msg, "user rejected", "user denied", "action_rejected"):
		return wrap(SourceEVM, KindRejected, false, err)
	case containsAny(msg, "execution reverted", "reverted", "call_exception"):
		return wrap(SourceEVM, KindSimulationRevert, false, err)
	case containsAny(msg, "invalid argument", "invalid address", "invalid params"):
		return wrap(SourceEVM, KindValidation, false, err)
	case containsAny(msg, "gas required exceeds", "failed to estimate gas", "cannot estimate gas",
		"unpredictable_gas_limit", "intrinsic gas too low"):
		return wrap(SourceEVM, KindNetworkTransient, true, err)
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return statusKind(SourceEVM, httpErr.StatusCode, err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32602, -32600:
			return wrap(SourceEVM, KindValidation, false, err)
		case -32000, -32603, -32005:
			return wrap(SourceEVM, KindNetworkTransient, true, err)
		}
	}

	if transportFailure(err) || containsAny(msg, "server error", "bad gateway", "service unavailable", "rate limit", "429") {
		return wrap(SourceEVM, KindNetworkTransient, true, err)
	}
	return unknown(SourceEVM, err)
}
