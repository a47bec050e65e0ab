package errclass

import (
	"errors"
	"strings"
)

// SimulationFailure is reported when a signed Solana transaction fails simulation.
type SimulationFailure struct {
	Reason string
	Logs   []string
}

func (e *SimulationFailure) Error() string {
	return "transaction simulation failed: " + e.Reason
}

func classifySolana(err error) *Error {
	var sim *SimulationFailure
	if errors.As(err, &sim) {
		if blockhashExpired(sim.Reason) || blockhashExpired(strings.Join(sim.Logs, "\n")) {
			return wrap(SourceSolana, KindBlockhashRace, true, err)
		}
		return wrap(SourceSolana, KindSimulationRevert, false, err)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case blockhashExpired(msg):
		return wrap(SourceSolana, KindBlockhashRace, true, err)
	case containsAny(lower, "insufficient funds", "insufficient lamports"):
		return wrap(SourceSolana, KindInsufficientFunds, false, err)
	case containsAny(lower, "slippage", "custom program error: 0x1771", "custom program error: 0x1788"):
		return wrap(SourceSolana, KindSimulationRevert, false, err)
	case containsAny(lower, "invalid param", "invalid base58", "wrongsize", "invalid account data"):
		return wrap(SourceSolana, KindValidation, false, err)
	case containsAny(lower, "429", "too many requests", "node is behind", "service unavailable", "502", "503", "504"):
		return wrap(SourceSolana, KindNetworkTransient, true, err)
	}

	var status *StatusError
	if errors.As(err, &status) {
		return statusKind(SourceSolana, status.StatusCode, err)
	}
	if transportFailure(err) {
		return wrap(SourceSolana, KindNetworkTransient, true, err)
	}
	return unknown(SourceSolana, err)
}

func blockhashExpired(s string) bool {
	lower := strings.ToLower(s)
	return containsAny(lower, "blockhash not found", "block height exceeded", "blockhashnotfound",
		"transactionexpiredblockheightexceeded", "blockhash expired")
}
