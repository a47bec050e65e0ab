// Package errclass maps failures from chain RPC, HTTP APIs and the database into one
// taxonomy with an explicit retryable flag.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type Source string

const (
	SourceEVM    Source = "evm"
	SourceSolana Source = "solana"
	SourceHTTP   Source = "http"
	SourceStore  Source = "store"
)

type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindRouteUnavailable  Kind = "ROUTE_UNAVAILABLE"
	KindNonceRace         Kind = "NONCE_RACE"
	KindBlockhashRace     Kind = "BLOCKHASH_RACE"
	KindSimulationRevert  Kind = "SIMULATION_REVERT"
	KindNetworkTransient  Kind = "NETWORK_TRANSIENT"
	KindPriceUnavailable  Kind = "PRICE_UNAVAILABLE"
	KindRejected          Kind = "REJECTED"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindUnexpected        Kind = "UNEXPECTED"
	KindUnknown           Kind = "UNKNOWN"
)

// Error is a classified failure. It wraps the original cause.
type Error struct {
	Source    Source
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %s", e.Source, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s %s", e.Source, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error without an underlying cause.
func New(source Source, kind Kind, retryable bool, message string) *Error {
	return &Error{Source: source, Kind: kind, Retryable: retryable, Message: message}
}

// Classify maps err into the taxonomy. An already classified error is returned as is.
// Unrecognised failures are UNKNOWN and not retryable. A nil err yields nil.
func Classify(err error, source Source) (out *Error) {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	defer func() {
		if r := recover(); r != nil {
			out = &Error{Source: source, Kind: KindUnknown, Message: fmt.Sprint(r), Err: err}
		}
	}()

	switch source {
	case SourceEVM:
		return classifyEVM(err)
	case SourceSolana:
		return classifySolana(err)
	case SourceHTTP:
		return classifyHTTP(err)
	case SourceStore:
		return classifyStore(err)
	}
	return unknown(source, err)
}

// IsRetryable reports whether err classifies as retryable for source.
func IsRetryable(err error, source Source) bool {
	c := Classify(err, source)
	return c != nil && c.Retryable
}

// KindOf returns the classified kind of err, KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

func unknown(source Source, err error) *Error {
	return &Error{Source: source, Kind: KindUnknown, Message: err.Error(), Err: err}
}

func wrap(source Source, kind Kind, retryable bool, err error) *Error {
	return &Error{Source: source, Kind: kind, Retryable: retryable, Message: err.Error(), Err: err}
}

// transportFailure recognises timeouts and connection level failures shared by every source.
func transportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return containsAny(msg,
		"timeout", "timed out", "connection refused", "connection reset",
		"broken pipe", "no such host", "eof", "network is unreachable", "tls handshake")
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
