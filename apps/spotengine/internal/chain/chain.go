// Package chain defines the capability every chain family implements and selects the
// implementation once per chain id.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"spotengine/apps/spotengine/internal/errclass"
)

var ErrUnsupportedChain = errors.New("unsupported chain")

// Failure labels surfaced by Swap.
const (
	LabelRouteOracleFailed = "ROUTE_ORACLE_FAILED"
	LabelNoRouteFound      = "NO_ROUTE_FOUND"
	LabelApproveFailed     = "APPROVE_FAILED"
	LabelTxNonceFailed     = "TX_NONCE_FAILED"
	LabelSimulationFailed  = "SIMULATION_FAILED"
	LabelTxFailed          = "TX_FAILED"
	LabelSwapFailed        = "SWAP_FAILED"
	LabelSuccess           = "SUCCESS"
)

// Signer is the signing handle of one wallet. Concrete signers live in keyring.
type Signer interface {
	Address() string
}

type SwapRequest struct {
	ChainID     uint64
	TokenIn     string
	TokenOut    string
	AmountIn    *big.Int
	SlippageBps uint64
	Signer      Signer
}

// SwapResult is a tagged outcome. Swap never returns an error; failures carry a label and
// the retryable flag instead. A successful swap may still miss TotalReceived when the
// receipt could not be parsed.
type SwapResult struct {
	Success       bool
	Signature     string
	TotalReceived *big.Int
	Fee           *big.Int
	ErrorLabel    string
	Retryable     bool
	Err           error
}

// Label is the outcome label recorded for the swap.
func (r SwapResult) Label() string {
	switch {
	case r.Success:
		return LabelSuccess
	case r.ErrorLabel == "":
		return LabelTxFailed
	default:
		return r.ErrorLabel
	}
}

// Failed builds a failed result from err, classified for source.
func Failed(label string, source errclass.Source, err error) SwapResult {
	c := errclass.Classify(err, source)
	if c == nil {
		c = errclass.New(source, errclass.KindUnknown, false, label)
	}
	return SwapResult{ErrorLabel: label, Retryable: c.Retryable, Err: c}
}

type TransferRequest struct {
	ChainID  uint64
	Token    string
	Receiver string
	Amount   *big.Int
	Signer   Signer
}

type TransferResult struct {
	Signature string
	Fee       *big.Int
}

type TxInfoRequest struct {
	ChainID   uint64
	Signature string
	Receiver  string
	TokenOut  string
}

type TxInfo struct {
	TotalReceived *big.Int
	Fee           *big.Int
}

// Adapter is implemented once per chain family.
type Adapter interface {
	Swap(ctx context.Context, req SwapRequest) SwapResult
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	Balance(ctx context.Context, chainID uint64, owner, token string) (*big.Int, error)
	TxInfo(ctx context.Context, req TxInfoRequest) (TxInfo, error)
	EstimateNetworkFee(ctx context.Context, chainID uint64) (*big.Int, error)
}

// Registry maps chain ids to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[uint64]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[uint64]Adapter)}
}

func (r *Registry) Register(chainID uint64, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[chainID] = adapter
}

// For returns the adapter serving chainID.
func (r *Registry) For(chainID uint64) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return a, nil
}

// Balance reads an on-chain balance through the adapter for chainID.
func (r *Registry) Balance(ctx context.Context, chainID uint64, owner, token string) (*big.Int, error) {
	a, err := r.For(chainID)
	if err != nil {
		return nil, err
	}
	return a.Balance(ctx, chainID, owner, token)
}
