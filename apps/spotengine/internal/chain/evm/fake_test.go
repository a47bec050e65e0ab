package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/route"
)

type fakeClient struct {
	mu sync.Mutex

	pendingNonce  uint64
	gasPrice      *big.Int
	gasEstimate   uint64
	estimateErr   error
	sendErrs      []error
	balances      map[string]*big.Int // keyed by block number, "" for latest
	callResults   map[string][]byte   // keyed by method id hex
	receipt       *types.Receipt
	nonceReads    int
	sent          []*types.Transaction
	sendAttempts  int
	estimateCalls int

	// mempool makes sends behave like a node: accepted transactions consume their nonce,
	// and lostAcks of them still report a timeout to the caller. With dedupe a resend of
	// an accepted transaction is "already known".
	mempool  bool
	dedupe   bool
	lostAcks int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		gasPrice:    big.NewInt(1),
		gasEstimate: 100_000,
		balances:    map[string]*big.Int{},
		callResults: map[string][]byte{},
	}
}

func (f *fakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callResults[common.Bytes2Hex(msg.Data[:4])], nil
}

func (f *fakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimateCalls++
	return f.gasEstimate, f.estimateErr
}

func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceReads++
	return f.pendingNonce, nil
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendAttempts++
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		if len(f.sendErrs) > 1 {
			f.sendErrs = f.sendErrs[1:]
		}
		if err != nil {
			return err
		}
	}
	if f.mempool {
		if f.dedupe {
			for _, known := range f.sent {
				if known.Hash() == tx.Hash() {
					return errors.New("already known")
				}
			}
		}
		if tx.Nonce() < f.pendingNonce {
			return fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", f.pendingNonce, tx.Nonce())
		}
		f.pendingNonce = tx.Nonce() + 1
	}
	f.sent = append(f.sent, tx)
	if f.lostAcks > 0 {
		f.lostAcks--
		return errors.New("write tcp 10.0.0.1:443: i/o timeout")
	}
	return nil
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receipt == nil {
		return nil, ethereum.NotFound
	}
	r := *f.receipt
	r.TxHash = txHash
	return &r, nil
}

func (f *fakeClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	key := ""
	if blockNumber != nil {
		key = blockNumber.String()
	}
	if b, ok := f.balances[key]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

type testSigner struct {
	key *ecdsa.PrivateKey
}

func (s testSigner) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

func (s testSigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

func newTestSigner(t *testing.T) testSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return testSigner{key: key}
}

type stubRoutes struct {
	routes []route.Route
	err    error
}

func (s stubRoutes) BestRoutes(ctx context.Context, req route.Request) ([]route.Route, error) {
	return s.routes, s.err
}

func newTestAdapter(t *testing.T, client Client, routes RouteFinder) *Adapter {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SendDelay = time.Millisecond
	cfg.ReceiptPoll = time.Millisecond
	cfg.ReceiptTimeout = 50 * time.Millisecond
	a, err := NewAdapter(map[uint64]Client{chains.Avalanche: client}, routes, chains.NewRegistry(),
		NewNonceTracker(16, time.Minute), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	return a
}

func transferLog(token, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics:  []common.Hash{TransferEventSig, {}, common.BytesToHash(to.Bytes())},
		Data:    common.LeftPadBytes(amount.Bytes(), 32),
	}
}
