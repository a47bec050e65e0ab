package solana

import (
	"context"
	"crypto/ed25519"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/route"
)

const testMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

type fakeRPC struct {
	mu sync.Mutex

	simulations []SimulationResult
	simulated   int
	sendErrs    []error
	sent        [][]byte
	status      *SignatureStatus
	tx          *ConfirmedTransaction
	accounts    map[string]*AccountInfo
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context) (PublicKey, error) {
	return key(42), nil
}

func (f *fakeRPC) GetBalance(ctx context.Context, owner string) (uint64, error) {
	return 1_000_000, nil
}

func (f *fakeRPC) GetTokenBalance(ctx context.Context, owner, mint string) (*big.Int, error) {
	return big.NewInt(77), nil
}

func (f *fakeRPC) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	return f.accounts[address], nil
}

func (f *fakeRPC) SimulateTransaction(ctx context.Context, tx []byte) (*SimulationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.simulations[min(f.simulated, len(f.simulations)-1)]
	f.simulated++
	return &res, nil
}

func (f *fakeRPC) SendTransaction(ctx context.Context, tx []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return "", err
	}
	f.sent = append(f.sent, tx)
	return "sig", nil
}

func (f *fakeRPC) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	return f.status, nil
}

func (f *fakeRPC) GetTransaction(ctx context.Context, signature string) (*ConfirmedTransaction, error) {
	return f.tx, nil
}

type testSigner struct {
	key ed25519.PrivateKey
}

func (s testSigner) Address() string                { return publicKeyOf(s.key).String() }
func (s testSigner) PrivateKey() ed25519.PrivateKey { return s.key }

func newTestSigner(t *testing.T) testSigner {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return testSigner{key: priv}
}

type stubRoutes struct {
	routes []route.Route
	err    error
}

func (s stubRoutes) BestRoutes(ctx context.Context, req route.Request) ([]route.Route, error) {
	return s.routes, s.err
}

func swapRoute(aggregator string, payer string) route.Route {
	return route.Route{
		Aggregator: aggregator,
		AmountOut:  big.NewInt(500),
		Instructions: []route.Instruction{{
			ProgramID: "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4",
			Accounts: []route.AccountMeta{
				{Address: payer, IsSigner: true, IsWritable: true},
				{Address: testMint},
			},
			Data: []byte{1, 2, 3},
		}},
	}
}

func newTestAdapter(rpc RPC, routes RouteFinder) *Adapter {
	cfg := DefaultConfig()
	cfg.SendStep = time.Millisecond
	cfg.ConfirmPoll = time.Millisecond
	cfg.ConfirmTimeout = 50 * time.Millisecond
	return NewAdapter(rpc, routes, chains.NewRegistry(), cfg, nil, zap.NewNop())
}

func confirmedTokenTx(payer string) *ConfirmedTransaction {
	tx := &ConfirmedTransaction{Meta: &TransactionMeta{Fee: 7000, PreBalances: []uint64{100}, PostBalances: []uint64{90}}}
	tx.Transaction.Message.AccountKeys = []string{payer}
	pre := TokenBalance{AccountIndex: 3, Mint: testMint, Owner: payer}
	pre.UITokenAmount.Amount = "100"
	post := pre
	post.UITokenAmount.Amount = "580"
	tx.Meta.PreTokenBalances = []TokenBalance{pre}
	tx.Meta.PostTokenBalances = []TokenBalance{post}
	return tx
}

func TestSwapHappyPath(t *testing.T) {
	signer := newTestSigner(t)
	payer := signer.Address()
	rpc := &fakeRPC{
		simulations: []SimulationResult{{UnitsConsumed: 100_000}},
		status:      &SignatureStatus{ConfirmationStatus: "confirmed"},
		tx:          confirmedTokenTx(payer),
	}
	a := newTestAdapter(rpc, stubRoutes{routes: []route.Route{swapRoute("jupiter", payer)}})

	res := a.Swap(context.Background(), chain.SwapRequest{
		ChainID:  chains.Solana,
		TokenIn:  chains.SolMint,
		TokenOut: testMint,
		AmountIn: big.NewInt(1000),
		Signer:   signer,
	})
	require.True(t, res.Success, "swap failed: %v", res.Err)
	assert.Equal(t, int64(480), res.TotalReceived.Int64())
	assert.Equal(t, int64(7000), res.Fee.Int64())
	assert.NotEmpty(t, res.Signature)
	require.Len(t, rpc.sent, 1)
}

func TestSwapSkipsFailingSimulation(t *testing.T) {
	signer := newTestSigner(t)
	payer := signer.Address()
	rpc := &fakeRPC{
		simulations: []SimulationResult{
			{Err: json.RawMessage(`{"InstructionError":[2,{"Custom":6001}]}`), Logs: []string{"slippage tolerance exceeded"}},
			{UnitsConsumed: 80_000},
		},
		status: &SignatureStatus{ConfirmationStatus: "finalized"},
		tx:     confirmedTokenTx(payer),
	}
	a := newTestAdapter(rpc, stubRoutes{routes: []route.Route{swapRoute("okx", payer), swapRoute("jupiter", payer)}})

	res := a.Swap(context.Background(), chain.SwapRequest{
		ChainID: chains.Solana, TokenIn: chains.SolMint, TokenOut: testMint, AmountIn: big.NewInt(1000), Signer: signer,
	})
	require.True(t, res.Success, "swap failed: %v", res.Err)
	assert.Equal(t, 2, rpc.simulated)
}

func TestSwapAllSimulationsFail(t *testing.T) {
	signer := newTestSigner(t)
	rpc := &fakeRPC{simulations: []SimulationResult{{Err: json.RawMessage(`"AccountNotFound"`)}}}
	a := newTestAdapter(rpc, stubRoutes{routes: []route.Route{swapRoute("okx", signer.Address())}})

	res := a.Swap(context.Background(), chain.SwapRequest{
		ChainID: chains.Solana, TokenIn: chains.SolMint, TokenOut: testMint, AmountIn: big.NewInt(1000), Signer: signer,
	})
	assert.False(t, res.Success)
	assert.Equal(t, chain.LabelSimulationFailed, res.ErrorLabel)
	assert.False(t, res.Retryable)
	assert.Empty(t, rpc.sent)
}

func TestSwapRetriesSameRouteOnExpiredBlockhash(t *testing.T) {
	signer := newTestSigner(t)
	payer := signer.Address()
	rpc := &fakeRPC{
		simulations: []SimulationResult{{Err: json.RawMessage(`"BlockhashNotFound"`)}, {UnitsConsumed: 90_000}},
		status:      &SignatureStatus{ConfirmationStatus: "confirmed"},
		tx:          confirmedTokenTx(payer),
	}
	a := newTestAdapter(rpc, stubRoutes{routes: []route.Route{swapRoute("okx", payer)}})

	res := a.Swap(context.Background(), chain.SwapRequest{
		ChainID: chains.Solana, TokenIn: chains.SolMint, TokenOut: testMint, AmountIn: big.NewInt(1000), Signer: signer,
	})
	require.True(t, res.Success, "swap failed: %v", res.Err)
	assert.Equal(t, 2, rpc.simulated)
}

func TestSwapUnconfirmedKeepsSignature(t *testing.T) {
	signer := newTestSigner(t)
	rpc := &fakeRPC{simulations: []SimulationResult{{UnitsConsumed: 90_000}}}
	a := newTestAdapter(rpc, stubRoutes{routes: []route.Route{swapRoute("okx", signer.Address())}})

	res := a.Swap(context.Background(), chain.SwapRequest{
		ChainID: chains.Solana, TokenIn: chains.SolMint, TokenOut: testMint, AmountIn: big.NewInt(1000), Signer: signer,
	})
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Signature)
	assert.Nil(t, res.TotalReceived)
}

func TestSubmitResendsSameBytesOnTransientFailure(t *testing.T) {
	signer := newTestSigner(t)
	rpc := &fakeRPC{sendErrs: []error{errors.New("503 service unavailable")}}
	a := newTestAdapter(rpc, stubRoutes{})

	sig, err := a.submit(context.Background(), signer.key, []Instruction{SystemTransfer(publicKeyOf(signer.key), key(9), 10)}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	require.Len(t, rpc.sent, 1)
}

func TestReceivedAmountNativeAddsFeeForPayer(t *testing.T) {
	tx := &ConfirmedTransaction{Meta: &TransactionMeta{
		Fee:          5000,
		PreBalances:  []uint64{1_000_000, 0},
		PostBalances: []uint64{1_495_000, 0},
	}}
	tx.Transaction.Message.AccountKeys = []string{"payer", "other"}

	got, err := receivedAmount(tx, "payer", chains.SolMint)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), got.Int64())

	// a net loss never reports a negative amount
	tx.Meta.PostBalances[0] = 900_000
	got, err = receivedAmount(tx, "payer", chains.SolMint)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Int64())

	_, err = receivedAmount(tx, "stranger", chains.SolMint)
	assert.Error(t, err)
}

func TestReceivedAmountTokenMatchesMintAndOwner(t *testing.T) {
	tx := confirmedTokenTx("payer")
	other := TokenBalance{AccountIndex: 4, Mint: testMint, Owner: "someone"}
	other.UITokenAmount.Amount = "999"
	tx.Meta.PostTokenBalances = append(tx.Meta.PostTokenBalances, other)

	got, err := receivedAmount(tx, "payer", testMint)
	require.NoError(t, err)
	assert.Equal(t, int64(480), got.Int64())

	_, err = receivedAmount(tx, "payer", "OtherMint1111111111111111111111111111111111")
	assert.Error(t, err)
}

func TestTransferTokenCreatesReceiverAccount(t *testing.T) {
	signer := newTestSigner(t)
	mintData := make([]byte, 82)
	mintData[mintDecimalsOffset] = 6
	rpc := &fakeRPC{
		status:   &SignatureStatus{ConfirmationStatus: "confirmed"},
		tx:       &ConfirmedTransaction{Meta: &TransactionMeta{Fee: 5150}},
		accounts: map[string]*AccountInfo{testMint: {Owner: TokenProgram.String(), Data: mintData}},
	}
	a := newTestAdapter(rpc, stubRoutes{})

	res, err := a.Transfer(context.Background(), chain.TransferRequest{
		ChainID:  chains.Solana,
		Token:    testMint,
		Receiver: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		Amount:   big.NewInt(1234),
		Signer:   signer,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5150), res.Fee.Int64())
	require.Len(t, rpc.sent, 1)
}

func TestEstimateNetworkFee(t *testing.T) {
	a := newTestAdapter(&fakeRPC{}, stubRoutes{})
	fee, err := a.EstimateNetworkFee(context.Background(), chains.Solana)
	require.NoError(t, err)
	// (5000 + 250000*30000/1e6) * 1.5
	assert.Equal(t, int64(18750), fee.Int64())

	_, err = a.EstimateNetworkFee(context.Background(), chains.Avalanche)
	assert.ErrorIs(t, err, chain.ErrUnsupportedChain)
}
