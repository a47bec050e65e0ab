package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/metrics"
	"spotengine/apps/spotengine/internal/units"
)

type Config struct {
	// SendRetries bounds submission attempts on retryable send failures.
	SendRetries uint
	SendDelay   time.Duration
	ReceiptPoll time.Duration
	// ReceiptTimeout bounds how long a broadcast transaction is awaited before the
	// swap is reported as broadcast without a receipt.
	ReceiptTimeout time.Duration
	GasBufferBps   uint64
	// SwapGasEstimate sizes the network fee reserved before a route is known.
	SwapGasEstimate uint64
}

func DefaultConfig() Config {
	return Config{
		SendRetries:     2,
		SendDelay:       time.Second,
		ReceiptPoll:     time.Second,
		ReceiptTimeout:  2 * time.Minute,
		GasBufferBps:    15000,
		SwapGasEstimate: 400_000,
	}
}

// Adapter implements chain.Adapter for every configured EVM chain.
type Adapter struct {
	clients map[uint64]Client
	routes  RouteFinder
	chains  *chains.Registry
	nonces  *NonceTracker
	cfg     Config
	erc20   abi.ABI
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAdapter creates an EVM adapter over one client per chain id
func NewAdapter(clients map[uint64]Client, routes RouteFinder, registry *chains.Registry, nonces *NonceTracker, cfg Config, m *metrics.Metrics, logger *zap.Logger) (*Adapter, error) {
	parsedABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return &Adapter{
		clients: clients,
		routes:  routes,
		chains:  registry,
		nonces:  nonces,
		cfg:     cfg,
		erc20:   parsedABI,
		metrics: m,
		logger:  logger,
	}, nil
}

var _ chain.Adapter = (*Adapter)(nil)

func (a *Adapter) resolve(chainID uint64) (*chains.Chain, Client, error) {
	c, ok := a.chains.Get(chainID)
	if !ok || c.Family != chains.FamilyEVM {
		return nil, nil, fmt.Errorf("%w: %d", chain.ErrUnsupportedChain, chainID)
	}
	client, ok := a.clients[chainID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no rpc client for %d", chain.ErrUnsupportedChain, chainID)
	}
	return c, client, nil
}

func (a *Adapter) Balance(ctx context.Context, chainID uint64, owner, token string) (*big.Int, error) {
	_, client, err := a.resolve(chainID)
	if err != nil {
		return nil, err
	}
	if chains.IsNative(token) {
		balance, err := client.BalanceAt(ctx, common.HexToAddress(owner), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get native balance: %w", err)
		}
		return balance, nil
	}
	return a.erc20Uint(ctx, client, common.HexToAddress(token), "balanceOf", common.HexToAddress(owner))
}

// EstimateNetworkFee prices a typical swap at the current gas price, buffered.
func (a *Adapter) EstimateNetworkFee(ctx context.Context, chainID uint64) (*big.Int, error) {
	_, client, err := a.resolve(chainID)
	if err != nil {
		return nil, err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return a.bufferedFee(a.cfg.SwapGasEstimate, gasPrice), nil
}

func (a *Adapter) bufferedFee(gas uint64, gasPrice *big.Int) *big.Int {
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
	return units.MulBps(fee, a.cfg.GasBufferBps)
}

func (a *Adapter) bufferedGas(gas uint64) uint64 {
	return gas * a.cfg.GasBufferBps / units.BasisPointDivisor
}

// erc20Uint calls a uint256 view method of an ERC20 token.
func (a *Adapter) erc20Uint(ctx context.Context, client Client, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := a.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	var value *big.Int
	if err := a.erc20.UnpackIntoInterface(&value, method, result); err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return value, nil
}
