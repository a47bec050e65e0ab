package solana

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/metrics"
	"spotengine/apps/spotengine/internal/route"
	"spotengine/apps/spotengine/internal/units"
)

const (
	// BaseFeeLamports is the signature fee of a single-signer transaction.
	BaseFeeLamports = 5000
	// MaxComputeUnits is the limit routes are simulated under.
	MaxComputeUnits      = 1_400_000
	transferComputeUnits = 100_000
)

var (
	ErrConfirmationTimeout = errors.New("transaction not confirmed in time")
	ErrFeeLimitExceeded    = errors.New("network fee above chain ceiling")
)

type Config struct {
	PriorityMicroLamports uint64
	// DefaultComputeUnits sizes the fee reserved before a route is simulated.
	DefaultComputeUnits uint64
	ComputeBufferBps    uint64
	SendRetries         uint
	SendStep            time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPoll         time.Duration
}

func DefaultConfig() Config {
	return Config{
		PriorityMicroLamports: 30_000,
		DefaultComputeUnits:   250_000,
		ComputeBufferBps:      15000,
		SendRetries:           3,
		SendStep:              time.Second,
		ConfirmTimeout:        time.Minute,
		ConfirmPoll:           2 * time.Second,
	}
}

// KeySigner is a Solana wallet able to sign messages.
type KeySigner interface {
	chain.Signer
	PrivateKey() ed25519.PrivateKey
}

// RouteFinder ranks aggregator routes. *route.Aggregator implements it.
type RouteFinder interface {
	BestRoutes(ctx context.Context, req route.Request) ([]route.Route, error)
}

// Adapter implements chain.Adapter for Solana.
type Adapter struct {
	rpc     RPC
	routes  RouteFinder
	chains  *chains.Registry
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAdapter creates a Solana adapter
func NewAdapter(rpc RPC, routes RouteFinder, registry *chains.Registry, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Adapter {
	return &Adapter{
		rpc:     rpc,
		routes:  routes,
		chains:  registry,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

var _ chain.Adapter = (*Adapter)(nil)

func (a *Adapter) resolve(chainID uint64) (*chains.Chain, error) {
	c, ok := a.chains.Get(chainID)
	if !ok || c.Family != chains.FamilySolana {
		return nil, fmt.Errorf("%w: %d", chain.ErrUnsupportedChain, chainID)
	}
	return c, nil
}

func (a *Adapter) Balance(ctx context.Context, chainID uint64, owner, token string) (*big.Int, error) {
	if _, err := a.resolve(chainID); err != nil {
		return nil, err
	}
	if isNative(token) {
		lamports, err := a.rpc.GetBalance(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to get SOL balance: %w", err)
		}
		return new(big.Int).SetUint64(lamports), nil
	}
	balance, err := a.rpc.GetTokenBalance(ctx, owner, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get token balance: %w", err)
	}
	return balance, nil
}

// EstimateNetworkFee prices a typical swap before its compute units are known.
func (a *Adapter) EstimateNetworkFee(ctx context.Context, chainID uint64) (*big.Int, error) {
	if _, err := a.resolve(chainID); err != nil {
		return nil, err
	}
	return a.networkFee(a.cfg.DefaultComputeUnits), nil
}

// networkFee is (base fee + units * priority price / 1e6), buffered.
func (a *Adapter) networkFee(computeUnits uint64) *big.Int {
	priority := new(big.Int).Mul(new(big.Int).SetUint64(computeUnits), new(big.Int).SetUint64(a.cfg.PriorityMicroLamports))
	priority.Quo(priority, big.NewInt(1_000_000))
	fee := priority.Add(priority, big.NewInt(BaseFeeLamports))
	return units.MulBps(fee, a.cfg.ComputeBufferBps)
}

// withComputeBudget prepends limit and price instructions unless ixs already carry them.
func (a *Adapter) withComputeBudget(ixs []Instruction, limit uint64) []Instruction {
	for _, ix := range ixs {
		if ix.ProgramID == ComputeBudgetProgram {
			return ixs
		}
	}
	if limit > MaxComputeUnits {
		limit = MaxComputeUnits
	}
	out := make([]Instruction, 0, len(ixs)+2)
	out = append(out, SetComputeUnitLimit(uint32(limit)), SetComputeUnitPrice(a.cfg.PriorityMicroLamports))
	return append(out, ixs...)
}

func publicKeyOf(key ed25519.PrivateKey) PublicKey {
	var pk PublicKey
	copy(pk[:], key.Public().(ed25519.PublicKey))
	return pk
}

func signerKey(s chain.Signer) (ed25519.PrivateKey, error) {
	ks, ok := s.(KeySigner)
	if !ok {
		return nil, errors.New("signer is not a solana key")
	}
	key := ks.PrivateKey()
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid solana key length %d", len(key))
	}
	return key, nil
}
