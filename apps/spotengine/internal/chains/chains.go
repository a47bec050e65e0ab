package chains

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"spotengine/apps/spotengine/internal/model"
)

type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

const (
	Ethereum  uint64 = 1
	BSC       uint64 = 56
	Arbitrum  uint64 = 42161
	Avalanche uint64 = 43114
	Base      uint64 = 8453
	Solana    uint64 = 1399811149
)

// NativeAddress is the sentinel token address for a chain's native asset on every family.
var NativeAddress = common.Address{}.Hex()

const (
	SolMint         = "So11111111111111111111111111111111111111112"
	SystemProgramID = "11111111111111111111111111111111"
	// LFJRouter is the aggregator router that pulls ERC20 input tokens.
	LFJRouter = "0x45A62B090DF48243F12A21897e7ed91863E2c86b"
)

// Chain describes a supported network.
type Chain struct {
	ID     uint64
	Family Family
	// Name is the path segment the route API expects.
	Name           string
	Symbol         string
	NativeDecimals int
	WrappedNative  model.Token
	Stable         model.Token
	// MaxGasFee is the ceiling for a buffered network fee in native base units.
	MaxGasFee *big.Int
	Router    string
}

// Registry holds all supported chains
type Registry struct {
	chains map[uint64]*Chain
}

// NewRegistry creates a registry with every supported chain
func NewRegistry() *Registry {
	r := &Registry{chains: make(map[uint64]*Chain)}

	supported := []*Chain{
		{
			ID: Ethereum, Family: FamilyEVM, Name: "ethereum", Symbol: "ETH", NativeDecimals: 18,
			WrappedNative: model.Token{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18},
			Stable:        model.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
			MaxGasFee:     big.NewInt(10_000_000_000_000),
			Router:        LFJRouter,
		},
		{
			ID: BSC, Family: FamilyEVM, Name: "bsc", Symbol: "BNB", NativeDecimals: 18,
			WrappedNative: model.Token{Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Symbol: "WBNB", Decimals: 18},
			Stable:        model.Token{Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Symbol: "USDC", Decimals: 18},
			MaxGasFee:     big.NewInt(1_000_000_000_000_000),
			Router:        LFJRouter,
		},
		{
			ID: Arbitrum, Family: FamilyEVM, Name: "arbitrum", Symbol: "ETH", NativeDecimals: 18,
			WrappedNative: model.Token{Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Symbol: "WETH", Decimals: 18},
			Stable:        model.Token{Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Symbol: "USDC", Decimals: 6},
			MaxGasFee:     big.NewInt(40_000_000_000_000),
			Router:        LFJRouter,
		},
		{
			ID: Avalanche, Family: FamilyEVM, Name: "avalanche", Symbol: "AVAX", NativeDecimals: 18,
			WrappedNative: model.Token{Address: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7", Symbol: "WAVAX", Decimals: 18},
			Stable:        model.Token{Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Symbol: "USDC", Decimals: 6},
			MaxGasFee:     big.NewInt(2_000_000_000_000_000),
			Router:        LFJRouter,
		},
		{
			ID: Base, Family: FamilyEVM, Name: "base", Symbol: "ETH", NativeDecimals: 18,
			WrappedNative: model.Token{Address: "0x4200000000000000000000000000000000000006", Symbol: "WETH", Decimals: 18},
			Stable:        model.Token{Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6},
			MaxGasFee:     big.NewInt(40_000_000_000_000),
			Router:        LFJRouter,
		},
		{
			ID: Solana, Family: FamilySolana, Name: "solana", Symbol: "SOL", NativeDecimals: 9,
			WrappedNative: model.Token{Address: SolMint, Symbol: "WSOL", Decimals: 9},
			Stable:        model.Token{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Decimals: 6},
			MaxGasFee:     big.NewInt(10_000_000),
		},
	}

	for _, c := range supported {
		r.chains[c.ID] = c
	}
	return r
}

// Get returns a chain by id
func (r *Registry) Get(id uint64) (*Chain, bool) {
	c, ok := r.chains[id]
	return c, ok
}

// MustGet is Get for ids that were already validated.
func (r *Registry) MustGet(id uint64) *Chain {
	c, ok := r.chains[id]
	if !ok {
		panic(fmt.Sprintf("unsupported chain %d", id))
	}
	return c
}

// IDs returns every supported chain id
func (r *Registry) IDs() []uint64 {
	ids := make([]uint64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	return ids
}

// IsNative reports whether address is the native sentinel. Comparison ignores case.
func IsNative(address string) bool {
	return strings.EqualFold(address, NativeAddress)
}

// Key builds the "chainId:lowercase(address)" key used by caches and ledgers.
func Key(chainID uint64, address string) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(address))
}

// NativeToken describes the native asset of c using the sentinel address.
func (c *Chain) NativeToken() model.Token {
	return model.Token{Address: NativeAddress, Symbol: c.Symbol, Decimals: c.NativeDecimals, IsNative: true}
}

// PricedTokens are the tokens whose USD prices are kept warm for fee and cost accounting.
func (c *Chain) PricedTokens() []model.Token {
	return []model.Token{c.WrappedNative, c.Stable}
}
