// Package route finds swap routes across third-party aggregators.
package route

import (
	"context"
	"math/big"
)

// EVM and Solana aggregators queried per chain family.
var (
	EVMAggregators    = []string{"okx", "joe", "flytrade", "odos", "kyber"}
	SolanaAggregators = []string{"okx", "jupiter"}
)

// Request describes a swap to quote.
type Request struct {
	TokenIn     string
	TokenOut    string
	AmountIn    *big.Int
	SlippageBps uint64
	ChainID     uint64
	UserAddress string
}

// EVMTx is the ready-to-sign call returned by an EVM aggregator.
type EVMTx struct {
	To    string
	From  string
	Data  []byte
	Value *big.Int
}

type AccountMeta struct {
	Address    string
	IsSigner   bool
	IsWritable bool
}

type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// Route is one priced quote. Exactly one of EVM or Instructions is populated.
type Route struct {
	Aggregator   string
	AmountOut    *big.Int
	EVM          *EVMTx
	LookupTables []string
	Instructions []Instruction
}

// Valid reports whether the quote can be executed.
func (r *Route) Valid() bool {
	if r == nil || r.AmountOut == nil || r.AmountOut.Sign() <= 0 {
		return false
	}
	return r.EVM != nil || len(r.Instructions) > 0
}

// Quoter fetches a single aggregator's quote.
type Quoter interface {
	Quote(ctx context.Context, aggregator string, req Request) (*Route, error)
}
