package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// PrecisionDecimals is the fixed-point scale of every USD amount and price.
	PrecisionDecimals = 30
	// BasisPointDivisor is 100% expressed in basis points.
	BasisPointDivisor = 10000
)

var bpsDivisor = big.NewInt(BasisPointDivisor)

// ExpandDecimals returns n * 10^decimals.
func ExpandDecimals(n int64, decimals int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return scale.Mul(scale, big.NewInt(n))
}

// ConvertToUSD values amount (in token base units) at price (USD scaled by PrecisionDecimals).
// The result is USD scaled by PrecisionDecimals.
func ConvertToUSD(amount *big.Int, decimals int, price *big.Int) *big.Int {
	if amount == nil || price == nil {
		return new(big.Int)
	}
	usd := new(big.Int).Mul(amount, price)
	return usd.Quo(usd, ExpandDecimals(1, decimals))
}

// ConvertToTokenAmount is the inverse of ConvertToUSD. A zero price yields zero.
func ConvertToTokenAmount(usd *big.Int, decimals int, price *big.Int) *big.Int {
	if usd == nil || price == nil || price.Sign() == 0 {
		return new(big.Int)
	}
	amount := new(big.Int).Mul(usd, ExpandDecimals(1, decimals))
	return amount.Quo(amount, price)
}

// MulBps returns x * bps / 10000, truncated.
func MulBps(x *big.Int, bps uint64) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(x, new(big.Int).SetUint64(bps))
	return out.Quo(out, bpsDivisor)
}

// ParseUnits converts a decimal string such as "1.25" or "3e-7" into an integer scaled by
// 10^decimals. Digits beyond the scale are rounded half up.
func ParseUnits(value string, decimals int) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("invalid number format: empty")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid number format %q: %w", value, err)
	}
	return d.Shift(int32(decimals)).Round(0).BigInt(), nil
}

// FormatUnits renders a scaled integer back into a decimal string.
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, int32(-decimals)).String()
}

// Clone returns a copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsPositive reports whether v is non-nil and greater than zero.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
