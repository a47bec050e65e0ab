package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		decimals int
		want     string
	}{
		{"integer", "12", 6, "12000000"},
		{"fraction", "1.5", 6, "1500000"},
		{"scientific", "3e-7", 9, "300"},
		{"round half up", "0.0000015", 6, "2"},
		{"truncate below half", "0.0000014", 6, "1"},
		{"leading dot", ".25", 2, "25"},
		{"usd precision", "0.000123", PrecisionDecimals, "123000000000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUnits(tt.value, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseUnitsRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "abc", "1.2.3"} {
		_, err := ParseUnits(value, 18)
		assert.Error(t, err, value)
	}
}

func TestConvertToUSD(t *testing.T) {
	// 2.5 tokens (6 decimals) at $4 = $10
	price, err := ParseUnits("4", PrecisionDecimals)
	require.NoError(t, err)

	usd := ConvertToUSD(big.NewInt(2_500_000), 6, price)
	assert.Equal(t, ExpandDecimals(10, PrecisionDecimals).String(), usd.String())

	back := ConvertToTokenAmount(usd, 6, price)
	assert.Equal(t, "2500000", back.String())
}

func TestConvertToTokenAmountZeroPrice(t *testing.T) {
	assert.Equal(t, int64(0), ConvertToTokenAmount(big.NewInt(100), 6, new(big.Int)).Int64())
}

func TestMulBps(t *testing.T) {
	assert.Equal(t, int64(10), MulBps(big.NewInt(10_000), 10).Int64())
	assert.Equal(t, int64(15), MulBps(big.NewInt(10), 15000).Int64())
	assert.Equal(t, int64(0), MulBps(nil, 10).Int64())
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatUnits(big.NewInt(1_500_000), 6))
	assert.Equal(t, "0", FormatUnits(nil, 6))
}
