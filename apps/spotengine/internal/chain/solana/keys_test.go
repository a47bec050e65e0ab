package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePublicKey(t *testing.T) {
	k, err := ParsePublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	require.NoError(t, err)
	assert.Equal(t, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", k.String())
	assert.True(t, SystemProgram.IsZero())

	_, err = ParsePublicKey("abc")
	assert.Error(t, err)
	_, err = ParsePublicKey("0OIl")
	assert.Error(t, err)
}

func TestAssociatedTokenAddressIsOffCurve(t *testing.T) {
	owner := MustPublicKey("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	usdc := MustPublicKey("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	ata, err := AssociatedTokenAddress(owner, usdc, TokenProgram)
	require.NoError(t, err)
	assert.False(t, onCurve(ata[:]))

	again, err := AssociatedTokenAddress(owner, usdc, TokenProgram)
	require.NoError(t, err)
	assert.Equal(t, ata, again)

	other, err := AssociatedTokenAddress(owner, WrappedSOLMint, TokenProgram)
	require.NoError(t, err)
	assert.NotEqual(t, ata, other)

	token2022, err := AssociatedTokenAddress(owner, usdc, Token2022Program)
	require.NoError(t, err)
	assert.NotEqual(t, ata, token2022)
}

func TestCreateProgramAddressRejectsLongSeed(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, 33)}, TokenProgram)
	assert.Error(t, err)
}

func TestIsNative(t *testing.T) {
	assert.True(t, isNative("0x0000000000000000000000000000000000000000"))
	assert.True(t, isNative("So11111111111111111111111111111111111111112"))
	assert.True(t, isNative("11111111111111111111111111111111"))
	assert.False(t, isNative("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"))
}
