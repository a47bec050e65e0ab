package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	c, ok := r.Get(Avalanche)
	require.True(t, ok)
	assert.Equal(t, FamilyEVM, c.Family)
	assert.Equal(t, "avalanche", c.Name)
	assert.Equal(t, LFJRouter, c.Router)

	sol, ok := r.Get(Solana)
	require.True(t, ok)
	assert.Equal(t, FamilySolana, sol.Family)
	assert.Equal(t, 9, sol.NativeToken().Decimals)
	assert.True(t, sol.NativeToken().IsNative)

	_, ok = r.Get(999)
	assert.False(t, ok)
	assert.Len(t, r.IDs(), 6)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "1:0xabc", Key(Ethereum, "0xABC"))
	assert.Equal(t, "1399811149:epjfwdd5", Key(Solana, "EPjFWdd5"))
	assert.True(t, IsNative("0x0000000000000000000000000000000000000000"))
	assert.False(t, IsNative(SolMint))
}
