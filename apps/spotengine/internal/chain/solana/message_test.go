package solana

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) PublicKey {
	var k PublicKey
	k[0] = b
	k[31] = b
	return k
}

func TestAppendCompactU16(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, appendCompactU16(nil, tc.n), "n=%d", tc.n)
	}
}

func TestCompileMessageOrdersAccountsAndLoadsFromTables(t *testing.T) {
	payer, program, writable, readonly, table := key(1), key(2), key(3), key(4), key(5)
	ix := Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{PublicKey: writable, IsWritable: true},
			{PublicKey: readonly},
			{PublicKey: payer, IsSigner: true, IsWritable: true},
		},
		Data: []byte{9},
	}
	tables := []LookupTable{{Key: table, Addresses: []PublicKey{readonly, writable}}}

	m, err := CompileMessage(payer, []Instruction{ix}, key(6), tables)
	require.NoError(t, err)

	assert.Equal(t, []PublicKey{payer, program}, m.StaticKeys)
	assert.Equal(t, MessageHeader{NumRequiredSignatures: 1, NumReadonlyUnsignedAccounts: 1}, m.Header)
	require.Len(t, m.instructions, 1)
	assert.Equal(t, uint8(1), m.instructions[0].programIndex)
	// loaded writable accounts follow the static keys, then loaded readonly ones
	assert.Equal(t, []uint8{2, 3, 0}, m.instructions[0].accounts)

	raw := m.Serialize()
	assert.Equal(t, []byte{0x80, 1, 0, 1, 2}, raw[:5])
	assert.Equal(t, []byte{1, 1, 1, 0}, raw[len(raw)-4:])
}

func TestCompileMessageKeepsSignersStatic(t *testing.T) {
	payer, program, other := key(1), key(2), key(3)
	ix := Instruction{ProgramID: program, Accounts: []AccountMeta{{PublicKey: other, IsSigner: true}}}
	tables := []LookupTable{{Key: key(5), Addresses: []PublicKey{other, program}}}

	m, err := CompileMessage(payer, []Instruction{ix}, key(6), tables)
	require.NoError(t, err)
	assert.Equal(t, []PublicKey{payer, other, program}, m.StaticKeys)
	assert.Equal(t, uint8(2), m.Header.NumRequiredSignatures)
	assert.Equal(t, uint8(1), m.Header.NumReadonlySignedAccounts)
	assert.Empty(t, m.lookups)
}

func TestSignTransaction(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var payer PublicKey
	copy(payer[:], pub)

	m, err := CompileMessage(payer, []Instruction{SystemTransfer(payer, key(7), 1000)}, key(6), nil)
	require.NoError(t, err)
	tx, sig, err := SignTransaction(m, priv)
	require.NoError(t, err)

	assert.Equal(t, byte(1), tx[0])
	assert.Equal(t, sig, tx[1:65])
	assert.True(t, ed25519.Verify(pub, tx[65:], sig))

	_, other, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, _, err = SignTransaction(m, other)
	assert.Error(t, err)
}

func TestParseLookupTable(t *testing.T) {
	data := make([]byte, lookupTableHeaderSize+64)
	copy(data[lookupTableHeaderSize:], key(3).bytes())
	copy(data[lookupTableHeaderSize+32:], key(4).bytes())

	table, err := ParseLookupTable(key(9), data)
	require.NoError(t, err)
	assert.Equal(t, []PublicKey{key(3), key(4)}, table.Addresses)

	_, err = ParseLookupTable(key(9), data[:lookupTableHeaderSize+10])
	assert.Error(t, err)
}

func (k PublicKey) bytes() []byte {
	return k[:]
}
