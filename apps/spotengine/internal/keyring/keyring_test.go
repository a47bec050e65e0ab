package keyring

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"spotengine/apps/spotengine/internal/chain/evm"
	"spotengine/apps/spotengine/internal/chain/solana"
	"spotengine/apps/spotengine/internal/model"
)

var (
	_ evm.KeySigner    = (*EVMSigner)(nil)
	_ solana.KeySigner = (*SolanaSigner)(nil)
)

func newKeyring(t *testing.T) *Keyring {
	t.Helper()
	k, err := New(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return k
}

func TestEVMSigner(t *testing.T) {
	k := newKeyring(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	sealed, err := k.Seal(address, crypto.FromECDSA(key))
	require.NoError(t, err)
	assert.Contains(t, sealed, "ENC[v1]:")

	s, err := k.Signer(model.Wallet{Address: address, EncryptedKey: sealed, Network: model.NetworkEVM})
	require.NoError(t, err)
	assert.Equal(t, address, s.Address())
	assert.Equal(t, key.D, s.(*EVMSigner).PrivateKey().D)
}

func TestSolanaSignerFromSeed(t *testing.T) {
	k := newKeyring(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	address := base58.Encode(pub)

	sealed, err := k.Seal(address, priv.Seed())
	require.NoError(t, err)

	s, err := k.Signer(model.Wallet{Address: address, EncryptedKey: sealed, Network: model.NetworkSolana})
	require.NoError(t, err)
	assert.Equal(t, address, s.Address())
	assert.Equal(t, priv, s.(*SolanaSigner).PrivateKey())
}

func TestSignerFailures(t *testing.T) {
	k := newKeyring(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	sealed, err := k.Seal(address, crypto.FromECDSA(key))
	require.NoError(t, err)

	_, err = k.Signer(model.Wallet{Address: address, Network: model.NetworkEVM})
	assert.ErrorIs(t, err, ErrNoKey)

	// the ciphertext is bound to its wallet address
	_, err = k.Signer(model.Wallet{Address: "0x0000000000000000000000000000000000000001", EncryptedKey: sealed, Network: model.NetworkEVM})
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	other, err := New(bytes.Repeat([]byte{8}, 32))
	require.NoError(t, err)
	_, err = other.Signer(model.Wallet{Address: address, EncryptedKey: sealed, Network: model.NetworkEVM})
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = k.Signer(model.Wallet{Address: address, EncryptedKey: "plaintext", Network: model.NetworkEVM})
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = New([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidMasterKey)
}
