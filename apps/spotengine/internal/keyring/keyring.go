// Package keyring decrypts stored wallet keys into chain signers.
package keyring

import (
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/chacha20poly1305"
	"spotengine/apps/spotengine/internal/chain"
	"spotengine/apps/spotengine/internal/model"
)

// envelopePrefix tags ciphertexts produced by this keyring: ENC[v1]:base64(nonce+ciphertext)
const envelopePrefix = "ENC[v1]:"

var (
	ErrNoKey             = errors.New("wallet has no key")
	ErrInvalidMasterKey  = errors.New("master key must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrAddressMismatch   = errors.New("decrypted key does not match wallet address")
)

// Keyring holds the master key wallet keys are sealed with.
type Keyring struct {
	aead cipher.AEAD
}

// New creates a keyring from a 32-byte master key.
func New(masterKey []byte) (*Keyring, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, ErrInvalidMasterKey
	}
	aead, err := chacha20poly1305.NewX(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Keyring{aead: aead}, nil
}

// Seal encrypts a raw private key for address. The address is bound as associated data,
// so a ciphertext cannot be moved to another wallet row.
func (k *Keyring) Seal(address string, privateKey []byte) (string, error) {
	nonce := make([]byte, k.aead.NonceSize(), k.aead.NonceSize()+len(privateKey)+k.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := k.aead.Seal(nonce, nonce, privateKey, []byte(address))
	return envelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (k *Keyring) open(address, envelope string) ([]byte, error) {
	if !strings.HasPrefix(envelope, envelopePrefix) {
		return nil, ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, envelopePrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(data) < k.aead.NonceSize()+k.aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	nonce, ciphertext := data[:k.aead.NonceSize()], data[k.aead.NonceSize():]
	plain, err := k.aead.Open(nil, nonce, ciphertext, []byte(address))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// Signer decrypts the wallet key and returns a signer for the wallet's network.
func (k *Keyring) Signer(w model.Wallet) (chain.Signer, error) {
	if w.EncryptedKey == "" {
		return nil, ErrNoKey
	}
	raw, err := k.open(w.Address, w.EncryptedKey)
	if err != nil {
		return nil, err
	}

	switch w.Network {
	case model.NetworkEVM:
		key, err := crypto.ToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid evm key: %w", err)
		}
		s := &EVMSigner{key: key}
		if !strings.EqualFold(s.Address(), w.Address) {
			return nil, ErrAddressMismatch
		}
		return s, nil
	case model.NetworkSolana:
		var key ed25519.PrivateKey
		switch len(raw) {
		case ed25519.SeedSize:
			key = ed25519.NewKeyFromSeed(raw)
		case ed25519.PrivateKeySize:
			key = ed25519.PrivateKey(raw)
		default:
			return nil, fmt.Errorf("invalid solana key length %d", len(raw))
		}
		s := &SolanaSigner{key: key}
		if s.Address() != w.Address {
			return nil, ErrAddressMismatch
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported wallet network %q", w.Network)
	}
}

// EVMSigner signs with a secp256k1 key.
type EVMSigner struct {
	key *ecdsa.PrivateKey
}

func (s *EVMSigner) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

func (s *EVMSigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

// SolanaSigner signs with an ed25519 key.
type SolanaSigner struct {
	key ed25519.PrivateKey
}

func (s *SolanaSigner) Address() string {
	return base58.Encode(s.key.Public().(ed25519.PublicKey))
}

func (s *SolanaSigner) PrivateKey() ed25519.PrivateKey {
	return s.key
}
