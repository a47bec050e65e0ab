// Package solana executes swaps and transfers on Solana.
package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"spotengine/apps/spotengine/internal/chains"
)

// PublicKey is a 32-byte ed25519 account address. Blockhashes use the same encoding.
type PublicKey [32]byte

var (
	SystemProgram          = MustPublicKey(chains.SystemProgramID)
	TokenProgram           = MustPublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	Token2022Program       = MustPublicKey("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	AssociatedTokenProgram = MustPublicKey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	ComputeBudgetProgram   = MustPublicKey("ComputeBudget111111111111111111111111111111")
	WrappedSOLMint         = MustPublicKey(chains.SolMint)
)

var ErrOnCurve = errors.New("derived address is on the ed25519 curve")

func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	b, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("invalid base58 key %q: %w", s, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("invalid key %q: wrongsize %d", s, len(b))
	}
	copy(k[:], b)
	return k, nil
}

func MustPublicKey(s string) PublicKey {
	k, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// isNative reports whether address names SOL rather than an SPL mint.
func isNative(address string) bool {
	return chains.IsNative(address) || address == chains.SolMint || address == chains.SystemProgramID
}

// CreateProgramAddress hashes seeds into an address owned by program. Addresses that land
// on the curve are rejected because they could have a private key.
func CreateProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, error) {
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > 32 {
			return PublicKey{}, fmt.Errorf("seed longer than 32 bytes")
		}
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte("ProgramDerivedAddress"))

	var k PublicKey
	copy(k[:], h.Sum(nil))
	if onCurve(k[:]) {
		return PublicKey{}, ErrOnCurve
	}
	return k, nil
}

// FindProgramAddress searches bump seeds from 255 down for the first off-curve address.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		k, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return k, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, errors.New("no viable bump seed")
}

// AssociatedTokenAddress derives the canonical token account of owner for mint.
func AssociatedTokenAddress(owner, mint, tokenProgram PublicKey) (PublicKey, error) {
	k, _, err := FindProgramAddress([][]byte{owner[:], tokenProgram[:], mint[:]}, AssociatedTokenProgram)
	return k, err
}

func onCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
