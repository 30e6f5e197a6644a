package solana

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of a Solana address in bytes.
const PublicKeyLength = 32

// Well-known program IDs.
const (
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efZNSo6m8Ngz"
	SystemProgramID          = "11111111111111111111111111111111"
)

// ErrInvalidPublicKey is returned when an address cannot be decoded.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is a 32-byte account address.
type PublicKey [PublicKeyLength]byte

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	if s == "" {
		return pk, fmt.Errorf("%w: empty", ErrInvalidPublicKey)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != PublicKeyLength {
		return pk, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustPublicKey is ParsePublicKey for constants. Panics on malformed input.
func MustPublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromEd25519 converts a wallet verification key into an address.
func PublicKeyFromEd25519(key ed25519.PublicKey) (PublicKey, error) {
	var pk PublicKey
	if len(key) != ed25519.PublicKeySize {
		return pk, fmt.Errorf("%w: ed25519 key length %d", ErrInvalidPublicKey, len(key))
	}
	copy(pk[:], key)
	return pk, nil
}

// String returns the base58 encoding.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// Bytes returns a copy of the raw key.
func (pk PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeyLength)
	copy(b, pk[:])
	return b
}

// IsZero reports whether pk is the all-zero key.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Ed25519 returns pk as a signature verification key.
func (pk PublicKey) Ed25519() ed25519.PublicKey {
	return ed25519.PublicKey(pk.Bytes())
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}
