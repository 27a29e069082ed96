package model

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// Sizes of the opaque byte types.
const (
	AddressLen   = 32
	SignatureLen = 64
	HashLen      = 32
)

var (
	ErrInvalidAddress   = errors.New("model: invalid address")
	ErrInvalidSignature = errors.New("model: invalid signature")
	ErrInvalidHash      = errors.New("model: invalid hash")
)

// Address is a 32-byte identity. It names both signers (authority, agent,
// owner) and derived entity addresses (positions, rebalance records).
// The text form is base58.
type Address [AddressLen]byte

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := base58.Decode(s)
	if len(raw) != AddressLen {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	copy(a[:], raw)
	return a, nil
}

func (a Address) String() string { return base58.Encode(a[:]) }

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool { return a == Address{} }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Signature is the 64-byte proof of an externally executed transaction.
type Signature [SignatureLen]byte

// ParseSignature decodes a base58 signature.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	raw := base58.Decode(s)
	if len(raw) != SignatureLen {
		return sig, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLen, len(raw))
	}
	copy(sig[:], raw)
	return sig, nil
}

func (s Signature) String() string { return base58.Encode(s[:]) }

func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Hash is a 32-byte digest binding a rebalance to its off-system reasoning
// trace. It is stored and returned, never interpreted.
type Hash [HashLen]byte

// ParseHash decodes a base58 digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw := base58.Decode(s)
	if len(raw) != HashLen {
		return h, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidHash, HashLen, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string { return base58.Encode(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
