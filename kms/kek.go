package kms

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/content-key-service/cryptoutils"
	"golang.org/x/crypto/argon2"
)

// KEKSize is the size in bytes of the KEKs accepted by the key API.
const KEKSize = 16

// MinSaltSize is the shortest salt DeriveKEK accepts.
const MinSaltSize = 8

// Argon2id parameters for DeriveKEK.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	ErrInvalidKEK       = errors.New("invalid KEK")
	ErrInvalidShares    = errors.New("invalid share configuration")
	ErrNotEnoughShares  = errors.New("not enough shares to recover KEK")
	ErrInvalidKEKSource = errors.New("invalid passphrase or salt")
)

// GenerateKEK draws a new KEK from r, or from crypto/rand when r is nil.
func GenerateKEK(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	kek := make([]byte, KEKSize)
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, fmt.Errorf("failed to generate KEK: %w", err)
	}
	return kek, nil
}

// DeriveKEK stretches a passphrase into a KEK with Argon2id. The same
// passphrase and salt always yield the same KEK.
func DeriveKEK(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 || len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: passphrase must be non-empty and salt at least %d bytes", ErrInvalidKEKSource, MinSaltSize)
	}
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KEKSize), nil
}

// SplitKEK splits kek into parts Shamir shares, any threshold of which
// recover it.
func SplitKEK(kek []byte, parts, threshold int) ([][]byte, error) {
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKEK, KEKSize, len(kek))
	}
	if threshold < 2 || parts < threshold || parts > 255 {
		return nil, fmt.Errorf("%w: need 2 <= threshold <= parts <= 255, got %d of %d", ErrInvalidShares, threshold, parts)
	}

	shares, err := shamir.Split(kek, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShares, err)
	}
	return shares, nil
}

// CombineKEK recovers a KEK from shares. Too few shares usually yield a
// wrong key rather than an error, so callers should compare the result's
// fingerprint with the kekId recorded on their keys.
func CombineKEK(shares [][]byte) (kek []byte, fingerprint string, err error) {
	if len(shares) < 2 {
		return nil, "", fmt.Errorf("%w: got %d", ErrNotEnoughShares, len(shares))
	}

	kek, err = shamir.Combine(shares)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotEnoughShares, err)
	}
	if len(kek) != KEKSize {
		wipeBytes(kek)
		return nil, "", fmt.Errorf("%w: recovered %d bytes", ErrInvalidKEK, len(kek))
	}
	return kek, cryptoutils.KEKFingerprint(kek), nil
}

// Securely wipe data from memory
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
