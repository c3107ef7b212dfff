package cryptoutils

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
)

// defaultIV is the RFC 3394 initial value.
var defaultIV = []byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

var (
	// ErrInvalidLength is returned for key material that is not a positive
	// multiple of 8 bytes, or for a KEK that is not a valid AES key size.
	ErrInvalidLength = errors.New("keywrap: invalid length")

	// ErrIntegrityCheckFailed is returned when unwrapping does not recover
	// the initial value, which means the KEK or the ciphertext is wrong.
	ErrIntegrityCheckFailed = errors.New("keywrap: integrity check failed")
)

// Wrap encrypts plaintext key material under kek using AES key wrap
// (RFC 3394). The plaintext must be a positive multiple of 8 bytes. The
// result is 8 bytes longer than the input.
func Wrap(kek, plaintext []byte) ([]byte, error) {
	if len(plaintext) < 8 || len(plaintext)%8 != 0 {
		return nil, fmt.Errorf("%w: plaintext is %d bytes", ErrInvalidLength, len(plaintext))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}

	n := len(plaintext) / 8
	out := make([]byte, 8+len(plaintext))
	copy(out[:8], defaultIV)
	copy(out[8:], plaintext)

	var b [16]byte
	for j := 0; j < 6; j++ {
		for i := 1; i <= n; i++ {
			r := out[i*8 : (i+1)*8]
			copy(b[:8], out[:8])
			copy(b[8:], r)
			block.Encrypt(b[:], b[:])

			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(out[:8], binary.BigEndian.Uint64(b[:8])^t)
			copy(r, b[8:])
		}
	}
	return out, nil
}

// Unwrap reverses Wrap. The ciphertext must be at least 16 bytes and a
// multiple of 8. ErrIntegrityCheckFailed is returned if the recovered
// initial value does not match.
func Unwrap(kek, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 16 || len(ciphertext)%8 != 0 {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes", ErrInvalidLength, len(ciphertext))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}

	n := len(ciphertext)/8 - 1
	var a [8]byte
	copy(a[:], ciphertext[:8])
	out := make([]byte, n*8)
	copy(out, ciphertext[8:])

	var b [16]byte
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			r := out[(i-1)*8 : i*8]
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(b[:8], binary.BigEndian.Uint64(a[:])^t)
			copy(b[8:], r)
			block.Decrypt(b[:], b[:])

			copy(a[:], b[:8])
			copy(r, b[8:])
		}
	}

	if subtle.ConstantTimeCompare(a[:], defaultIV) != 1 {
		return nil, ErrIntegrityCheckFailed
	}
	return out, nil
}
