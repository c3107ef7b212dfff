package kms

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/ruteri/content-key-service/cryptoutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKEK(t *testing.T) {
	seed := bytes.Repeat([]byte{0xab}, KEKSize)
	kek, err := GenerateKEK(bytes.NewReader(seed))
	require.NoError(t, err)
	assert.Equal(t, seed, kek)

	_, err = GenerateKEK(bytes.NewReader(seed[:4]))
	assert.Error(t, err)

	a, err := GenerateKEK(nil)
	require.NoError(t, err)
	b, err := GenerateKEK(nil)
	require.NoError(t, err)
	assert.Len(t, a, KEKSize)
	assert.NotEqual(t, a, b)
}

func TestDeriveKEK(t *testing.T) {
	salt := []byte("content-keys")
	a, err := DeriveKEK([]byte("correct horse"), salt)
	require.NoError(t, err)
	assert.Len(t, a, KEKSize)

	again, err := DeriveKEK([]byte("correct horse"), salt)
	require.NoError(t, err)
	assert.Equal(t, a, again)

	other, err := DeriveKEK([]byte("correct horse"), []byte("other-salt"))
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	_, err = DeriveKEK(nil, salt)
	assert.ErrorIs(t, err, ErrInvalidKEKSource)
	_, err = DeriveKEK([]byte("pw"), []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKEKSource)
}

func TestSplitAndCombineKEK(t *testing.T) {
	kek, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")

	shares, err := SplitKEK(kek, 5, 3)
	require.NoError(t, err)
	require.Len(t, shares, 5)

	for _, subset := range [][][]byte{
		{shares[0], shares[1], shares[2]},
		{shares[4], shares[2], shares[0]},
		shares,
	} {
		got, fingerprint, err := CombineKEK(subset)
		require.NoError(t, err)
		assert.Equal(t, kek, got)
		assert.Equal(t, "#1.afe008a381bdac03b412a92d54b92ddf", fingerprint)
	}

	// Below the threshold the result is some other key.
	got, fingerprint, err := CombineKEK(shares[:2])
	if err == nil {
		assert.NotEqual(t, kek, got)
		assert.NotEqual(t, cryptoutils.KEKFingerprint(kek), fingerprint)
	}

	_, _, err = CombineKEK(shares[:1])
	assert.ErrorIs(t, err, ErrNotEnoughShares)
}

func TestSplitKEKRejectsBadInput(t *testing.T) {
	kek := make([]byte, KEKSize)

	_, err := SplitKEK(kek[:8], 3, 2)
	assert.ErrorIs(t, err, ErrInvalidKEK)

	_, err = SplitKEK(kek, 3, 1)
	assert.ErrorIs(t, err, ErrInvalidShares)

	_, err = SplitKEK(kek, 2, 3)
	assert.ErrorIs(t, err, ErrInvalidShares)

	_, err = SplitKEK(kek, 256, 3)
	assert.ErrorIs(t, err, ErrInvalidShares)
}
