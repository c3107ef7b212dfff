package cryptoutils

import (
	"testing"

	"github.com/ruteri/content-key-service/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestResolveKID(t *testing.T) {
	assert.Equal(t, "80ea8bc8a58f990ad1f76bc665b30bfa", ResolveKID("^kid1"))
	assert.Equal(t, ResolveKID("^kid1"), ResolveKID("^kid1"))
	assert.Len(t, ResolveKID("^some other alias"), 32)
	assert.NotEqual(t, ResolveKID("^a"), ResolveKID("^b"))

	// Hex KIDs and anything without the prefix pass through.
	assert.Equal(t, "00112233445566778899aabbccddeeff", ResolveKID("00112233445566778899aabbccddeeff"))
	assert.Equal(t, "kid1", ResolveKID("kid1"))
	assert.Equal(t, "", ResolveKID(""))
}

func TestResolveKID_AgreesWithValidator(t *testing.T) {
	for _, alias := range []string{"^kid1", "^", "^movie/1080p", "^" + interfaces.AliasPrefix} {
		assert.True(t, interfaces.KeyFields{KID: alias}.Valid(), alias)
		assert.True(t, interfaces.IsValidKID(ResolveKID(alias)), alias)
	}
	assert.False(t, interfaces.IsValidKID(ResolveKID("kid1")))
}

func TestKEKFingerprint(t *testing.T) {
	kek := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	assert.Equal(t, "#1.afe008a381bdac03b412a92d54b92ddf", KEKFingerprint(kek))

	// The fingerprint is over the canonical lowercase hex, so it does not
	// depend on how the caller spelled the KEK.
	upper := mustHex(t, "000102030405060708090A0B0C0D0E0F")
	assert.Equal(t, KEKFingerprint(kek), KEKFingerprint(upper))

	assert.Equal(t, "", KEKFingerprint(nil))
	assert.Len(t, KEKFingerprint(mustHex(t, "00112233445566778899aabbccddeeff")), 35)
}
