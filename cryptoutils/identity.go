package cryptoutils

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/ruteri/content-key-service/interfaces"
)

// KIDSize is the size in bytes of a key identifier.
const KIDSize = interfaces.KIDLength / 2

const (
	kekIDVersion    = "1"
	kekIDHashPrefix = "KEKID_" + kekIDVersion
)

// ResolveKID returns the canonical hex KID for kid. A KID starting with "^"
// is an alias and maps to the first 16 bytes of the SHA-1 of the alias with
// the prefix stripped. Any other KID is returned unchanged.
func ResolveKID(kid string) string {
	alias, ok := strings.CutPrefix(kid, interfaces.AliasPrefix)
	if !ok {
		return kid
	}
	sum := sha1.Sum([]byte(alias))
	return hex.EncodeToString(sum[:KIDSize])
}

// KEKFingerprint returns the public identifier of a KEK: "#1." followed by
// the first 32 hex characters of SHA-1("KEKID_1" + hex(kek)). An empty KEK
// has an empty fingerprint.
func KEKFingerprint(kek []byte) string {
	if len(kek) == 0 {
		return ""
	}
	sum := sha1.Sum([]byte(kekIDHashPrefix + hex.EncodeToString(kek)))
	return "#" + kekIDVersion + "." + hex.EncodeToString(sum[:])[:32]
}
