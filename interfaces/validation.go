package interfaces

import "strings"

// IsHex reports whether every character of s is a hex digit.
// The empty string is hex.
func IsHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// IsValidKID reports whether kid is a canonical 32 character hex KID.
func IsValidKID(kid string) bool {
	return len(kid) == KIDLength && IsHex(kid)
}

// Valid checks the hex fields of a caller-supplied key. A KID given as an
// alias is accepted here and resolved later.
func (f KeyFields) Valid() bool {
	if f.KID != "" && !strings.HasPrefix(f.KID, AliasPrefix) && !IsHex(f.KID) {
		return false
	}
	return IsHex(f.K) && IsHex(f.EK)
}

// ValidKEKParam checks a KEK passed as a request parameter. An absent KEK is
// valid; a present one must be 16 bytes of hex.
func ValidKEKParam(kek string) bool {
	if kek == "" {
		return true
	}
	return len(kek) == 32 && IsHex(kek)
}
