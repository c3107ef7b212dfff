// Package cryptoutils implements the key material primitives of the content
// key service.
//
// # Key Wrapping
//
// Wrap and Unwrap implement AES key wrap as defined by RFC 3394 with the
// default initial value A6A6A6A6A6A6A6A6. Content keys are stored wrapped
// under a caller supplied key-encryption key (KEK) and are only ever unwrapped
// in memory to answer a request that carries that KEK.
//
// # Identifiers
//
//   - ResolveKID maps a "^alias" KID to 16 bytes of its SHA-1, in hex
//   - KEKFingerprint derives the public "#1.<hex>" identifier of a KEK
//
// # Usage Example
//
//	wrapped, err := cryptoutils.Wrap(kek, contentKey)
//	if err != nil {
//	    return err
//	}
//	record.EK = hex.EncodeToString(wrapped)
//	kekID := cryptoutils.KEKFingerprint(kek)
//	record.KekID = &kekID
package cryptoutils
