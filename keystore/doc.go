// Package keystore implements the content key record store.
//
// Service turns caller requests into single repository statements: it
// generates missing KIDs and keys, resolves "^alias" KIDs, wraps plaintext
// keys under the caller's KEK before they are stored and unwraps them again
// on read. Plaintext keys are never handed to the repository.
//
// Reads return records in the order they were requested. A read with a KEK
// either decrypts every record found or fails as a whole with
// interfaces.ErrIncorrectKek.
//
// Creating a key whose KID already exists is not an error: the stored record
// is returned with created set to false.
package keystore
