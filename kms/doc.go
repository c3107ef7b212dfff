// Package kms handles key encryption keys outside the key server: drawing
// new ones, deriving them from passphrases, and splitting them into Shamir
// shares held by separate custodians.
//
// The key server never stores a KEK. Clients pass it per request, so
// whoever operates the content keys needs a way to keep and recover it.
package kms
