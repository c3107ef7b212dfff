// Package interfaces defines the core types and contracts of the content key
// service, separating interface definitions from implementations.
//
// # Key Interfaces
//
// KeyStore: The content key record store. Creates keys idempotently, reads
// them back in request order and decrypts them under a caller supplied KEK.
//
// KeyRepository: Physical storage of key records. Implemented over SQL in the
// storage package.
//
// # Snapshot Storage Interfaces
//
// StorageBackend: Content-addressed blob storage for key snapshots across
// several backend types (file, S3, Vault).
//
// StorageBackendFactory: Creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
//
// # Types
//
//   - KeyRecord: The stored view of a content key
//   - KeyFields: Caller supplied key fields on create and update
//   - KeyPatch: The columns changed by an update
//   - ContentID: 32-byte SHA-256 hash for content addressing
//
// # Errors
//
// Key store errors (ErrInvalidKeyFormat, ErrInvalidParameters, ErrInvalidSyntax,
// ErrIncorrectKek, ErrNotFound, ErrInternal) are matched with errors.Is and
// mapped to HTTP statuses in a single place by the API layer.
package interfaces
