// Package storage provides the persistence layers of the content key service.
//
// # Key Records
//
// SQLKeyRepository stores key records in a single content_keys table on
// SQLite (default) or PostgreSQL. Each repository method is one statement.
// Queries are written once with "?" placeholders and rebound per driver;
// unique violations from either driver are reported as
// interfaces.ErrDuplicateKID.
//
// # Snapshot Blobs
//
// Key snapshots are stored in content-addressed blob backends, where the
// identifier of a blob is the SHA-256 hash of its bytes. Every backend
// verifies that hash on fetch.
//
//   - File system storage for local deployments and testing
//   - S3-compatible storage, private objects with server-side encryption
//   - Vault KV v2 storage with token and optional TLS client authentication
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/keyserver/
//   - s3://bucket-name/prefix/?region=us-west-2&endpoint=http://minio:9000&path_style=true
//   - vault://vault.example.com:8200/secret/content-keys?token=...
//
// Several locations can be combined with StorageBackendFactory.CreateMultiBackend,
// which stores to every available backend and fetches from the first that
// has the blob.
package storage
