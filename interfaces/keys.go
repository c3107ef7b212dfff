package interfaces

import (
	"context"
	"time"
)

// AliasPrefix marks a KID given as a human-readable alias instead of hex.
const AliasPrefix = "^"

// KIDLength is the length in hex characters of a canonical KID (16 bytes).
const KIDLength = 32

// KeyRecord is the stored view of a content key.
//
// K is only ever populated in memory: on the response to a create and on a
// read decrypted with the caller's KEK. It is never persisted.
type KeyRecord struct {
	KID        string     `json:"kid"`
	K          string     `json:"k,omitempty"`
	EK         string     `json:"ek,omitempty"`
	KekID      *string    `json:"kekId,omitempty"`
	Info       *string    `json:"info,omitempty"`
	ContentID  *string    `json:"contentId,omitempty"`
	Expiration *time.Time `json:"expiration,omitempty"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *KeyRecord) Clone() *KeyRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.KekID = cloneString(r.KekID)
	c.Info = cloneString(r.Info)
	c.ContentID = cloneString(r.ContentID)
	if r.Expiration != nil {
		t := *r.Expiration
		c.Expiration = &t
	}
	if r.LastUpdate != nil {
		t := *r.LastUpdate
		c.LastUpdate = &t
	}
	return &c
}

// KeyFields is the caller-supplied shape of a key on create and update.
// Nil pointers mean "not supplied", which is different from an empty string.
type KeyFields struct {
	KID        string  `json:"kid,omitempty"`
	K          string  `json:"k,omitempty"`
	EK         string  `json:"ek,omitempty"`
	KekID      *string `json:"kekId,omitempty"`
	Info       *string `json:"info,omitempty"`
	ContentID  *string `json:"contentId,omitempty"`
	Expiration string  `json:"expiration,omitempty"`
}

// KeyPatch lists the columns changed by an update. Nil fields are left as is.
type KeyPatch struct {
	EK        *string
	KekID     *string
	Info      *string
	ContentID *string
}

// Empty reports whether the patch would change nothing.
func (p KeyPatch) Empty() bool {
	return p.EK == nil && p.KekID == nil && p.Info == nil && p.ContentID == nil
}

// KeyStore is the key record store consumed by the HTTP layer and tooling.
type KeyStore interface {
	// Create stores a new key, generating whatever the caller left out.
	// created is false when a record with the same KID already existed, in
	// which case the existing record is returned.
	Create(ctx context.Context, fields KeyFields, kek []byte) (record *KeyRecord, created bool, err error)

	// Get returns the records for kids in request order. Unknown KIDs leave
	// a nil hole. With a KEK, every record is decrypted or the call fails.
	Get(ctx context.Context, kids []string, kek []byte) ([]*KeyRecord, error)

	// Values renders the key values for kids as a comma separated list.
	Values(ctx context.Context, kids []string, kek []byte) (string, error)

	// List streams every record to fn.
	List(ctx context.Context, kek []byte, fn func(*KeyRecord) error) error

	// Update patches an existing record and returns its new state.
	Update(ctx context.Context, kid string, fields KeyFields, kek []byte) (*KeyRecord, error)

	// Delete removes every record in kids. Unknown KIDs are ignored.
	Delete(ctx context.Context, kids []string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// KeyRepository is the physical storage of key records. Every method is a
// single statement against the backing database.
type KeyRepository interface {
	// Insert adds a record. Returns ErrDuplicateKID if the KID is taken.
	Insert(ctx context.Context, record *KeyRecord) error

	// Fetch returns the records matching kids in storage order.
	Fetch(ctx context.Context, kids []string) ([]*KeyRecord, error)

	// Each calls fn for every stored record.
	Each(ctx context.Context, fn func(*KeyRecord) error) error

	// Patch applies patch to the record and returns the updated row.
	// Returns ErrKeyNotFound if no record has that KID.
	Patch(ctx context.Context, kid string, patch KeyPatch, lastUpdate time.Time) (*KeyRecord, error)

	// Delete removes the records matching kids and reports how many matched.
	Delete(ctx context.Context, kids []string) (int64, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
