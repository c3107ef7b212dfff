package keystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/content-key-service/cryptoutils"
	"github.com/ruteri/content-key-service/interfaces"
)

// Service implements interfaces.KeyStore on top of a KeyRepository.
//
// Every operation is a single repository call. The only compound operation
// is Create on a duplicate KID, which reads back the stored record instead
// of failing. That read is not atomic with the insert: a delete in between
// surfaces as ErrNotFound.
type Service struct {
	repo interfaces.KeyRepository
	log  *slog.Logger

	now  func() time.Time
	rand io.Reader
}

var _ interfaces.KeyStore = (*Service)(nil)

// NewService creates a key store backed by repo.
func NewService(repo interfaces.KeyRepository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log,
		now:  time.Now,
		rand: rand.Reader,
	}
}

// Create stores a new key. A missing KID and a missing key are each drawn
// from 16 random bytes. When no wrapped key is given the plaintext is
// wrapped under kek, and without a kekId the KEK fingerprint is recorded.
//
// The response carries the plaintext key only when it was wrapped here. If
// the KID already exists the stored record is returned with created set to
// false, decrypted under kek when one is given.
func (s *Service) Create(ctx context.Context, fields interfaces.KeyFields, kek []byte) (*interfaces.KeyRecord, bool, error) {
	if !fields.Valid() {
		return nil, false, fmt.Errorf("%w: invalid key object", interfaces.ErrInvalidSyntax)
	}

	kid := fields.KID
	if kid == "" {
		var err error
		if kid, err = s.randomHex(); err != nil {
			return nil, false, err
		}
	}
	kid = cryptoutils.ResolveKID(kid)
	if !interfaces.IsValidKID(kid) {
		return nil, false, fmt.Errorf("%w: invalid kid %q", interfaces.ErrInvalidParameters, kid)
	}

	k, ek := fields.K, fields.EK
	if k == "" && ek == "" {
		var err error
		if k, err = s.randomHex(); err != nil {
			return nil, false, err
		}
	}

	if ek == "" {
		if len(kek) == 0 {
			return nil, false, fmt.Errorf("%w: no KEK passed, ek required", interfaces.ErrInvalidParameters)
		}
		var err error
		if ek, err = wrapHex(k, kek); err != nil {
			return nil, false, err
		}
	}

	kekID := fields.KekID
	if kekID == nil {
		fp := cryptoutils.KEKFingerprint(kek)
		kekID = &fp
	}

	lastUpdate := s.now().UTC().Truncate(time.Second)
	record := &interfaces.KeyRecord{
		KID:        kid,
		EK:         ek,
		KekID:      kekID,
		Info:       fields.Info,
		ContentID:  fields.ContentID,
		Expiration: ParseExpiration(fields.Expiration),
		LastUpdate: &lastUpdate,
	}

	err := s.repo.Insert(ctx, record)
	if errors.Is(err, interfaces.ErrDuplicateKID) {
		s.log.Debug("key already exists, returning stored record", "kid", kid)
		records, err := s.Get(ctx, []string{kid}, kek)
		if err != nil {
			return nil, false, err
		}
		return records[0], false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrInternal, err)
	}

	s.log.Info("key created", "kid", kid, "kekId", *kekID)
	created := record.Clone()
	if fields.EK == "" {
		// A caller supplied ek is stored as is and never checked against k.
		created.K = k
	}
	return created, true, nil
}

// Get returns the records for kids in the order requested. A KID that does
// not exist leaves a nil entry; if no KID exists the call fails with
// ErrNotFound. With a KEK every found record is decrypted, or the whole call
// fails with ErrIncorrectKek.
func (s *Service) Get(ctx context.Context, kids []string, kek []byte) ([]*interfaces.KeyRecord, error) {
	resolved, err := resolveKIDs(kids)
	if err != nil {
		return nil, err
	}

	stored, err := s.repo.Fetch(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInternal, err)
	}
	byKID := make(map[string]*interfaces.KeyRecord, len(stored))
	for _, r := range stored {
		byKID[r.KID] = r
	}

	records := make([]*interfaces.KeyRecord, len(resolved))
	found := 0
	for i, kid := range resolved {
		if r, ok := byKID[kid]; ok {
			records[i] = r.Clone()
			found++
		}
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, strings.Join(resolved, ","))
	}

	if len(kek) == 0 {
		return records, nil
	}
	for _, r := range records {
		if r == nil {
			continue
		}
		if err := decrypt(r, kek); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Values renders the keys for kids as a comma separated list in request
// order. Each entry is the plaintext key when it could be decrypted,
// otherwise the wrapped key prefixed with "#". Missing KIDs render empty.
func (s *Service) Values(ctx context.Context, kids []string, kek []byte) (string, error) {
	records, err := s.Get(ctx, kids, kek)
	if err != nil {
		return "", err
	}

	values := make([]string, len(records))
	for i, r := range records {
		switch {
		case r == nil:
		case r.K != "":
			values[i] = r.K
		default:
			values[i] = "#" + r.EK
		}
	}
	return strings.Join(values, ","), nil
}

// List streams every stored record to fn. With a KEK only the records that
// decrypt under it are emitted, in decrypted form.
func (s *Service) List(ctx context.Context, kek []byte, fn func(*interfaces.KeyRecord) error) error {
	var fnErr error
	err := s.repo.Each(ctx, func(r *interfaces.KeyRecord) error {
		if len(kek) > 0 {
			if err := decrypt(r, kek); err != nil {
				return nil
			}
		}
		fnErr = fn(r)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInternal, err)
	}
	return nil
}

// Update patches ek, kekId, info and contentId of an existing record. A
// plaintext key without ek is wrapped under kek, which is then required.
func (s *Service) Update(ctx context.Context, kid string, fields interfaces.KeyFields, kek []byte) (*interfaces.KeyRecord, error) {
	kid = cryptoutils.ResolveKID(kid)
	if !interfaces.IsValidKID(kid) || !fields.Valid() {
		return nil, fmt.Errorf("%w: invalid kid or key fields", interfaces.ErrInvalidParameters)
	}

	patch := interfaces.KeyPatch{
		KekID:     fields.KekID,
		Info:      fields.Info,
		ContentID: fields.ContentID,
	}
	switch {
	case fields.EK != "":
		ek := fields.EK
		patch.EK = &ek
	case fields.K != "":
		if len(kek) == 0 {
			return nil, fmt.Errorf("%w: KEK required to store k", interfaces.ErrInvalidParameters)
		}
		ek, err := wrapHex(fields.K, kek)
		if err != nil {
			return nil, err
		}
		patch.EK = &ek
		if patch.KekID == nil {
			fp := cryptoutils.KEKFingerprint(kek)
			patch.KekID = &fp
		}
	}
	if patch.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", interfaces.ErrInvalidParameters)
	}

	record, err := s.repo.Patch(ctx, kid, patch, s.now().UTC().Truncate(time.Second))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, kid)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInternal, err)
	}

	s.log.Info("key updated", "kid", kid)
	return record, nil
}

// Delete removes the records for kids. KIDs that do not exist are ignored.
func (s *Service) Delete(ctx context.Context, kids []string) error {
	resolved, err := resolveKIDs(kids)
	if err != nil {
		return err
	}

	n, err := s.repo.Delete(ctx, resolved)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInternal, err)
	}
	s.log.Info("keys deleted", "requested", len(resolved), "deleted", n)
	return nil
}

// Count returns the number of stored keys.
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", interfaces.ErrInternal, err)
	}
	return n, nil
}

func (s *Service) randomHex() (string, error) {
	buf := make([]byte, cryptoutils.KIDSize)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", fmt.Errorf("%w: failed to generate random bytes: %v", interfaces.ErrInternal, err)
	}
	return hex.EncodeToString(buf), nil
}

func resolveKIDs(kids []string) ([]string, error) {
	if len(kids) == 0 {
		return nil, fmt.Errorf("%w: no kid given", interfaces.ErrInvalidParameters)
	}
	resolved := make([]string, len(kids))
	for i, kid := range kids {
		resolved[i] = cryptoutils.ResolveKID(kid)
		if !interfaces.IsValidKID(resolved[i]) {
			return nil, fmt.Errorf("%w: invalid kid %q", interfaces.ErrInvalidParameters, kid)
		}
	}
	return resolved, nil
}

// wrapHex wraps the hex encoded key k under kek and returns the hex encoded
// result.
func wrapHex(k string, kek []byte) (string, error) {
	key, err := hex.DecodeString(k)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidKeyFormat, err)
	}
	wrapped, err := cryptoutils.Wrap(kek, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidKeyFormat, err)
	}
	return hex.EncodeToString(wrapped), nil
}

// decrypt replaces the wrapped key of r with its plaintext.
func decrypt(r *interfaces.KeyRecord, kek []byte) error {
	wrapped, err := hex.DecodeString(r.EK)
	if err != nil {
		return fmt.Errorf("%w: %s", interfaces.ErrIncorrectKek, r.KID)
	}
	key, err := cryptoutils.Unwrap(kek, wrapped)
	if err != nil {
		return fmt.Errorf("%w: %s", interfaces.ErrIncorrectKek, r.KID)
	}
	r.K = hex.EncodeToString(key)
	r.EK = ""
	r.KekID = nil
	return nil
}

var expirationLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseExpiration parses an expiration given as a date string or as epoch
// milliseconds. An empty or unparsable value yields nil.
func ParseExpiration(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	for _, layout := range expirationLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
