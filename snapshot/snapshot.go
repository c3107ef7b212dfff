// Package snapshot exports the key store to content-addressed blob storage
// and restores it from there.
//
// Snapshots only ever hold keys in wrapped form: they are read from the
// store without a KEK, so plaintext keys never leave the database.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/content-key-service/interfaces"
)

// FormatVersion is the version of the snapshot document.
const FormatVersion = 1

// ErrInvalidSnapshot is returned when a fetched blob is not a snapshot this
// version can restore.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is the document written to the blob backend.
type Snapshot struct {
	Version   int                     `json:"version"`
	ID        string                  `json:"id"`
	CreatedAt time.Time               `json:"createdAt"`
	Keys      []*interfaces.KeyRecord `json:"keys"`
}

// ExportResult describes a written snapshot.
type ExportResult struct {
	ContentID  interfaces.ContentID
	SnapshotID string
	Keys       int
}

// RestoreResult counts the outcome of a restore.
type RestoreResult struct {
	SnapshotID string
	Created    int
	Existing   int
}

// Manager moves key records between a key store and a blob backend.
type Manager struct {
	store   interfaces.KeyStore
	backend interfaces.StorageBackend
	log     *slog.Logger
	now     func() time.Time
}

// NewManager creates a snapshot manager.
func NewManager(store interfaces.KeyStore, backend interfaces.StorageBackend, log *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		backend: backend,
		log:     log,
		now:     time.Now,
	}
}

// Export writes every stored key to the backend and returns the content ID
// of the snapshot.
func (m *Manager) Export(ctx context.Context) (*ExportResult, error) {
	snap := &Snapshot{
		Version:   FormatVersion,
		ID:        uuid.NewString(),
		CreatedAt: m.now().UTC(),
		Keys:      []*interfaces.KeyRecord{},
	}

	err := m.store.List(ctx, nil, func(r *interfaces.KeyRecord) error {
		r.K = ""
		snap.Keys = append(snap.Keys, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	id, err := m.backend.Store(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	m.log.Info("Exported key snapshot",
		slog.String("snapshot_id", snap.ID),
		slog.String("content_id", id.String()),
		slog.String("backend", m.backend.Name()),
		slog.Int("keys", len(snap.Keys)))

	return &ExportResult{ContentID: id, SnapshotID: snap.ID, Keys: len(snap.Keys)}, nil
}

// Restore replays the snapshot stored under id into the key store. Keys
// whose KID already exists are left untouched and counted as existing.
// Restored keys are created anew, so their lastUpdate is the time of the
// restore and not the one recorded in the snapshot.
func (m *Manager) Restore(ctx context.Context, id interfaces.ContentID) (*RestoreResult, error) {
	data, err := m.backend.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot %s: %w", id, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, snap.Version)
	}

	result := &RestoreResult{SnapshotID: snap.ID}
	for _, r := range snap.Keys {
		if r == nil || r.EK == "" {
			return result, fmt.Errorf("%w: key without wrapped value", ErrInvalidSnapshot)
		}

		fields := interfaces.KeyFields{
			KID:       r.KID,
			EK:        r.EK,
			KekID:     r.KekID,
			Info:      r.Info,
			ContentID: r.ContentID,
		}
		if r.Expiration != nil {
			fields.Expiration = r.Expiration.UTC().Format(time.RFC3339)
		}

		_, created, err := m.store.Create(ctx, fields, nil)
		if err != nil {
			return result, fmt.Errorf("failed to restore key %s: %w", r.KID, err)
		}
		if created {
			result.Created++
		} else {
			result.Existing++
		}
	}

	m.log.Info("Restored key snapshot",
		slog.String("snapshot_id", snap.ID),
		slog.String("content_id", id.String()),
		slog.Int("created", result.Created),
		slog.Int("existing", result.Existing))

	return result, nil
}
