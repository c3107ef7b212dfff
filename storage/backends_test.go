package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ruteri/content-key-service/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)
	assert.True(t, backend.Available(ctx))
	assert.Equal(t, "file://"+dir, backend.LocationURI())

	data := []byte(`{"version":1,"keys":[]}`)
	id, err := backend.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	got, err := backend.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = backend.Fetch(ctx, interfaces.ComputeID([]byte("other")))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	// A blob that no longer matches its id is rejected.
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshotDir, id.String()), []byte("tampered"), 0o600))
	_, err = backend.Fetch(ctx, id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrContentNotFound)
}

// fakeS3 serves path-style object requests from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Backend(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	backend, err := NewS3Backend(S3Config{
		Bucket:    "keys",
		Prefix:    "/backups/",
		Endpoint:  srv.URL,
		AccessKey: "AKID",
		SecretKey: "SECRET",
		PathStyle: true,
	}, discardLogger())
	require.NoError(t, err)
	assert.True(t, backend.Available(ctx))
	assert.Equal(t, "s3-keys", backend.Name())

	data := []byte(`{"version":1,"keys":[]}`)
	id, err := backend.Store(ctx, data)
	require.NoError(t, err)

	fake.mu.Lock()
	_, ok := fake.objects["/keys/backups/snapshots/"+id.String()]
	fake.mu.Unlock()
	assert.True(t, ok, "object stored under the prefixed snapshot key")

	got, err := backend.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = backend.Fetch(ctx, interfaces.ComputeID([]byte("missing")))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

// fakeVault implements the KV v2 read and write endpoints and sys/health.
type fakeVault struct {
	mu      sync.Mutex
	secrets map[string]string
	token   string
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/v1/sys/health" {
		_, _ = io.WriteString(w, `{"initialized":true,"sealed":false,"standby":false}`)
		return
	}
	if r.Header.Get("X-Vault-Token") != f.token {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"errors":["permission denied"]}`)
		return
	}

	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data struct {
				Content string `json:"content"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.secrets[r.URL.Path] = body.Data.Content
		_, _ = io.WriteString(w, `{"data":{"version":1}}`)
	case http.MethodGet:
		content, ok := f.secrets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errors":[]}`)
			return
		}
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"data":     map[string]interface{}{"content": content},
				"metadata": map[string]interface{}{"version": 1},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestVaultBackend(t *testing.T) {
	ctx := context.Background()
	fake := &fakeVault{secrets: map[string]string{}, token: "test-token"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	backend, err := NewVaultBackend(VaultConfig{
		Address:   srv.URL,
		MountPath: "secret",
		DataPath:  "content-keys",
		Token:     "test-token",
	}, discardLogger())
	require.NoError(t, err)
	assert.True(t, backend.Available(ctx))

	data := []byte(`{"version":1,"keys":[]}`)
	id, err := backend.Store(ctx, data)
	require.NoError(t, err)

	fake.mu.Lock()
	_, ok := fake.secrets["/v1/secret/data/content-keys/snapshots/"+id.String()]
	fake.mu.Unlock()
	assert.True(t, ok)

	got, err := backend.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = backend.Fetch(ctx, interfaces.ComputeID([]byte("missing")))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestVaultBackend_BadToken(t *testing.T) {
	fake := &fakeVault{secrets: map[string]string{}, token: "test-token"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	backend, err := NewVaultBackend(VaultConfig{Address: srv.URL, MountPath: "secret", Token: "wrong"}, discardLogger())
	require.NoError(t, err)

	_, err = backend.Store(context.Background(), []byte("data"))
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())
	dir := t.TempDir()

	backend, err := factory.BackendForURI("file://" + dir)
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	backend, err = factory.BackendForURI("s3://AKID:SECRET@bucket/prefix?region=eu-west-1")
	require.NoError(t, err)
	assert.IsType(t, &S3Backend{}, backend)
	assert.NotContains(t, backend.LocationURI(), "SECRET")

	backend, err = factory.BackendForURI("vault://vault.example.com:8200/secret/content-keys?token=t")
	require.NoError(t, err)
	require.IsType(t, &VaultBackend{}, backend)
	vb := backend.(*VaultBackend)
	assert.Equal(t, "secret", vb.mountPath)
	assert.Equal(t, "content-keys", vb.dataPath)
	assert.True(t, strings.HasPrefix(vb.LocationURI(), "vault://https://vault.example.com:8200"))

	_, err = factory.BackendForURI("ipfs://localhost:5001")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.BackendForURI("vault:///secret")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestStorageBackendFactory_CreateMultiBackend(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	loc1, err := interfaces.NewStorageBackendLocation("file://" + t.TempDir())
	require.NoError(t, err)
	loc2, err := interfaces.NewStorageBackendLocation("file://" + t.TempDir())
	require.NoError(t, err)
	bad, err := interfaces.NewStorageBackendLocation("s3://")
	require.NoError(t, err)

	backend, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{loc1, bad, loc2})
	require.NoError(t, err)
	require.IsType(t, &MultiStorageBackend{}, backend)

	ctx := context.Background()
	id, err := backend.Store(ctx, []byte("snapshot"))
	require.NoError(t, err)

	single, err := factory.StorageBackendFor(loc2)
	require.NoError(t, err)
	data, err := single.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot"), data)

	backend, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{loc1})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{bad})
	assert.Error(t, err)
}

func TestNewStorageBackendLocation(t *testing.T) {
	loc, err := interfaces.NewStorageBackendLocation("S3://user:pass@bucket/path?region=us-west-2")
	require.NoError(t, err)
	assert.Equal(t, "s3", loc.Scheme)
	assert.Equal(t, "bucket", loc.Host)
	assert.Equal(t, "/path", loc.Path)
	assert.Equal(t, "user:pass", loc.Auth)
	assert.Equal(t, "us-west-2", loc.GetParam("region"))
	assert.Equal(t, "s3://***@bucket/path?region=us-west-2", strings.ToLower(redactURI(loc)))

	_, err = interfaces.NewStorageBackendLocation("github://owner/repo")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}
