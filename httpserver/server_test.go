package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/content-key-service/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T, check func(context.Context) error) *Server {
	t.Helper()
	srv, err := New(&api.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		ReadinessCheck:           check,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, pingRoutes{})
	require.NoError(t, err)
	return srv
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	w := get(srv, "/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())

	w = get(srv, "/livez")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(srv, "/debug/pprof/").Code)

	// Requests are counted by route pattern.
	m := httptest.NewRecorder()
	srv.Metrics().Handler().ServeHTTP(m, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, m.Body.String(), `route="/ping"`)
}

func TestServerDrain(t *testing.T) {
	srv := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, get(srv, "/readyz").Code)

	w := get(srv, "/drain")
	assert.JSONEq(t, `{"status":"draining"}`, w.Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, get(srv, "/readyz").Code)

	w = get(srv, "/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, w.Body.String())

	w = get(srv, "/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
	assert.Equal(t, http.StatusOK, get(srv, "/readyz").Code)

	w = get(srv, "/undrain")
	assert.JSONEq(t, `{"status":"already ready"}`, w.Body.String())
}

func TestServerReadinessCheck(t *testing.T) {
	healthy := true
	srv := newTestServer(t, func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("database is locked")
	})

	assert.Equal(t, http.StatusOK, get(srv, "/readyz").Code)

	healthy = false
	w := get(srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"not ready"}`, w.Body.String())

	// Liveness does not depend on the database.
	assert.Equal(t, http.StatusOK, get(srv, "/livez").Code)
}

func TestServerPprof(t *testing.T) {
	srv, err := New(&api.HTTPServerConfig{
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		EnablePprof: true,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(srv, "/debug/pprof/").Code)
}
