package keyshandler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/content-key-service/interfaces"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// KEKParam is the query parameter carrying the hex encoded key encryption key.
const KEKParam = "kek"

type kekContextKey struct{}

// StatusResponse is returned by GET /.
type StatusResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// CountResponse is returned by GET /keycount.
type CountResponse struct {
	KeyCount int `json:"keyCount"`
}

// Handler serves the content key API on top of a KeyStore.
type Handler struct {
	store interfaces.KeyStore
	log   *slog.Logger
	now   func() time.Time
}

// NewHandler creates a key API handler.
func NewHandler(store interfaces.KeyStore, log *slog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// RegisterRoutes mounts the key API on r:
//   - GET    /                    service status
//   - GET    /keys                all keys
//   - POST   /keys                create a key
//   - GET    /keys/{kids}         one or more keys
//   - GET    /keys/{kids}/value   key values as text
//   - PUT    /keys/{kids}         update one key
//   - DELETE /keys/{kids}         delete keys
//   - GET    /keycount            number of stored keys
//
// Paths under /keys may carry a trailing slash. Every route accepts an
// optional ?kek= parameter, 32 hex characters.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.SetHeader("Access-Control-Allow-Origin", "*"))
		r.Use(h.kekMiddleware)

		r.Get("/", h.HandleStatus)
		r.Get("/keycount", h.HandleKeyCount)
		r.Mount("/keys", h.keysRouter())
	})
}

func (h *Handler) keysRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)

	r.Get("/", h.HandleListKeys)
	r.Post("/", h.HandleCreateKey)
	r.Get("/{kids}", h.HandleGetKeys)
	r.Get("/{kids}/value", h.HandleGetKeyValues)
	r.Put("/{kids}", h.HandleUpdateKey)
	r.Delete("/{kids}", h.HandleDeleteKeys)
	return r
}

// kekMiddleware rejects a malformed kek parameter and stores the decoded
// KEK in the request context.
func (h *Handler) kekMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		param := r.URL.Query().Get(KEKParam)
		if !interfaces.ValidKEKParam(param) {
			h.writeError(w, r, fmt.Errorf("%w: invalid kek", interfaces.ErrInvalidParameters))
			return
		}
		if param == "" {
			next.ServeHTTP(w, r)
			return
		}

		kek, err := hex.DecodeString(param)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: invalid kek", interfaces.ErrInvalidParameters))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), kekContextKey{}, kek)))
	})
}

func kekFromContext(ctx context.Context) []byte {
	kek, _ := ctx.Value(kekContextKey{}).([]byte)
	return kek
}

// kidsParam splits the comma separated {kids} path segment.
func kidsParam(r *http.Request) []string {
	raw := chi.URLParam(r, "kids")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	return strings.Split(raw, ",")
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status: "Server is running ...",
		Time:   h.now().UTC(),
	})
}

// HandleListKeys streams every key as a JSON array. With a KEK only the
// keys it decrypts are listed.
func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	enc := json.NewEncoder(w)
	started := false

	err := h.store.List(r.Context(), kekFromContext(r.Context()), func(record *interfaces.KeyRecord) error {
		sep := ","
		if !started {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			started = true
			sep = "["
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return err
		}
		return enc.Encode(record)
	})

	switch {
	case err != nil && !started:
		h.writeError(w, r, err)
	case err != nil:
		// The status line is gone; all that is left is to cut the body short.
		h.log.Error("key listing aborted", "err", err)
	case !started:
		writeJSON(w, http.StatusOK, []*interfaces.KeyRecord{})
	default:
		io.WriteString(w, "]")
	}
}

// HandleCreateKey creates a key from the JSON body, which may be empty.
// Responds 201 with a Location header for a new key and 200 with the stored
// record when the KID already existed.
func (h *Handler) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeKeyFields(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	kek := kekFromContext(r.Context())
	if len(kek) == 0 && fields.EK == "" {
		h.writeError(w, r, fmt.Errorf("%w: No KEK passed: ek required", interfaces.ErrInvalidParameters))
		return
	}

	record, created, err := h.store.Create(r.Context(), fields, kek)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, record)
		return
	}
	w.Header().Set("Location", "/keys/"+record.KID)
	writeJSON(w, http.StatusCreated, record)
}

// HandleGetKeys returns a single object when one KID was requested and an
// array in request order otherwise. Unknown KIDs in a list are null.
func (h *Handler) HandleGetKeys(w http.ResponseWriter, r *http.Request) {
	kids := kidsParam(r)
	records, err := h.store.Get(r.Context(), kids, kekFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(records) == 1 {
		writeJSON(w, http.StatusOK, records[0])
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) HandleGetKeyValues(w http.ResponseWriter, r *http.Request) {
	values, err := h.store.Values(r.Context(), kidsParam(r), kekFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, values)
}

// HandleUpdateKey patches a single key and returns its new state.
func (h *Handler) HandleUpdateKey(w http.ResponseWriter, r *http.Request) {
	kids := kidsParam(r)
	if len(kids) != 1 {
		h.writeError(w, r, fmt.Errorf("%w: exactly one kid expected", interfaces.ErrInvalidParameters))
		return
	}

	fields, err := decodeKeyFields(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.store.Update(r.Context(), kids[0], fields, kekFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) HandleDeleteKeys(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), kidsParam(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) HandleKeyCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Count(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{KeyCount: n})
}

// decodeKeyFields reads an optional JSON key object from the request body.
func decodeKeyFields(w http.ResponseWriter, r *http.Request) (interfaces.KeyFields, error) {
	var fields interfaces.KeyFields

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fields, fmt.Errorf("%w: body too large", interfaces.ErrInvalidSyntax)
		}
		return fields, fmt.Errorf("%w: failed to read body: %v", interfaces.ErrInvalidSyntax, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fields, nil
	}

	if err := json.Unmarshal(body, &fields); err != nil {
		return fields, fmt.Errorf("%w: Invalid JSON Body", interfaces.ErrInvalidSyntax)
	}
	if !fields.Valid() {
		return fields, fmt.Errorf("%w: Invalid Key Object", interfaces.ErrInvalidSyntax)
	}
	return fields, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
