package clients

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/content-key-service/api/keyshandler"
	"github.com/ruteri/content-key-service/interfaces"
)

// APIError is a non-2xx response from the key API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("key api returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("key api returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the response code back onto the store's errors.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case keyshandler.CodeInvalidKeyFormat:
		return interfaces.ErrInvalidKeyFormat
	case keyshandler.CodeInvalidParameters:
		return interfaces.ErrInvalidParameters
	case keyshandler.CodeInvalidSyntax:
		return interfaces.ErrInvalidSyntax
	case keyshandler.CodeIncorrectKek:
		return interfaces.ErrIncorrectKek
	case keyshandler.CodeNotFound:
		return interfaces.ErrNotFound
	case keyshandler.CodeInternal:
		return interfaces.ErrInternal
	}
	return nil
}

// KeysClient talks to a content key server.
type KeysClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewKeysClient creates a client for the server at baseURL
// (e.g. "http://localhost:8080"). The optional timeout defaults to 30 seconds.
func NewKeysClient(baseURL string, timeout ...time.Duration) *KeysClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &KeysClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// CreateKey creates a key. created is false when the KID already existed
// and the stored record was returned instead.
func (c *KeysClient) CreateKey(ctx context.Context, fields interfaces.KeyFields, kek []byte) (*interfaces.KeyRecord, bool, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal key: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/keys", kek, body)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	var record interfaces.KeyRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, false, fmt.Errorf("failed to parse create response: %w", err)
	}
	return &record, resp.StatusCode == http.StatusCreated, nil
}

// GetKeys returns the records for kids in request order, nil for unknown KIDs.
func (c *KeysClient) GetKeys(ctx context.Context, kids []string, kek []byte) ([]*interfaces.KeyRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, "/keys/"+kidsPath(kids), kek, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if len(kids) == 1 {
		var record interfaces.KeyRecord
		if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to parse key: %w", err)
		}
		return []*interfaces.KeyRecord{&record}, nil
	}

	var records []*interfaces.KeyRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to parse keys: %w", err)
	}
	return records, nil
}

// GetKeyValues returns the comma separated key values for kids.
func (c *KeysClient) GetKeyValues(ctx context.Context, kids []string, kek []byte) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/keys/"+kidsPath(kids)+"/value", kek, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read key values: %w", err)
	}
	return string(body), nil
}

// ListKeys returns every key, or with a KEK every key it decrypts.
func (c *KeysClient) ListKeys(ctx context.Context, kek []byte) ([]*interfaces.KeyRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, "/keys", kek, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var records []*interfaces.KeyRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to parse keys: %w", err)
	}
	return records, nil
}

// UpdateKey patches kid and returns its new state.
func (c *KeysClient) UpdateKey(ctx context.Context, kid string, fields interfaces.KeyFields, kek []byte) (*interfaces.KeyRecord, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPut, "/keys/"+kidsPath([]string{kid}), kek, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var record interfaces.KeyRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}
	return &record, nil
}

func (c *KeysClient) DeleteKeys(ctx context.Context, kids []string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/keys/"+kidsPath(kids), nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *KeysClient) KeyCount(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/keycount", nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var count keyshandler.CountResponse
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		return 0, fmt.Errorf("failed to parse key count: %w", err)
	}
	return count.KeyCount, nil
}

// do sends a request and turns any non-2xx response into an *APIError.
func (c *KeysClient) do(ctx context.Context, method, path string, kek []byte, body []byte) (*http.Response, error) {
	target := c.baseURL + path
	if len(kek) > 0 {
		target += "?" + url.Values{keyshandler.KEKParam: {hex.EncodeToString(kek)}}.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var errResp keyshandler.ErrorResponse
	if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
		apiErr.Code = errResp.Error
		apiErr.Message = errResp.Message
	}
	return nil, apiErr
}

func kidsPath(kids []string) string {
	escaped := make([]string, len(kids))
	for i, kid := range kids {
		escaped[i] = url.PathEscape(kid)
	}
	return strings.Join(escaped, ",")
}
