package keyshandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ruteri/content-key-service/interfaces"
)

// Error codes carried in the "error" field of an error response.
const (
	CodeInvalidKeyFormat  = "INVALID_KEY_FORMAT"
	CodeInvalidParameters = "INVALID_PARAMETERS"
	CodeInvalidSyntax     = "INVALID_SYNTAX"
	CodeIncorrectKek      = "INCORRECT_KEK"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RequestError pairs a store error with the HTTP status it maps to.
type RequestError struct {
	StatusCode int
	Code       string
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// toRequestError maps key store errors onto status codes. Anything not
// recognised is an internal error.
func toRequestError(err error) *RequestError {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	switch {
	case errors.Is(err, interfaces.ErrInvalidParameters):
		return &RequestError{http.StatusBadRequest, CodeInvalidParameters, err}
	case errors.Is(err, interfaces.ErrInvalidSyntax):
		return &RequestError{http.StatusBadRequest, CodeInvalidSyntax, err}
	case errors.Is(err, interfaces.ErrIncorrectKek):
		return &RequestError{http.StatusBadRequest, CodeIncorrectKek, err}
	case errors.Is(err, interfaces.ErrInvalidKeyFormat):
		return &RequestError{http.StatusBadRequest, CodeInvalidKeyFormat, err}
	case errors.Is(err, interfaces.ErrNotFound):
		return &RequestError{http.StatusNotFound, CodeNotFound, err}
	default:
		return &RequestError{http.StatusInternalServerError, CodeInternal, err}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqErr := toRequestError(err)

	message := reqErr.Err.Error()
	if reqErr.StatusCode >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		message = http.StatusText(reqErr.StatusCode)
	} else {
		h.log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reqErr.StatusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: reqErr.Code, Message: message})
}
