package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/worldbrain/capi-gateway/internal/pkg/logger"
)

// MaxBodyBytes bounds request bodies read by Decode.
const MaxBodyBytes = 64 << 10

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("httputil: JSON encode failed", "err", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Error writes a JSON error response. Use for client errors (4xx).
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// InternalError writes a 500 error. The real error is logged; the client
// only sees a generic message.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("httputil: internal error", "err", err)
	Error(w, http.StatusInternalServerError, "Internal Server Error")
}

// Decode reads a JSON body (at most MaxBodyBytes) into dst. It returns false
// and writes a 400 response if the body is missing or malformed. Numbers in
// untyped fields decode as json.Number so long digit strings keep their text.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			BadRequest(w, "request body is required")
			return false
		}
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
