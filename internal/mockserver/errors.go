package mockserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"segclient/pkg/types"
)

// HTTPError allows backend errors to carry an HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string   { return e.msg }
func (e *statusError) StatusCode() int { return e.code }

func badRequest(format string, args ...any) error {
	return &statusError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return &statusError{code: http.StatusNotFound, msg: fmt.Sprintf(format, args...)}
}

func tooLarge(format string, args ...any) error {
	return &statusError{code: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf(format, args...)}
}

// statusOf maps err to an HTTP status, 500 when it carries none.
func statusOf(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Detail: msg, Code: status})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusOf(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger().Warn().Err(err).Msg("encode response")
	}
}
