package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error is a non-2xx response from the backend.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("apiclient: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsBadRequest returns true if the error is a 400.
func IsBadRequest(err error) bool { return hasStatus(err, http.StatusBadRequest) }

// IsTooLarge returns true if the error is a 413.
func IsTooLarge(err error) bool { return hasStatus(err, http.StatusRequestEntityTooLarge) }

// IsServerError returns true for any 5xx response.
func IsServerError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode >= 500
	}
	return false
}

// IsTimeout reports whether err came from a deadline rather than a response.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func hasStatus(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == code
	}
	return false
}
