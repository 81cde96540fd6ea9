package store

import (
	"errors"

	"segclient/internal/wsclient"
)

var (
	// ErrNoImage is wrapped by the validation error returned when
	// processing is requested without a current image.
	ErrNoImage = errors.New("no image selected")
	// ErrNoAlgorithms is wrapped when the active set is empty.
	ErrNoAlgorithms = errors.New("no algorithms selected")
	// ErrNotConnected is returned by ConnectionStore.Send while offline.
	ErrNotConnected = wsclient.ErrNotConnected
)

// validationError rejects input before any network call.
type validationError struct {
	field string
	msg   string
	cause error
}

func (e validationError) Error() string { return e.msg }
func (e validationError) Unwrap() error { return e.cause }

// ErrValidation builds a validation error for field with a user-facing
// message.
func ErrValidation(field, msg string) error {
	return validationError{field: field, msg: msg}
}

func wrapValidation(field, msg string, cause error) error {
	return validationError{field: field, msg: msg, cause: cause}
}

// IsValidation reports whether err was produced by input validation.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}

// ValidationField returns the offending field of a validation error.
func ValidationField(err error) string {
	var v validationError
	if errors.As(err, &v) {
		return v.field
	}
	return ""
}
