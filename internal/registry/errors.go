package registry

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when an operation references an app ID that is not registered.
var ErrNotFound = errors.New("app not registered")

// ValidationError lists the request fields that were missing or malformed.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	if len(parts) == 0 {
		return "validation failed"
	}
	return strings.Join(parts, "; ")
}

// Fields returns every offending field, missing ones first.
func (e *ValidationError) Fields() []string {
	return append(append([]string(nil), e.Missing...), e.Invalid...)
}

func (e *ValidationError) empty() bool { return len(e.Missing) == 0 && len(e.Invalid) == 0 }

func missing(field string) error {
	return &ValidationError{Missing: []string{field}}
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
