package query

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed filter, sorter, pagination or entity
// reference. It is always raised before any store call is issued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid query: " + e.Reason
	}
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
