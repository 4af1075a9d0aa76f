package store

import (
	"errors"
	"fmt"
)

// SQLSTATE-style codes shared by every driver so callers can classify
// failures without knowing which backend produced them.
const (
	CodeUniqueViolation     = "23505"
	CodeNotNullViolation    = "23502"
	CodeForeignKeyViolation = "23503"
	CodeUndefinedTable      = "42P01"
	CodeUndefinedColumn     = "42703"
)

// Error is returned by drivers when the backend rejects an operation.
type Error struct {
	Op         string // select, insert, update, delete
	Table      string
	Code       string
	Column     string
	Constraint string
	Detail     string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (SQLSTATE %s)", msg, e.Code)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Table, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// HasCode reports whether err carries the given store error code.
func HasCode(err error, code string) bool {
	se, ok := AsError(err)
	return ok && se.Code == code
}
