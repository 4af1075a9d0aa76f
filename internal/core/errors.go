package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/store"
)

var (
	// ErrNotFound is returned by single-record operations that matched no row.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownEntity is returned when an entity is not in the registry.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrImportNotFound is returned for import run IDs that are not tracked,
	// either never started or already cleaned up.
	ErrImportNotFound = errors.New("import not found")

	// ErrImportCancelled is recorded against rows skipped by a cancelled run.
	ErrImportCancelled = errors.New("import cancelled")
)

// RowErrorKind is the category of a failed row.
type RowErrorKind string

const (
	KindDuplicate  RowErrorKind = "duplicate_key"
	KindMissing    RowErrorKind = "missing_required_field"
	KindForeignKey RowErrorKind = "invalid_reference"
	KindInvalid    RowErrorKind = "invalid_value"
	KindOther      RowErrorKind = "other"
)

// RowError is a classified, human-readable failure.
type RowError struct {
	Kind    RowErrorKind `json:"kind"`
	Column  string       `json:"column,omitempty"`
	Value   string       `json:"value,omitempty"`
	Message string       `json:"message"`
}

func (e RowError) Error() string { return e.Message }

// keyDetail matches the "Key (col)=(value) ..." detail of constraint errors.
var keyDetail = regexp.MustCompile(`Key \(([^)]+)\)=\((.*)\)`)

// notNullColumn extracts the column from a not-null message when the driver
// did not fill store.Error.Column.
var notNullColumn = regexp.MustCompile(`column "?([A-Za-z_][A-Za-z0-9_]*)"?`)

// ClassifyError sorts a row failure into a RowError. Store errors are
// classified by code; anything else is KindOther with the raw message.
func ClassifyError(err error) RowError {
	if err == nil {
		return RowError{}
	}

	var ce *CoercionError
	if errors.As(err, &ce) {
		return RowError{Kind: KindInvalid, Column: ce.Field, Value: ce.Value, Message: ce.Error()}
	}
	if query.IsValidationError(err) {
		return RowError{Kind: KindInvalid, Message: err.Error()}
	}

	se, ok := store.AsError(err)
	if !ok {
		return RowError{Kind: KindOther, Message: err.Error()}
	}

	col, val := se.Column, ""
	if m := keyDetail.FindStringSubmatch(se.Detail); m != nil {
		col, val = m[1], m[2]
	}

	switch se.Code {
	case store.CodeUniqueViolation:
		msg := "Duplicate key: a record with this key already exists"
		if col != "" {
			msg = fmt.Sprintf("Duplicate key: %s=%s already exists", col, val)
		}
		return RowError{Kind: KindDuplicate, Column: col, Value: val, Message: msg}

	case store.CodeNotNullViolation:
		if col == "" {
			if m := notNullColumn.FindStringSubmatch(se.Message); m != nil {
				col = m[1]
			}
		}
		msg := "Missing required field"
		if col != "" {
			msg = fmt.Sprintf("Missing required field: %s", col)
		}
		return RowError{Kind: KindMissing, Column: col, Message: msg}

	case store.CodeForeignKeyViolation:
		msg := "Invalid reference: a referenced record does not exist"
		switch {
		case col != "" && val != "":
			msg = fmt.Sprintf("Invalid reference: %s=%s does not exist", col, val)
		case col != "":
			msg = fmt.Sprintf("Invalid reference in %s", col)
		}
		return RowError{Kind: KindForeignKey, Column: col, Value: val, Message: msg}
	}

	return RowError{Kind: KindOther, Column: se.Column, Message: err.Error()}
}

// CoercionError reports an import cell that could not be converted to its
// column type.
type CoercionError struct {
	Field string
	Value string
	Err   error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *CoercionError) Unwrap() error { return e.Err }

// describeIDs renders up to limit IDs plus an overflow count.
func describeIDs(ids []string, limit int) string {
	if len(ids) <= limit {
		return strings.Join(ids, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(ids[:limit], ", "), len(ids)-limit)
}
