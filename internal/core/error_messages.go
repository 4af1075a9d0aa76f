// Package core is the data-access service of the catalog admin console:
// generic list/read/write operations over registered entities, bulk
// mutations with per-record results, and the tabular import pipeline.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. Typed errors (store constraint codes, validation errors and
// the package sentinels) are matched first; anything else falls back to
// case-insensitive message patterns.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this key already exists
//	        Action: Download failed rows to review duplicates
//	        Match: store code 23505, "duplicate key"
//
//	DB002 - Missing table: The table does not exist
//	        Action: Run the catalog migrations
//	        Match: store code 42P01
//
//	DB003 - Foreign key: Referenced record does not exist
//	        Action: Create the referenced records first
//	        Match: store code 23503, "foreign key"
//
//	DB004 - Connection refused: Unable to connect to database
//	        Action: Please try again in a few moments
//	        Patterns: "connection refused"
//
//	DB005 - Connection reset: Database connection was interrupted
//	        Action: Please try again
//	        Patterns: "connection reset"
//
//	DB006 - Timeout: Operation timed out
//	        Action: Try a smaller file or try again later
//	        Patterns: "timeout", "context deadline exceeded"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date: Invalid date format detected
//	VAL002 - Invalid number: Invalid number format detected
//	VAL003 - Required field: Required field is empty (store code 23502)
//	VAL004 - Unknown column: Column does not exist (store code 42703)
//	VAL005 - Invalid boolean: Use true/false, yes/no or 1/0
//
// # Query Errors (QRY001-QRY099)
//
//	QRY001 - Invalid query: A filter, sort or page parameter is malformed
//	QRY002 - Unknown entity: The entity is not registered
//	QRY003 - Not found: The record does not exist
//
// # Relation Errors (REL001-REL099)
//
//	REL001 - Missing related records: Some referenced IDs do not exist
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import cancelled: The import was cancelled
//	IMP002 - System busy: Too many imports in progress
//	IMP003 - Session expired: Import run not found
//	IMP004 - Invalid CSV: File is not a valid CSV
//	IMP005 - Empty file: The file has no data rows
//	IMP006 - File too large: File exceeds the maximum size
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited: Too many requests
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check application logs for the original
// technical error.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgDuplicate = UserMessage{
		Message: "A record with this key already exists",
		Action:  "Download failed rows to review duplicates",
		Code:    "DB001",
	}
	msgMissingTable = UserMessage{
		Message: "The table does not exist",
		Action:  "Run the catalog migrations",
		Code:    "DB002",
	}
	msgForeignKey = UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Create the referenced records first",
		Code:    "DB003",
	}
	msgTimeout = UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB006",
	}
	msgRequired = UserMessage{
		Message: "Required field is empty",
		Action:  "Ensure all required columns have values",
		Code:    "VAL003",
	}
	msgUnknownColumn = UserMessage{
		Message: "Column does not exist",
		Action:  "Check the column names against the entity definition",
		Code:    "VAL004",
	}
	msgInvalidQuery = UserMessage{
		Message: "The request contains an invalid filter, sort or page",
		Action:  "Check the filter operators and values",
		Code:    "QRY001",
	}
	msgUnknownEntity = UserMessage{
		Message: "Unknown entity",
		Action:  "Verify the entity name is correct",
		Code:    "QRY002",
	}
	msgNotFound = UserMessage{
		Message: "Record not found",
		Action:  "The record may have been deleted",
		Code:    "QRY003",
	}
	msgCancelled = UserMessage{
		Message: "Import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "IMP001",
	}
	msgBusy = UserMessage{
		Message: "Too many imports in progress",
		Action:  "Please wait a moment and try again",
		Code:    "IMP002",
	}
	msgImportNotFound = UserMessage{
		Message: "Import not found",
		Action:  "The import may have expired. Please start a new import",
		Code:    "IMP003",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages for errors that carry no type. The first match wins.
var errorPatterns = []errorPattern{
	{pattern: "duplicate key", msg: msgDuplicate},
	{pattern: "foreign key", msg: msgForeignKey},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{pattern: "timeout", msg: msgTimeout},
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
			Code:    "VAL001",
		},
	},
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Remove currency symbols and use standard decimal format",
			Code:    "VAL002",
		},
	},
	{
		pattern: "invalid boolean",
		msg: UserMessage{
			Message: "Invalid boolean value detected",
			Action:  "Use true/false, yes/no or 1/0",
			Code:    "VAL005",
		},
	},
	{
		pattern: "related records not found",
		msg: UserMessage{
			Message: "Some referenced IDs do not exist",
			Action:  "Review the relation columns; missing IDs are dropped from each row",
			Code:    "REL001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with a header row",
			Code:    "IMP004",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The file has no data rows",
			Action:  "Please upload a CSV file with data rows",
			Code:    "IMP005",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size",
			Action:  "Split the file into smaller chunks",
			Code:    "IMP006",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns an empty UserMessage for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	switch {
	case errors.Is(err, ErrNotFound):
		return msgNotFound, true
	case errors.Is(err, ErrUnknownEntity):
		return msgUnknownEntity, true
	case errors.Is(err, ErrImportNotFound):
		return msgImportNotFound, true
	case errors.Is(err, ErrImportCancelled):
		return msgCancelled, true
	case errors.Is(err, ErrTooManyImports):
		return msgBusy, true
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout, true
	case query.IsValidationError(err):
		return msgInvalidQuery, true
	}

	se, ok := store.AsError(err)
	if !ok {
		return UserMessage{}, false
	}
	switch se.Code {
	case store.CodeUniqueViolation:
		return msgDuplicate, true
	case store.CodeForeignKeyViolation:
		return msgForeignKey, true
	case store.CodeNotNullViolation:
		return msgRequired, true
	case store.CodeUndefinedTable:
		return msgMissingTable, true
	case store.CodeUndefinedColumn:
		return msgUnknownColumn, true
	}
	return UserMessage{}, false
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
