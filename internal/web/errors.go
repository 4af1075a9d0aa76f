package web

// errors.go renders every failure as an ErrorResponse.
//
// The technical error is logged with the request ID; the client gets the
// user-facing message from core.MapError plus its support code. The status
// code follows the error's kind.

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/catalog/internal/core"
	"github.com/JonMunkholm/catalog/internal/logging"
	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/store"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// badRequestError marks malformed requests that are not query validation
// failures (bad JSON, missing upload).
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var bre *badRequestError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &bre), query.IsValidationError(err), errors.Is(err, core.ErrNoDataRows):
		return http.StatusBadRequest
	case errors.As(err, &mbe), strings.HasPrefix(err.Error(), "file too large"):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrUnknownEntity), errors.Is(err, core.ErrImportNotFound):
		return http.StatusNotFound
	case errors.Is(err, errImportRunning):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case store.HasCode(err, store.CodeUniqueViolation):
		return http.StatusConflict
	case store.HasCode(err, store.CodeForeignKeyViolation),
		store.HasCode(err, store.CodeNotNullViolation),
		store.HasCode(err, store.CodeUndefinedColumn):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// respondError writes err with the status statusFor picks.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorStatus(w, r, err, statusFor(err))
}

// respondErrorStatus logs the technical error and writes the user message.
func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", args...)
	} else {
		logger.Warn("request rejected", args...)
	}

	body := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	// Client errors echo the reason when it is about the caller's input.
	if status < http.StatusInternalServerError && (!core.IsUserFacing(err) || query.IsValidationError(err)) {
		body.Message = err.Error()
	}
	writeJSONStatus(w, status, body)
}
