// Package logging configures log/slog for the catalog service and carries
// per-request fields through context.
//
// Loggers obtained with FromContext include the chi request ID when the
// request passed through middleware.RequestID, plus any fields attached
// with With. Long-running work such as import runs attaches its run ID once
// and every log line below it carries it.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type fieldsKey struct{}

// Setup installs the default logger writing to stdout.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, level, format)))
}

// NewHandler returns a text or JSON handler writing to w.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel converts a level name to slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a context whose loggers carry args in addition to any
// fields already attached.
func With(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(fieldsKey{}).([]any)
	fields := make([]any, 0, len(prev)+len(args))
	fields = append(fields, prev...)
	fields = append(fields, args...)
	return context.WithValue(ctx, fieldsKey{}, fields)
}

// FromContext returns the default logger enriched with the request ID and
// the fields attached to ctx.
//
//	func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
//	    logger := logging.FromContext(r.Context())
//	    logger.Info("listing", "entity", entity)
//	}
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if fields, ok := ctx.Value(fieldsKey{}).([]any); ok && len(fields) > 0 {
		logger = logger.With(fields...)
	}
	return logger
}

// WithFields returns a logger for one multi-step operation.
//
//	logger := logging.WithFields(ctx, "import_id", id, "entity", entity)
//	logger.Info("import started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
