package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalog/internal/logging"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionCreate     AuditAction = "create"
	ActionUpdate     AuditAction = "update"
	ActionDelete     AuditAction = "delete"
	ActionBulkCreate AuditAction = "bulk_create"
	ActionBulkUpdate AuditAction = "bulk_update"
	ActionBulkDelete AuditAction = "bulk_delete"
	ActionImport     AuditAction = "import"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           string        `json:"id"`
	Action       AuditAction   `json:"action"`
	Severity     AuditSeverity `json:"severity"`
	Entity       string        `json:"entity"`
	IPAddress    string        `json:"ipAddress,omitempty"`
	UserAgent    string        `json:"userAgent,omitempty"`
	RecordIDs    []any         `json:"recordIds,omitempty"`
	RowsAffected int           `json:"rowsAffected"`
	RowsFailed   int           `json:"rowsFailed,omitempty"`
	ImportID     string        `json:"importId,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// AuditSink receives audit entries. The default sink writes them to slog.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, entry AuditEntry)

func (f AuditSinkFunc) Record(ctx context.Context, entry AuditEntry) { f(ctx, entry) }

// SlogAuditSink logs each entry as an "audit" record on the request logger.
type SlogAuditSink struct{}

func (SlogAuditSink) Record(ctx context.Context, e AuditEntry) {
	attrs := []slog.Attr{
		slog.String("audit_id", e.ID),
		slog.String("action", string(e.Action)),
		slog.String("severity", string(e.Severity)),
		slog.String("entity", e.Entity),
		slog.Any("record_ids", e.RecordIDs),
		slog.Int("rows_affected", e.RowsAffected),
		slog.Int("rows_failed", e.RowsFailed),
		slog.String("ip", e.IPAddress),
		slog.String("user_agent", e.UserAgent),
	}
	if e.ImportID != "" {
		attrs = append(attrs, slog.String("import_id", e.ImportID))
	}
	logging.FromContext(ctx).LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// AuditLogParams contains parameters for creating an audit log entry.
type AuditLogParams struct {
	Action       AuditAction
	Entity       string
	RecordIDs    []any
	RowsAffected int
	RowsFailed   int
	ImportID     string
	Reason       string
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionDelete, ActionBulkDelete, ActionImport:
		return SeverityHigh
	case ActionCreate:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// audit records a mutation. IP and user agent come from ctx.
func (s *Service) audit(ctx context.Context, params AuditLogParams) {
	if s.auditSink == nil {
		return
	}
	info := RequestInfoFrom(ctx)
	s.auditSink.Record(ctx, AuditEntry{
		ID:           uuid.NewString(),
		Action:       params.Action,
		Severity:     determineSeverity(params.Action),
		Entity:       params.Entity,
		IPAddress:    info.IPAddress,
		UserAgent:    info.UserAgent,
		RecordIDs:    params.RecordIDs,
		RowsAffected: params.RowsAffected,
		RowsFailed:   params.RowsFailed,
		ImportID:     params.ImportID,
		Reason:       params.Reason,
		CreatedAt:    time.Now().UTC(),
	})
}
