package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/JonMunkholm/catalog/internal/store"
)

// PreviewSummary contains the counts of an import preview.
type PreviewSummary struct {
	TotalRows       int `json:"totalRows"`
	NewRows         int `json:"newRows"`
	UpdateRows      int `json:"updateRows"`
	ErrorRows       int `json:"errorRows"`
	DuplicateInFile int `json:"duplicateInFile"`
}

// RowPreview is a row that would be created.
type RowPreview struct {
	Line   int               `json:"line"`
	ID     string            `json:"id,omitempty"`
	Values map[string]string `json:"values"`
}

// UpdateDiff is a before/after view of a row that would be updated.
type UpdateDiff struct {
	Line     int               `json:"line"`
	ID       string            `json:"id"`
	Current  map[string]string `json:"current"`
	Incoming map[string]string `json:"incoming"`
	Changed  []string          `json:"changed"`
}

// ErrorPreview is a row that would fail before reaching the store.
type ErrorPreview struct {
	Line   int               `json:"line"`
	Values map[string]string `json:"values"`
	Errors []string          `json:"errors"`
}

// DuplicatePreview is an id that appears on more than one line. Later lines
// overwrite earlier ones.
type DuplicatePreview struct {
	ID    string `json:"id"`
	Lines []int  `json:"lines"`
}

// ImportPreview is the read-only analysis of a sheet.
type ImportPreview struct {
	Summary          PreviewSummary     `json:"summary"`
	NewRowSamples    []RowPreview       `json:"newRowSamples"`
	UpdateDiffs      []UpdateDiff       `json:"updateDiffs"`
	ErrorSamples     []ErrorPreview     `json:"errorSamples"`
	DuplicateSamples []DuplicatePreview `json:"duplicateSamples"`
	RelationIssues   []RelationIssue    `json:"relationIssues,omitempty"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
}

// Sample limits
const (
	maxNewRowSamples    = 10
	maxUpdateDiffs      = 10
	maxErrorSamples     = 20
	maxDuplicateSamples = 10
	keyBatchSize        = 500
)

// PreviewImport reports what RunImport would do with sheet without writing
// anything: which rows create, which update (with a diff against the stored
// record), which fail validation, and which ids repeat within the file.
func (s *Service) PreviewImport(ctx context.Context, spec ImportSpec, sheet Sheet) (*ImportPreview, error) {
	start := time.Now()

	p, err := s.planImport(spec)
	if err != nil {
		return nil, err
	}

	rows := p.parse(sheet.Rows)
	resp := &ImportPreview{Summary: PreviewSummary{TotalRows: len(rows)}}
	resp.RelationIssues = s.validateRelations(ctx, p, rows)

	idCol := p.ref.ID()
	seen := make(map[string][]int)
	var ids []string
	var valid []ImportRow

	for _, row := range rows {
		errs := p.rowErrors(row)
		if len(errs) > 0 {
			resp.Summary.ErrorRows++
			if len(resp.ErrorSamples) < maxErrorSamples {
				resp.ErrorSamples = append(resp.ErrorSamples, ErrorPreview{Line: row.Line, Values: row.Raw, Errors: errs})
			}
			continue
		}
		if id, ok := nonEmptyID(row.Fields[idCol]); ok {
			key := fmt.Sprint(id)
			if seen[key] == nil {
				ids = append(ids, key)
			}
			seen[key] = append(seen[key], row.Line)
		}
		valid = append(valid, row)
	}

	for _, id := range ids {
		if lines := seen[id]; len(lines) > 1 {
			resp.Summary.DuplicateInFile += len(lines) - 1
			if len(resp.DuplicateSamples) < maxDuplicateSamples {
				resp.DuplicateSamples = append(resp.DuplicateSamples, DuplicatePreview{ID: id, Lines: lines})
			}
		}
	}

	existing, err := s.existingRecords(ctx, p, ids)
	if err != nil {
		return nil, err
	}

	for _, row := range valid {
		id, hasID := nonEmptyID(row.Fields[idCol])
		key := fmt.Sprint(id)
		current, exists := existing[key]
		if !hasID || !exists {
			resp.Summary.NewRows++
			if len(resp.NewRowSamples) < maxNewRowSamples {
				rp := RowPreview{Line: row.Line, Values: formatRecord(row.Fields)}
				if hasID {
					rp.ID = key
				}
				resp.NewRowSamples = append(resp.NewRowSamples, rp)
			}
			continue
		}

		resp.Summary.UpdateRows++
		if len(resp.UpdateDiffs) < maxUpdateDiffs {
			incoming := formatRecord(row.Fields)
			currentMap := formatRecord(current)
			var changed []string
			for col, v := range incoming {
				if currentMap[col] != v {
					changed = append(changed, col)
				}
			}
			slices.Sort(changed)
			resp.UpdateDiffs = append(resp.UpdateDiffs, UpdateDiff{
				Line:     row.Line,
				ID:       key,
				Current:  currentMap,
				Incoming: incoming,
				Changed:  changed,
			})
		}
	}

	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}

// rowErrors returns every problem that fails a row before the write: the
// parse error and missing required columns without a default. Required
// columns are not checked when a transform may fill them.
func (p *importPlan) rowErrors(row ImportRow) []string {
	var errs []string
	if row.Err != nil {
		errs = append(errs, ClassifyError(row.Err).Message)
	}
	if p.spec.Transform != nil {
		return errs
	}
	for _, col := range p.def.Columns {
		if !col.Required || col.Default != nil {
			continue
		}
		if _, ok := row.Fields[col.Name]; !ok {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", col.Name))
		}
	}
	return errs
}

// existingRecords loads the stored records for ids in batches, keyed by id.
func (s *Service) existingRecords(ctx context.Context, p *importPlan, ids []string) (map[string]store.Record, error) {
	out := make(map[string]store.Record, len(ids))
	idCol := p.ref.ID()
	for batch := range slices.Chunk(ids, keyBatchSize) {
		values := make([]any, len(batch))
		for i, id := range batch {
			values[i] = id
		}
		res, err := s.store.Select(ctx, store.SelectRequest{
			Table:   p.ref.Table(),
			Columns: "*",
			Filters: []store.Predicate{store.In(idCol, values)},
		})
		if err != nil {
			return nil, fmt.Errorf("look up existing %s: %w", p.ref.Name, err)
		}
		for _, r := range res.Rows {
			out[fmt.Sprint(r[idCol])] = r
		}
	}
	return out, nil
}

func formatRecord(r store.Record) map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = formatValue(v)
	}
	return out
}

// formatValue renders a stored value for display in a preview.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case float64:
		s := fmt.Sprintf("%.2f", val)
		s = strings.TrimRight(s, "0")
		return strings.TrimRight(s, ".")
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
