package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/JonMunkholm/catalog/internal/logging"
	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/schema"
	"github.com/JonMunkholm/catalog/internal/store"
)

// maxMissingShown caps the missing ids listed per relation issue.
const maxMissingShown = 5

// ImportPhase is the state of an import run.
type ImportPhase string

const (
	PhaseStarting           ImportPhase = "starting"
	PhaseParsed             ImportPhase = "parsed"
	PhaseRelationsValidated ImportPhase = "relations_validated"
	PhaseImporting          ImportPhase = "importing"
	PhaseCompleted          ImportPhase = "completed"
	PhaseFailed             ImportPhase = "failed"
	PhaseCancelled          ImportPhase = "cancelled"
)

// Done reports whether the phase is terminal.
func (p ImportPhase) Done() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Row is one data row of a sheet keyed by header.
type Row struct {
	Line   int
	Values map[string]string
}

// Sheet is parsed tabular input.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []Row
}

// ImportRelation declares a field carrying comma-separated ids of a
// many-to-many relation.
type ImportRelation struct {
	Field  string
	Config query.RelationConfig
	// Target is the related entity the ids are checked against.
	Target query.EntityRef
}

// ImportSpec describes how a sheet maps onto an entity.
type ImportSpec struct {
	Entity string

	// FieldMap maps sheet headers to field names. Headers without an entry
	// are used as field names when they name a column or relation.
	FieldMap map[string]string

	// Relations nil uses the relations declared for the entity.
	Relations []ImportRelation

	// Exclude lists field names that are never written.
	Exclude []string

	// Transform, if set, rewrites the entity fields of each row before the
	// write. An error fails the row.
	Transform func(store.Record) (store.Record, error)
}

// RowStatus is the outcome of one imported row.
type RowStatus string

const (
	RowSuccess RowStatus = "success"
	RowFailed  RowStatus = "failed"
)

// RowAction says which write a row was routed to.
type RowAction string

const (
	ActionCreated  RowAction = "create"
	ActionUpserted RowAction = "upsert"
)

// RowResult is the outcome of one row. Data holds the original cells of
// failed rows for re-export.
type RowResult struct {
	Line   int               `json:"line"`
	Status RowStatus         `json:"status"`
	Action RowAction         `json:"action,omitempty"`
	ID     any               `json:"id,omitempty"`
	Error  *RowError         `json:"error,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
}

// RelationIssue is an advisory relation validation failure. Missing ids are
// dropped from the rows referencing them; the rows still import.
type RelationIssue struct {
	Field        string   `json:"field"`
	Missing      []string `json:"missing,omitempty"`
	MissingCount int      `json:"missingCount"`
	Message      string   `json:"message"`
}

// ImportReport is the outcome of an import run.
type ImportReport struct {
	ImportID       string          `json:"importId,omitempty"`
	Entity         string          `json:"entity"`
	FileName       string          `json:"fileName,omitempty"`
	Phase          ImportPhase     `json:"phase"`
	TotalRows      int             `json:"totalRows"`
	SuccessCount   int             `json:"successCount"`
	FailedCount    int             `json:"failedCount"`
	Rows           []RowResult     `json:"rows"`
	RelationIssues []RelationIssue `json:"relationIssues,omitempty"`
	Headers        []string        `json:"headers,omitempty"`
	Error          string          `json:"error,omitempty"`
	Duration       time.Duration   `json:"duration"`
}

// Failed returns the results of failed rows.
func (r *ImportReport) Failed() []RowResult {
	var out []RowResult
	for _, row := range r.Rows {
		if row.Status == RowFailed {
			out = append(out, row)
		}
	}
	return out
}

// ImportRow is a sheet row split into entity fields and relation ids.
type ImportRow struct {
	Line      int
	Raw       map[string]string
	Fields    store.Record
	Relations map[string][]string

	// Err is a parse failure; the row fails without any write.
	Err error
}

// importPlan is a validated ImportSpec.
type importPlan struct {
	spec      ImportSpec
	def       schema.TableDefinition
	ref       query.EntityRef
	relations map[string]ImportRelation
	exclude   map[string]bool
}

func (s *Service) planImport(spec ImportSpec) (*importPlan, error) {
	def, ref, err := s.entity(spec.Entity, query.SelectMeta{})
	if err != nil {
		return nil, err
	}
	if ref.IDColumn == "" {
		return nil, &query.ValidationError{Field: spec.Entity, Reason: "entity has no id column"}
	}

	p := &importPlan{
		spec:      spec,
		def:       def,
		ref:       ref,
		relations: make(map[string]ImportRelation),
		exclude:   make(map[string]bool, len(spec.Exclude)),
	}
	for _, f := range spec.Exclude {
		p.exclude[f] = true
	}

	relations := spec.Relations
	if relations == nil {
		for _, r := range def.Relations {
			relations = append(relations, ImportRelation{
				Field:  r.Name,
				Config: r.Config,
				Target: query.EntityRef{Name: r.Target, IDColumn: r.TargetID, Schema: s.schema},
			})
		}
	}
	for _, r := range relations {
		for _, ident := range []string{r.Field, r.Config.ThroughTable, r.Config.OwnerKey, r.Config.RelatedKey} {
			if !store.ValidIdent(ident) {
				return nil, &query.ValidationError{Field: r.Field, Reason: fmt.Sprintf("invalid relation identifier %q", ident)}
			}
		}
		if r.Target.Name != "" {
			if err := r.Target.Validate(); err != nil {
				return nil, err
			}
		}
		p.relations[r.Field] = r
	}
	return p, nil
}

// field returns the field a header maps to.
func (p *importPlan) field(header string) (string, bool) {
	if f, ok := p.spec.FieldMap[header]; ok {
		return f, f != ""
	}
	if _, ok := p.relations[header]; ok {
		return header, true
	}
	if _, ok := p.def.Column(header); ok {
		return header, true
	}
	return "", false
}

// parse maps every row onto entity fields and relation ids. Empty cells are
// omitted so inserts fall back to column defaults.
func (p *importPlan) parse(rows []Row) []ImportRow {
	out := make([]ImportRow, len(rows))
	for i, row := range rows {
		ir := ImportRow{
			Line:      row.Line,
			Raw:       row.Values,
			Fields:    store.Record{},
			Relations: map[string][]string{},
		}
		for _, header := range sortedKeys(row.Values) {
			raw := row.Values[header]
			field, ok := p.field(header)
			if !ok || p.exclude[field] {
				continue
			}
			if _, isRel := p.relations[field]; isRel {
				if ids := splitIDs(raw); len(ids) > 0 {
					ir.Relations[field] = ids
				}
				continue
			}

			typ := schema.FieldText
			if col, ok := p.def.Column(field); ok {
				typ = col.Type
			}
			v, err := schema.Convert(typ, raw)
			if err != nil {
				if ir.Err == nil {
					ir.Err = &CoercionError{Field: field, Value: raw, Err: err}
				}
				continue
			}
			if v != nil {
				ir.Fields[field] = v
			}
		}
		out[i] = ir
	}
	return out
}

// splitIDs splits a comma-joined cell, dropping blanks and duplicates.
func splitIDs(raw string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		id := schema.CleanCell(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// ParseRows runs the parse stage of spec over rows.
func (s *Service) ParseRows(spec ImportSpec, rows []Row) ([]ImportRow, error) {
	p, err := s.planImport(spec)
	if err != nil {
		return nil, err
	}
	return p.parse(rows), nil
}

// ValidateRelations checks that every related id referenced by rows exists.
// It is advisory: missing ids are removed from rows in place and reported.
func (s *Service) ValidateRelations(ctx context.Context, spec ImportSpec, rows []ImportRow) ([]RelationIssue, error) {
	p, err := s.planImport(spec)
	if err != nil {
		return nil, err
	}
	return s.validateRelations(ctx, p, rows), nil
}

func (s *Service) validateRelations(ctx context.Context, p *importPlan, rows []ImportRow) []RelationIssue {
	logger := logging.WithFields(ctx, "entity", p.ref.Name)

	var issues []RelationIssue
	for _, field := range sortedKeys(p.relations) {
		rel := p.relations[field]
		if rel.Target.Name == "" {
			continue
		}

		var ids []any
		seen := make(map[string]bool)
		for _, row := range rows {
			for _, id := range row.Relations[field] {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		if len(ids) == 0 {
			continue
		}

		res, err := s.store.Select(ctx, store.SelectRequest{
			Table:   rel.Target.Table(),
			Columns: rel.Target.ID(),
			Filters: []store.Predicate{store.In(rel.Target.ID(), ids)},
		})
		if err != nil {
			logger.Warn("relation validation failed", "field", field, "error", err)
			issues = append(issues, RelationIssue{
				Field:   field,
				Message: fmt.Sprintf("could not validate %s: %v", field, err),
			})
			continue
		}

		found := make(map[string]bool, len(res.Rows))
		for _, r := range res.Rows {
			found[fmt.Sprint(r[rel.Target.ID()])] = true
		}
		var missing []string
		for _, id := range ids {
			if k := fmt.Sprint(id); !found[k] {
				missing = append(missing, k)
			}
		}
		if len(missing) == 0 {
			continue
		}

		issue := RelationIssue{
			Field:        field,
			MissingCount: len(missing),
			Message:      fmt.Sprintf("related records not found for %s: %s", field, describeIDs(missing, maxMissingShown)),
		}
		issue.Missing = missing
		if len(missing) > maxMissingShown {
			issue.Missing = missing[:maxMissingShown]
		}
		issues = append(issues, issue)
		logger.Warn("related records not found", "field", field, "missing", len(missing))

		drop := make(map[string]bool, len(missing))
		for _, id := range missing {
			drop[id] = true
		}
		for i := range rows {
			vals, ok := rows[i].Relations[field]
			if !ok {
				continue
			}
			kept := vals[:0]
			for _, v := range vals {
				if !drop[v] {
					kept = append(kept, v)
				}
			}
			if len(kept) == 0 {
				delete(rows[i].Relations, field)
			} else {
				rows[i].Relations[field] = kept
			}
		}
	}
	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// ImportProgress is a snapshot of a running import.
type ImportProgress struct {
	ImportID   string      `json:"importId"`
	Entity     string      `json:"entity"`
	FileName   string      `json:"fileName,omitempty"`
	Phase      ImportPhase `json:"phase"`
	TotalRows  int         `json:"totalRows"`
	CurrentRow int         `json:"currentRow"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Error      string      `json:"error,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
func (p ImportProgress) Percent() int {
	if p.TotalRows > 0 {
		return (p.CurrentRow * 100) / p.TotalRows
	}
	if p.Phase.Done() {
		return 100
	}
	return 0
}

// RunImport imports sheet into spec.Entity and returns the report.
//
// Rows are written one at a time in sheet order. A row with a non-empty id
// is upserted: updated by id, inserted when no row matched, and its
// junction rows are replaced. Other rows are inserted. A failed row is
// recorded and the run moves on. Cancelling ctx stops the run between rows;
// the row being written still completes, including its junction rows, and
// the remaining rows are reported as failed.
//
// The error is only for an invalid spec.
func (s *Service) RunImport(ctx context.Context, spec ImportSpec, sheet Sheet) (*ImportReport, error) {
	p, err := s.planImport(spec)
	if err != nil {
		return nil, err
	}
	report := s.runImport(ctx, p, sheet, "", nil)
	s.metrics.importRun(report)
	return report, nil
}

// runImport drives the pipeline. progress, if set, is called after each
// phase change and row.
func (s *Service) runImport(ctx context.Context, p *importPlan, sheet Sheet, importID string, progress func(ImportProgress)) *ImportReport {
	start := time.Now()
	logger := logging.WithFields(ctx, "entity", p.ref.Name, "file", sheet.Name)

	report := &ImportReport{
		ImportID:  importID,
		Entity:    p.ref.Name,
		FileName:  sheet.Name,
		Phase:     PhaseStarting,
		TotalRows: len(sheet.Rows),
		Rows:      make([]RowResult, 0, len(sheet.Rows)),
		Headers:   sheet.Headers,
	}
	notify := func() {
		if progress == nil {
			return
		}
		progress(ImportProgress{
			ImportID:   importID,
			Entity:     report.Entity,
			FileName:   report.FileName,
			Phase:      report.Phase,
			TotalRows:  report.TotalRows,
			CurrentRow: len(report.Rows),
			Succeeded:  report.SuccessCount,
			Failed:     report.FailedCount,
			Error:      report.Error,
		})
	}

	rows := p.parse(sheet.Rows)
	report.Phase = PhaseParsed
	notify()

	report.RelationIssues = s.validateRelations(ctx, p, rows)
	report.Phase = PhaseRelationsValidated
	notify()

	logger.Info("import started", "rows", len(rows), "relation_issues", len(report.RelationIssues))
	report.Phase = PhaseImporting
	notify()

	for i, row := range rows {
		if ctx.Err() != nil {
			for _, rest := range rows[i:] {
				report.add(failedRow(rest, RowError{Kind: KindOther, Message: ErrImportCancelled.Error()}))
			}
			report.Phase = PhaseCancelled
			report.Error = ErrImportCancelled.Error()
			break
		}

		// An issued row runs to completion; cancellation and the run
		// timeout only stop the rows after it.
		res := s.importRow(context.WithoutCancel(ctx), p, row)
		if res.Status == RowFailed {
			logger.Warn("import row failed", "line", row.Line, "error", res.Error.Message)
		} else {
			logger.Debug("import row written", "line", row.Line, "action", res.Action, "id", res.ID)
		}
		report.add(res)
		notify()
	}

	if report.Phase != PhaseCancelled {
		report.Phase = PhaseCompleted
	}
	report.Duration = time.Since(start)
	notify()

	logger.Info("import finished",
		"phase", report.Phase,
		"succeeded", report.SuccessCount,
		"failed", report.FailedCount,
		"duration", report.Duration,
	)
	s.audit(ctx, AuditLogParams{
		Action:       ActionImport,
		Entity:       p.ref.Name,
		RowsAffected: report.SuccessCount,
		RowsFailed:   report.FailedCount,
		ImportID:     importID,
		Reason:       sheet.Name,
	})
	return report
}

func (r *ImportReport) add(res RowResult) {
	r.Rows = append(r.Rows, res)
	if res.Status == RowSuccess {
		r.SuccessCount++
	} else {
		r.FailedCount++
	}
}

func failedRow(row ImportRow, rerr RowError) RowResult {
	return RowResult{Line: row.Line, Status: RowFailed, Error: &rerr, Data: row.Raw}
}

// importRow writes one row: the entity record, then each relation's
// junction rows. The steps are not atomic.
func (s *Service) importRow(ctx context.Context, p *importPlan, row ImportRow) RowResult {
	if row.Err != nil {
		return failedRow(row, ClassifyError(row.Err))
	}

	fields := row.Fields
	if p.spec.Transform != nil {
		out, err := p.spec.Transform(clone(fields))
		if err != nil {
			return failedRow(row, ClassifyError(err))
		}
		fields = out
	}

	idCol := p.ref.ID()
	id, upsert := nonEmptyID(fields[idCol])
	action := ActionCreated
	if upsert {
		action = ActionUpserted
	}
	table := p.ref.Table()

	var written []store.Record
	var err error
	if upsert {
		written, err = s.store.Update(ctx, table, fields, []store.Predicate{store.Eq(idCol, id)})
		if err == nil && len(written) == 0 {
			written, err = s.store.Insert(ctx, table, []store.Record{fields})
		}
	} else {
		written, err = s.store.Insert(ctx, table, []store.Record{fields})
	}
	if err != nil {
		return failedRow(row, ClassifyError(err))
	}
	if len(written) == 0 {
		return failedRow(row, RowError{Kind: KindOther, Message: "store returned no row"})
	}

	key := written[0][idCol]
	for _, field := range sortedKeys(row.Relations) {
		rel, ok := p.relations[field]
		if !ok {
			continue
		}
		if err := s.syncJunction(ctx, rel.Config, key, row.Relations[field], upsert); err != nil {
			res := failedRow(row, ClassifyError(err))
			res.Action, res.ID = action, key
			return res
		}
	}

	return RowResult{Line: row.Line, Status: RowSuccess, Action: action, ID: key}
}

// syncJunction replaces the junction rows of owner with related. The delete
// is skipped for freshly created owners.
func (s *Service) syncJunction(ctx context.Context, rel query.RelationConfig, owner any, related []string, replace bool) error {
	through := s.table(rel.ThroughTable)
	if replace {
		if _, err := s.store.Delete(ctx, through, []store.Predicate{store.Eq(rel.OwnerKey, owner)}); err != nil {
			return fmt.Errorf("clear %s: %w", rel.ThroughTable, err)
		}
	}
	if len(related) == 0 {
		return nil
	}
	recs := make([]store.Record, len(related))
	for i, id := range related {
		recs[i] = store.Record{rel.OwnerKey: owner, rel.RelatedKey: id}
	}
	if _, err := s.store.Insert(ctx, through, recs); err != nil {
		return fmt.Errorf("link %s: %w", rel.ThroughTable, err)
	}
	return nil
}

// nonEmptyID reports whether v is a usable id.
func nonEmptyID(v any) (any, bool) {
	switch id := v.(type) {
	case nil:
		return nil, false
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	}
	return v, true
}

func clone(r store.Record) store.Record {
	out := make(store.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
