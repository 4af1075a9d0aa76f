// Package memstore is an in-memory implementation of store.Store.
//
// It enforces the same constraints a relational backend would (NOT NULL,
// primary-key uniqueness, foreign keys with cascade on junction tables) and
// reports violations with the same codes, so code under test sees realistic
// failures without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/catalog/internal/schema"
	"github.com/JonMunkholm/catalog/internal/store"
)

// Store holds tables as slices of records.
type Store struct {
	catalog *schema.Registry

	mu     sync.RWMutex
	tables map[string][]store.Record
}

// New creates an empty store. With a nil catalog, tables are schemaless and
// no constraints are checked.
func New(catalog *schema.Registry) *Store {
	return &Store{
		catalog: catalog,
		tables:  make(map[string][]store.Record),
	}
}

// Seed appends rows to a table, filling column defaults, without checking
// constraints.
func (s *Store) Seed(table string, rows ...store.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var def schema.TableDefinition
	var hasDef bool
	if s.catalog != nil {
		def, hasDef = s.catalog.Get(table)
	}
	for _, r := range rows {
		row := clone(r)
		if hasDef {
			applyDefaults(def, row)
		}
		s.tables[table] = append(s.tables[table], row)
	}
}

// Rows returns a copy of every row in table, in insertion order.
func (s *Store) Rows(table string) []store.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Record, len(s.tables[table]))
	for i, r := range s.tables[table] {
		out[i] = clone(r)
	}
	return out
}

func (s *Store) definition(op, table string) (schema.TableDefinition, bool, error) {
	if s.catalog == nil {
		return schema.TableDefinition{}, false, nil
	}
	def, ok := s.catalog.Get(table)
	if !ok {
		return def, false, &store.Error{
			Op: op, Table: table, Code: store.CodeUndefinedTable,
			Message: fmt.Sprintf("relation %q does not exist", table),
		}
	}
	return def, true, nil
}

type selected struct {
	row    store.Record
	embeds map[string]any
}

// Select implements store.Store.
func (s *Store) Select(_ context.Context, req store.SelectRequest) (store.SelectResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name := req.Table.Name
	fail := func(format string, args ...any) (store.SelectResult, error) {
		return store.SelectResult{}, &store.Error{Op: "select", Table: name, Message: fmt.Sprintf(format, args...)}
	}

	def, hasDef, err := s.definition("select", name)
	if err != nil {
		return store.SelectResult{}, err
	}
	expr, err := store.ParseSelect(req.Columns)
	if err != nil {
		return fail("%v", err)
	}
	if hasDef {
		for _, col := range expr.Columns() {
			if col != "*" {
				if _, ok := def.Column(col); !ok {
					return store.SelectResult{}, &store.Error{
						Op: "select", Table: name, Code: store.CodeUndefinedColumn, Column: col,
						Message: fmt.Sprintf("column %s.%s does not exist", name, col),
					}
				}
			}
		}
	}

	local, scoped := splitPredicates(req.Filters)
	links := make(map[string]store.Link)
	for _, e := range expr.Embeds() {
		if len(e.Items.Embeds()) > 0 {
			return fail("nested embeds under %s are not supported", e.Table)
		}
		link, ok := s.link(name, e.Table)
		if !ok {
			return fail("could not find a relationship between %s and %s", name, e.Table)
		}
		links[e.Table] = link
	}
	for table := range scoped {
		if _, ok := links[table]; !ok {
			return fail("filter on %s requires %s in the select expression", table, table)
		}
	}

	var rows []selected
	for _, row := range s.tables[name] {
		ok, err := matchAll(row, local)
		if err != nil {
			return fail("%v", err)
		}
		if !ok {
			continue
		}

		sel := selected{row: row, embeds: make(map[string]any)}
		keep := true
		for _, e := range expr.Embeds() {
			link := links[e.Table]
			preds := scoped[e.Table]
			switch link.Kind {
			case store.LinkForward:
				var related store.Record
				for _, cand := range s.tables[e.Table] {
					if equalValues(cand[link.ForeignColumn], row[link.LocalColumn]) {
						related = cand
						break
					}
				}
				if related != nil {
					if ok, err := matchAll(related, preds); err != nil {
						return fail("%v", err)
					} else if !ok {
						related = nil
					}
				}
				if related == nil {
					keep = keep && !e.Inner
					sel.embeds[e.Table] = nil
					continue
				}
				sel.embeds[e.Table] = related
			case store.LinkReverse:
				var children []store.Record
				for _, cand := range s.tables[e.Table] {
					if !equalValues(cand[link.ForeignColumn], row[link.LocalColumn]) {
						continue
					}
					ok, err := matchAll(cand, preds)
					if err != nil {
						return fail("%v", err)
					}
					if ok {
						children = append(children, cand)
					}
				}
				if len(children) == 0 && e.Inner {
					keep = false
				}
				sel.embeds[e.Table] = children
			}
		}
		if keep {
			rows = append(rows, sel)
		}
	}

	for _, o := range req.Order {
		if o.Table == "" {
			continue
		}
		link, ok := links[o.Table]
		if !ok {
			return fail("order on %s requires %s in the select expression", o.Table, o.Table)
		}
		if link.Kind != store.LinkForward {
			return fail("cannot order by one-to-many relation %s", o.Table)
		}
	}
	if len(req.Order) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, o := range req.Order {
				a, b := orderValue(rows[i], o), orderValue(rows[j], o)
				c := compareValues(a, b)
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	result := store.SelectResult{}
	if req.Count != store.CountNone {
		result.Count = int64(len(rows))
	}

	if req.Window != nil {
		from := req.Window.From
		if from > uint64(len(rows)) {
			from = uint64(len(rows))
		}
		to := from + req.Window.Limit()
		if to > uint64(len(rows)) {
			to = uint64(len(rows))
		}
		rows = rows[from:to]
	}

	result.Rows = make([]store.Record, 0, len(rows))
	for _, sel := range rows {
		out := project(sel.row, expr)
		for _, e := range expr.Embeds() {
			switch v := sel.embeds[e.Table].(type) {
			case store.Record:
				out[e.Table] = project(v, e.Items)
			case []store.Record:
				children := make([]store.Record, len(v))
				for i, c := range v {
					children[i] = project(c, e.Items)
				}
				out[e.Table] = children
			default:
				out[e.Table] = nil
			}
		}
		result.Rows = append(result.Rows, out)
	}
	return result, nil
}

func orderValue(sel selected, o store.Order) any {
	if o.Table == "" {
		return sel.row[o.Column]
	}
	if rel, ok := sel.embeds[o.Table].(store.Record); ok {
		return rel[o.Column]
	}
	return nil
}

func (s *Store) link(from, to string) (store.Link, bool) {
	if s.catalog == nil {
		return store.Link{}, false
	}
	return s.catalog.Link(from, to)
}

func splitPredicates(preds []store.Predicate) ([]store.Predicate, map[string][]store.Predicate) {
	var local []store.Predicate
	scoped := make(map[string][]store.Predicate)
	for _, p := range preds {
		if p.Table == "" {
			local = append(local, p)
		} else {
			scoped[p.Table] = append(scoped[p.Table], p)
		}
	}
	return local, scoped
}

// Insert implements store.Store. A multi-record insert is all or nothing.
func (s *Store) Insert(_ context.Context, table store.Table, records []store.Record) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := table.Name
	def, hasDef, err := s.definition("insert", name)
	if err != nil {
		return nil, err
	}

	staged := append([]store.Record(nil), s.tables[name]...)
	inserted := make([]store.Record, 0, len(records))
	for _, rec := range records {
		row := clone(rec)
		if hasDef {
			applyDefaults(def, row)
			if err := s.checkRow("insert", def, row, staged, -1); err != nil {
				return nil, err
			}
		}
		staged = append(staged, row)
		inserted = append(inserted, clone(row))
	}

	s.tables[name] = staged
	return inserted, nil
}

// Update implements store.Store.
func (s *Store) Update(_ context.Context, table store.Table, values store.Record, match []store.Predicate) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := table.Name
	def, hasDef, err := s.definition("update", name)
	if err != nil {
		return nil, err
	}
	if err := localOnly("update", name, match); err != nil {
		return nil, err
	}

	staged := append([]store.Record(nil), s.tables[name]...)
	var updated []store.Record
	for i, row := range staged {
		ok, err := matchAll(row, match)
		if err != nil {
			return nil, &store.Error{Op: "update", Table: name, Message: err.Error()}
		}
		if !ok {
			continue
		}
		next := clone(row)
		for k, v := range values {
			next[k] = v
		}
		if hasDef {
			if err := s.checkRow("update", def, next, staged, i); err != nil {
				return nil, err
			}
		}
		staged[i] = next
		updated = append(updated, clone(next))
	}

	s.tables[name] = staged
	if updated == nil {
		updated = []store.Record{}
	}
	return updated, nil
}

// Delete implements store.Store. Rows of junction tables referencing deleted
// rows are removed with them; any other reference blocks the delete.
func (s *Store) Delete(_ context.Context, table store.Table, match []store.Predicate) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := table.Name
	_, hasDef, err := s.definition("delete", name)
	if err != nil {
		return nil, err
	}
	if err := localOnly("delete", name, match); err != nil {
		return nil, err
	}

	var kept, deleted []store.Record
	for _, row := range s.tables[name] {
		ok, err := matchAll(row, match)
		if err != nil {
			return nil, &store.Error{Op: "delete", Table: name, Message: err.Error()}
		}
		if ok {
			deleted = append(deleted, row)
		} else {
			kept = append(kept, row)
		}
	}
	if len(deleted) == 0 {
		return []store.Record{}, nil
	}

	cascades := make(map[string][]store.Record)
	if hasDef {
		for _, other := range s.catalog.All() {
			for _, fk := range other.ForeignKeys {
				if fk.RefTable != name {
					continue
				}
				source, seen := cascades[other.Info.Key]
				if !seen {
					source = s.tables[other.Info.Key]
					if other.Info.Key == name {
						source = kept
					}
				}
				var remaining []store.Record
				for _, ref := range source {
					if !referencesAny(ref[fk.Column], deleted, fk.RefColumn) {
						remaining = append(remaining, ref)
						continue
					}
					if !other.Info.Junction {
						constraint := fmt.Sprintf("%s_%s_fkey", other.Info.Key, fk.Column)
						return nil, &store.Error{
							Op: "delete", Table: name, Code: store.CodeForeignKeyViolation, Constraint: constraint,
							Message: fmt.Sprintf("update or delete on table %q violates foreign key constraint %q on table %q",
								name, constraint, other.Info.Key),
							Detail: fmt.Sprintf("Key (%s)=(%v) is still referenced from table %q.", fk.RefColumn, ref[fk.Column], other.Info.Key),
						}
					}
				}
				if other.Info.Junction {
					cascades[other.Info.Key] = remaining
				}
			}
		}
	}

	for t, rows := range cascades {
		s.tables[t] = rows
	}
	s.tables[name] = kept

	out := make([]store.Record, len(deleted))
	for i, r := range deleted {
		out[i] = clone(r)
	}
	return out, nil
}

func referencesAny(v any, rows []store.Record, column string) bool {
	for _, r := range rows {
		if equalValues(v, r[column]) {
			return true
		}
	}
	return false
}

func localOnly(op, table string, match []store.Predicate) error {
	for _, p := range match {
		if p.Table != "" {
			return &store.Error{Op: op, Table: table, Message: fmt.Sprintf("predicate on %s.%s is not allowed in %s", p.Table, p.Column, op)}
		}
	}
	return nil
}

func applyDefaults(def schema.TableDefinition, row store.Record) {
	for _, col := range def.Columns {
		if _, present := row[col.Name]; !present && col.Default != nil {
			row[col.Name] = col.Default()
		}
	}
}

// checkRow validates row against def. self is the index of the row being
// replaced in rows, or -1 for a new row.
func (s *Store) checkRow(op string, def schema.TableDefinition, row store.Record, rows []store.Record, self int) error {
	name := def.Info.Key

	for col := range row {
		if _, ok := def.Column(col); !ok {
			return &store.Error{
				Op: op, Table: name, Code: store.CodeUndefinedColumn, Column: col,
				Message: fmt.Sprintf("column %q of relation %q does not exist", col, name),
			}
		}
	}

	for _, col := range def.Columns {
		if col.Required && row[col.Name] == nil {
			return &store.Error{
				Op: op, Table: name, Code: store.CodeNotNullViolation, Column: col.Name,
				Message: fmt.Sprintf("null value in column %q of relation %q violates not-null constraint", col.Name, name),
			}
		}
	}

	keyCols := uniqueKey(def)
	for i, other := range rows {
		if i == self {
			continue
		}
		same := len(keyCols) > 0
		for _, k := range keyCols {
			if !equalValues(row[k], other[k]) {
				same = false
				break
			}
		}
		if same {
			vals := make([]string, len(keyCols))
			for j, k := range keyCols {
				vals[j] = fmt.Sprint(row[k])
			}
			constraint := name + "_pkey"
			return &store.Error{
				Op: op, Table: name, Code: store.CodeUniqueViolation, Constraint: constraint,
				Message: fmt.Sprintf("duplicate key value violates unique constraint %q", constraint),
				Detail:  fmt.Sprintf("Key (%s)=(%s) already exists.", strings.Join(keyCols, ", "), strings.Join(vals, ", ")),
			}
		}
	}

	for _, fk := range def.ForeignKeys {
		v := row[fk.Column]
		if v == nil {
			continue
		}
		refRows := s.tables[fk.RefTable]
		if fk.RefTable == name {
			refRows = append(append([]store.Record(nil), rows...), row)
		}
		if !referencesAny(v, refRows, fk.RefColumn) {
			constraint := fmt.Sprintf("%s_%s_fkey", name, fk.Column)
			return &store.Error{
				Op: op, Table: name, Code: store.CodeForeignKeyViolation, Constraint: constraint,
				Message: fmt.Sprintf("insert or update on table %q violates foreign key constraint %q", name, constraint),
				Detail:  fmt.Sprintf("Key (%s)=(%v) is not present in table %q.", fk.Column, v, fk.RefTable),
			}
		}
	}
	return nil
}

// uniqueKey is the primary key of def: its id column, or every foreign-key
// column for a junction table.
func uniqueKey(def schema.TableDefinition) []string {
	if def.IDColumn != "" {
		return []string{def.IDColumn}
	}
	if def.Info.Junction {
		cols := make([]string, len(def.ForeignKeys))
		for i, fk := range def.ForeignKeys {
			cols[i] = fk.Column
		}
		return cols
	}
	return nil
}
