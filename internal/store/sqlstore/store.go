// Package sqlstore implements store.Store on a relational database. Queries
// are assembled with squirrel; PostgreSQL is reached through a pgx pool and
// SQLite through database/sql with the pure-Go modernc driver.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/JonMunkholm/catalog/internal/store"
)

// DefaultEstimateThreshold is the planner row estimate above which an
// "estimated" count trusts the planner instead of counting exactly.
const DefaultEstimateThreshold = 10000

// querier runs a statement and returns the result set fully materialized.
type querier interface {
	query(ctx context.Context, sql string, args ...any) ([]string, [][]any, error)
	exec(ctx context.Context, sql string) error
	ping(ctx context.Context) error
	close() error
}

// Store is a SQL-backed store.Store.
type Store struct {
	q                 querier
	b                 builder
	estimateThreshold int64
}

// Option configures a Store.
type Option func(*Store)

// WithEstimateThreshold sets the planner estimate threshold used by
// CountEstimated.
func WithEstimateThreshold(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.estimateThreshold = n
		}
	}
}

func newStore(q querier, d dialect, catalog store.Catalog, opts ...Option) *Store {
	s := &Store{
		q:                 q,
		b:                 builder{d: d, catalog: catalog},
		estimateThreshold: DefaultEstimateThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dialect returns "postgres" or "sqlite".
func (s *Store) Dialect() string { return s.b.d.name }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.q.ping(ctx) }

// Close releases the underlying connections.
func (s *Store) Close() error { return s.q.close() }

// Migrate executes a DDL script one statement at a time.
func (s *Store) Migrate(ctx context.Context, ddl string) error {
	for _, stmt := range splitStatements(ddl) {
		if err := s.q.exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", s.b.d.mapError("migrate", "", err))
		}
	}
	return nil
}

func splitStatements(ddl string) []string {
	var out []string
	for _, part := range strings.Split(ddl, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (s *Store) run(ctx context.Context, op, table string, stmt sq.Sqlizer) ([]string, [][]any, error) {
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, nil, &store.Error{Op: op, Table: table, Err: err}
	}
	slog.Debug("sql", "op", op, "table", table, "query", sqlStr, "args", len(args))
	cols, rows, err := s.q.query(ctx, sqlStr, args...)
	if err != nil {
		return nil, nil, s.b.d.mapError(op, table, err)
	}
	return cols, rows, nil
}

// Select implements store.Store.
func (s *Store) Select(ctx context.Context, req store.SelectRequest) (store.SelectResult, error) {
	name := req.Table.Name
	plan, err := s.b.plan(req)
	if err != nil {
		return store.SelectResult{}, &store.Error{Op: "select", Table: name, Message: err.Error()}
	}

	cols, rows, err := s.run(ctx, "select", name, plan.rowQuery(req.Window))
	if err != nil {
		return store.SelectResult{}, err
	}

	result := store.SelectResult{Rows: make([]store.Record, len(rows))}
	metas := make([]map[string]any, len(rows))
	for i, values := range rows {
		result.Rows[i], metas[i] = fold(cols, values, plan.forward)
	}

	for _, ep := range plan.reverse {
		if err := s.attachChildren(ctx, ep, result.Rows, metas); err != nil {
			return store.SelectResult{}, err
		}
	}

	if req.Count != store.CountNone {
		if result.Count, err = s.count(ctx, plan, req.Count); err != nil {
			return store.SelectResult{}, err
		}
	}
	return result, nil
}

func (s *Store) attachChildren(ctx context.Context, ep embedPlan, parents []store.Record, metas []map[string]any) error {
	name := ep.embed.Table
	keyAlias := parentKeyAlias(name)

	var keys []any
	seen := make(map[string]bool)
	for _, meta := range metas {
		k := meta[keyAlias]
		if k == nil || seen[fmt.Sprint(k)] {
			continue
		}
		seen[fmt.Sprint(k)] = true
		keys = append(keys, k)
	}

	children := make(map[string][]store.Record)
	if len(keys) > 0 {
		q, err := s.b.childQuery(ep, keys)
		if err != nil {
			return &store.Error{Op: "select", Table: name, Message: err.Error()}
		}
		cols, rows, err := s.run(ctx, "select", name, q)
		if err != nil {
			return err
		}
		for _, values := range rows {
			child := make(store.Record, len(cols)-1)
			var parent any
			for i, c := range cols {
				if c == parentAlias {
					parent = values[i]
				} else {
					child[c] = values[i]
				}
			}
			k := fmt.Sprint(parent)
			children[k] = append(children[k], child)
		}
	}

	for i, rec := range parents {
		list := children[fmt.Sprint(metas[i][keyAlias])]
		if list == nil {
			list = []store.Record{}
		}
		rec[name] = list
	}
	return nil
}

func (s *Store) count(ctx context.Context, plan *selectPlan, mode store.CountMode) (int64, error) {
	if s.b.d.planner && mode != store.CountExact {
		est, err := s.planRows(ctx, plan)
		switch {
		case err != nil && mode == store.CountPlanned:
			return 0, err
		case err == nil && mode == store.CountPlanned:
			return est, nil
		case err == nil && est >= s.estimateThreshold:
			return est, nil
		}
	}

	_, rows, err := s.run(ctx, "count", plan.table.Name, plan.countQuery())
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return toInt64(rows[0][0])
}

// planRows reads the planner's row estimate from EXPLAIN (FORMAT JSON).
func (s *Store) planRows(ctx context.Context, plan *selectPlan) (int64, error) {
	sqlStr, args, err := plan.base.Columns("1").ToSql()
	if err != nil {
		return 0, err
	}
	_, rows, err := s.q.query(ctx, "EXPLAIN (FORMAT JSON) "+sqlStr, args...)
	if err != nil {
		return 0, s.b.d.mapError("count", plan.table.Name, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, fmt.Errorf("explain returned no plan")
	}
	return parsePlanRows(rows[0][0])
}

func parsePlanRows(v any) (int64, error) {
	var doc any
	switch raw := v.(type) {
	case string:
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return 0, fmt.Errorf("decode plan: %w", err)
		}
	case []byte:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return 0, fmt.Errorf("decode plan: %w", err)
		}
	default:
		doc = raw
	}
	list, ok := doc.([]any)
	if !ok || len(list) == 0 {
		return 0, fmt.Errorf("unexpected plan shape %T", doc)
	}
	top, _ := list[0].(map[string]any)
	node, _ := top["Plan"].(map[string]any)
	rows, ok := node["Plan Rows"].(float64)
	if !ok {
		return 0, fmt.Errorf("plan has no row estimate")
	}
	return int64(rows), nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}

func records(cols []string, rows [][]any) []store.Record {
	out := make([]store.Record, len(rows))
	for i, values := range rows {
		rec := make(store.Record, len(cols))
		for j, c := range cols {
			rec[c] = values[j]
		}
		out[i] = rec
	}
	return out
}

// Insert implements store.Store. Records sharing one column set are written
// with a single multi-row statement.
func (s *Store) Insert(ctx context.Context, table store.Table, recs []store.Record) ([]store.Record, error) {
	if len(recs) == 0 {
		return []store.Record{}, nil
	}
	stmts, err := s.b.insert(table, recs)
	if err != nil {
		return nil, &store.Error{Op: "insert", Table: table.Name, Message: err.Error()}
	}
	out := make([]store.Record, 0, len(recs))
	for _, stmt := range stmts {
		cols, rows, err := s.run(ctx, "insert", table.Name, stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, records(cols, rows)...)
	}
	return out, nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, table store.Table, values store.Record, match []store.Predicate) ([]store.Record, error) {
	stmt, err := s.b.update(table, values, match)
	if err != nil {
		return nil, &store.Error{Op: "update", Table: table.Name, Message: err.Error()}
	}
	cols, rows, err := s.run(ctx, "update", table.Name, stmt)
	if err != nil {
		return nil, err
	}
	return records(cols, rows), nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, table store.Table, match []store.Predicate) ([]store.Record, error) {
	stmt, err := s.b.delete(table, match)
	if err != nil {
		return nil, &store.Error{Op: "delete", Table: table.Name, Message: err.Error()}
	}
	cols, rows, err := s.run(ctx, "delete", table.Name, stmt)
	if err != nil {
		return nil, err
	}
	return records(cols, rows), nil
}

func sortedKeys(r store.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
