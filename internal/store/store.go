// Package store defines the narrow primitive interface the data-access core
// drives a relational backend through: filtered/sorted/windowed select,
// insert, update and delete, addressed by table name and column predicates.
//
// Drivers live in subpackages (sqlstore, memstore). The core never sees SQL.
package store

import (
	"context"
	"strings"
)

// Record is a single row keyed by column name. Embedded relations appear as
// nested Record (many-to-one) or []Record (one-to-many) values.
type Record map[string]any

// Table addresses a table, optionally qualified by a schema.
type Table struct {
	Schema string
	Name   string
}

// T is shorthand for an unqualified Table.
func T(name string) Table { return Table{Name: name} }

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Op is a primitive predicate operator.
type Op string

const (
	OpEq      Op = "eq"
	OpNeq     Op = "neq"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpIn      Op = "in"
	OpILike   Op = "ilike" // case-insensitive LIKE; backslash escapes % and _
	OpIsNull  Op = "is_null"
	OpNotNull Op = "not_null"
)

// Predicate restricts rows by a single column. Table scopes the predicate to
// an embedded relation named in the select expression; empty means the
// primary table.
type Predicate struct {
	Table  string
	Column string
	Op     Op
	Value  any
}

// Eq builds an equality predicate on a local column.
func Eq(column string, value any) Predicate {
	return Predicate{Column: column, Op: OpEq, Value: value}
}

// In builds a membership predicate on a local column.
func In(column string, values []any) Predicate {
	return Predicate{Column: column, Op: OpIn, Value: values}
}

// Order is an ordering clause. Table scopes it to an embedded relation.
type Order struct {
	Table  string
	Column string
	Desc   bool
}

// RowWindow is an inclusive zero-based [From, To] row range.
type RowWindow struct {
	From uint64
	To   uint64
}

// Limit returns the number of rows the window spans.
func (w RowWindow) Limit() uint64 {
	if w.To < w.From {
		return 0
	}
	return w.To - w.From + 1
}

// CountMode selects how SelectResult.Count is computed.
type CountMode string

const (
	CountNone      CountMode = ""
	CountExact     CountMode = "exact"
	CountEstimated CountMode = "estimated"
	CountPlanned   CountMode = "planned"
)

// ParseCountMode validates a count mode string. Empty maps to CountExact.
func ParseCountMode(s string) (CountMode, bool) {
	switch CountMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", CountExact:
		return CountExact, true
	case CountEstimated:
		return CountEstimated, true
	case CountPlanned:
		return CountPlanned, true
	}
	return CountNone, false
}

// SelectRequest is a primitive read.
type SelectRequest struct {
	Table   Table
	Columns string
	Filters []Predicate
	Order   []Order
	Window  *RowWindow
	Count   CountMode
}

// SelectResult carries the matched rows and, unless CountNone was requested,
// the total number of rows matching the filters ignoring the window.
type SelectResult struct {
	Rows  []Record
	Count int64
}

// Store is the primitive backend interface.
//
// Update and Delete return the affected rows; zero matches is an empty slice,
// not an error.
type Store interface {
	Select(ctx context.Context, req SelectRequest) (SelectResult, error)
	Insert(ctx context.Context, table Table, records []Record) ([]Record, error)
	Update(ctx context.Context, table Table, values Record, match []Predicate) ([]Record, error)
	Delete(ctx context.Context, table Table, match []Predicate) ([]Record, error)
}

// LinkKind distinguishes the direction of an embed.
type LinkKind int

const (
	// LinkForward: the source row holds a foreign key to the embedded table
	// (many-to-one); the embed is a single Record.
	LinkForward LinkKind = iota
	// LinkReverse: the embedded table holds a foreign key to the source row
	// (one-to-many); the embed is a []Record.
	LinkReverse
)

// Link describes how an embedded table joins to the table it is embedded in.
// The join condition is source.LocalColumn = embedded.ForeignColumn.
type Link struct {
	Kind          LinkKind
	LocalColumn   string
	ForeignColumn string
}

// Catalog resolves embeds and column lists for drivers.
type Catalog interface {
	// Columns lists the columns of a table in declaration order.
	Columns(table string) []string
	// Link reports how table `to` embeds into table `from`.
	Link(from, to string) (Link, bool)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// EscapeLike escapes the LIKE wildcards in s so it matches literally in an
// OpILike pattern.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
