package sqlstore

import (
	"errors"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/catalog/internal/store"
)

// dialect captures the differences between the supported backends.
type dialect struct {
	name        string
	placeholder sq.PlaceholderFormat
	// planner reports whether EXPLAIN row estimates are available.
	planner  bool
	ilike    func(col string, pattern any) sq.Sqlizer
	mapError func(op, table string, err error) error
}

var postgres = dialect{
	name:        "postgres",
	placeholder: sq.Dollar,
	planner:     true,
	ilike: func(col string, pattern any) sq.Sqlizer {
		return sq.Expr(col+` ILIKE ? ESCAPE '\'`, pattern)
	},
	mapError: mapPgError,
}

var sqlite = dialect{
	name:        "sqlite",
	placeholder: sq.Question,
	ilike: func(col string, pattern any) sq.Sqlizer {
		return sq.Expr("LOWER("+col+`) LIKE LOWER(?) ESCAPE '\'`, pattern)
	},
	mapError: mapSQLiteError,
}

func (d dialect) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.placeholder)
}

func mapPgError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &store.Error{Op: op, Table: table, Err: err}
	}
	se := &store.Error{
		Op:         op,
		Table:      table,
		Code:       pgErr.Code,
		Column:     pgErr.ColumnName,
		Constraint: pgErr.ConstraintName,
		Detail:     pgErr.Detail,
		Message:    pgErr.Message,
		Err:        err,
	}
	if pgErr.TableName != "" {
		se.Table = pgErr.TableName
	}
	return se
}

var sqliteErrorPatterns = []struct {
	re   *regexp.Regexp
	code string
}{
	{regexp.MustCompile(`UNIQUE constraint failed: (?:\w+\.)?(\w+)`), store.CodeUniqueViolation},
	{regexp.MustCompile(`PRIMARY KEY constraint failed`), store.CodeUniqueViolation},
	{regexp.MustCompile(`NOT NULL constraint failed: (?:\w+\.)?(\w+)`), store.CodeNotNullViolation},
	{regexp.MustCompile(`FOREIGN KEY constraint failed`), store.CodeForeignKeyViolation},
	{regexp.MustCompile(`no such table: (?:\w+\.)?(\w+)`), store.CodeUndefinedTable},
	{regexp.MustCompile(`no such column: (?:\w+\.)?(\w+)`), store.CodeUndefinedColumn},
	{regexp.MustCompile(`has no column named (\w+)`), store.CodeUndefinedColumn},
}

// mapSQLiteError classifies SQLite failures by message, since the driver
// exposes extended result codes but not the offending column.
func mapSQLiteError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, p := range sqliteErrorPatterns {
		m := p.re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		se := &store.Error{Op: op, Table: table, Code: p.code, Message: strings.TrimSpace(msg), Err: err}
		if len(m) > 1 {
			if p.code == store.CodeUndefinedTable {
				se.Table = m[1]
			} else {
				se.Column = m[1]
			}
		}
		return se
	}
	return &store.Error{Op: op, Table: table, Err: err}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualified(t store.Table) string {
	if t.Schema == "" {
		return quoteIdent(t.Name)
	}
	return quoteIdent(t.Schema) + "." + quoteIdent(t.Name)
}

func columnRef(alias, col string) string {
	if alias == "" {
		return quoteIdent(col)
	}
	return quoteIdent(alias) + "." + quoteIdent(col)
}

// predicate renders p against a column reference.
func (d dialect) predicate(col string, p store.Predicate) (sq.Sqlizer, error) {
	switch p.Op {
	case store.OpEq:
		return sq.Eq{col: p.Value}, nil
	case store.OpNeq:
		return sq.NotEq{col: p.Value}, nil
	case store.OpGt:
		return sq.Gt{col: p.Value}, nil
	case store.OpGte:
		return sq.GtOrEq{col: p.Value}, nil
	case store.OpLt:
		return sq.Lt{col: p.Value}, nil
	case store.OpLte:
		return sq.LtOrEq{col: p.Value}, nil
	case store.OpIn:
		values, ok := p.Value.([]any)
		if !ok {
			return nil, errors.New("in on " + p.Column + ": want a list of values")
		}
		return sq.Eq{col: values}, nil
	case store.OpILike:
		return d.ilike(col, p.Value), nil
	case store.OpIsNull:
		return sq.Eq{col: nil}, nil
	case store.OpNotNull:
		return sq.NotEq{col: nil}, nil
	}
	return nil, errors.New("unsupported operator " + string(p.Op))
}
