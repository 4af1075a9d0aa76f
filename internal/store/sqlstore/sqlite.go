package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/JonMunkholm/catalog/internal/store"
)

// OpenSQLite opens (creating if needed) a SQLite database at path with
// foreign key enforcement on. ":memory:" gives a private in-memory database.
func OpenSQLite(path string, catalog store.Catalog, opts ...Option) (*Store, error) {
	dsn := strings.TrimPrefix(path, "sqlite://")
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// An in-memory database exists per connection.
	if strings.HasPrefix(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return newStore(dbQuerier{db: db}, sqlite, catalog, opts...), nil
}

type dbQuerier struct {
	db *sql.DB
}

func (q dbQuerier) query(ctx context.Context, query string, args ...any) ([]string, [][]any, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	return cols, out, rows.Err()
}

func (q dbQuerier) exec(ctx context.Context, query string) error {
	_, err := q.db.ExecContext(ctx, query)
	return err
}

func (q dbQuerier) ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

func (q dbQuerier) close() error {
	return q.db.Close()
}
