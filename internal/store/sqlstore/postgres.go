package sqlstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/catalog/internal/store"
)

// OpenPostgres connects a pgx pool from cfg and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg *pgxpool.Config, catalog store.Catalog, opts ...Option) (*Store, error) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgres(pool, catalog, opts...), nil
}

// NewPostgres wraps an existing pool. The Store takes ownership of it.
func NewPostgres(pool *pgxpool.Pool, catalog store.Catalog, opts ...Option) *Store {
	return newStore(pgxQuerier{pool: pool}, postgres, catalog, opts...)
}

type pgxQuerier struct {
	pool *pgxpool.Pool
}

func (p pgxQuerier) query(ctx context.Context, sql string, args ...any) ([]string, [][]any, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, fd := range fields {
		cols[i] = fd.Name
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("read row values: %w", err)
		}
		out = append(out, values)
	}
	return cols, out, rows.Err()
}

func (p pgxQuerier) exec(ctx context.Context, sql string) error {
	_, err := p.pool.Exec(ctx, sql)
	return err
}

func (p pgxQuerier) ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p pgxQuerier) close() error {
	p.pool.Close()
	return nil
}
