// Package database opens the configured store backend.
package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/catalog/internal/config"
	"github.com/JonMunkholm/catalog/internal/schema"
	"github.com/JonMunkholm/catalog/internal/schema/tables"
	"github.com/JonMunkholm/catalog/internal/store"
	"github.com/JonMunkholm/catalog/internal/store/memstore"
	"github.com/JonMunkholm/catalog/internal/store/sqlstore"
)

// DB is an opened backend.
type DB struct {
	Store  store.Store
	Driver string

	sql *sqlstore.Store
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, catalog *schema.Registry) (*DB, error) {
	opts := []sqlstore.Option{sqlstore.WithEstimateThreshold(cfg.EstimateThreshold)}

	switch cfg.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store, data is lost on exit")
		return &DB{Store: memstore.New(catalog), Driver: cfg.Driver}, nil

	case config.DriverSQLite:
		s, err := sqlstore.OpenSQLite(cfg.URL, catalog, opts...)
		if err != nil {
			return nil, err
		}
		return &DB{Store: s, Driver: cfg.Driver, sql: s}, nil

	case config.DriverPostgres, "":
		poolConfig, err := pgxpool.ParseConfig(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse database URL: %w", err)
		}
		poolConfig.MaxConns = int32(cfg.MaxConns)
		poolConfig.MinConns = int32(cfg.MinConns)
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

		s, err := sqlstore.OpenPostgres(ctx, poolConfig, catalog, opts...)
		if err != nil {
			return nil, err
		}
		slog.Info("connected to database",
			"host", poolConfig.ConnConfig.Host,
			"name", poolConfig.ConnConfig.Database,
		)
		return &DB{Store: s, Driver: config.DriverPostgres, sql: s}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// Migrate applies the catalog DDL. The memory backend needs none.
func (db *DB) Migrate(ctx context.Context) error {
	if db.sql == nil {
		return nil
	}
	return db.sql.Migrate(ctx, tables.DDL(db.sql.Dialect()))
}

// Ping checks the backend is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if db.sql == nil {
		return nil
	}
	return db.sql.Ping(ctx)
}

// Close releases connections.
func (db *DB) Close() error {
	if db.sql == nil {
		return nil
	}
	return db.sql.Close()
}
