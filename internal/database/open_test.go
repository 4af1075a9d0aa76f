package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/catalog/internal/config"
	"github.com/JonMunkholm/catalog/internal/schema/tables"
	"github.com/JonMunkholm/catalog/internal/store"
)

func TestOpenMemory(t *testing.T) {
	db, err := Open(context.Background(), config.DatabaseConfig{Driver: config.DriverMemory}, tables.Catalog())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() error = %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	db, err := Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, URL: path}, tables.Catalog())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	if _, err := db.Store.Insert(ctx, store.T("tags"), []store.Record{{"id": "go", "name": "Go"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	res, err := db.Store.Select(ctx, store.SelectRequest{Table: store.T("tags"), Columns: "*"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || res.Rows[0]["name"] != "Go" {
		t.Errorf("rows = %v, want the Go tag", res.Rows)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle"}, tables.Catalog()); err == nil {
		t.Error("Open() with unknown driver succeeded")
	}
}
