// Command catalogctl migrates, imports into and queries the catalog from the
// command line, using the same configuration as the server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalog/internal/config"
	"github.com/JonMunkholm/catalog/internal/core"
	"github.com/JonMunkholm/catalog/internal/database"
	"github.com/JonMunkholm/catalog/internal/logging"
	"github.com/JonMunkholm/catalog/internal/schema/tables"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "catalogctl",
	Short:         "Manage the content catalog from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load if present")
	rootCmd.AddCommand(migrateCmd, importCmd, listCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app is everything a subcommand needs.
type app struct {
	cfg     *config.Config
	db      *database.DB
	service *core.Service
}

// open loads configuration and connects to the configured backend.
func open(ctx context.Context) (*app, error) {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Overload(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	catalog := tables.Catalog()
	db, err := database.Open(ctx, cfg.Database, catalog)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	service := core.NewService(db.Store, catalog, core.Options{
		Schema:               cfg.Database.TableSchema(),
		MaxConcurrentImports: cfg.Import.MaxConcurrent,
		ImportWait:           cfg.Import.MaxWaitTime,
		ImportTimeout:        cfg.Import.Timeout,
		ResultTTL:            cfg.Import.ResultTTL,
		Audit:                core.SlogAuditSink{},
	})
	return &app{cfg: cfg, db: db, service: service}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
}
