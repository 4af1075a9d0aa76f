package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the catalog tables in the configured database",
	Long: `Apply the catalog DDL to the configured database.
Statements use IF NOT EXISTS, so running migrate twice is safe.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.db.Migrate(cmd.Context()); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("Migrated %s database\n", a.db.Driver)
		fmt.Printf("  %d entities registered\n", a.service.Registry().Len())
		return nil
	},
}
