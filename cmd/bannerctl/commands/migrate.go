package commands

import (
	"github.com/spf13/cobra"
	"github.com/tendant/simple-banners/internal/printer"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema",
	Long: `Migrate creates the configured schema (BANNERS_DB_SCHEMA) if needed and
applies the banner tables to it. It is safe to run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "cannot load configuration", err.Error(), nil)
	}

	dbType, err := cfg.DatabaseType()
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "invalid database url", err.Error(), nil)
	}
	if dbType != "postgres" {
		printer.Warning(cmd.OutOrStdout(), "Database is %s, nothing to migrate\n", dbType)
		return nil
	}

	if err := cfg.Migrate(cmd.Context()); err != nil {
		return printer.Error(cmd.ErrOrStderr(), "migration failed", err.Error(),
			[]string{"Check BANNERS_DATABASE_URL and that the role may create schemas"})
	}
	printer.Success(cmd.OutOrStdout(), "Schema %s is up to date\n", cfg.DBSchema)
	return nil
}
