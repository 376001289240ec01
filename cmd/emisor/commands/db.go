package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/segurotech/emisor/config"
	"github.com/segurotech/emisor/db"
	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/logger"
)

// DbCmd manages the coordination database.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the coordination database",
	Long: `Manage the coordination database.

Examples:
  emisor db migrate   # Apply pending schema migrations`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	pterm.Success.Printf("Database ready at %s\n", cfg.Database.Path)
	return nil
}
