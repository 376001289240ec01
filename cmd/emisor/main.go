package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/segurotech/emisor/cmd/emisor/commands"
	"github.com/segurotech/emisor/logger"
)

var rootCmd = &cobra.Command{
	Use:   "emisor",
	Short: "Emisor - dual-pipeline policy emission engine",
	Long: `Emisor - batch policy emission against the issuance API.

Emisor processes normalized batches of insured individuals, submits them
factura by factura (quote, validate, confirm), filters individuals rejected
for active coverage and resubmits once, and coordinates the SI and Viajeros
pipelines into a single final report per session.

Available commands:
  run      - Process one normalized batch file
  watch    - Watch the inbox directory and process dropped batch files
  sessions - Inspect recent coordination sessions
  db       - Manage the coordination database

Examples:
  emisor run batch.json        # Process a batch file
  emisor watch                 # Start the inbox watcher daemon
  emisor sessions --limit 10   # Show the last 10 sessions
  emisor db migrate            # Apply pending schema migrations`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.SessionsCmd)
	rootCmd.AddCommand(commands.DbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
