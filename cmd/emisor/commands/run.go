package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/segurotech/emisor/config"
	"github.com/segurotech/emisor/db"
	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/logger"
	"github.com/segurotech/emisor/service"
)

// RunCmd processes one normalized batch file.
var RunCmd = &cobra.Command{
	Use:   "run <batch-file>",
	Short: "Process one normalized batch file",
	Long: `Process a normalized batch file against the issuance API.

The file's pipeline type joins (or opens) the current coordination session.
By default the command waits until the session's final report is emitted,
so a run whose counterpart pipeline never shows up still produces its
timeout report before exiting.

Examples:
  emisor run batch.json
  emisor run batch.json --no-wait   # Exit as soon as the run completes`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var runNoWaitFlag bool

func init() {
	RunCmd.Flags().BoolVar(&runNoWaitFlag, "no-wait", false, "Do not wait for the session's final report")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	svc := service.New(cfg, database, logger.Logger)
	defer svc.Stop()

	if err := svc.ProcessBatchFile(cmd.Context(), args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Batch processed: %s\n", args[0])

	if runNoWaitFlag {
		return nil
	}
	return waitForFinalReport(cmd.Context(), svc, cfg)
}

// waitForFinalReport blocks until the newest session emits its final
// report, bounded by the coordination wait timeout plus a margin.
func waitForFinalReport(ctx context.Context, svc *service.Service, cfg *config.Config) error {
	sessions, err := svc.Sessions().ListRecentSessions(1)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}
	sessionID := sessions[0].ID

	deadline := time.Now().Add(time.Duration(cfg.Coordinator.WaitTimeoutSeconds)*time.Second + time.Minute)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		session, err := svc.Sessions().GetSession(sessionID)
		if err != nil {
			return err
		}
		if session.FinalReportSent {
			pterm.Success.Printf("Final report emitted for session %s\n", sessionID)
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(errors.ErrCoordinationTimeout, "session %s", sessionID)
		}

		pterm.Info.Printf("Waiting for session %s to finalize (SI: %s, Viajeros: %s)\n",
			sessionID, session.SIStatus, session.ViajerosStatus)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
