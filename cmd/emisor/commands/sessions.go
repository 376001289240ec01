package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/segurotech/emisor/config"
	"github.com/segurotech/emisor/coordination"
	"github.com/segurotech/emisor/db"
	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/logger"
)

// SessionsCmd inspects recent coordination sessions.
var SessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "Inspect recent coordination sessions",
	Long: `Show recent coordination sessions and their pipeline statuses.

Without arguments, lists the most recent sessions. With a session id,
shows the session's execution audit trail.

Examples:
  emisor sessions               # Last 20 sessions
  emisor sessions --limit 5     # Last 5 sessions
  emisor sessions session_abc   # One session's executions`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

var sessionsLimitFlag int

func init() {
	SessionsCmd.Flags().IntVar(&sessionsLimitFlag, "limit", 20, "Number of recent sessions to show")
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	store := coordination.NewStore(database)
	if len(args) == 1 {
		return showSession(store, args[0])
	}
	return listSessions(store)
}

func listSessions(store *coordination.Store) error {
	sessions, err := store.ListRecentSessions(sessionsLimitFlag)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		pterm.Info.Println("No coordination sessions yet")
		return nil
	}

	data := pterm.TableData{
		{"Session", "SI", "Viajeros", "Report", "Created"},
	}
	for _, session := range sessions {
		report := "pending"
		if session.FinalReportSent {
			report = "sent"
		}
		data = append(data, []string{
			session.ID,
			string(session.SIStatus),
			string(session.ViajerosStatus),
			report,
			session.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func showSession(store *coordination.Store, sessionID string) error {
	session, err := store.GetSession(sessionID)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Printf("Session %s", session.ID)
	pterm.Printf("Created:  %s\n", session.CreatedAt.Local().Format(time.RFC3339))
	pterm.Printf("SI:       %s\n", describePipeline(session.SIStatus, session.SIStartedAt, session.SICompletedAt))
	pterm.Printf("Viajeros: %s\n", describePipeline(session.ViajerosStatus, session.ViajerosStartedAt, session.ViajerosCompletedAt))
	if session.FinalReportSent {
		pterm.Success.Println("Final report sent")
	} else {
		pterm.Warning.Println("Final report pending")
	}

	executions, err := store.ListExecutions(sessionID)
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		return nil
	}

	data := pterm.TableData{
		{"Pipeline", "Status", "Trigger", "Started", "Completed"},
	}
	for _, exec := range executions {
		completed := "-"
		if exec.CompletedAt != nil {
			completed = exec.CompletedAt.Local().Format("15:04:05")
		}
		data = append(data, []string{
			string(exec.Pipeline),
			string(exec.Status),
			exec.TriggerLabel,
			exec.StartedAt.Local().Format("15:04:05"),
			completed,
		})
	}
	pterm.Println()
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func describePipeline(status coordination.Status, started, completed *time.Time) string {
	desc := string(status)
	if started != nil {
		desc += " (started " + started.Local().Format("15:04:05")
		if completed != nil {
			desc += ", completed " + completed.Local().Format("15:04:05")
		}
		desc += ")"
	}
	return desc
}
