package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/segurotech/emisor/config"
	"github.com/segurotech/emisor/db"
	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/logger"
	"github.com/segurotech/emisor/service"
	"github.com/segurotech/emisor/watcher"
)

// WatchCmd runs the inbox watcher daemon.
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the inbox directory and process dropped batch files",
	Long: `Run the drop-directory daemon.

Normalized batch files written into the inbox directory are processed as
they arrive. Session monitors stay alive between batches, so a pipeline
waiting on its counterpart gets its bounded-wait report from this process.

Stop with Ctrl-C; in-flight session monitors are cancelled cleanly.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inbox, err := watcher.New(cfg.Watcher.InboxDir, svc, logger.Logger)
	if err != nil {
		return err
	}
	if err := inbox.Start(ctx); err != nil {
		return err
	}

	pterm.Info.Printf("Watching inbox %s (Ctrl-C to stop)\n", cfg.Watcher.InboxDir)
	<-ctx.Done()

	pterm.Info.Println("Shutting down")
	return inbox.Stop()
}
