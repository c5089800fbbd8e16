package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chat-sync/internal/app"
	"chat-sync/internal/logger"
	"chat-sync/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync continuously until interrupted",
	Long: `Run a pass immediately, then one pass every SYNC_INTERVAL_MS after the
previous pass finishes. SIGINT or SIGTERM stops the loop and exits 0.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, log, err := setup(ctx)
		if err != nil {
			return err
		}

		a := app.New(cfg, log)
		defer a.Close()

		sched, err := scheduler.New(func(ctx context.Context) (scheduler.PassRunner, error) {
			svc, err := a.Connect(ctx)
			if err != nil {
				return nil, err
			}
			return svc, nil
		}, cfg.SyncInterval, logger.Component(log, "scheduler"))
		if err != nil {
			return err
		}
		if err := a.StartServer(sched.Ready); err != nil {
			return err
		}

		if err := sched.Run(ctx); err != nil {
			log.Error().Err(err).Msg("sync stopped")
			return err
		}
		return nil
	},
}
