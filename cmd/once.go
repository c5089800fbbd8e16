package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chat-sync/internal/app"
	"chat-sync/internal/scheduler"
	"chat-sync/internal/usecase"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single sync pass and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, log, err := setup(ctx)
		if err != nil {
			return err
		}

		a := app.New(cfg, log)
		defer a.Close()

		svc, err := a.Connect(ctx)
		if err != nil {
			return err
		}
		stats, err := scheduler.RunProtected(ctx, svc)
		switch {
		case errors.Is(err, usecase.ErrPassInProgress):
			log.Info().Msg("another pass is running; nothing to do")
			return nil
		case err != nil:
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s users=%d processed=%d chats=%d messages=%d errors=%d in %s\n",
			countStyle.Render("synced"),
			stats.TotalUsers, stats.ProcessedUsers, stats.TotalChats, stats.TotalMessages,
			stats.ErrorUsers, stats.Duration.Round(time.Millisecond))
		return nil
	},
}
