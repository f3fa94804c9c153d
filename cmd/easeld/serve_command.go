package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"easel/internal/daemon"
	"easel/internal/jobs"
	"easel/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := jobs.Open(cfg, logger)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}

			d, err := daemon.New(cfg, store, logger)
			if err != nil {
				store.Close()
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Start(runCtx); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			<-runCtx.Done()
			logger.Info("easeld shutting down", logging.String("lock", d.LockPath()))
			return nil
		},
	}
}
