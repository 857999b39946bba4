package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/app"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	applog "github.com/vovakirdan/wirechat-sync/internal/log"
)

func newServeCmd() *cobra.Command {
	var flags config.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			bootLog := applog.New("info")
			cfg, resolved, err := config.Load(bootLog, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// Flags override file and env values.
			cfg.UpdateFrom(flags)

			logger := applog.New(cfg.LogLevel)
			logger.Info().Str("config", resolved).Str("addr", cfg.Addr).Msg("starting chatsync")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.Addr, "addr", "", "HTTP listen address")
	f.DurationVar(&flags.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	f.DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	f.StringVar(&flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&flags.Store.Backend, "store", "", "document store backend (memory, sqlite, firestore)")
	f.StringVar(&flags.Store.SQLitePath, "sqlite-path", "", "sqlite database path")
	f.StringVar(&flags.Store.FirestoreProject, "firestore-project", "", "firestore project id")
	return cmd
}
