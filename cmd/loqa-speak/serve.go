package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-speak/internal/runtime"
)

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the speech runtime (bus service and HTTP API)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Telemetry.LogLevel, os.Stdout)

			if cfg.Telemetry.SentryDSN != "" {
				err := sentry.Init(sentry.ClientOptions{
					Dsn:         cfg.Telemetry.SentryDSN,
					Environment: cfg.Environment,
					Release:     "loqa-speak@" + version,
				})
				if err != nil {
					logger.Warn("sentry init failed", slog.String("error", err.Error()))
				} else {
					logger.Info("sentry initialized")
					defer sentry.Flush(2 * time.Second)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt := runtime.New(cfg, logger)
			if err := rt.Start(ctx); err != nil {
				logger.Error("runtime exited with error", slog.String("error", err.Error()))
				sentry.CaptureException(err)
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}
