package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-speak/internal/config"
)

var version = "0.1.0-dev"

const defaultConfigPath = "loqa-speak.yaml"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "loqa-speak",
		Short:         "Streaming speech synthesis service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")

	load := func(cmd *cobra.Command) (config.Config, error) {
		path := configPath
		if !cmd.Flags().Changed("config") {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				path = ""
			}
		}
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
			return cfg, err
		}
		return cfg, nil
	}

	cmd.AddCommand(serveCmd(load), sayCmd(load), voicesCmd())
	return cmd
}

type configLoader func(cmd *cobra.Command) (config.Config, error)

func newLogger(level string, w *os.File) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
