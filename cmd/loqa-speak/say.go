package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-speak/internal/tts"
)

func sayCmd(load configLoader) *cobra.Command {
	var (
		output     string
		opts       tts.SpeakOptions
		boundaries bool
	)
	cmd := &cobra.Command{
		Use:   "say TEXT...",
		Short: "Synthesize text once and write the audio to a file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Telemetry.LogLevel, os.Stderr)
			engine, err := tts.NewEngine(cfg.TTS, logger)
			if err != nil {
				return err
			}

			if boundaries {
				opts.Listener = tts.Handlers{
					Boundary: func(evt tts.BoundaryEvent) {
						fmt.Fprintf(cmd.ErrOrStderr(), "%6dms  %s\n", evt.OffsetMS, evt.Word)
					},
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			artifact, err := engine.Speak(ctx, strings.Join(args, " "), opts)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "synthesis failed (%s): %s\n", tts.ErrorKind(err), err)
				return err
			}
			return writeAudio(cmd.OutOrStdout(), output, artifact)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "speech.mp3", `output file ("-" for stdout)`)
	cmd.Flags().StringVar(&opts.Voice, "voice", "", "voice id (see `loqa-speak voices`)")
	cmd.Flags().StringVar(&opts.Rate, "rate", "", "speaking rate delta, e.g. +10%")
	cmd.Flags().StringVar(&opts.Pitch, "pitch", "", "pitch delta, e.g. -5Hz")
	cmd.Flags().StringVar(&opts.Volume, "volume", "", "volume delta, e.g. +20%")
	cmd.Flags().BoolVar(&boundaries, "boundaries", false, "print word boundaries to stderr")
	return cmd
}

func writeAudio(stdout io.Writer, path string, artifact *tts.Artifact) error {
	if path == "-" {
		_, err := stdout.Write(artifact.Bytes)
		return err
	}
	if err := os.WriteFile(path, artifact.Bytes, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d bytes of %s to %s\n", artifact.Size(), artifact.MimeType, path)
	return nil
}
