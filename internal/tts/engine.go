package tts

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-speak/internal/config"
)

// NewEngine builds the primary engine for cfg.Mode.
func NewEngine(cfg config.TTSConfig, log *slog.Logger) (Engine, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", "edge":
		opts := OptionsFromConfig(cfg)
		opts.Logger = log
		return NewClient(opts)
	case "exec":
		return NewExecEngine(cfg.FallbackCommand, cfg.FallbackMimeType, log)
	case "mock":
		return NewMockEngine(0), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

// NewFallbackEngine builds the engine used after a primary failure, or nil
// when none is configured or the primary already runs the command.
func NewFallbackEngine(cfg config.TTSConfig, log *slog.Logger) (Engine, error) {
	if strings.TrimSpace(cfg.FallbackCommand) == "" || strings.EqualFold(cfg.Mode, "exec") {
		return nil, nil
	}
	return NewExecEngine(cfg.FallbackCommand, cfg.FallbackMimeType, log)
}
