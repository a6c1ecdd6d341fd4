package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-speak/internal/ssml"
)

// ExecEngine runs a local command with the text on stdin and returns its
// stdout as the artifact. Calls are serialized.
type ExecEngine struct {
	cmd      []string
	mimeType string
	log      *slog.Logger

	run    sync.Mutex
	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

// NewExecEngine parses command with shell quoting and $VAR expansion. The
// artifact is labelled mimeType, audio/wav when empty.
func NewExecEngine(command, mimeType string, log *slog.Logger) (*ExecEngine, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	return &ExecEngine{
		cmd:      args,
		mimeType: mimeType,
		log:      log.With(slog.String("component", "tts-exec"), slog.String("command", args[0])),
	}, nil
}

func (e *ExecEngine) Speak(ctx context.Context, text string, opts SpeakOptions) (*Artifact, error) {
	e.run.Lock()
	defer e.run.Unlock()

	listener := fanout(opts.Listener)
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	listener.OnStart(ssml.NewRequestID())
	artifact, err := e.exec(ctx, text)
	if err != nil {
		listener.OnError(err)
		return nil, err
	}
	listener.OnProgress(1)
	listener.OnEnd(artifact)
	return artifact, nil
}

func (e *ExecEngine) exec(ctx context.Context, text string) (*Artifact, error) {
	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			switch {
			case errors.Is(cause, ErrAborted):
				return nil, cause
			case errors.Is(cause, context.DeadlineExceeded):
				return nil, fmt.Errorf("%w: %w", ErrTimeout, cause)
			}
			return nil, fmt.Errorf("%w: %w", ErrAborted, cause)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("tts command failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("tts command failed: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, ErrNoAudioReceived
	}
	e.log.Debug("audio generated", slog.Int("bytes", stdout.Len()))
	return &Artifact{Bytes: stdout.Bytes(), MimeType: e.mimeType}, nil
}

// Stop kills the running command, if any.
func (e *ExecEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel(ErrAborted)
	}
	return nil
}
