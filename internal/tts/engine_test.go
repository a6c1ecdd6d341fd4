package tts_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/tts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecEngineReturnsStdout(t *testing.T) {
	engine, err := tts.NewExecEngine("cat", "audio/wav", discardLogger())
	require.NoError(t, err)
	rec := &recorder{}

	artifact, err := engine.Speak(context.Background(), "Ciao mondo", tts.SpeakOptions{Listener: rec})
	require.NoError(t, err)
	assert.Equal(t, "Ciao mondo", string(artifact.Bytes))
	assert.Equal(t, "audio/wav", artifact.MimeType)
	assert.Equal(t, []string{"start", "progress", "end"}, rec.Events())
}

func TestExecEngineEmptyOutput(t *testing.T) {
	engine, err := tts.NewExecEngine("true", "", discardLogger())
	require.NoError(t, err)

	_, err = engine.Speak(context.Background(), "Ciao", tts.SpeakOptions{})
	assert.ErrorIs(t, err, tts.ErrNoAudioReceived)
}

func TestExecEngineCommandFailure(t *testing.T) {
	engine, err := tts.NewExecEngine(`sh -c "echo broken >&2; exit 3"`, "", discardLogger())
	require.NoError(t, err)
	rec := &recorder{}

	_, err = engine.Speak(context.Background(), "Ciao", tts.SpeakOptions{Listener: rec})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, []string{"start", "error"}, rec.Events())
}

func TestExecEngineStop(t *testing.T) {
	engine, err := tts.NewExecEngine("sleep 5", "", discardLogger())
	require.NoError(t, err)

	time.AfterFunc(100*time.Millisecond, func() { _ = engine.Stop() })
	started := time.Now()
	_, err = engine.Speak(context.Background(), "Ciao", tts.SpeakOptions{})
	assert.ErrorIs(t, err, tts.ErrAborted)
	assert.Less(t, time.Since(started), 3*time.Second)
}

func TestExecEngineRejectsEmptyCommand(t *testing.T) {
	_, err := tts.NewExecEngine("  ", "", discardLogger())
	assert.Error(t, err)
}

func TestMockEngine(t *testing.T) {
	engine := tts.NewMockEngine(time.Millisecond)
	var words []string
	listener := tts.Handlers{Boundary: func(evt tts.BoundaryEvent) { words = append(words, evt.Word) }}

	first, err := engine.Speak(context.Background(), "Ciao bel mondo", tts.SpeakOptions{Listener: listener})
	require.NoError(t, err)
	second, err := engine.Speak(context.Background(), "Ciao bel mondo", tts.SpeakOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.Bytes, second.Bytes)
	assert.Equal(t, []string{"Ciao", "bel", "mondo"}, words)
}

func TestMockEngineStop(t *testing.T) {
	engine := tts.NewMockEngine(5 * time.Second)
	time.AfterFunc(50*time.Millisecond, func() { _ = engine.Stop() })

	_, err := engine.Speak(context.Background(), "Ciao", tts.SpeakOptions{})
	assert.ErrorIs(t, err, tts.ErrAborted)
}

func TestNewEngine(t *testing.T) {
	cfg := config.Default().TTS

	engine, err := tts.NewEngine(cfg, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &tts.Client{}, engine)

	cfg.Mode = "mock"
	engine, err = tts.NewEngine(cfg, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &tts.MockEngine{}, engine)

	cfg.Mode = "exec"
	cfg.FallbackCommand = "cat"
	engine, err = tts.NewEngine(cfg, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &tts.ExecEngine{}, engine)

	cfg.Mode = "piper"
	_, err = tts.NewEngine(cfg, discardLogger())
	assert.Error(t, err)
}

func TestNewFallbackEngine(t *testing.T) {
	cfg := config.Default().TTS
	fallback, err := tts.NewFallbackEngine(cfg, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, fallback)

	cfg.FallbackCommand = "cat"
	fallback, err = tts.NewFallbackEngine(cfg, discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, fallback)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", tts.ErrorKind(nil))
	assert.Equal(t, "not_initialized", tts.ErrorKind(tts.ErrNotInitialized))
	assert.Equal(t, "timeout", tts.ErrorKind(tts.ErrTimeout))
	assert.Equal(t, "transport", tts.ErrorKind(tts.ErrTransport))
	assert.Equal(t, "no_audio", tts.ErrorKind(tts.ErrNoAudioReceived))
	assert.Equal(t, "aborted", tts.ErrorKind(tts.ErrAborted))
	assert.Equal(t, "unknown", tts.ErrorKind(io.EOF))
}
