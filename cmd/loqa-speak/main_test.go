package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-speak/internal/tts"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVoicesJSON(t *testing.T) {
	out, err := run(t, "voices", "--json")
	require.NoError(t, err)

	var voices []tts.Voice
	require.NoError(t, json.Unmarshal([]byte(out), &voices))
	assert.Equal(t, tts.Catalog(), voices)
}

func TestVoicesTable(t *testing.T) {
	out, err := run(t, "voices")
	require.NoError(t, err)
	assert.Contains(t, out, "it-IT-GiuseppeNeural")
	assert.Contains(t, out, "Giuseppe (Uomo)")
}

func TestSayWritesFile(t *testing.T) {
	t.Setenv("LOQA_TTS_MODE", "mock")
	target := filepath.Join(t.TempDir(), "out.mp3")

	out, err := run(t, "say", "--boundaries", "-o", target, "Ciao", "mondo")
	require.NoError(t, err)
	assert.Contains(t, out, "Ciao")
	assert.Contains(t, out, "mondo")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestSayRequiresText(t *testing.T) {
	_, err := run(t, "say")
	assert.Error(t, err)
}

func TestExplicitMissingConfigFails(t *testing.T) {
	_, err := run(t, "say", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "Ciao")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
