package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.Mode != "edge" {
		t.Fatalf("expected edge mode by default, got %q", cfg.TTS.Mode)
	}
	if cfg.TTS.TimeoutMS != 10000 {
		t.Fatalf("expected 10s watchdog, got %d", cfg.TTS.TimeoutMS)
	}
	if cfg.TTS.CacheEnabled {
		t.Fatal("expected cache disabled by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-speak.yaml")
	data := []byte(`
tts:
  default_voice: it-IT-DiegoNeural
  cache_enabled: true
  cache_size: 8
event_store:
  retention_mode: ephemeral
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTS.DefaultVoice != "it-IT-DiegoNeural" {
		t.Fatalf("expected voice from file, got %q", cfg.TTS.DefaultVoice)
	}
	if !cfg.TTS.CacheEnabled || cfg.TTS.CacheSize != 8 {
		t.Fatalf("expected cache settings from file, got %+v", cfg.TTS)
	}
	if cfg.TTS.DefaultRate != "+0%" {
		t.Fatalf("expected untouched defaults to survive, got %q", cfg.TTS.DefaultRate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_BUS_MAX_PAYLOAD", "65536")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_TTS_DEFAULT_VOICE", "it-IT-ElsaNeural")
	t.Setenv("LOQA_TTS_TIMEOUT_MS", "2500")
	t.Setenv("LOQA_TTS_CACHE_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Bus.MaxPayload != 65536 {
		t.Fatalf("expected max payload 65536, got %d", cfg.Bus.MaxPayload)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.TTS.DefaultVoice != "it-IT-ElsaNeural" {
		t.Fatalf("expected tts voice override")
	}
	if cfg.TTS.TimeoutMS != 2500 {
		t.Fatalf("expected tts timeout override")
	}
	if !cfg.TTS.CacheEnabled {
		t.Fatalf("expected tts cache override")
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("LOQA_TTS_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	t.Setenv("LOQA_TTS_MODE", "browser")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown mode")
	}
}

func TestValidateRejectsNegativeMaxPayload(t *testing.T) {
	t.Setenv("LOQA_BUS_MAX_PAYLOAD", "-1")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for negative max payload")
	}
}
