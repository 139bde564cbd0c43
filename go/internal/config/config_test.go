package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "STORE", "JWT_SECRET", "LOG_LEVEL", "LOG_FORMAT",
		"REDIS_ADDR", "REDIS_PASSWORD", "NATS_URL", "CORS_ALLOWED_ORIGINS", "TIMER_PERSIST_EVERY",
		"SEED_FILE",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", writeConfig(t, `
port: "9000"
store: postgres
seed_file: from-file.json
timer:
  interval: 500ms
  persist_every: 3
rescue:
  default_seconds: 45
  reinstate_immediately: true
gateway:
  send_buffer_size: 32
relay:
  buffer_size: 10
  jetstream:
    stream_name: QUIZ
cors:
  allowed_origins: ["https://a.example"]
`))
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "7000")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://b.example, https://c.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "7000" {
		t.Fatalf("expected env port 7000, got %s", cfg.Port)
	}
	if cfg.Store != StorePostgres {
		t.Fatalf("expected postgres store, got %s", cfg.Store)
	}
	if cfg.SeedFile != "from-file.json" {
		t.Fatalf("expected seed file from the file, got %q", cfg.SeedFile)
	}
	if cfg.Timer.Interval != 500*time.Millisecond || cfg.Timer.PersistEvery != 3 {
		t.Fatalf("unexpected timer config %+v", cfg.Timer)
	}
	if cfg.Rescue.DefaultSeconds != 45 || !cfg.Rescue.ReinstateImmediately {
		t.Fatalf("unexpected rescue config %+v", cfg.Rescue)
	}
	if cfg.Gateway.SendBufferSize != 32 {
		t.Fatalf("expected send buffer 32, got %d", cfg.Gateway.SendBufferSize)
	}
	if cfg.Gateway.QueueSize == 0 {
		t.Fatalf("expected unset gateway fields to keep defaults")
	}
	if cfg.Relay.BufferSize != 10 || cfg.Relay.JetStream.StreamName != "QUIZ" {
		t.Fatalf("unexpected relay config %+v", cfg.Relay)
	}
	if !cfg.NATSEnabled || cfg.Relay.JetStream.URL != "nats://broker:4222" {
		t.Fatalf("expected NATS enabled from env, got %+v", cfg.Relay.JetStream)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://c.example" {
		t.Fatalf("expected env origins, got %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SEED_FILE", "demo.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store != StoreMemory || cfg.Port != "8080" {
		t.Fatalf("expected memory store on 8080, got %s on %s", cfg.Store, cfg.Port)
	}
	if cfg.SeedFile != "demo.json" {
		t.Fatalf("expected seed file from env, got %q", cfg.SeedFile)
	}
	if cfg.NATSEnabled {
		t.Fatalf("expected NATS to stay disabled")
	}
	if cfg.Notify.DatabaseURL == "" {
		t.Fatalf("expected the listener DSN to be filled")
	}
}

func TestLoadRejectsBadSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected an error without JWT_SECRET")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE", "sqlite")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for an unknown store")
	}

	t.Setenv("STORE", "")
	t.Setenv("CONFIG_FILE", writeConfig(t, "timer: [not, a, map]"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected a parse error")
	}
}
