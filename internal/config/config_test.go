package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", name, err)
	}
}

func TestLoadFrom_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  driver: memory
tx:
  retry_backoff: 50ms
outbox:
  interval: 2s
`)
	t.Setenv("SERVER_PORT", ":9999")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFrom("test", dir)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Service.Name != "taskhub" || cfg.OTel.ServiceName != "taskhub" {
		t.Errorf("service name default not applied: %+v", cfg.Service)
	}
	if cfg.Server.Port != ":9999" {
		t.Errorf("SERVER_PORT not applied, got %q", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("LOG_LEVEL not applied, got %q", cfg.Log.Level)
	}
	if *cfg.Tx.MaxRetries != 3 || cfg.Tx.RetryBackoff != 50*time.Millisecond {
		t.Errorf("unexpected tx config: %+v", cfg.Tx)
	}
	if cfg.Outbox.Interval != 2*time.Second || cfg.Outbox.BatchSize != 100 {
		t.Errorf("unexpected outbox config: %+v", cfg.Outbox)
	}
}

func TestLoadFrom_TxRetries(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    int
		wantErr bool
	}{
		{"absent uses default", "db:\n  driver: memory\n", 3, false},
		{"explicit zero disables retries", "db:\n  driver: memory\ntx:\n  max_retries: 0\n", 0, false},
		{"explicit value", "db:\n  driver: memory\ntx:\n  max_retries: 7\n", 7, false},
		{"negative rejected", "db:\n  driver: memory\ntx:\n  max_retries: -1\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "base.yaml", tt.yaml)

			cfg, err := LoadFrom("base", dir)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFrom failed: %v", err)
			}
			if *cfg.Tx.MaxRetries != tt.want {
				t.Fatalf("max_retries = %d, want %d", *cfg.Tx.MaxRetries, tt.want)
			}
		})
	}
}

func TestLoadFrom_RejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  driver: sqlite\n")

	if _, err := LoadFrom("base", dir); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestLoadFrom_MQRequiresURL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  driver: memory\nmq:\n  enabled: true\n")
	t.Setenv("MQ_URL", "")

	if _, err := LoadFrom("base", dir); err == nil {
		t.Fatal("expected error when mq is enabled without url")
	}
}
