package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.BlockSize != 8192 {
		t.Fatalf("BlockSize = %d, want 8192", cfg.Storage.BlockSize)
	}
	if cfg.Storage.MaxChunkSize != 2000 {
		t.Fatalf("MaxChunkSize = %d, want 2000", cfg.Storage.MaxChunkSize)
	}
	if cfg.Replication.Interval != 60*time.Second {
		t.Fatalf("Interval = %v, want 60s", cfg.Replication.Interval)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lodestone.yaml")
	data := `
storage:
  blockSize: 4096
  compressTables:
    record: false
    position: true
replication:
  host: master.example.com
  port: 8014
  masterDb: main
  interval: 5s
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0666); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.BlockSize != 4096 {
		t.Fatalf("BlockSize = %d, want 4096", cfg.Storage.BlockSize)
	}
	if v, ok := cfg.Storage.CompressTables["record"]; !ok || v {
		t.Fatalf("CompressTables[record] = %v, %v", v, ok)
	}
	if v := cfg.Storage.CompressTables["position"]; !v {
		t.Fatal("CompressTables[position] not set")
	}
	if cfg.Replication.Host != "master.example.com" || cfg.Replication.Port != 8014 {
		t.Fatalf("Replication = %+v", cfg.Replication)
	}
	if cfg.Replication.Interval != 5*time.Second {
		t.Fatalf("Interval = %v, want 5s", cfg.Replication.Interval)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("Logging = %+v", cfg.Logging)
	}
	// Unset fields keep their defaults.
	if cfg.Storage.MaxChunkSize != 2000 {
		t.Fatalf("MaxChunkSize = %d, want default 2000", cfg.Storage.MaxChunkSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LS_BLOCK_SIZE", "16384")
	t.Setenv("LS_REPLICATION_HOST", "env-host")
	t.Setenv("LS_REPLICATION_INTERVAL", "90s")
	t.Setenv("LS_LOGGING_LEVEL", "warn")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.BlockSize != 16384 {
		t.Fatalf("BlockSize = %d, want 16384", cfg.Storage.BlockSize)
	}
	if cfg.Replication.Host != "env-host" {
		t.Fatalf("Host = %q", cfg.Replication.Host)
	}
	if cfg.Replication.Interval != 90*time.Second {
		t.Fatalf("Interval = %v", cfg.Replication.Interval)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("Level = %q", cfg.Logging.Level)
	}
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"odd block size": `{storage: {blockSize: 3000}}`,
		"too small":      `{storage: {blockSize: 1024}}`,
		"too large":      `{storage: {blockSize: 131072}}`,
		"tiny chunk":     `{storage: {maxChunkSize: 4}}`,
	}
	for name, data := range cases {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte(data), 0666); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load accepted invalid config", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load accepted a missing file path")
	}
}
