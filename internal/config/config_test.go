package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Ledger.RecentEntriesLimit != 10 {
		t.Fatalf("expected recent limit 10, got %d", cfg.Ledger.RecentEntriesLimit)
	}
	if cfg.Ledger.LockRetryInterval != 100*time.Millisecond {
		t.Fatalf("expected 100ms retry interval, got %s", cfg.Ledger.LockRetryInterval)
	}
	if cfg.Kafka.Enabled {
		t.Fatalf("kafka should be disabled by default")
	}
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
server:
  port: 9090
mysql:
  host: db.internal
  database: ledger_test
ledger:
  max_memo_length: 64
  lock_ttl: 5s
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LEDGER_MYSQL_HOST", "db.override")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.MySQL.Host != "db.override" {
		t.Fatalf("expected env override, got %s", cfg.MySQL.Host)
	}
	if cfg.MySQL.Database != "ledger_test" {
		t.Fatalf("expected database from file, got %s", cfg.MySQL.Database)
	}
	if cfg.Ledger.MaxMemoLength != 64 {
		t.Fatalf("expected memo length 64, got %d", cfg.Ledger.MaxMemoLength)
	}
	if cfg.Ledger.LockTTL != 5*time.Second {
		t.Fatalf("expected lock ttl 5s, got %s", cfg.Ledger.LockTTL)
	}
}

func TestLoadConfigMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [port"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}

func TestLoadConfigWorkerID(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.WorkerID != 1 {
		t.Fatalf("expected default worker id 1, got %d", cfg.Server.WorkerID)
	}

	t.Setenv("LEDGER_SERVER_WORKER_ID", "7")
	cfg, err = LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.WorkerID != 7 {
		t.Fatalf("expected worker id 7, got %d", cfg.Server.WorkerID)
	}

	for _, bad := range []string{"1024", "-1"} {
		t.Setenv("LEDGER_SERVER_WORKER_ID", bad)
		if _, err := LoadConfig(""); err == nil {
			t.Fatalf("expected error for worker id %s", bad)
		}
	}
}
