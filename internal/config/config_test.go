package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Store.Backend)
	}
	if len(cfg.Reconcile.Key) != 2 || cfg.Reconcile.Key[0] != "name" || cfg.Reconcile.Key[1] != "start_index" {
		t.Errorf("unexpected default key: %v", cfg.Reconcile.Key)
	}
	if cfg.Qdrant.Port != 6334 {
		t.Errorf("expected qdrant port 6334, got %d", cfg.Qdrant.Port)
	}
	if cfg.Explorer.ListenAddr != ":5555" {
		t.Errorf("expected :5555, got %s", cfg.Explorer.ListenAddr)
	}
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "chroma"
	if !hasWarning(cfg.Validate(), "unknown store backend") {
		t.Error("expected warning about unknown backend")
	}
}

func TestValidate_EmptyKey(t *testing.T) {
	cfg := Default()
	cfg.Reconcile.Key = nil
	if !hasWarning(cfg.Validate(), "reconcile.key") {
		t.Error("expected warning about empty key")
	}
}

func TestValidate_Neo4jPassword(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = BackendNeo4j
	if !hasWarning(cfg.Validate(), "password") {
		t.Error("expected warning about empty neo4j password")
	}
}

func TestValidate_SampleRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want bool // true = should warn
	}{
		{"zero", 0, false},
		{"half", 0.5, false},
		{"one", 1, false},
		{"negative", -0.1, true},
		{"too_high", 1.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Tracing.SampleRate = tt.rate
			if got := hasWarning(cfg.Validate(), "sample_rate"); got != tt.want {
				t.Errorf("rate=%.1f: hasWarn=%v, want=%v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kbadmin.yaml")
	content := `
store:
  backend: qdrant
qdrant:
  host: qdrant.internal
  port: 6400
reconcile:
  key: [source, page]
  copy: [author]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Backend != BackendQdrant || cfg.Qdrant.Host != "qdrant.internal" || cfg.Qdrant.Port != 6400 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if len(cfg.Reconcile.Copy) != 1 || cfg.Reconcile.Copy[0] != "author" {
		t.Errorf("unexpected copy: %v", cfg.Reconcile.Copy)
	}
	// Defaults still fill unset sections.
	if cfg.Temporal.TaskQueue != "kbadmin-reconcile" {
		t.Errorf("expected default task queue, got %s", cfg.Temporal.TaskQueue)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("expected default backend, got %s", cfg.Store.Backend)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("KBADMIN_EXPLORER_LISTEN_ADDR", ":7000")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Explorer.ListenAddr != ":7000" {
		t.Errorf("expected env override :7000, got %s", cfg.Explorer.ListenAddr)
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestValidate_LogFormat(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "xml"
	if !hasWarning(cfg.Validate(), "log format") {
		t.Error("expected warning about unknown log format")
	}
	cfg.Log.Format = "JSON"
	if hasWarning(cfg.Validate(), "log format") {
		t.Error("json should be accepted case-insensitively")
	}
}

func TestLoad_EnvOverrideWithoutFileValue(t *testing.T) {
	t.Setenv("KBADMIN_SQLITE_PATH", "/data/webui.db")
	t.Setenv("KBADMIN_SECRETS_FILE", "/run/secrets/kbadmin.json")
	t.Setenv("KBADMIN_NEO4J_PASSWORD", "env:NEO4J_PASSWORD")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SQLite.Path != "/data/webui.db" {
		t.Errorf("expected sqlite path from env, got %q", cfg.SQLite.Path)
	}
	if cfg.Secrets.File != "/run/secrets/kbadmin.json" {
		t.Errorf("expected secrets file from env, got %q", cfg.Secrets.File)
	}
	if cfg.Neo4j.Password != "env:NEO4J_PASSWORD" {
		t.Errorf("expected password reference kept verbatim, got %q", cfg.Neo4j.Password)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "KBADMIN_EXPLORER_LISTEN_ADDR=:6000\nKBADMIN_LOG_LEVEL=debug\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	// Register cleanup, then unset so the file supplies the value.
	t.Setenv("KBADMIN_EXPLORER_LISTEN_ADDR", "")
	os.Unsetenv("KBADMIN_EXPLORER_LISTEN_ADDR")
	// Already set: the file must not override it.
	t.Setenv("KBADMIN_LOG_LEVEL", "warn")

	loaded := LoadDotEnv(envFile, filepath.Join(dir, ".env.local"))
	if len(loaded) != 1 || loaded[0] != envFile {
		t.Fatalf("expected only .env loaded, got %v", loaded)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Explorer.ListenAddr != ":6000" {
		t.Errorf("expected listen addr from .env, got %s", cfg.Explorer.ListenAddr)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("existing variable should win, got %s", cfg.Log.Level)
	}
}
