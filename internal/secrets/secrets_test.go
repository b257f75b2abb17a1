package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolve(t *testing.T) {
	t.Setenv("KB_TEST_QDRANT_KEY", "from-env")
	pwFile := writeFile(t, "neo4j", "s3cret\n")
	secretsFile := writeFile(t, "secrets.json", `{"neo4j_password":"from-file"}`)

	m, err := NewManager(&Config{File: secretsFile})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	tests := []struct {
		value string
		want  string
	}{
		{"plain", "plain"},
		{"", ""},
		{"env:KB_TEST_QDRANT_KEY", "from-env"},
		{"file:" + pwFile, "s3cret"},
		{"secret:neo4j_password", "from-file"},
		{"https://host:6334", "https://host:6334"},
	}
	for _, tt := range tests {
		got, err := m.Resolve(context.Background(), tt.value)
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", tt.value, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestResolve_Missing(t *testing.T) {
	m, err := NewManager(nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"env:KB_TEST_DOES_NOT_EXIST", "secret:kb_test_missing"} {
		if _, err := m.Resolve(context.Background(), v); !errors.Is(err, ErrNotFound) {
			t.Errorf("Resolve(%q): expected ErrNotFound, got %v", v, err)
		}
	}
	if _, err := m.Resolve(context.Background(), "file:/nonexistent/kbadmin-secret"); err == nil {
		t.Error("expected error for missing secret file")
	}
}

func TestManager_FileBeforeEnv(t *testing.T) {
	t.Setenv("KBADMIN_NEO4J_PASSWORD", "from-env")
	secretsFile := writeFile(t, "secrets.json", `{"neo4j_password":"from-file"}`)

	m, err := NewManager(&Config{File: secretsFile})
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(context.Background(), KeyNeo4jPassword)
	if err != nil || got != "from-file" {
		t.Errorf("expected file value, got %q (%v)", got, err)
	}

	envOnly, _ := NewManager(nil)
	got, err = envOnly.Get(context.Background(), KeyNeo4jPassword)
	if err != nil || got != "from-env" {
		t.Errorf("expected env value, got %q (%v)", got, err)
	}
}

func TestManager_Caches(t *testing.T) {
	t.Setenv("KBADMIN_QDRANT_API_KEY", "first")
	m, _ := NewManager(nil)
	if v, _ := m.Get(context.Background(), KeyQdrantAPIKey); v != "first" {
		t.Fatalf("expected first, got %q", v)
	}
	t.Setenv("KBADMIN_QDRANT_API_KEY", "second")
	if v, _ := m.Get(context.Background(), KeyQdrantAPIKey); v != "first" {
		t.Errorf("expected cached value, got %q", v)
	}
}

func TestEnvProvider_UnprefixedFallback(t *testing.T) {
	t.Setenv("KB_TEST_TOKEN", "bare")
	p := NewEnvProvider("")
	v, err := p.Get(context.Background(), "kb_test_token")
	if err != nil || v != "bare" {
		t.Errorf("expected bare, got %q (%v)", v, err)
	}
}

func TestNewFileProvider_Invalid(t *testing.T) {
	if _, err := NewFileProvider(""); err == nil {
		t.Error("expected error for empty path")
	}
	bad := writeFile(t, "bad.json", "{")
	if _, err := NewFileProvider(bad); err == nil {
		t.Error("expected parse error")
	}
}
