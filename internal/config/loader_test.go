package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wavepool/wavepool/internal/config"
)

func TestLoad_ReadsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
nodes:
  - host: localhost
    port: 2333
`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Nodes) != 1 {
		t.Fatalf("nodes: got %d, want 1", len(cfg.Nodes))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
nodes:
  - host: localhost
    bogus_field: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: loud
nodes:
  - identifier: dup
    host: a.example.com
  - identifier: dup
    host: b.example.com
search:
  node_selection: random
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
	if !strings.Contains(errStr, "node_selection") {
		t.Errorf("error should mention node_selection, got: %v", err)
	}
}

func TestLoadFromReader_DefaultPersistenceDir(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Persistence.Backend != "file" {
		t.Errorf("expected default backend=file, got %q", cfg.Persistence.Backend)
	}
	if cfg.Persistence.Dir == "" {
		t.Error("expected default persistence dir to be set")
	}
}
