package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	d := Default()
	if d.ChunkSize != 1000 {
		t.Fatalf("ChunkSize = %d, want 1000", d.ChunkSize)
	}
	if d.MinMatchThreshold != 0.45 {
		t.Fatalf("MinMatchThreshold = %g, want 0.45", d.MinMatchThreshold)
	}
	if d.Destination.Schema != "public" {
		t.Fatalf("Destination.Schema = %q, want public", d.Destination.Schema)
	}
	if d.Metrics.Enabled {
		t.Fatalf("metrics enabled by default")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkSize != Default().ChunkSize {
		t.Fatalf("ChunkSize = %d, want default", cfg.ChunkSize)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ingest.yaml")
	body := "chunk_size: 250\ndestination:\n  driver: sqlite\n  dsn: file:dest.db\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkSize != 250 {
		t.Fatalf("ChunkSize = %d, want 250", cfg.ChunkSize)
	}
	if cfg.Destination.Driver != "sqlite" {
		t.Fatalf("Driver = %q, want sqlite", cfg.Destination.Driver)
	}
	// Untouched keys keep defaults.
	if cfg.PreviewRows != 10 {
		t.Fatalf("PreviewRows = %d, want 10", cfg.PreviewRows)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ingest.yaml")
	if err := os.WriteFile(path, []byte("chunk_size: 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for chunk_size 0")
	}

	path2 := filepath.Join(dir, "ingest2.yaml")
	if err := os.WriteFile(path2, []byte("destination:\n  driver: oracle\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path2); err == nil {
		t.Fatalf("expected validation error for unknown driver")
	}
}
