package fedicrawl

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RegistryPath != "minoru-fediverse-crawler.db" {
		t.Errorf("unexpected default registry path: %q", cfg.RegistryPath)
	}
	if cfg.MinWorkers != 1 || cfg.MaxWorkers != 128 {
		t.Errorf("unexpected default worker bounds: %d/%d", cfg.MinWorkers, cfg.MaxWorkers)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	const body = `{"registry_path": "custom.db", "max_workers": 16}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RegistryPath != "custom.db" {
		t.Errorf("expected custom.db, got %q", cfg.RegistryPath)
	}
	if cfg.MaxWorkers != 16 {
		t.Errorf("expected max_workers=16, got %d", cfg.MaxWorkers)
	}
	if cfg.MinWorkers != 1 {
		t.Errorf("expected default min_workers=1, got %d", cfg.MinWorkers)
	}
}
