package listgen

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Minoru/minoru-fediverse-crawler/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	r, err := registry.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

func TestGenerateWritesAtomicFiles(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.MarkAlive(ctx, registry.BootstrapHostname, false); err != nil {
		t.Fatalf("MarkAlive: %v", err)
	}

	outDir := t.TempDir()
	if err := Generate(ctx, r, outDir, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, jsonFilename))
	if err != nil {
		t.Fatalf("reading published list: %v", err)
	}
	var hosts []string
	if err := json.Unmarshal(data, &hosts); err != nil {
		t.Fatalf("unmarshaling published list: %v", err)
	}
	if len(hosts) != 1 || hosts[0] != registry.BootstrapHostname {
		t.Fatalf("expected [%q], got %v", registry.BootstrapHostname, hosts)
	}

	if _, err := os.Stat(filepath.Join(outDir, gzFilename)); err != nil {
		t.Fatalf("expected gzip file to exist: %v", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != jsonFilename && e.Name() != gzFilename {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestGenerateExcludesHidden(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.MarkAlive(ctx, registry.BootstrapHostname, true); err != nil {
		t.Fatalf("MarkAlive: %v", err)
	}

	outDir := t.TempDir()
	if err := Generate(ctx, r, outDir, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, jsonFilename))
	if err != nil {
		t.Fatalf("reading published list: %v", err)
	}
	var hosts []string
	if err := json.Unmarshal(data, &hosts); err != nil {
		t.Fatalf("unmarshaling published list: %v", err)
	}
	if len(hosts) != 0 {
		t.Fatalf("expected hidden instance excluded, got %v", hosts)
	}
}
