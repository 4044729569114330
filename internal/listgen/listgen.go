// Package listgen publishes the set of currently-listable instance
// hostnames as a JSON array, atomically, and optionally mirrors it to Redis
// and/or S3 for downstream consumers.
package listgen

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Minoru/minoru-fediverse-crawler/internal/registry"
)

const (
	jsonFilename = "instances.json"
	gzFilename   = "instances.json.gz"
	filePerm     = 0644
)

// Generate snapshots the public instance list from reg and publishes it to
// outDir as instances.json and instances.json.gz, each written to a sibling
// temp file and atomically renamed into place. If mirror is non-nil, it also
// attempts (best-effort, independently) a Redis and/or S3 publish.
func Generate(ctx context.Context, reg *registry.Registry, outDir string, mirror *Mirrors) error {
	hosts, err := reg.ListPublicHostnames(ctx)
	if err != nil {
		return fmt.Errorf("listgen: querying public hostnames: %w", err)
	}
	if hosts == nil {
		hosts = []string{}
	}

	payload, err := json.Marshal(hosts)
	if err != nil {
		return fmt.Errorf("listgen: marshaling instance list: %w", err)
	}

	gz, err := gzipBytes(payload)
	if err != nil {
		return fmt.Errorf("listgen: gzipping instance list: %w", err)
	}

	if err := atomicWrite(outDir, jsonFilename, payload); err != nil {
		return fmt.Errorf("listgen: publishing %s: %w", jsonFilename, err)
	}
	if err := atomicWrite(outDir, gzFilename, gz); err != nil {
		return fmt.Errorf("listgen: publishing %s: %w", gzFilename, err)
	}

	if mirror != nil {
		if err := mirror.PublishRedis(ctx, hosts, payload); err != nil {
			slog.Warn("listgen: redis mirror failed", "error", err)
		}
		if err := mirror.PublishS3(ctx, payload, gz); err != nil {
			slog.Warn("listgen: s3 mirror failed", "error", err)
		}
	}

	slog.Info("published instance list", "count", len(hosts))
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// atomicWrite writes data to a temp file in dir and renames it to name,
// so readers never observe a partially-written file.
func atomicWrite(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, name))
}
