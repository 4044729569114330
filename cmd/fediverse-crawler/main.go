// Command fediverse-crawler is both the orchestrator and its own one-shot
// checker subprocess, selected by CLI flags (see runCheck/runOrchestrator/
// runAddInstances below).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Minoru/minoru-fediverse-crawler"
	"github.com/Minoru/minoru-fediverse-crawler/internal/domain"
	"github.com/Minoru/minoru-fediverse-crawler/internal/listgen"
	"github.com/Minoru/minoru-fediverse-crawler/internal/orchestrator"
	"github.com/Minoru/minoru-fediverse-crawler/internal/policy"
	"github.com/Minoru/minoru-fediverse-crawler/internal/registry"
)

func main() {
	checkHost := flag.String("check", "", "run in checker mode against the given hostname")
	addInstances := flag.Bool("add-instances", false, "read hostnames from stdin and add them to the registry")
	configPath := flag.String("config", "", "path to a JSON configuration file")
	flag.Parse()

	if *checkHost != "" && *addInstances {
		fmt.Fprintln(os.Stderr, "--check and --add-instances are mutually exclusive")
		os.Exit(2)
	}

	fedicrawl.ConfigureLogging(nil)

	cfg, err := fedicrawl.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	if *checkHost != "" {
		runCheck(*checkHost)
		return
	}

	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		slog.Error("opening registry", "error", err)
		os.Exit(1)
	}
	defer reg.Close()

	ctx := context.Background()
	if err := reg.Init(ctx); err != nil {
		slog.Error("initializing registry", "error", err)
		os.Exit(1)
	}

	admitter, err := policy.NewAdmitter(cfg.AdmissionPolicyExpr)
	if err != nil {
		slog.Error("compiling admission policy", "error", err)
		os.Exit(1)
	}

	if *addInstances {
		runAddInstances(ctx, reg, admitter)
		return
	}

	runOrchestrator(ctx, reg, admitter, cfg)
}

func runOrchestrator(ctx context.Context, reg *registry.Registry, admitter *policy.Admitter, cfg fedicrawl.Config) {
	exePath, err := os.Executable()
	if err != nil {
		slog.Error("resolving own executable path", "error", err)
		os.Exit(1)
	}

	opts := orchestrator.Options{
		Registry:   reg,
		Admitter:   admitter,
		Mirrors:    buildMirrors(cfg),
		ExePath:    exePath,
		ListOutDir: cfg.ListOutputDir,
		MinWorkers: cfg.MinWorkers,
		MaxWorkers: cfg.MaxWorkers,
	}

	if err := orchestrator.Run(ctx, opts); err != nil {
		slog.Error("orchestrator exited with error", "error", err)
		os.Exit(1)
	}
}

func buildMirrors(cfg fedicrawl.Config) *listgen.Mirrors {
	m := &listgen.Mirrors{}
	enabled := false

	if cfg.Redis.Address != "" {
		m.Redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		m.RedisTTL = time.Duration(cfg.Redis.TTLSeconds) * time.Second
		enabled = true
	}

	if cfg.S3.Bucket != "" {
		m.S3Client = s3.NewFromConfig(aws.Config{Region: cfg.S3.Region}, func(o *s3.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"), "")
		})
		m.S3Bucket = cfg.S3.Bucket
		m.S3Prefix = cfg.S3.Prefix
		enabled = true
	}

	if !enabled {
		return nil
	}
	return m
}

// runCheck is this module's side of the checker-subprocess contract: it
// performs a minimal reachability probe and emits the newline-JSON event
// grammar the orchestrator expects. The real NodeInfo/Mastodon-API-aware
// probing logic (software identity, redirect-chain following, peer-list
// harvesting) is a separate collaborator this module doesn't implement;
// this stands in with a plain HTTP HEAD check so the subprocess contract is
// independently exercisable.
func runCheck(host string) {
	if !domain.IsValid(host) {
		// No State line at all -> the orchestrator's decoder treats EOF
		// before any state as "dead".
		return
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		// Follow same-host redirects; stop at a cross-host one so it is
		// reported below as Moved.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			if req.URL.Hostname() != via[0].URL.Hostname() {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	resp, err := client.Head(fmt.Sprintf("https://%s/", host))
	if err != nil {
		return
	}
	defer resp.Body.Close()

	enc := json.NewEncoder(os.Stdout)

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc, err := resp.Location()
		if err == nil && loc.Host != "" {
			_ = enc.Encode(map[string]any{
				"State": map[string]any{"state": "Moved", "to": loc.Hostname()},
			})
			return
		}
	}

	if resp.StatusCode >= 500 {
		return
	}

	_ = enc.Encode(map[string]any{
		"State": map[string]any{"state": "Alive", "hide_from_list": false},
	})
}

// runAddInstances reads hostnames from stdin, one per line, and inserts
// valid ones at the lowest effective write priority (the indefinite
// busy-retry wrapper), yielding the scheduler between insertions since this
// is a tight, low-priority loop that shouldn't starve the orchestrator.
func runAddInstances(ctx context.Context, reg *registry.Registry, admitter *policy.Admitter) {
	scanner := bufio.NewScanner(os.Stdin)
	added, skipped := 0, 0

	for scanner.Scan() {
		line := scanner.Text()
		d, err := domain.Parse(line)
		if err != nil {
			slog.Warn("skipping invalid hostname", "input", line, "error", err)
			skipped++
			runtime.Gosched()
			continue
		}

		ok, err := admitter.Admit(d.String(), policy.SourceManual)
		if err != nil {
			slog.Warn("admission policy error", "hostname", d.String(), "error", err)
		}
		if !ok {
			skipped++
			runtime.Gosched()
			continue
		}

		err = registry.WithIndefiniteRetry(ctx, func() error {
			return reg.AddInstance(ctx, d.String())
		})
		if err != nil {
			slog.Error("failed to add instance", "hostname", d.String(), "error", err)
			skipped++
		} else {
			added++
		}
		runtime.Gosched()
	}

	if err := scanner.Err(); err != nil {
		slog.Error("reading stdin", "error", err)
		os.Exit(1)
	}
	fmt.Printf("added %d instance(s), skipped %d\n", added, skipped)
}
