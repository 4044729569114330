// Package orchestrator drives the main scheduling loop: pick the earliest
// due instance, reserve it, dispatch a checker subprocess to an elastic
// worker pool, and periodically regenerate the published list. It owns
// graceful shutdown on SIGINT/SIGTERM.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/Minoru/minoru-fediverse-crawler"
	"github.com/Minoru/minoru-fediverse-crawler/internal/checker"
	"github.com/Minoru/minoru-fediverse-crawler/internal/listgen"
	"github.com/Minoru/minoru-fediverse-crawler/internal/policy"
	"github.com/Minoru/minoru-fediverse-crawler/internal/registry"
	"github.com/Minoru/minoru-fediverse-crawler/internal/schedule"
)

// pollWhenIdle bounds how long the loop sleeps when the next due check is
// further out than this, so it can re-check the shutdown flag and the
// list-generation deadline promptly instead of oversleeping.
const pollWhenIdle = 3 * time.Second

// Options configures a Run invocation.
type Options struct {
	Registry    *registry.Registry
	Admitter    *policy.Admitter
	Mirrors     *listgen.Mirrors
	ExePath     string // path to this executable, invoked as `ExePath --check <host>`
	ListOutDir  string
	MinWorkers  int
	MaxWorkers  int
}

// Run executes the main loop until SIGINT/SIGTERM, then drains the pool and
// returns. A non-nil error indicates a fatal, non-busy registry failure or a
// scheduler time overflow; a clean shutdown returns nil.
func Run(parent context.Context, opts Options) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := opts.Registry.RescheduleMissedChecks(ctx); err != nil {
		return fmt.Errorf("orchestrator: rescheduling missed checks: %w", err)
	}

	pool, err := NewPool(ctx, opts.MinWorkers, opts.MaxWorkers)
	if err != nil {
		return err
	}

	nextListGen, err := schedule.InAboutSixHours(fedicrawl.Now())
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator: shutdown signal received, draining pool")
			if err := pool.Join(); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("orchestrator: pool drain returned error", "error", err)
			}
			return nil
		default:
		}

		now := fedicrawl.Now()
		if !now.Before(nextListGen) {
			reg, mirrors, outDir := opts.Registry, opts.Mirrors, opts.ListOutDir
			if err := pool.Submit(ctx, func() error {
				if err := listgen.Generate(context.Background(), reg, outDir, mirrors); err != nil {
					slog.Error("orchestrator: list generation failed", "error", err)
				}
				return nil
			}); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("orchestrator: submitting list-generation task", "error", err)
			}
			nextListGen, err = schedule.InAboutSixHours(now)
			if err != nil {
				return err
			}
		}

		host, due, err := opts.Registry.PickNextInstance(ctx)
		if errors.Is(err, registry.ErrEmpty) {
			time.Sleep(pollWhenIdle)
			continue
		}
		if err != nil {
			return fmt.Errorf("orchestrator: picking next instance: %w", err)
		}

		wait := due.Sub(fedicrawl.Now())
		if wait > pollWhenIdle {
			time.Sleep(pollWhenIdle)
			continue
		}
		if wait > 0 {
			time.Sleep(wait)
		}

		if err := opts.Registry.Reschedule(ctx, host); err != nil {
			slog.Error("orchestrator: reserving instance via reschedule", "host", host, "error", err)
			continue
		}

		reg, admit, exePath := opts.Registry, opts.Admitter, opts.ExePath
		submitErr := pool.Submit(ctx, func() error {
			outcome := checker.Process(context.Background(), reg, admit, exePath, host)
			logOutcome(outcome)
			return nil
		})
		if submitErr != nil {
			if errors.Is(submitErr, context.Canceled) {
				continue
			}
			slog.Error("orchestrator: submitting checker task", "host", host, "error", submitErr)
		}
	}
}

func logOutcome(o checker.Outcome) {
	fmt.Printf("check %s: %s (peers found=%d added=%d)\n", o.Host, o.Result, o.PeersFound, o.PeersAdded)
	if o.Err != nil {
		slog.Warn("check completed with error", "host", o.Host, "result", o.Result, "error", o.Err)
	} else {
		slog.Info("check completed", "host", o.Host, "result", o.Result, "peers_found", o.PeersFound, "peers_added", o.PeersAdded)
	}
}
