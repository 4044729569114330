package registry

import (
	"context"
	"strings"

	"github.com/Minoru/minoru-fediverse-crawler"
)

// isBusy classifies an error as transient SQLite contention (SQLITE_BUSY /
// "database is locked"), the only condition this package's retry wrappers
// treat as retryable. Everything else is StoreFatal.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "busy")
}

// withBusyRetry runs fn, retrying up to maxAttempts times (sleeping a uniform
// random 1-50ms between attempts) whenever fn's error is busy-classified.
// maxAttempts <= 0 means retry indefinitely - used only by the lowest-priority
// caller (the bulk instance adder), which should never give up but should
// always yield the contention window to everyone else first.
func withBusyRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return fedicrawl.NewError(fedicrawl.BusyStore, err)
		}
		fedicrawl.RandomSleepMillis(ctx, 1, 50)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// withBoundedBusyRetry is the 100-attempt variant used by background tasks
// (peer admission) that shouldn't block forever but can
// afford a handful of retries under contention.
func withBoundedBusyRetry(ctx context.Context, fn func() error) error {
	return withBusyRetry(ctx, 100, fn)
}

// withIndefiniteBusyRetry is used by the bulk instance-adder: it never gives
// up, which makes it the system's lowest-priority writer by construction.
func withIndefiniteBusyRetry(ctx context.Context, fn func() error) error {
	return withBusyRetry(ctx, 0, fn)
}
