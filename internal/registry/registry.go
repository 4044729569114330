// Package registry implements the durable, transactional instance store and
// the lifecycle state machine that advances it. The backing store is a
// single SQLite file in WAL mode with a generous busy timeout; callers that
// aren't the orchestrator's main loop should additionally wrap mutations in
// WithBoundedRetry/WithIndefiniteRetry (see busyretry.go) to ride out
// contention with the main loop, which relies on its long busy timeout
// instead of retrying.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Minoru/minoru-fediverse-crawler"
	"github.com/Minoru/minoru-fediverse-crawler/internal/schedule"
)

// BootstrapHostname is the single instance seeded into an empty registry.
const BootstrapHostname = "mastodon.social"

// Registry is a handle to the durable instance store.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path, enabling WAL mode,
// foreign-key enforcement, and a 60s busy timeout.
func Open(path string) (*Registry, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(60000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	// SQLite supports exactly one writer; keep the pool modest so readers
	// don't queue behind each other more than necessary, and so the busy
	// timeout is what arbitrates writer contention, not Go-side pooling.
	db.SetMaxOpenConns(8)
	return &Registry{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS instances (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname TEXT NOT NULL UNIQUE,
	state INTEGER NOT NULL,
	next_check_unix INTEGER NOT NULL,
	hide_from_list INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_instances_next_check ON instances(next_check_unix);

CREATE TABLE IF NOT EXISTS dying_state_data (
	instance_id INTEGER PRIMARY KEY REFERENCES instances(id),
	previous_state INTEGER NOT NULL,
	since_unix INTEGER NOT NULL,
	failed_checks_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS moving_state_data (
	instance_id INTEGER PRIMARY KEY REFERENCES instances(id),
	previous_state INTEGER NOT NULL,
	since_unix INTEGER NOT NULL,
	redirects_count INTEGER NOT NULL,
	target_id INTEGER NOT NULL REFERENCES instances(id)
);

CREATE TABLE IF NOT EXISTS moved_state_data (
	instance_id INTEGER PRIMARY KEY REFERENCES instances(id),
	target_id INTEGER NOT NULL REFERENCES instances(id)
);
`

// Init creates the schema if absent and seeds the bootstrap hostname if the
// instances table is empty. Safe to call on every process start.
func (r *Registry) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaDDL); err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM instances`).Scan(&count); err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	if count > 0 {
		return nil
	}

	next, err := schedule.SometimeToday(fedicrawl.Now())
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO instances (hostname, state, next_check_unix, hide_from_list) VALUES (?, ?, ?, 0)`,
		BootstrapHostname, int(Discovered), next.Unix())
	if err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	return nil
}

// AddInstance inserts hostname as a new Discovered instance due "sometime
// today" if it doesn't already exist. A pre-existing hostname is a no-op.
func (r *Registry) AddInstance(ctx context.Context, hostname string) error {
	next, err := schedule.SometimeToday(fedicrawl.Now())
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO instances (hostname, state, next_check_unix, hide_from_list) VALUES (?, ?, ?, 0)`,
		hostname, int(Discovered), next.Unix())
	if err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	return nil
}

// ErrEmpty is returned by PickNextInstance when the registry has no rows.
var ErrEmpty = fmt.Errorf("registry: no instances")

// PickNextInstance returns the hostname with the smallest next-check time.
func (r *Registry) PickNextInstance(ctx context.Context) (string, time.Time, error) {
	var hostname string
	var nextUnix int64
	err := r.db.QueryRowContext(ctx,
		`SELECT hostname, next_check_unix FROM instances ORDER BY next_check_unix ASC LIMIT 1`,
	).Scan(&hostname, &nextUnix)
	if err == sql.ErrNoRows {
		return "", time.Time{}, ErrEmpty
	}
	if err != nil {
		return "", time.Time{}, fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	return hostname, time.Unix(nextUnix, 0), nil
}

// RescheduleMissedChecks resets the next-check time of every instance whose
// due time has already passed. Intended to run once at process start, so a
// long-stopped crawler doesn't treat a backlog as "all due right now".
func (r *Registry) RescheduleMissedChecks(ctx context.Context) error {
	now := fedicrawl.Now()
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM instances WHERE next_check_unix <= ?`, now.Unix())
	if err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		next, err := schedule.SometimeToday(now)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, `UPDATE instances SET next_check_unix = ? WHERE id = ?`, next.Unix(), id); err != nil {
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
	}
	return nil
}

// Reschedule sets hostname's next-check time according to its current state:
// Dead/Moved get the weekly cadence, everything else the daily cadence. It's
// also used as the "reservation" step by the orchestrator: calling it right
// after picking an instance pushes it out of PickNextInstance's way until the
// real mark* call overwrites it with the post-check time.
func (r *Registry) Reschedule(ctx context.Context, hostname string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	defer tx.Rollback()

	var id int64
	var state State
	if err := tx.QueryRowContext(ctx, `SELECT id, state FROM instances WHERE hostname = ?`, hostname).Scan(&id, &state); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("registry: reschedule: unknown hostname %q", hostname)
		}
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}

	var next time.Time
	switch state {
	case Dead, Moved:
		next, err = schedule.AboutAWeekFromNow(fedicrawl.Now())
	default:
		next, err = schedule.AboutADayFromNow(fedicrawl.Now())
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE instances SET next_check_unix = ? WHERE id = ?`, next.Unix(), id); err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	return tx.Commit()
}

// Snapshot is a read-only projection of an instance's current state, used by
// diagnostics and tests. It never mutates next_check_unix.
type Snapshot struct {
	Hostname     string
	State        State
	NextCheck    time.Time
	HideFromList bool

	DyingSince         time.Time
	DyingFailedChecks  int
	DyingPreviousState State

	MovingSince    time.Time
	MovingCount    int
	MovingTarget   string
	MovingPrevious State

	MovedTarget string
}

// GetSnapshot reads the full state of hostname, including whichever
// per-state auxiliary row currently applies.
func (r *Registry) GetSnapshot(ctx context.Context, hostname string) (Snapshot, error) {
	var s Snapshot
	var id int64
	var nextUnix int64
	var hide int
	err := r.db.QueryRowContext(ctx,
		`SELECT id, hostname, state, next_check_unix, hide_from_list FROM instances WHERE hostname = ?`, hostname,
	).Scan(&id, &s.Hostname, &s.State, &nextUnix, &hide)
	if err == sql.ErrNoRows {
		return Snapshot{}, fmt.Errorf("registry: unknown hostname %q", hostname)
	}
	if err != nil {
		return Snapshot{}, fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	s.NextCheck = time.Unix(nextUnix, 0)
	s.HideFromList = hide != 0

	switch s.State {
	case Dying:
		var since int64
		err = r.db.QueryRowContext(ctx,
			`SELECT previous_state, since_unix, failed_checks_count FROM dying_state_data WHERE instance_id = ?`, id,
		).Scan(&s.DyingPreviousState, &since, &s.DyingFailedChecks)
		if err != nil {
			return Snapshot{}, fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
		s.DyingSince = time.Unix(since, 0)
	case Moving:
		var since int64
		var targetID int64
		err = r.db.QueryRowContext(ctx,
			`SELECT previous_state, since_unix, redirects_count, target_id FROM moving_state_data WHERE instance_id = ?`, id,
		).Scan(&s.MovingPrevious, &since, &s.MovingCount, &targetID)
		if err != nil {
			return Snapshot{}, fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
		s.MovingSince = time.Unix(since, 0)
		s.MovingTarget, err = r.hostnameByID(ctx, targetID)
		if err != nil {
			return Snapshot{}, err
		}
	case Moved:
		var targetID int64
		err = r.db.QueryRowContext(ctx,
			`SELECT target_id FROM moved_state_data WHERE instance_id = ?`, id,
		).Scan(&targetID)
		if err != nil {
			return Snapshot{}, fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
		s.MovedTarget, err = r.hostnameByID(ctx, targetID)
		if err != nil {
			return Snapshot{}, err
		}
	}

	return s, nil
}

func (r *Registry) hostnameByID(ctx context.Context, id int64) (string, error) {
	var hostname string
	err := r.db.QueryRowContext(ctx, `SELECT hostname FROM instances WHERE id = ?`, id).Scan(&hostname)
	if err != nil {
		return "", fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	return hostname, nil
}

// WithBoundedRetry runs fn, retrying up to 100 times on busy-store errors.
// Use for background tasks (list generation, peer admission) that can afford
// a handful of retries but shouldn't block forever.
func WithBoundedRetry(ctx context.Context, fn func() error) error {
	return withBoundedBusyRetry(ctx, fn)
}

// WithIndefiniteRetry runs fn, retrying forever on busy-store errors. Use
// only for the lowest-priority writer (the bulk instance adder).
func WithIndefiniteRetry(ctx context.Context, fn func() error) error {
	return withIndefiniteBusyRetry(ctx, fn)
}
