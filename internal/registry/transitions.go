package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Minoru/minoru-fediverse-crawler"
	"github.com/Minoru/minoru-fediverse-crawler/internal/schedule"
)

// MarkAlive records a successful check: the instance transitions to Alive,
// its hidden-from-list flag is set to hideFromList, and any Dying/Moving/
// Moved auxiliary data is cleared. Coming from Dead or Moved additionally
// reschedules the next check via the daily cadence, since those states had
// been on the weekly cadence.
func (r *Registry) MarkAlive(ctx context.Context, hostname string, hideFromList bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	defer tx.Rollback()

	id, state, err := getInstance(ctx, tx, hostname)
	if err != nil {
		return err
	}

	if err := clearAux(ctx, tx, id, state); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE instances SET state = ?, hide_from_list = ? WHERE id = ?`,
		int(Alive), boolToInt(hideFromList), id); err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}

	if state == Dead || state == Moved {
		next, err := schedule.AboutADayFromNow(fedicrawl.Now())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE instances SET next_check_unix = ? WHERE id = ?`, next.Unix(), id); err != nil {
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
	}

	return tx.Commit()
}

// MarkDead records a failed check, per the Dying/Dead demotion rule: an
// instance must fail more than demotionThreshold times AND have been failing
// for more than demotionWindowDays before it demotes from Dying to Dead.
func (r *Registry) MarkDead(ctx context.Context, hostname string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	defer tx.Rollback()

	id, state, err := getInstance(ctx, tx, hostname)
	if err != nil {
		return err
	}

	now := fedicrawl.Now()

	switch state {
	case Discovered, Alive:
		if err := setDying(ctx, tx, id, state, now, 1); err != nil {
			return err
		}
	case Moving, Moved:
		if err := clearAux(ctx, tx, id, state); err != nil {
			return err
		}
		if err := setDying(ctx, tx, id, state, now, 1); err != nil {
			return err
		}
	case Dead:
		// no-op
	case Dying:
		var prev State
		var since int64
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT previous_state, since_unix, failed_checks_count FROM dying_state_data WHERE instance_id = ?`, id,
		).Scan(&prev, &since, &count); err != nil {
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
		count++
		sinceTime := time.Unix(since, 0)
		if count > demotionThreshold && sinceTime.Before(now.Add(-demotionWindowDays*24*time.Hour)) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM dying_state_data WHERE instance_id = ?`, id); err != nil {
				return fedicrawl.NewError(fedicrawl.StoreFatal, err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE instances SET state = ?, hide_from_list = 0 WHERE id = ?`, int(Dead), id); err != nil {
				return fedicrawl.NewError(fedicrawl.StoreFatal, err)
			}
			next, err := schedule.AboutAWeekFromNow(now)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE instances SET next_check_unix = ? WHERE id = ?`, next.Unix(), id); err != nil {
				return fedicrawl.NewError(fedicrawl.StoreFatal, err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE dying_state_data SET failed_checks_count = ? WHERE instance_id = ?`, count, id); err != nil {
				return fedicrawl.NewError(fedicrawl.StoreFatal, err)
			}
		}
	}

	return tx.Commit()
}

// MarkMoved records a confirmed redirect to toHostname. Callers (the checker
// event decoder) must not call this for a self-redirect (toHostname ==
// hostname); that degenerate case is treated as MarkDead instead.
func (r *Registry) MarkMoved(ctx context.Context, hostname, toHostname string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	defer tx.Rollback()

	id, state, err := getInstance(ctx, tx, hostname)
	if err != nil {
		return err
	}

	targetID, err := ensureInstance(ctx, tx, toHostname)
	if err != nil {
		return err
	}

	now := fedicrawl.Now()

	switch state {
	case Discovered, Alive, Dead:
		if err := clearAux(ctx, tx, id, state); err != nil {
			return err
		}
		if err := setMoving(ctx, tx, id, state, now, 1, targetID); err != nil {
			return err
		}
	case Dying:
		if err := clearAux(ctx, tx, id, state); err != nil {
			return err
		}
		if err := setMoving(ctx, tx, id, state, now, 1, targetID); err != nil {
			return err
		}
	case Moving:
		var prev State
		var since int64
		var count int
		var curTarget int64
		if err := tx.QueryRowContext(ctx,
			`SELECT previous_state, since_unix, redirects_count, target_id FROM moving_state_data WHERE instance_id = ?`, id,
		).Scan(&prev, &since, &count, &curTarget); err != nil {
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
		if curTarget != targetID {
			if _, err := tx.ExecContext(ctx,
				`UPDATE moving_state_data SET since_unix = ?, redirects_count = 1, target_id = ? WHERE instance_id = ?`,
				now.Unix(), targetID, id); err != nil {
				return fedicrawl.NewError(fedicrawl.StoreFatal, err)
			}
			return tx.Commit()
		}

		count++
		sinceTime := time.Unix(since, 0)
		if count > demotionThreshold && sinceTime.Before(now.Add(-demotionWindowDays*24*time.Hour)) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM moving_state_data WHERE instance_id = ?`, id); err != nil {
				return fedicrawl.NewError(fedicrawl.StoreFatal, err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE instances SET state = ?, hide_from_list = 0 WHERE id = ?`, int(Moved), id); err != nil {
				return fedicrawl.NewError(fedicrawl.StoreFatal, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO moved_state_data (instance_id, target_id) VALUES (?, ?)`, id, targetID); err != nil {
				return fedicrawl.NewError(fedicrawl.StoreFatal, err)
			}
			next, err := schedule.AboutAWeekFromNow(now)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE instances SET next_check_unix = ? WHERE id = ?`, next.Unix(), id); err != nil {
				return fedicrawl.NewError(fedicrawl.StoreFatal, err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE moving_state_data SET redirects_count = ? WHERE instance_id = ?`, count, id); err != nil {
				return fedicrawl.NewError(fedicrawl.StoreFatal, err)
			}
		}
	case Moved:
		var curTarget int64
		if err := tx.QueryRowContext(ctx, `SELECT target_id FROM moved_state_data WHERE instance_id = ?`, id).Scan(&curTarget); err != nil {
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
		if curTarget == targetID {
			// no-op
			return tx.Commit()
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM moved_state_data WHERE instance_id = ?`, id); err != nil {
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE instances SET state = ? WHERE id = ?`, int(Moving), id); err != nil {
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
		if err := setMoving(ctx, tx, id, Moved, now, 1, targetID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func getInstance(ctx context.Context, tx *sql.Tx, hostname string) (int64, State, error) {
	var id int64
	var state State
	err := tx.QueryRowContext(ctx, `SELECT id, state FROM instances WHERE hostname = ?`, hostname).Scan(&id, &state)
	if err == sql.ErrNoRows {
		return 0, 0, fmt.Errorf("registry: unknown hostname %q", hostname)
	}
	if err != nil {
		return 0, 0, fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	return id, state, nil
}

// ensureInstance inserts hostname as Discovered (due "sometime today") if
// absent, and returns its id either way.
func ensureInstance(ctx context.Context, tx *sql.Tx, hostname string) (int64, error) {
	next, err := schedule.SometimeToday(fedicrawl.Now())
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO instances (hostname, state, next_check_unix, hide_from_list) VALUES (?, ?, ?, 0)`,
		hostname, int(Discovered), next.Unix()); err != nil {
		return 0, fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM instances WHERE hostname = ?`, hostname).Scan(&id); err != nil {
		return 0, fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	return id, nil
}

func clearAux(ctx context.Context, tx *sql.Tx, id int64, state State) error {
	switch state {
	case Dying:
		if _, err := tx.ExecContext(ctx, `DELETE FROM dying_state_data WHERE instance_id = ?`, id); err != nil {
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
	case Moving:
		if _, err := tx.ExecContext(ctx, `DELETE FROM moving_state_data WHERE instance_id = ?`, id); err != nil {
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
	case Moved:
		if _, err := tx.ExecContext(ctx, `DELETE FROM moved_state_data WHERE instance_id = ?`, id); err != nil {
			return fedicrawl.NewError(fedicrawl.StoreFatal, err)
		}
	}
	return nil
}

func setDying(ctx context.Context, tx *sql.Tx, id int64, prev State, since time.Time, count int) error {
	if _, err := tx.ExecContext(ctx, `UPDATE instances SET state = ? WHERE id = ?`, int(Dying), id); err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dying_state_data (instance_id, previous_state, since_unix, failed_checks_count) VALUES (?, ?, ?, ?)`,
		id, int(prev), since.Unix(), count); err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	return nil
}

func setMoving(ctx context.Context, tx *sql.Tx, id int64, prev State, since time.Time, count int, targetID int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE instances SET state = ? WHERE id = ?`, int(Moving), id); err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO moving_state_data (instance_id, previous_state, since_unix, redirects_count, target_id) VALUES (?, ?, ?, ?, ?)`,
		id, int(prev), since.Unix(), count, targetID); err != nil {
		return fedicrawl.NewError(fedicrawl.StoreFatal, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
