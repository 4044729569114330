// Package schedule computes time-spread next-check timestamps.
//
// The daily and weekly periods (29h and 167h) are both prime, so two
// instances scheduled together only realign after 29*167 ~= 4843 hours.
// Jitter is drawn from an overridable RNG (see fedicrawl.SetJitterRNG) so
// tests can pin it.
package schedule

import (
	"math"
	"time"

	"github.com/Minoru/minoru-fediverse-crawler"
)

const (
	// DailyPeriod is the base cadence for most rechecks.
	DailyPeriod = 29 * time.Hour
	dailyJitter = 2 * time.Hour

	// WeeklyPeriod is the base cadence once an instance has been Dead/Moved a while.
	WeeklyPeriod = 167 * time.Hour
	weeklyJitter = 11*time.Hour + 30*time.Minute

	// ListGenPeriod is the base cadence for regenerating the published list.
	ListGenPeriod = 6*time.Hour + 6*time.Minute
	listGenJitter = 5 * time.Minute
)

// uniform returns a random duration uniformly distributed in [-spread, +spread].
func uniform(spread time.Duration) time.Duration {
	if spread <= 0 {
		return 0
	}
	r := fedicrawl.JitterRNG()
	// Float64 is in [0,1); map to [-spread, +spread].
	f := r.Float64()*2 - 1
	return time.Duration(f * float64(spread))
}

func addChecked(from time.Time, d time.Duration) (time.Time, error) {
	// time.Time addition doesn't panic on overflow, but an absurdly large
	// duration can wrap in the underlying monotonic/wall representation on
	// some platforms; guard explicitly against durations outside any sane range.
	if math.Abs(float64(d)) > float64(100*365*24*time.Hour) {
		return time.Time{}, fedicrawl.NewError(fedicrawl.TimeOverflow, errOverflow)
	}
	return from.Add(d), nil
}

var errOverflow = timeOverflowError("schedule: timestamp arithmetic overflowed")

type timeOverflowError string

func (e timeOverflowError) Error() string { return string(e) }

// AboutADayFromNow returns now + 29h +/- up to 2h.
func AboutADayFromNow(now time.Time) (time.Time, error) {
	return addChecked(now, DailyPeriod+uniform(dailyJitter))
}

// AboutAWeekFromNow returns now + 167h +/- up to 11h30m.
func AboutAWeekFromNow(now time.Time) (time.Time, error) {
	return addChecked(now, WeeklyPeriod+uniform(weeklyJitter))
}

// SometimeToday returns now + a uniform random offset in [0, 29h].
func SometimeToday(now time.Time) (time.Time, error) {
	r := fedicrawl.JitterRNG()
	offset := time.Duration(r.Float64() * float64(DailyPeriod))
	return addChecked(now, offset)
}

// InAboutSixHours returns now + 6h6m +/- up to 5m, used for list-generation cadence.
func InAboutSixHours(now time.Time) (time.Time, error) {
	return addChecked(now, ListGenPeriod+uniform(listGenJitter))
}
