package schedule

import (
	"math/rand"
	"testing"
	"time"

	"github.com/Minoru/minoru-fediverse-crawler"
)

func TestAboutADayFromNowRange(t *testing.T) {
	fedicrawl.SetJitterRNG(rand.New(rand.NewSource(1)))
	now := time.Now()
	for i := 0; i < 1000; i++ {
		got, err := AboutADayFromNow(now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d := got.Sub(now)
		if d < 27*time.Hour || d > 31*time.Hour {
			t.Fatalf("AboutADayFromNow out of range: %v", d)
		}
	}
}

func TestAboutAWeekFromNowRange(t *testing.T) {
	fedicrawl.SetJitterRNG(rand.New(rand.NewSource(2)))
	now := time.Now()
	for i := 0; i < 1000; i++ {
		got, err := AboutAWeekFromNow(now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d := got.Sub(now)
		if d < 155*time.Hour+30*time.Minute || d > 178*time.Hour+30*time.Minute {
			t.Fatalf("AboutAWeekFromNow out of range: %v", d)
		}
	}
}

func TestSometimeTodayRange(t *testing.T) {
	fedicrawl.SetJitterRNG(rand.New(rand.NewSource(3)))
	now := time.Now()
	for i := 0; i < 1000; i++ {
		got, err := SometimeToday(now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d := got.Sub(now)
		if d < 0 || d > DailyPeriod {
			t.Fatalf("SometimeToday out of range: %v", d)
		}
	}
}

func TestInAboutSixHoursRange(t *testing.T) {
	fedicrawl.SetJitterRNG(rand.New(rand.NewSource(4)))
	now := time.Now()
	for i := 0; i < 1000; i++ {
		got, err := InAboutSixHours(now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d := got.Sub(now)
		if d < 6*time.Hour+1*time.Minute || d > 6*time.Hour+11*time.Minute {
			t.Fatalf("InAboutSixHours out of range: %v", d)
		}
	}
}
