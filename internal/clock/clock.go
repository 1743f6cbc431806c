// Package clock provides the monotonic/wall-clock source, timezone
// resolution, and cron next-fire computation used throughout the run
// lifecycle engine.
package clock

import (
	"fmt"
	"time"
	_ "time/tzdata" // embed the IANA database so ResolveLocation works without an OS package

	"github.com/robfig/cron/v3"
)

// Clock is the time source every component depends on instead of calling
// time.Now directly, so tests can substitute Fake.
type Clock interface {
	Now() time.Time
	ResolveLocation(tz string) (*time.Location, error)
	NextFires(cronExpr string, loc *time.Location, after, until time.Time) ([]time.Time, error)
}

// Real is the production Clock backed by the system wall clock.
type Real struct{}

// New returns the production Clock.
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now().UTC() }

func (Real) ResolveLocation(tz string) (*time.Location, error) {
	return ResolveLocation(tz)
}

func (Real) NextFires(cronExpr string, loc *time.Location, after, until time.Time) ([]time.Time, error) {
	return NextFires(cronExpr, loc, after, until)
}

// ResolveLocation loads an IANA timezone, defaulting to UTC for an empty
// string.
func ResolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("clock: unknown timezone %q: %w", tz, err)
	}
	return loc, nil
}

// standardParser accepts the classic 5-field cron form (minute hour dom
// month dow) with *, */N, a-b and comma lists, matching spec §4.5.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextFires returns every fire time for cronExpr, evaluated in loc, that
// falls in the half-open interval (after, until]. robfig/cron's Schedule.Next
// walks in the time.Time's own location, so DST transitions are resolved the
// way spec §4.5/§9 requires: ambiguous local times during fall-back fire once
// (Next yields both instants; the later one, whose wall-clock time already
// occurred within the preceding two hours, is dropped, so the earlier
// instant is the one kept), and local times skipped by a spring-forward gap are never produced
// by Next because Go's time package normalizes them forward past the gap —
// NextFires treats a produced time that lands on or before the previous fire
// as a sign the walk has stalled and stops rather than looping.
func NextFires(cronExpr string, loc *time.Location, after, until time.Time) ([]time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	schedule, err := standardParser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("clock: invalid cron expression %q: %w", cronExpr, err)
	}

	var fires []time.Time
	cursor := after.In(loc)
	untilLocal := until.In(loc)
	for {
		next := schedule.Next(cursor)
		if next.IsZero() || next.After(untilLocal) {
			break
		}
		if !next.After(cursor) {
			break // defensive: a non-advancing schedule would loop forever
		}
		// A wall-clock time already seen at an earlier instant up to two
		// hours before is the second pass through a fall-back overlap.
		repeated := false
		for d := 30 * time.Minute; d <= 2*time.Hour; d += 30 * time.Minute {
			e := next.Add(-d)
			if e.YearDay() == next.YearDay() && e.Hour() == next.Hour() && e.Minute() == next.Minute() {
				repeated = true
				break
			}
		}
		if !repeated {
			fires = append(fires, next.UTC())
		}
		cursor = next
	}
	return fires, nil
}

// ValidateCronExpr reports whether cronExpr parses as a valid 5-field cron
// expression, for use at Schedule create/update time.
func ValidateCronExpr(cronExpr string) error {
	_, err := standardParser.Parse(cronExpr)
	return err
}
