package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextFiresEveryMinute(t *testing.T) {
	loc := time.UTC
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, loc)
	until := time.Date(2026, 1, 1, 0, 5, 0, 0, loc)

	fires, err := NextFires("* * * * *", loc, after, until)
	require.NoError(t, err)
	require.Len(t, fires, 5)
	require.Equal(t, time.Date(2026, 1, 1, 0, 1, 0, 0, loc), fires[0])
	require.Equal(t, time.Date(2026, 1, 1, 0, 5, 0, 0, loc), fires[4])
}

func TestNextFiresRespectsWindow(t *testing.T) {
	loc := time.UTC
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, loc)
	until := time.Date(2026, 1, 1, 0, 0, 0, 0, loc)

	fires, err := NextFires("* * * * *", loc, after, until)
	require.NoError(t, err)
	require.Empty(t, fires)
}

func TestNextFiresDSTSpringForward(t *testing.T) {
	// America/New_York spring-forward in 2026 is 2026-03-08 02:00 -> 03:00.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	after := time.Date(2026, 3, 8, 1, 0, 0, 0, loc)
	until := time.Date(2026, 3, 8, 4, 0, 0, 0, loc)

	// 02:30 local does not exist on this date; it must not be fired.
	fires, err := NextFires("30 2 * * *", loc, after, until)
	require.NoError(t, err)
	require.Empty(t, fires)
}

func TestNextFiresDSTFallBackFiresOnce(t *testing.T) {
	// America/New_York fall-back in 2026 is 2026-11-01 02:00 -> 01:00,
	// so local 01:30 occurs twice; the schedule must still fire exactly once.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	after := time.Date(2026, 11, 1, 0, 0, 0, 0, loc)
	until := time.Date(2026, 11, 1, 4, 0, 0, 0, loc)

	fires, err := NextFires("30 1 * * *", loc, after, until)
	require.NoError(t, err)
	require.Len(t, fires, 1)
}

func TestValidateCronExpr(t *testing.T) {
	require.NoError(t, ValidateCronExpr("*/5 9-17 * * 1-5"))
	require.Error(t, ValidateCronExpr("not a cron expr"))
}

func TestResolveLocationEmptyDefaultsUTC(t *testing.T) {
	loc, err := ResolveLocation("")
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)
}

func TestResolveLocationUnknown(t *testing.T) {
	_, err := ResolveLocation("Not/AZone")
	require.Error(t, err)
}
