package timeparse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/timeparse"
)

// Reference time for most tests: Friday 2025-01-10 10:00.
var ref = time.Date(2025, 1, 10, 10, 0, 0, 0, time.Local)

func resolve(t *testing.T, expr string) time.Time {
	t.Helper()
	got, err := timeparse.Resolve(expr, ref)
	require.NoError(t, err, expr)
	return got
}

func TestResolveAbsolute(t *testing.T) {
	t.Parallel()

	got := resolve(t, "2025-01-20 09:00")
	assert.Equal(t, time.Date(2025, 1, 20, 9, 0, 0, 0, time.Local), got)

	// Slash-separated dates are accepted too.
	got = resolve(t, "2025/01/20 18:30")
	assert.Equal(t, time.Date(2025, 1, 20, 18, 30, 0, 0, time.Local), got)

	// Date without a time defaults to morning.
	got = resolve(t, "2025-03-01")
	assert.Equal(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local), got)

	// Absolute timestamps are taken literally, even in the past.
	got = resolve(t, "2024-12-31 23:59")
	assert.True(t, got.Before(ref))
}

func TestResolveAbsoluteInvalid(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"2025-02-30 09:00", "2025-13-01 09:00", "2025-01-10 25:00"} {
		_, err := timeparse.Resolve(expr, ref)
		var perr *timeparse.ParseError
		assert.ErrorAs(t, err, &perr, expr)
	}
}

func TestResolveBareTime(t *testing.T) {
	t.Parallel()

	// Still ahead today.
	got := resolve(t, "15:00")
	assert.Equal(t, ref.Add(5*time.Hour), got)

	// Already passed: same time tomorrow.
	got = resolve(t, "09:00")
	assert.Equal(t, time.Date(2025, 1, 11, 9, 0, 0, 0, time.Local), got)

	// Meridiem forms.
	got = resolve(t, "3pm")
	assert.Equal(t, time.Date(2025, 1, 10, 15, 0, 0, 0, time.Local), got)
	got = resolve(t, "9:30am")
	assert.Equal(t, time.Date(2025, 1, 11, 9, 30, 0, 0, time.Local), got)
	got = resolve(t, "3 pm")
	assert.Equal(t, time.Date(2025, 1, 10, 15, 0, 0, 0, time.Local), got)
}

func TestResolveDayWords(t *testing.T) {
	t.Parallel()

	got := resolve(t, "tomorrow 15:00")
	assert.Equal(t, time.Date(2025, 1, 11, 15, 0, 0, 0, time.Local), got)

	got = resolve(t, "tomorrow afternoon 3pm")
	assert.Equal(t, time.Date(2025, 1, 11, 15, 0, 0, 0, time.Local), got)

	// Day word alone defaults to morning.
	got = resolve(t, "tomorrow")
	assert.Equal(t, time.Date(2025, 1, 11, 9, 0, 0, 0, time.Local), got)

	got = resolve(t, "day after tomorrow noon")
	assert.Equal(t, time.Date(2025, 1, 12, 12, 0, 0, 0, time.Local), got)

	// "today" at a time that already passed rolls forward a day.
	got = resolve(t, "today 8am")
	assert.Equal(t, time.Date(2025, 1, 11, 8, 0, 0, 0, time.Local), got)

	got = resolve(t, "tonight")
	assert.Equal(t, time.Date(2025, 1, 10, 19, 0, 0, 0, time.Local), got)

	got = resolve(t, "tonight 8pm")
	assert.Equal(t, time.Date(2025, 1, 10, 20, 0, 0, 0, time.Local), got)
}

func TestResolveWeekdays(t *testing.T) {
	t.Parallel()

	// Ref is a Friday. A bare weekday is the next future occurrence.
	got := resolve(t, "monday")
	assert.Equal(t, time.Date(2025, 1, 13, 9, 0, 0, 0, time.Local), got)

	got = resolve(t, "next friday")
	assert.Equal(t, time.Date(2025, 1, 17, 9, 0, 0, 0, time.Local), got)

	// Same weekday as today with a time already past: never today.
	got = resolve(t, "friday 9am")
	assert.Equal(t, time.Date(2025, 1, 17, 9, 0, 0, 0, time.Local), got)

	// Same weekday as today with a time still ahead stays today.
	got = resolve(t, "friday 15:00")
	assert.Equal(t, time.Date(2025, 1, 10, 15, 0, 0, 0, time.Local), got)

	got = resolve(t, "wed evening")
	assert.Equal(t, time.Date(2025, 1, 15, 19, 0, 0, 0, time.Local), got)
}

func TestResolveRelativeCounts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ref.Add(30*time.Minute), resolve(t, "in 30 minutes"))
	assert.Equal(t, ref.Add(2*time.Hour), resolve(t, "in 2 hours"))
	assert.Equal(t, ref.AddDate(0, 0, 3), resolve(t, "in 3 days"))
	assert.Equal(t, ref.AddDate(0, 0, 14), resolve(t, "in 2 weeks"))
}

func TestResolveUnparseable(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "whenever", "soonish", "25:61", "next blursday"} {
		_, err := timeparse.Resolve(expr, ref)
		var perr *timeparse.ParseError
		require.ErrorAs(t, err, &perr, expr)
	}
}

func TestResolveDeterministic(t *testing.T) {
	t.Parallel()

	a := resolve(t, "tomorrow 15:00")
	b := resolve(t, "tomorrow 15:00")
	assert.Equal(t, a, b)
}
