package recur

import (
	"fmt"
	"strings"
	"time"
)

// Rule is a reminder recurrence rule.
type Rule string

// Supported recurrence rules.
const (
	Daily   Rule = "daily"
	Workday Rule = "workday"
	Weekly  Rule = "weekly"
	Monthly Rule = "monthly"
)

// ParseRule normalizes a user-supplied repeat expression into a Rule.
// Returns an error for anything outside the supported set; callers must
// reject the todo rather than default the rule.
func ParseRule(s string) (Rule, error) {
	switch Rule(strings.ToLower(strings.TrimSpace(s))) {
	case Daily:
		return Daily, nil
	case Workday:
		return Workday, nil
	case Weekly:
		return Weekly, nil
	case Monthly:
		return Monthly, nil
	}
	return "", fmt.Errorf("unsupported repeat rule %q", s)
}

// Next computes the occurrence that follows prev under rule. Pure and
// deterministic; time-of-day is preserved, and calendar-day addition is
// used so daylight-saving transitions keep the wall clock.
func (r Rule) Next(prev time.Time) time.Time {
	switch r {
	case Daily:
		return prev.AddDate(0, 0, 1)
	case Workday:
		switch prev.Weekday() {
		case time.Friday:
			return prev.AddDate(0, 0, 3)
		case time.Saturday:
			return prev.AddDate(0, 0, 2)
		default:
			return prev.AddDate(0, 0, 1)
		}
	case Weekly:
		return prev.AddDate(0, 0, 7)
	case Monthly:
		return nextMonth(prev)
	}
	// Unreachable for rules produced by ParseRule.
	return prev
}

// NextAfter rolls prev forward under rule until the result is strictly
// after now. Used when rearming after downtime so a repeating reminder
// does not refire once per missed occurrence.
func (r Rule) NextAfter(prev, now time.Time) time.Time {
	next := r.Next(prev)
	for !next.After(now) {
		next = r.Next(next)
	}
	return next
}

// nextMonth returns the same day-of-month in the following month,
// clamped to that month's last day (Jan 31 -> Feb 28/29).
func nextMonth(prev time.Time) time.Time {
	year, month := prev.Year(), prev.Month()
	if month == time.December {
		year++
		month = time.January
	} else {
		month++
	}

	day := prev.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}

	return time.Date(year, month, day,
		prev.Hour(), prev.Minute(), prev.Second(), prev.Nanosecond(),
		prev.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
