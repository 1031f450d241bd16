package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseError reports a time expression that matched no supported
// pattern. Callers must not create a todo when they receive one.
type ParseError struct {
	Expr string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot resolve time expression %q", e.Expr)
}

var (
	absoluteRe = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})(?:[ t](\d{1,2}):(\d{2}))?$`)
	inRe       = regexp.MustCompile(`^in (\d+) (minutes?|mins?|hours?|hrs?|days?|weeks?)$`)
	clockRe    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	meridiemRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(am|pm)$`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Day-period defaults, in minutes from midnight.
var periods = map[string]int{
	"morning":   9 * 60,
	"noon":      12 * 60,
	"midday":    12 * 60,
	"afternoon": 15 * 60,
	"evening":   19 * 60,
	"night":     19 * 60,
}

// Resolve parses a free-text time expression against a reference time
// and returns the absolute timestamp it denotes, in ref's location.
//
// Supported forms: absolute dates ("2025-01-20 09:00"), relative counts
// ("in 3 days"), day words ("today", "tomorrow", "day after tomorrow"),
// weekday names ("friday", "next friday"), day periods ("afternoon"),
// and bare clock times ("09:00", "3pm"), freely combined.
//
// A bare clock time that has already passed resolves to the same time
// on the next day; a bare weekday never resolves to the past. Resolve
// is pure: the same expression and reference always yield the same
// result.
func Resolve(expr string, ref time.Time) (time.Time, error) {
	norm := strings.ToLower(strings.TrimSpace(expr))
	norm = strings.Join(strings.Fields(norm), " ")
	if norm == "" {
		return time.Time{}, &ParseError{Expr: expr}
	}

	if m := absoluteRe.FindStringSubmatch(norm); m != nil {
		return resolveAbsolute(expr, m, ref.Location())
	}
	if m := inRe.FindStringSubmatch(norm); m != nil {
		return resolveRelative(m, ref), nil
	}
	return resolveWords(expr, norm, ref)
}

func resolveAbsolute(expr string, m []string, loc *time.Location) (time.Time, error) {
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, minute := 9, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, &ParseError{Expr: expr}
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	// Reject impossible dates that Date silently normalized (e.g. Feb 30).
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, &ParseError{Expr: expr}
	}
	return t, nil
}

func resolveRelative(m []string, ref time.Time) time.Time {
	n, _ := strconv.Atoi(m[1])
	switch m[2][0] {
	case 'm':
		return ref.Add(time.Duration(n) * time.Minute)
	case 'h':
		return ref.Add(time.Duration(n) * time.Hour)
	case 'd':
		return ref.AddDate(0, 0, n)
	default:
		return ref.AddDate(0, 0, 7*n)
	}
}

// resolveWords handles combinations of day words, weekday names, day
// periods, and clock times.
func resolveWords(expr, norm string, ref time.Time) (time.Time, error) {
	// Phrase rewrites before tokenizing.
	norm = strings.ReplaceAll(norm, "day after tomorrow", "overmorrow")
	norm = strings.ReplaceAll(norm, "tonight", "today night")

	var (
		dayOffset     = -1
		weekday       time.Weekday
		hasWeekday    bool
		forceNextWeek bool
		clockMin      = -1
		periodMin     = -1
	)

	tokens := strings.Fields(norm)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok == "at" || tok == "on" || tok == "this":
			// Filler.
		case tok == "next":
			forceNextWeek = true
		case tok == "today":
			dayOffset = 0
		case tok == "tomorrow":
			dayOffset = 1
		case tok == "overmorrow":
			dayOffset = 2
		default:
			if wd, ok := weekdays[tok]; ok {
				weekday, hasWeekday = wd, true
				continue
			}
			if minutes, ok := periods[tok]; ok {
				periodMin = minutes
				continue
			}
			// A bare number followed by its meridiem ("3 pm").
			if i+1 < len(tokens) && (tokens[i+1] == "am" || tokens[i+1] == "pm") {
				if minutes, ok := parseClock(tok + tokens[i+1]); ok {
					clockMin = minutes
					i++
					continue
				}
			}
			if minutes, ok := parseClock(tok); ok {
				clockMin = minutes
				continue
			}
			return time.Time{}, &ParseError{Expr: expr}
		}
	}

	if dayOffset < 0 && !hasWeekday && clockMin < 0 && periodMin < 0 {
		return time.Time{}, &ParseError{Expr: expr}
	}

	minutes := clockMin
	if minutes < 0 {
		minutes = periodMin
	}
	if minutes < 0 {
		minutes = 9 * 60 // day given without a time: default to morning
	}

	year, month, day := ref.Date()
	base := time.Date(year, month, day, minutes/60, minutes%60, 0, 0, ref.Location())

	if hasWeekday {
		ahead := (int(weekday) - int(ref.Weekday()) + 7) % 7
		if ahead == 0 && forceNextWeek {
			ahead = 7
		}
		t := base.AddDate(0, 0, ahead)
		// Never today if already past, never in the past.
		if !t.After(ref) {
			t = t.AddDate(0, 0, 7)
		}
		return t, nil
	}

	if dayOffset > 0 {
		return base.AddDate(0, 0, dayOffset), nil
	}

	// Bare time of day, or an explicit "today", that has already passed
	// rolls to the same time tomorrow.
	if !base.After(ref) {
		base = base.AddDate(0, 0, 1)
	}
	return base, nil
}

// parseClock parses "HH:MM", "3pm", "9:30am" into minutes from
// midnight.
func parseClock(tok string) (int, bool) {
	if m := clockRe.FindStringSubmatch(tok); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return 0, false
		}
		return hour*60 + minute, true
	}
	if m := meridiemRe.FindStringSubmatch(tok); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return 0, false
		}
		hour %= 12
		if m[3] == "pm" {
			hour += 12
		}
		return hour*60 + minute, true
	}
	return 0, false
}
