// Package window decides whether a point in time falls inside a slot's
// textual time range. It is pure: no clocks, no I/O, no state.
package window

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is how far outside the nominal window a join still
// counts, in minutes.
const DefaultTolerance = 15

// defaultSpanMinutes is the window length assumed when a range gives only
// a start time.
const defaultSpanMinutes = 30

// ErrMalformed reports time-range text that could not be parsed. Callers
// must treat it as non-fatal: skip the slot and flag it for operator review.
var ErrMalformed = errors.New("malformed time range")

// Range is a parsed slot window in minutes from midnight. End < Start means
// the window spans midnight.
type Range struct {
	Start int
	End   int
}

// Parse parses "HH:MM–HH:MM" (en dash or hyphen) into a Range. A bare
// "HH:MM" is given a 30-minute span.
func Parse(text string) (Range, error) {
	norm := strings.TrimSpace(text)
	norm = strings.NewReplacer("–", "-", "—", "-", " to ", "-").Replace(norm)
	if norm == "" {
		return Range{}, fmt.Errorf("%w: empty", ErrMalformed)
	}

	parts := strings.SplitN(norm, "-", 2)
	start, err := ParseClock(parts[0])
	if err != nil {
		return Range{}, err
	}

	if len(parts) == 1 {
		return Range{Start: start, End: (start + defaultSpanMinutes) % minutesPerDay}, nil
	}

	end, err := ParseClock(parts[1])
	if err != nil {
		return Range{}, err
	}
	return Range{Start: start, End: end}, nil
}

const minutesPerDay = 24 * 60

// ParseClock parses a "HH:MM" wall-clock string into minutes from midnight.
func ParseClock(text string) (int, error) {
	text = strings.TrimSpace(text)
	hh, mm, ok := strings.Cut(text, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q missing separator", ErrMalformed, text)
	}
	hour, err := strconv.Atoi(strings.TrimSpace(hh))
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q bad hour", ErrMalformed, text)
	}
	minute, err := strconv.Atoi(strings.TrimSpace(mm))
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q bad minute", ErrMalformed, text)
	}
	return hour*60 + minute, nil
}

// Contains reports whether the given minute-of-day falls inside the range
// after both boundaries are pushed outward by tolerance minutes. Windows
// with End < Start are treated as spanning midnight.
func (r Range) Contains(minuteOfDay, tolerance int) bool {
	start := r.Start - tolerance
	end := r.End
	if r.End < r.Start {
		end += minutesPerDay
	}
	end += tolerance

	// The wrapped window and a negative start both shift the containment
	// test by a day, so probe the minute in adjacent days too.
	for _, m := range [3]int{minuteOfDay - minutesPerDay, minuteOfDay, minuteOfDay + minutesPerDay} {
		if m >= start && m <= end {
			return true
		}
	}
	return false
}

// Match reports whether t falls within the textual slot range expanded by
// toleranceMinutes. Malformed range text yields (false, ErrMalformed).
func Match(t time.Time, rangeText string, toleranceMinutes int) (bool, error) {
	r, err := Parse(rangeText)
	if err != nil {
		return false, err
	}
	return r.Contains(t.Hour()*60+t.Minute(), toleranceMinutes), nil
}
