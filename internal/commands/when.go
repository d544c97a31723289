package commands

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidWhen is returned when the time argument matches no accepted format.
var ErrInvalidWhen = errors.New("invalid date format")

// maxAhead caps relative offsets so that large counts cannot overflow.
const maxAhead = 100 * 365 * 24 * time.Hour

var (
	absoluteRe = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})-(\d{1,2})-(\d{1,2})$`)
	relativeRe = regexp.MustCompile(`^(\d+)([mhdwy])$`)
)

var relativeUnits = map[string]time.Duration{
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
	"y": 365 * 24 * time.Hour,
}

// ParseWhen resolves the time argument of /remindme into an absolute instant.
//
// Accepted forms:
//
//	2026-05-01-09-30   wall clock in loc
//	45m 3h 2d 1w 1y    offset from now
//	1h30m              Go duration, offset from now
//
// The result is not checked against now; the reminder service rejects past
// instants.
func ParseWhen(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Time{}, ErrInvalidWhen
	}
	if loc == nil {
		loc = time.UTC
	}

	if m := absoluteRe.FindStringSubmatch(s); m != nil {
		var p [5]int
		for i := range p {
			p[i], _ = strconv.Atoi(m[i+1])
		}
		t := time.Date(p[0], time.Month(p[1]), p[2], p[3], p[4], 0, 0, loc)
		// time.Date normalizes overflow (Feb 30 -> Mar 2); reject instead.
		if t.Year() != p[0] || int(t.Month()) != p[1] || t.Day() != p[2] || t.Hour() != p[3] || t.Minute() != p[4] {
			return time.Time{}, fmt.Errorf("%w: no such time %q", ErrInvalidWhen, s)
		}
		return t, nil
	}

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		unit := relativeUnits[m[2]]
		if err != nil || n <= 0 || n > int64(maxAhead/unit) {
			return time.Time{}, fmt.Errorf("%w: %q is out of range", ErrInvalidWhen, s)
		}
		return now.Add(time.Duration(n) * unit), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 || d > maxAhead {
		return time.Time{}, ErrInvalidWhen
	}
	return now.Add(d), nil
}
