// Package timespec parses the --since/--until values accepted by the CLI.
package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse resolves value against now. Supported forms:
//   - Go durations, counted back from now: "90m", "2h30m"
//   - whole days, counted back from now: "3d"
//   - RFC3339 timestamps: "2024-03-01T09:00:00Z"
//   - calendar dates, local midnight: "2024-03-01"
func Parse(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, value, now.Location()); err == nil {
		return t, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			return now.AddDate(0, 0, -n), nil
		}
	}
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time value: %s (use a duration like '2h', days like '3d', a date like '2024-03-01' or RFC3339)", value)
}

// Range is a half-open interval; zero bounds are open.
type Range struct {
	Since time.Time
	Until time.Time
}

// ParseRange parses the --since and --until flags. Empty flags leave the
// bound open.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var (
		r   Range
		err error
	)
	if since != "" {
		if r.Since, err = Parse(since, now); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if r.Until, err = Parse(until, now); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}
	if !r.Since.IsZero() && !r.Until.IsZero() && !r.Since.Before(r.Until) {
		return Range{}, fmt.Errorf("--since must be before --until")
	}
	return r, nil
}
