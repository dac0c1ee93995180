// Package clock provides an injectable notion of "now" so that cooldowns,
// escalation windows, and poll intervals are deterministic in tests.
package clock

import (
	"strconv"
	"strings"
	"time"
)

// Clock abstracts wall-clock time and timers.
type Clock interface {
	Now() time.Time
	// After returns a channel that fires once after d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real is the production Clock backed by the standard library.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// After delegates to time.After.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ParseDuration accepts exactly the grammar `\d+(s|m|h)` (a non-negative
// integer followed by a single unit letter). Any other form — empty string,
// missing unit, fractional values, negative numbers — is rejected and the
// caller should treat that as "feature disabled", per the documented
// behavior: this is not a bug, it's the contract.
func ParseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	unit := s[len(s)-1]
	var mult time.Duration
	switch unit {
	case 's':
		mult = time.Second
	case 'm':
		mult = time.Minute
	case 'h':
		mult = time.Hour
	default:
		return 0, false
	}
	digits := s[:len(s)-1]
	if digits == "" || strings.ContainsAny(digits, "+-.") {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 63)
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * mult, true
}

// ParseUnix parses a unix-seconds timestamp as stamped into session
// metadata by the classifier, reaction executor, and progress tracker. ok
// is false for an empty or malformed string.
func ParseUnix(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}

// FormatUnix renders t as the unix-seconds string metadata fields use.
func FormatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
