// Package clock is the daemon's time source: current local time in the
// configured fixed-offset zone, one-shot alarms at absolute times, and the
// daily schedule (morning wake, evening cutoff) computed from cron
// expressions.
//
// All scheduling happens in a fixed, configured offset; no daylight-saving
// recalculation is performed mid-cycle. The RTC is assumed to keep time
// through sleep but not through full power loss, so Check reports an
// obviously unsynchronized wall clock as ErrClockUnavailable and callers
// defer scheduling decisions until it resolves.
package clock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrClockUnavailable means the time source is not yet synchronized.
var ErrClockUnavailable = errors.New("clock: time source not synchronized")

// A wall clock before this is a cold RTC that lost power; real time cannot
// be earlier than the build era.
var minValidTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// EventKind tags the single pending schedule event.
type EventKind int

const (
	MorningWake EventKind = iota
	EveningFinalize
	ConfirmationDeadlineCheck
)

func (k EventKind) String() string {
	switch k {
	case MorningWake:
		return "morning_wake"
	case EveningFinalize:
		return "evening_finalize"
	case ConfirmationDeadlineCheck:
		return "confirmation_deadline_check"
	default:
		return "unknown"
	}
}

// Event is a pending schedule event and the local wall-clock time it fires
// at. Exactly one is pending at any time.
type Event struct {
	Kind EventKind
	At   time.Time
}

// SystemClock is the real time source.
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock builds a clock for a fixed offset like "+09:00" or
// "-05:30". Empty means UTC.
func NewSystemClock(offset string) (*SystemClock, error) {
	loc, err := ParseOffset(offset)
	if err != nil {
		return nil, err
	}
	return &SystemClock{loc: loc}, nil
}

// Location returns the configured fixed-offset zone.
func (c *SystemClock) Location() *time.Location {
	return c.loc
}

// Now returns the current time in the configured zone.
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Check reports whether the wall clock looks synchronized.
func (c *SystemClock) Check() error {
	if c.Now().Before(minValidTime) {
		return ErrClockUnavailable
	}
	return nil
}

// WaitUntil blocks until the absolute local time t or ctx cancellation.
// A time already in the past returns immediately.
func (c *SystemClock) WaitUntil(ctx context.Context, t time.Time) error {
	d := t.Sub(c.Now())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParseOffset turns "+09:00" / "-05:30" / "" into a fixed time.Location.
func ParseOffset(offset string) (*time.Location, error) {
	s := strings.TrimSpace(offset)
	if s == "" || s == "+00:00" || strings.EqualFold(s, "UTC") {
		return time.UTC, nil
	}
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return nil, fmt.Errorf("clock: invalid offset %q, want +hh:mm", offset)
	}
	hh, err := strconv.Atoi(s[1:3])
	if err != nil {
		return nil, fmt.Errorf("clock: invalid offset %q: %v", offset, err)
	}
	mm, err := strconv.Atoi(s[4:6])
	if err != nil {
		return nil, fmt.Errorf("clock: invalid offset %q: %v", offset, err)
	}
	if hh > 14 || mm > 59 {
		return nil, fmt.Errorf("clock: invalid offset %q", offset)
	}
	sec := hh*3600 + mm*60
	if s[0] == '-' {
		sec = -sec
	}
	return time.FixedZone("UTC"+s, sec), nil
}

// Schedule computes the daily wake and cutoff times from cron expressions.
type Schedule struct {
	wake   cron.Schedule
	cutoff cron.Schedule
	loc    *time.Location
}

// NewSchedule builds the daily schedule for fixed local hours, e.g. wake 7
// and cutoff 23.
func NewSchedule(wakeHour, cutoffHour int, loc *time.Location) (*Schedule, error) {
	wake, err := cron.ParseStandard(fmt.Sprintf("0 %d * * *", wakeHour))
	if err != nil {
		return nil, fmt.Errorf("clock: wake schedule: %w", err)
	}
	cutoff, err := cron.ParseStandard(fmt.Sprintf("0 %d * * *", cutoffHour))
	if err != nil {
		return nil, fmt.Errorf("clock: cutoff schedule: %w", err)
	}
	return &Schedule{wake: wake, cutoff: cutoff, loc: loc}, nil
}

// NextWake returns the first morning wake strictly after t.
func (s *Schedule) NextWake(t time.Time) time.Time {
	return s.wake.Next(t.In(s.loc))
}

// CutoffFor returns the evening cutoff of t's calendar day.
func (s *Schedule) CutoffFor(t time.Time) time.Time {
	t = t.In(s.loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
	return s.cutoff.Next(midnight)
}
