// Package timeutil provides game-calendar helpers: a swappable clock and
// day arithmetic in the game's time zone (Europe/Moscow by default).
package timeutil

import (
	"sync"
	"time"
)

// MoscowTZ is the default game time zone (UTC+3, no DST).
var MoscowTZ = time.FixedZone("Europe/Moscow", 3*60*60)

// LoadLocation resolves a zone name, falling back to MoscowTZ.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return MoscowTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return MoscowTZ
	}
	return loc
}

// Clock abstracts the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a settable clock for tests and dry runs.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock returns a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now returns the frozen time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// IsSameDay reports whether a and b fall on the same calendar day in loc.
func IsSameDay(a, b time.Time, loc *time.Location) bool {
	return StartOfDay(a, loc).Equal(StartOfDay(b, loc))
}

// IsToday reports whether t is on the same day as now in loc.
func IsToday(t, now time.Time, loc *time.Location) bool {
	return IsSameDay(t, now, loc)
}

// IsYesterday reports whether t is on the calendar day before now in loc.
func IsYesterday(t, now time.Time, loc *time.Location) bool {
	yesterday := StartOfDay(now, loc).AddDate(0, 0, -1)
	return StartOfDay(t, loc).Equal(yesterday)
}

// StreakAlive reports whether a daily streak whose last activity was at last
// still counts at now: the activity must be today or yesterday.
func StreakAlive(last, now time.Time, loc *time.Location) bool {
	if last.IsZero() {
		return false
	}
	return IsToday(last, now, loc) || IsYesterday(last, now, loc)
}
