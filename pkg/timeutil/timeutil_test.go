package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStreakAlive(t *testing.T) {
	now := time.Date(2024, 3, 10, 1, 30, 0, 0, MoscowTZ)

	assert.True(t, StreakAlive(now.Add(-time.Hour), now, MoscowTZ), "earlier today")
	assert.True(t, StreakAlive(time.Date(2024, 3, 9, 0, 5, 0, 0, MoscowTZ), now, MoscowTZ), "yesterday")
	assert.False(t, StreakAlive(time.Date(2024, 3, 8, 23, 59, 0, 0, MoscowTZ), now, MoscowTZ), "two days ago")
	assert.False(t, StreakAlive(time.Time{}, now, MoscowTZ), "never")
}

func TestIsYesterday_UsesGameZone(t *testing.T) {
	// 22:30 UTC on the 9th is already the 10th in Moscow.
	now := time.Date(2024, 3, 9, 22, 30, 0, 0, time.UTC)
	last := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	assert.True(t, IsYesterday(last, now, MoscowTZ))
	assert.True(t, IsToday(last, now, time.UTC))
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFixedClock(start)

	c.Advance(90 * time.Minute)

	assert.Equal(t, start.Add(90*time.Minute), c.Now())
}

func TestLoadLocation_Fallback(t *testing.T) {
	assert.Equal(t, MoscowTZ, LoadLocation(""))
	assert.Equal(t, MoscowTZ, LoadLocation("Mars/Olympus"))
}
