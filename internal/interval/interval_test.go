package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mustWindow(t *testing.T, start, end string) Window {
	t.Helper()
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	return New(s, e)
}

func TestOverlapsHalfOpen(t *testing.T) {
	a := mustWindow(t, "2024-06-01T09:00:00Z", "2024-06-01T10:00:00Z")
	b := mustWindow(t, "2024-06-01T09:30:00Z", "2024-06-01T10:30:00Z")
	c := mustWindow(t, "2024-06-01T10:00:00Z", "2024-06-01T11:00:00Z")

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a), "overlap must be symmetric")
	assert.False(t, a.Overlaps(c), "adjacent windows share no instant")
	assert.False(t, c.Overlaps(a))
}

func TestContainsExcludesEnd(t *testing.T) {
	w := mustWindow(t, "2024-06-01T09:00:00Z", "2024-06-01T10:00:00Z")

	assert.True(t, w.Contains(w.Start))
	assert.False(t, w.Contains(w.End))
	assert.True(t, w.Contains(w.Start.Add(30*time.Minute)))
	assert.False(t, w.Contains(w.Start.Add(-time.Second)))
}

func TestEncloses(t *testing.T) {
	outer := mustWindow(t, "2024-06-01T09:00:00Z", "2024-06-01T17:00:00Z")
	inner := mustWindow(t, "2024-06-01T10:00:00Z", "2024-06-01T11:00:00Z")
	spill := mustWindow(t, "2024-06-01T16:00:00Z", "2024-06-01T18:00:00Z")

	assert.True(t, outer.Encloses(inner))
	assert.True(t, outer.Encloses(outer))
	assert.False(t, outer.Encloses(spill))
}

func TestDurationMinutes(t *testing.T) {
	w := mustWindow(t, "2024-06-01T09:00:00Z", "2024-06-01T10:30:00Z")
	assert.Equal(t, 90, w.Minutes())
	assert.Equal(t, 90*time.Minute, w.Duration())
}

func TestClamp(t *testing.T) {
	bounds := mustWindow(t, "2024-06-01T09:00:00Z", "2024-06-01T17:00:00Z")
	w := mustWindow(t, "2024-06-01T08:00:00Z", "2024-06-01T10:00:00Z")

	clamped := w.Clamp(bounds)
	assert.Equal(t, bounds.Start, clamped.Start)
	assert.Equal(t, w.End, clamped.End)

	outside := mustWindow(t, "2024-06-01T18:00:00Z", "2024-06-01T19:00:00Z")
	assert.False(t, outside.Clamp(bounds).Valid())
}

func TestDaysSpanned(t *testing.T) {
	single := mustWindow(t, "2024-06-01T09:00:00Z", "2024-06-01T10:00:00Z")
	assert.Len(t, single.Days(), 1)

	overnight := mustWindow(t, "2024-06-01T22:00:00Z", "2024-06-02T02:00:00Z")
	assert.Len(t, overnight.Days(), 2)

	toMidnight := mustWindow(t, "2024-06-01T22:00:00Z", "2024-06-02T00:00:00Z")
	assert.Len(t, toMidnight.Days(), 1, "window ending at midnight does not touch the next day")
}

func TestGaps(t *testing.T) {
	bounds := mustWindow(t, "2024-06-01T09:00:00Z", "2024-06-01T17:00:00Z")
	busy := []Window{
		mustWindow(t, "2024-06-01T10:00:00Z", "2024-06-01T11:00:00Z"),
		mustWindow(t, "2024-06-01T10:30:00Z", "2024-06-01T12:00:00Z"),
		mustWindow(t, "2024-06-01T15:00:00Z", "2024-06-01T16:00:00Z"),
	}

	free := Gaps(bounds, busy)
	assert.Equal(t, []Window{
		mustWindow(t, "2024-06-01T09:00:00Z", "2024-06-01T10:00:00Z"),
		mustWindow(t, "2024-06-01T12:00:00Z", "2024-06-01T15:00:00Z"),
		mustWindow(t, "2024-06-01T16:00:00Z", "2024-06-01T17:00:00Z"),
	}, free)
}

func TestGapsFullyBooked(t *testing.T) {
	bounds := mustWindow(t, "2024-06-01T09:00:00Z", "2024-06-01T12:00:00Z")
	busy := []Window{mustWindow(t, "2024-06-01T08:00:00Z", "2024-06-01T13:00:00Z")}
	assert.Empty(t, Gaps(bounds, busy))
}
