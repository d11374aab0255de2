// Package interval provides pure time-window arithmetic for the scheduling
// engine. Windows are half-open [start, end); all instants are expected to be
// normalised to a single organization timezone before they reach this package.
package interval

import "time"

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds a window from two instants.
func New(start, end time.Time) Window {
	return Window{Start: start, End: end}
}

// Valid reports whether the window has positive length.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Overlaps reports whether two half-open windows intersect.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains reports whether the instant falls inside the window.
func (w Window) Contains(point time.Time) bool {
	return !point.Before(w.Start) && point.Before(w.End)
}

// Encloses reports whether other lies fully within w.
func (w Window) Encloses(other Window) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Minutes returns the window length in whole minutes.
func (w Window) Minutes() int {
	return int(w.Duration() / time.Minute)
}

// Clamp trims the window to the given bounds. The zero Window is returned
// when there is no intersection.
func (w Window) Clamp(bounds Window) Window {
	if !w.Overlaps(bounds) {
		return Window{}
	}
	out := w
	if out.Start.Before(bounds.Start) {
		out.Start = bounds.Start
	}
	if out.End.After(bounds.End) {
		out.End = bounds.End
	}
	return out
}

// Days enumerates the calendar days the window touches, in the window's
// location. A window ending exactly at midnight does not touch the next day.
func (w Window) Days() []time.Time {
	if !w.Valid() {
		return nil
	}
	var days []time.Time
	day := time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day(), 0, 0, 0, 0, w.Start.Location())
	for day.Before(w.End) {
		days = append(days, day)
		day = day.AddDate(0, 0, 1)
	}
	return days
}

// Gaps returns the free sub-windows of bounds not covered by busy. The busy
// windows must be sorted by start time; overlapping busy windows are merged
// while scanning.
func Gaps(bounds Window, busy []Window) []Window {
	if !bounds.Valid() {
		return nil
	}
	var free []Window
	cursor := bounds.Start
	for _, b := range busy {
		clamped := b.Clamp(bounds)
		if !clamped.Valid() {
			continue
		}
		if clamped.Start.After(cursor) {
			free = append(free, Window{Start: cursor, End: clamped.Start})
		}
		if clamped.End.After(cursor) {
			cursor = clamped.End
		}
	}
	if cursor.Before(bounds.End) {
		free = append(free, Window{Start: cursor, End: bounds.End})
	}
	return free
}
