package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agendaworks/scheduling-engine/internal/interval"
)

func weekdaySchedule() WeeklyAvailability {
	return WeeklyAvailability{
		{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
		{Weekday: time.Tuesday, StartMinute: 9 * 60, EndMinute: 17 * 60},
	}
}

func utcWindow(day, hour, endHour int) interval.Window {
	return interval.New(
		time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC),
		time.Date(2026, 3, day, endHour, 0, 0, 0, time.UTC),
	)
}

func TestCoversSingleDay(t *testing.T) {
	w := weekdaySchedule()

	// 2026-03-02 is a Monday.
	assert.True(t, w.Covers(utcWindow(2, 10, 11)))
	assert.True(t, w.Covers(utcWindow(2, 9, 17)), "slot edges are inclusive")
	assert.False(t, w.Covers(utcWindow(2, 8, 10)), "starts before the slot opens")
	assert.False(t, w.Covers(utcWindow(2, 16, 18)), "runs past the slot close")
	assert.False(t, w.Covers(utcWindow(4, 10, 11)), "Wednesday has no slot")
}

func TestCoversMultiDayNeedsEveryDay(t *testing.T) {
	allDay := WeeklyAvailability{
		{Weekday: time.Monday, StartMinute: 0, EndMinute: 24 * 60},
		{Weekday: time.Tuesday, StartMinute: 0, EndMinute: 24 * 60},
	}
	overnight := interval.New(
		time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC),
	)
	assert.True(t, allDay.Covers(overnight))

	mondayOnly := WeeklyAvailability{
		{Weekday: time.Monday, StartMinute: 0, EndMinute: 24 * 60},
	}
	assert.False(t, mondayOnly.Covers(overnight), "the Tuesday tail is uncovered")
}

func TestCoversMidnightBoundary(t *testing.T) {
	w := WeeklyAvailability{
		{Weekday: time.Monday, StartMinute: 20 * 60, EndMinute: 24 * 60},
	}
	toMidnight := interval.New(
		time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	)
	assert.True(t, w.Covers(toMidnight), "a window ending at midnight stays on one day")
}

func TestCoversInvalidWindow(t *testing.T) {
	w := weekdaySchedule()
	inverted := interval.New(
		time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	)
	assert.False(t, w.Covers(inverted))
}

func TestWeeklyAvailabilityValidate(t *testing.T) {
	assert.NoError(t, weekdaySchedule().Validate())

	bad := WeeklyAvailability{{Weekday: time.Monday, StartMinute: 600, EndMinute: 540}}
	assert.Error(t, bad.Validate())

	overflow := WeeklyAvailability{{Weekday: time.Monday, StartMinute: 0, EndMinute: 25 * 60}}
	assert.Error(t, overflow.Validate())
}
