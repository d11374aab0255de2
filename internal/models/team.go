package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agendaworks/scheduling-engine/internal/interval"
)

// Team is a group of people assignable to appointments.
type Team struct {
	ID         string    `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	Name       string    `db:"name" json:"name"`
	LeadUserID *string   `db:"lead_user_id" json:"lead_user_id,omitempty"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	Members []TeamMember `db:"-" json:"members,omitempty"`
}

// TeamMember links a user to a team with a role and a weekly availability
// schedule.
type TeamMember struct {
	ID           string             `db:"id" json:"id"`
	TeamID       string             `db:"team_id" json:"team_id"`
	UserID       string             `db:"user_id" json:"user_id"`
	Role         string             `db:"role" json:"role"`
	IsActive     bool               `db:"is_active" json:"is_active"`
	Availability WeeklyAvailability `db:"availability" json:"availability"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
}

// AvailabilitySlot is a recurring weekly availability block, minutes from
// midnight in the organization timezone.
type AvailabilitySlot struct {
	Weekday     time.Weekday `json:"weekday"`
	StartMinute int          `json:"start_minute"`
	EndMinute   int          `json:"end_minute"`
}

// WeeklyAvailability is a member's recurring schedule, persisted as JSONB.
type WeeklyAvailability []AvailabilitySlot

// Validate checks slot bounds and ordering.
func (w WeeklyAvailability) Validate() error {
	for _, slot := range w {
		if slot.Weekday < time.Sunday || slot.Weekday > time.Saturday {
			return fmt.Errorf("invalid weekday %d", slot.Weekday)
		}
		if slot.StartMinute < 0 || slot.EndMinute > 24*60 || slot.StartMinute >= slot.EndMinute {
			return fmt.Errorf("invalid availability slot %d-%d", slot.StartMinute, slot.EndMinute)
		}
	}
	return nil
}

// Covers reports whether the weekly schedule covers the whole window. Windows
// spanning multiple days are checked day by day.
func (w WeeklyAvailability) Covers(window interval.Window) bool {
	if !window.Valid() {
		return false
	}
	for _, day := range window.Days() {
		dayEnd := day.AddDate(0, 0, 1)
		part := window.Clamp(interval.New(day, dayEnd))
		if !part.Valid() {
			continue
		}
		if !w.coversDaily(day.Weekday(), minuteOfDay(part.Start), endMinuteOfDay(part.End, dayEnd)) {
			return false
		}
	}
	return true
}

func (w WeeklyAvailability) coversDaily(day time.Weekday, startMin, endMin int) bool {
	for _, slot := range w {
		if slot.Weekday != day {
			continue
		}
		if slot.StartMinute <= startMin && slot.EndMinute >= endMin {
			return true
		}
	}
	return false
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func endMinuteOfDay(t, dayEnd time.Time) int {
	if t.Equal(dayEnd) {
		return 24 * 60
	}
	return minuteOfDay(t)
}

// Value marshals the schedule to JSON for persistence.
func (w WeeklyAvailability) Value() (driver.Value, error) {
	if w == nil {
		w = WeeklyAvailability{}
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal weekly availability: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the schedule.
func (w *WeeklyAvailability) Scan(value interface{}) error {
	if value == nil {
		*w = WeeklyAvailability{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for WeeklyAvailability", value)
	}
	if len(data) == 0 {
		*w = WeeklyAvailability{}
		return nil
	}
	if err := json.Unmarshal(data, w); err != nil {
		return fmt.Errorf("unmarshal weekly availability: %w", err)
	}
	return nil
}

// TeamFilter describes query params for listing teams.
type TeamFilter struct {
	TenantID string
	Active   *bool
	Search   string
	Page     int
	PageSize int
}
