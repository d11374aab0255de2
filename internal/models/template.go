package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RecurrencePattern enumerates template recurrence cadences.
type RecurrencePattern string

const (
	RecurrenceNone    RecurrencePattern = "none"
	RecurrenceDaily   RecurrencePattern = "daily"
	RecurrenceWeekly  RecurrencePattern = "weekly"
	RecurrenceMonthly RecurrencePattern = "monthly"
)

// TemplateBreak is a recurring daily break window inside templated
// appointments, HH:MM.
type TemplateBreak struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// BreakWindows is the list of template breaks persisted as JSONB.
type BreakWindows []TemplateBreak

// Value marshals the breaks to JSON.
func (b BreakWindows) Value() (driver.Value, error) {
	if b == nil {
		b = BreakWindows{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal break windows: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the breaks.
func (b *BreakWindows) Scan(value interface{}) error {
	return scanJSON(value, b, "BreakWindows")
}

// ScheduleTemplate carries reusable defaults used to pre-populate
// appointments. Templates are factories only, never schedulable themselves.
type ScheduleTemplate struct {
	ID              string            `db:"id" json:"id"`
	TenantID        string            `db:"tenant_id" json:"tenant_id"`
	Name            string            `db:"name" json:"name"`
	DefaultDuration int               `db:"default_duration" json:"default_duration"` // minutes
	Capacity        int               `db:"capacity" json:"capacity"`
	Price           float64           `db:"price" json:"price"`
	IsBillable      bool              `db:"is_billable" json:"is_billable"`
	Recurrence      RecurrencePattern `db:"recurrence" json:"recurrence"`
	Breaks          BreakWindows      `db:"breaks" json:"breaks,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}
