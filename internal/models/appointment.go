package models

import (
	"time"

	"github.com/agendaworks/scheduling-engine/internal/interval"
)

// AppointmentStatus enumerates the appointment lifecycle states.
type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusInProgress  AppointmentStatus = "in_progress"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusNoShow      AppointmentStatus = "no_show"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

// AppointmentPriority orders appointments for impact scoring.
type AppointmentPriority string

const (
	PriorityLow    AppointmentPriority = "low"
	PriorityNormal AppointmentPriority = "normal"
	PriorityHigh   AppointmentPriority = "high"
	PriorityUrgent AppointmentPriority = "urgent"
)

// appointmentTransitions is the authoritative status transition table. Any
// transition not listed here must never be persisted.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusRescheduled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusRescheduled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusNoShow},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Committed reports whether the status holds resources and team time, i.e.
// participates in overlap and capacity checks.
func (s AppointmentStatus) Committed() bool {
	return s == StatusScheduled || s == StatusConfirmed || s == StatusInProgress
}

// Terminal reports whether no further transitions are possible.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// ValidStatus reports whether the value is a known appointment status.
func ValidStatus(s AppointmentStatus) bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted,
		StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

// ValidPriority reports whether the value is a known priority.
func ValidPriority(p AppointmentPriority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Appointment is a reservation of a time window against resources and a team.
// StartTime/EndTime are stored UTC; Timezone names the organization zone used
// for rule evaluation.
type Appointment struct {
	ID          string              `db:"id" json:"id"`
	TenantID    string              `db:"tenant_id" json:"tenant_id"`
	Title       string              `db:"title" json:"title"`
	Description *string             `db:"description" json:"description,omitempty"`
	StartTime   time.Time           `db:"start_time" json:"start_time"`
	EndTime     time.Time           `db:"end_time" json:"end_time"`
	Timezone    string              `db:"timezone" json:"timezone"`
	Status      AppointmentStatus   `db:"status" json:"status"`
	Priority    AppointmentPriority `db:"priority" json:"priority"`
	TeamID      *string             `db:"team_id" json:"team_id,omitempty"`
	ParentID    *string             `db:"parent_id" json:"parent_id,omitempty"`
	TemplateID  *string             `db:"template_id" json:"template_id,omitempty"`
	Cost        float64             `db:"cost" json:"cost"`
	IsBillable  bool                `db:"is_billable" json:"is_billable"`
	CreatedBy   string              `db:"created_by" json:"created_by"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time           `db:"updated_at" json:"updated_at"`

	// Loaded from join tables, not columns of the appointments row.
	ResourceIDs []string `db:"-" json:"resource_ids"`
	UserIDs     []string `db:"-" json:"user_ids"`
}

// Window returns the appointment's half-open time window.
func (a *Appointment) Window() interval.Window {
	return interval.New(a.StartTime, a.EndTime)
}

// AppointmentFilter describes query params for listing appointments.
type AppointmentFilter struct {
	TenantID   string
	ResourceID string
	TeamID     string
	UserID     string
	Status     AppointmentStatus
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
