package models

import (
	"fmt"
	"time"
)

// ConflictType classifies a detected conflict. Classification precedence is
// double_booking > resource_conflict > team_conflict > time_conflict >
// capacity_exceeded; first match wins.
type ConflictType string

const (
	ConflictDoubleBooking    ConflictType = "double_booking"
	ConflictResource         ConflictType = "resource_conflict"
	ConflictTeam             ConflictType = "team_conflict"
	ConflictTime             ConflictType = "time_conflict"
	ConflictCapacityExceeded ConflictType = "capacity_exceeded"
)

// ConflictImpact grades how disruptive a conflict is.
type ConflictImpact string

const (
	ImpactLow      ConflictImpact = "low"
	ImpactMedium   ConflictImpact = "medium"
	ImpactHigh     ConflictImpact = "high"
	ImpactCritical ConflictImpact = "critical"
)

// Escalate returns the next impact level up.
func (i ConflictImpact) Escalate() ConflictImpact {
	switch i {
	case ImpactLow:
		return ImpactMedium
	case ImpactMedium:
		return ImpactHigh
	default:
		return ImpactCritical
	}
}

// ConflictStatus tracks the resolution lifecycle.
type ConflictStatus string

const (
	ConflictPending   ConflictStatus = "pending"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictIgnored   ConflictStatus = "ignored"
	ConflictEscalated ConflictStatus = "escalated"
)

// ResolutionAction is the caller-supplied verb for a resolution request.
type ResolutionAction string

const (
	ActionResolve  ResolutionAction = "resolve"
	ActionIgnore   ResolutionAction = "ignore"
	ActionEscalate ResolutionAction = "escalate"
)

// TargetStatus maps a resolution action onto the resulting conflict status.
func (a ResolutionAction) TargetStatus() (ConflictStatus, error) {
	switch a {
	case ActionResolve:
		return ConflictResolved, nil
	case ActionIgnore:
		return ConflictIgnored, nil
	case ActionEscalate:
		return ConflictEscalated, nil
	}
	return "", fmt.Errorf("unknown resolution action %q", a)
}

// ScheduleConflict links two appointments (or an appointment and a capacity
// rule) that compete for the same resource, team member or window.
// ResolvedAt is set exactly once, on the transition out of pending; escalation
// is not resolution and leaves it null.
type ScheduleConflict struct {
	ID                     string         `db:"id" json:"id"`
	TenantID               string         `db:"tenant_id" json:"tenant_id"`
	PrimaryAppointmentID   string         `db:"primary_appointment_id" json:"primary_appointment_id"`
	SecondaryAppointmentID *string        `db:"secondary_appointment_id" json:"secondary_appointment_id,omitempty"`
	RuleID                 *string        `db:"rule_id" json:"rule_id,omitempty"`
	ResourceID             *string        `db:"resource_id" json:"resource_id,omitempty"`
	TeamID                 *string        `db:"team_id" json:"team_id,omitempty"`
	Type                   ConflictType   `db:"type" json:"type"`
	Impact                 ConflictImpact `db:"impact" json:"impact"`
	Status                 ConflictStatus `db:"status" json:"status"`
	ResolvedBy             *string        `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolutionNotes        *string        `db:"resolution_notes" json:"resolution_notes,omitempty"`
	ResolvedAt             *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at" json:"updated_at"`
}

// ConflictFilter describes query params for listing conflicts.
type ConflictFilter struct {
	TenantID      string
	AppointmentID string
	ResourceID    string
	Type          ConflictType
	Impact        ConflictImpact
	Status        ConflictStatus
	Page          int
	PageSize      int
}
