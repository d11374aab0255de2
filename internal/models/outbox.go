package models

import (
	"encoding/json"
	"time"
)

// EventType enumerates outbox event kinds. Events are written in the same
// transaction as the state change they describe and consumed asynchronously.
type EventType string

const (
	EventAppointmentCreated     EventType = "appointment.created"
	EventAppointmentUpdated     EventType = "appointment.updated"
	EventAppointmentConfirmed   EventType = "appointment.confirmed"
	EventAppointmentCompleted   EventType = "appointment.completed"
	EventAppointmentCancelled   EventType = "appointment.cancelled"
	EventAppointmentNoShow      EventType = "appointment.no_show"
	EventAppointmentRescheduled EventType = "appointment.rescheduled"
	EventConflictDetected       EventType = "conflict.detected"
	EventConflictResolved       EventType = "conflict.resolved"
	EventConflictEscalated      EventType = "conflict.escalated"
)

// OutboxEvent is a durable domain event awaiting asynchronous consumption.
type OutboxEvent struct {
	ID          string          `db:"id" json:"id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	Type        EventType       `db:"type" json:"type"`
	AggregateID string          `db:"aggregate_id" json:"aggregate_id"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// AppointmentEventPayload is the JSON body shared by appointment events.
type AppointmentEventPayload struct {
	AppointmentID string    `json:"appointment_id"`
	Title         string    `json:"title"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
	TeamID        *string   `json:"team_id,omitempty"`
	ResourceIDs   []string  `json:"resource_ids"`
	UserIDs       []string  `json:"user_ids"`
	ActorID       string    `json:"actor_id"`
}

// ConflictEventPayload is the JSON body of conflict events.
type ConflictEventPayload struct {
	ConflictID             string  `json:"conflict_id"`
	PrimaryAppointmentID   string  `json:"primary_appointment_id"`
	SecondaryAppointmentID *string `json:"secondary_appointment_id,omitempty"`
	Type                   string  `json:"type"`
	Impact                 string  `json:"impact"`
	Status                 string  `json:"status"`
}
