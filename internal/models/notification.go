package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType enumerates the engine events that produce notifications.
type NotificationType string

const (
	NotifyAppointmentCreated   NotificationType = "appointment_created"
	NotifyAppointmentUpdated   NotificationType = "appointment_updated"
	NotifyAppointmentCancelled NotificationType = "appointment_cancelled"
	NotifyConflictDetected     NotificationType = "conflict_detected"
	NotifyResourceUnavailable  NotificationType = "resource_unavailable"
	NotifyScheduleChange       NotificationType = "schedule_change"
	NotifyReminderDue          NotificationType = "reminder_due"
)

// NotificationChannel is the delivery method chosen per recipient.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
	ChannelPush  NotificationChannel = "push"
)

// NotificationStatus tracks delivery. The engine only ever writes pending;
// the external delivery service moves rows to sent or failed.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// RecipientList is a set of user ids persisted as JSONB.
type RecipientList []string

// Value marshals the list to JSON.
func (r RecipientList) Value() (driver.Value, error) {
	if r == nil {
		r = RecipientList{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal recipient list: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the list.
func (r *RecipientList) Scan(value interface{}) error {
	return scanJSON(value, r, "RecipientList")
}

// ScheduleNotification is a queued description of an event to deliver.
// Produced by the engine with status pending; delivery is an external
// collaborator's job.
type ScheduleNotification struct {
	ID            string              `db:"id" json:"id"`
	TenantID      string              `db:"tenant_id" json:"tenant_id"`
	Type          NotificationType    `db:"type" json:"type"`
	AppointmentID *string             `db:"appointment_id" json:"appointment_id,omitempty"`
	ConflictID    *string             `db:"conflict_id" json:"conflict_id,omitempty"`
	Recipients    RecipientList       `db:"recipients" json:"recipients"`
	Channel       NotificationChannel `db:"channel" json:"channel"`
	Payload       json.RawMessage     `db:"payload" json:"payload,omitempty"`
	ScheduledFor  time.Time           `db:"scheduled_for" json:"scheduled_for"`
	Status        NotificationStatus  `db:"status" json:"status"`
	ErrorMessage  *string             `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}
