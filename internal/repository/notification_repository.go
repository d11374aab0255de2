package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

const notificationColumns = "id, tenant_id, type, appointment_id, conflict_id, recipients, channel, payload, scheduled_for, status, error_message, created_at"

// NotificationRepository manages the queued notification records. The engine
// writes pending rows; the external delivery service advances them to sent or
// failed.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert persists a new pending notification. Callers deriving the id from
// an outbox event id get idempotent redelivery for free.
func (r *NotificationRepository) Insert(ctx context.Context, n *models.ScheduleNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = models.NotificationPending
	}

	const query = `INSERT INTO schedule_notifications (id, tenant_id, type, appointment_id, conflict_id, recipients, channel, payload, scheduled_for, status, error_message, created_at)
		VALUES (:id, :tenant_id, :type, :appointment_id, :conflict_id, :recipients, :channel, :payload, :scheduled_for, :status, :error_message, :created_at)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListPending returns pending notifications due at or before the given time,
// oldest first. This is the surface the delivery collaborator polls.
func (r *NotificationRepository) ListPending(ctx context.Context, tenantID string, due time.Time, limit int) ([]models.ScheduleNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM schedule_notifications
		WHERE tenant_id = $1 AND status = 'pending' AND scheduled_for <= $2
		ORDER BY scheduled_for ASC LIMIT %d`, notificationColumns, limit)
	var notifications []models.ScheduleNotification
	if err := r.db.SelectContext(ctx, &notifications, query, tenantID, due); err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	return notifications, nil
}

// ListByAppointment returns all notifications raised for an appointment.
func (r *NotificationRepository) ListByAppointment(ctx context.Context, tenantID, appointmentID string) ([]models.ScheduleNotification, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_notifications WHERE tenant_id = $1 AND appointment_id = $2 ORDER BY created_at", notificationColumns)
	var notifications []models.ScheduleNotification
	if err := r.db.SelectContext(ctx, &notifications, query, tenantID, appointmentID); err != nil {
		return nil, fmt.Errorf("list notifications by appointment: %w", err)
	}
	return notifications, nil
}

// MarkSent records successful delivery.
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	const query = `UPDATE schedule_notifications SET status = 'sent', error_message = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure. Delivery failures never propagate
// back to the booking call.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id, errorMessage string) error {
	const query = `UPDATE schedule_notifications SET status = 'failed', error_message = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, errorMessage); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}
