package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

const conflictColumns = "id, tenant_id, primary_appointment_id, secondary_appointment_id, rule_id, resource_id, team_id, type, impact, status, resolved_by, resolution_notes, resolved_at, created_at, updated_at"

// ConflictRepository manages persistence for schedule conflicts. Conflict
// rows are only ever inserted inside the booking transaction (see BookingTx);
// this repository covers reads and the optimistic resolution path.
type ConflictRepository struct {
	db *sqlx.DB
}

// NewConflictRepository constructs a ConflictRepository.
func NewConflictRepository(db *sqlx.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

// List returns conflicts matching the filter along with the total count.
func (r *ConflictRepository) List(ctx context.Context, filter models.ConflictFilter) ([]models.ScheduleConflict, int, error) {
	base := "FROM schedule_conflicts WHERE tenant_id = $1"
	args := []interface{}{filter.TenantID}

	if filter.AppointmentID != "" {
		base += fmt.Sprintf(" AND (primary_appointment_id = $%d OR secondary_appointment_id = $%d)", len(args)+1, len(args)+1)
		args = append(args, filter.AppointmentID)
	}
	if filter.ResourceID != "" {
		base += fmt.Sprintf(" AND resource_id = $%d", len(args)+1)
		args = append(args, filter.ResourceID)
	}
	if filter.Type != "" {
		base += fmt.Sprintf(" AND type = $%d", len(args)+1)
		args = append(args, filter.Type)
	}
	if filter.Impact != "" {
		base += fmt.Sprintf(" AND impact = $%d", len(args)+1)
		args = append(args, filter.Impact)
	}
	if filter.Status != "" {
		base += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", conflictColumns, base, size, offset)
	var conflicts []models.ScheduleConflict
	if err := r.db.SelectContext(ctx, &conflicts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list conflicts: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count conflicts: %w", err)
	}

	return conflicts, total, nil
}

// FindByID fetches a conflict by id.
func (r *ConflictRepository) FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleConflict, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_conflicts WHERE tenant_id = $1 AND id = $2", conflictColumns)
	var conflict models.ScheduleConflict
	if err := r.db.GetContext(ctx, &conflict, query, tenantID, id); err != nil {
		return nil, err
	}
	return &conflict, nil
}

// ListOpenByAppointment returns pending or escalated conflicts touching an
// appointment, for post-cancellation re-evaluation.
func (r *ConflictRepository) ListOpenByAppointment(ctx context.Context, tenantID, appointmentID string) ([]models.ScheduleConflict, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_conflicts
		WHERE tenant_id = $1
		  AND (primary_appointment_id = $2 OR secondary_appointment_id = $2)
		  AND status IN ('pending', 'escalated')`, conflictColumns)
	var conflicts []models.ScheduleConflict
	if err := r.db.SelectContext(ctx, &conflicts, query, tenantID, appointmentID); err != nil {
		return nil, fmt.Errorf("list open conflicts by appointment: %w", err)
	}
	return conflicts, nil
}

// Close transitions a conflict out of an open status, setting resolved_at
// exactly once. The WHERE clause is the optimistic guard: zero affected rows
// means another actor won the race.
func (r *ConflictRepository) Close(ctx context.Context, tenantID, id string, status models.ConflictStatus, resolvedBy, notes string) (bool, error) {
	const query = `UPDATE schedule_conflicts
		SET status = $3, resolved_by = $4, resolution_notes = $5, resolved_at = $6, updated_at = $6
		WHERE tenant_id = $1 AND id = $2 AND status IN ('pending', 'escalated') AND resolved_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, tenantID, id, status, resolvedBy, notes, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("close conflict: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close conflict rows: %w", err)
	}
	return rows > 0, nil
}

// Escalate raises a pending conflict's impact and marks it escalated without
// touching resolved_at. Escalation is not resolution.
func (r *ConflictRepository) Escalate(ctx context.Context, tenantID, id string, impact models.ConflictImpact) (bool, error) {
	const query = `UPDATE schedule_conflicts
		SET status = 'escalated', impact = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'`
	result, err := r.db.ExecContext(ctx, query, tenantID, id, impact, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("escalate conflict: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("escalate conflict rows: %w", err)
	}
	return rows > 0, nil
}
