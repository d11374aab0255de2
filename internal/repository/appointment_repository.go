package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agendaworks/scheduling-engine/internal/models"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
)

const appointmentColumns = "id, tenant_id, title, description, start_time, end_time, timezone, status, priority, team_id, parent_id, template_id, cost, is_billable, created_by, created_at, updated_at"

// BookingTx is the transactional surface the booking service drives while the
// per-resource advisory locks are held. Everything here runs on a single
// database transaction; the locks are released on commit or rollback.
type BookingTx interface {
	// AcquireAdvisoryLocks takes transaction-scoped advisory locks for the
	// given keys in sorted order to avoid lock-order deadlocks.
	AcquireAdvisoryLocks(ctx context.Context, keys []string) error
	// ListOverlapping returns committed appointments whose window intersects
	// [start, end) and which share at least one resource, the team, or a user
	// with the candidate.
	ListOverlapping(ctx context.Context, tenantID string, resourceIDs []string, teamID *string, userIDs []string, start, end time.Time, excludeID string) ([]models.Appointment, error)
	// CountResourceOverlaps counts committed appointments on one resource
	// intersecting [start, end).
	CountResourceOverlaps(ctx context.Context, tenantID, resourceID string, start, end time.Time, excludeID string) (int, error)
	InsertAppointment(ctx context.Context, a *models.Appointment) error
	// UpdateAppointmentStatus transitions an appointment and reports whether a
	// row changed, guarding against concurrent transitions.
	UpdateAppointmentStatus(ctx context.Context, id string, from, to models.AppointmentStatus) (bool, error)
	UpdateAppointment(ctx context.Context, a *models.Appointment) error
	InsertConflict(ctx context.Context, c *models.ScheduleConflict) error
	InsertOutboxEvent(ctx context.Context, e *models.OutboxEvent) error
}

// AppointmentRepository manages persistence for appointments and owns the
// booking transaction boundary.
type AppointmentRepository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewAppointmentRepository constructs an AppointmentRepository.
func NewAppointmentRepository(db *sqlx.DB, lockTimeout time.Duration) *AppointmentRepository {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &AppointmentRepository{db: db, lockTimeout: lockTimeout}
}

// InTx runs fn on a single transaction, committing when fn returns nil and
// rolling back otherwise. Lock-wait timeouts surface as
// ErrConcurrentModification so callers can retry the whole operation.
func (r *AppointmentRepository) InTx(ctx context.Context, fn func(tx BookingTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}

	timeoutMillis := int(r.lockTimeout / time.Millisecond)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeoutMillis)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err := fn(&bookingTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return translateLockError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit booking tx: %w", err)
	}
	return nil
}

// translateLockError maps Postgres lock_not_available onto the retryable
// concurrency error.
func translateLockError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
		return appErrors.Wrap(err, appErrors.ErrConcurrentModification.Code, appErrors.ErrConcurrentModification.Status, "booking lock contention")
	}
	return err
}

type bookingTx struct {
	tx *sqlx.Tx
}

func (b *bookingTx) AcquireAdvisoryLocks(ctx context.Context, keys []string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, key := range sorted {
		if _, err := b.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
			return fmt.Errorf("acquire advisory lock %s: %w", key, err)
		}
	}
	return nil
}

func (b *bookingTx) ListOverlapping(ctx context.Context, tenantID string, resourceIDs []string, teamID *string, userIDs []string, start, end time.Time, excludeID string) ([]models.Appointment, error) {
	return listOverlapping(ctx, b.tx, tenantID, resourceIDs, teamID, userIDs, start, end, excludeID)
}

func (b *bookingTx) CountResourceOverlaps(ctx context.Context, tenantID, resourceID string, start, end time.Time, excludeID string) (int, error) {
	const query = `SELECT COUNT(DISTINCT a.id)
		FROM appointments a
		JOIN appointment_resources ar ON ar.appointment_id = a.id
		WHERE a.tenant_id = $1 AND ar.resource_id = $2
		  AND a.status IN ('scheduled', 'confirmed', 'in_progress')
		  AND a.start_time < $4 AND $3 < a.end_time
		  AND a.id <> $5`
	var count int
	if err := b.tx.GetContext(ctx, &count, query, tenantID, resourceID, start, end, excludeID); err != nil {
		return 0, fmt.Errorf("count resource overlaps: %w", err)
	}
	return count, nil
}

func (b *bookingTx) InsertAppointment(ctx context.Context, a *models.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	const query = `INSERT INTO appointments (id, tenant_id, title, description, start_time, end_time, timezone, status, priority, team_id, parent_id, template_id, cost, is_billable, created_by, created_at, updated_at)
		VALUES (:id, :tenant_id, :title, :description, :start_time, :end_time, :timezone, :status, :priority, :team_id, :parent_id, :template_id, :cost, :is_billable, :created_by, :created_at, :updated_at)`
	if _, err := b.tx.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	for _, resourceID := range a.ResourceIDs {
		if _, err := b.tx.ExecContext(ctx, "INSERT INTO appointment_resources (appointment_id, resource_id) VALUES ($1, $2)", a.ID, resourceID); err != nil {
			return fmt.Errorf("link appointment resource: %w", err)
		}
	}
	for _, userID := range a.UserIDs {
		if _, err := b.tx.ExecContext(ctx, "INSERT INTO appointment_users (appointment_id, user_id) VALUES ($1, $2)", a.ID, userID); err != nil {
			return fmt.Errorf("link appointment user: %w", err)
		}
	}
	return nil
}

func (b *bookingTx) UpdateAppointmentStatus(ctx context.Context, id string, from, to models.AppointmentStatus) (bool, error) {
	const query = `UPDATE appointments SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := b.tx.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update appointment status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update appointment status rows: %w", err)
	}
	return rows > 0, nil
}

func (b *bookingTx) UpdateAppointment(ctx context.Context, a *models.Appointment) error {
	a.UpdatedAt = time.Now().UTC()
	const query = `UPDATE appointments SET title = :title, description = :description, start_time = :start_time, end_time = :end_time, timezone = :timezone, status = :status, priority = :priority, team_id = :team_id, cost = :cost, is_billable = :is_billable, updated_at = :updated_at WHERE id = :id`
	if _, err := b.tx.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (b *bookingTx) InsertConflict(ctx context.Context, c *models.ScheduleConflict) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	const query = `INSERT INTO schedule_conflicts (id, tenant_id, primary_appointment_id, secondary_appointment_id, rule_id, resource_id, team_id, type, impact, status, resolved_by, resolution_notes, resolved_at, created_at, updated_at)
		VALUES (:id, :tenant_id, :primary_appointment_id, :secondary_appointment_id, :rule_id, :resource_id, :team_id, :type, :impact, :status, :resolved_by, :resolution_notes, :resolved_at, :created_at, :updated_at)`
	if _, err := b.tx.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

func (b *bookingTx) InsertOutboxEvent(ctx context.Context, e *models.OutboxEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO outbox_events (id, tenant_id, type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := b.tx.ExecContext(ctx, query, e.ID, e.TenantID, e.Type, e.AggregateID, []byte(e.Payload), e.CreatedAt); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// FindByID fetches an appointment with its resource and user links.
func (r *AppointmentRepository) FindByID(ctx context.Context, tenantID, id string) (*models.Appointment, error) {
	query := fmt.Sprintf("SELECT %s FROM appointments WHERE tenant_id = $1 AND id = $2", appointmentColumns)
	var appt models.Appointment
	if err := r.db.GetContext(ctx, &appt, query, tenantID, id); err != nil {
		return nil, err
	}
	if err := r.loadLinks(ctx, &appt); err != nil {
		return nil, err
	}
	return &appt, nil
}

func (r *AppointmentRepository) loadLinks(ctx context.Context, appt *models.Appointment) error {
	if err := r.db.SelectContext(ctx, &appt.ResourceIDs, "SELECT resource_id FROM appointment_resources WHERE appointment_id = $1 ORDER BY resource_id", appt.ID); err != nil {
		return fmt.Errorf("load appointment resources: %w", err)
	}
	if err := r.db.SelectContext(ctx, &appt.UserIDs, "SELECT user_id FROM appointment_users WHERE appointment_id = $1 ORDER BY user_id", appt.ID); err != nil {
		return fmt.Errorf("load appointment users: %w", err)
	}
	return nil
}

// List returns appointments matching the filter along with the total count.
func (r *AppointmentRepository) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	base := "FROM appointments a WHERE a.tenant_id = $1"
	args := []interface{}{filter.TenantID}

	if filter.ResourceID != "" {
		base += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM appointment_resources ar WHERE ar.appointment_id = a.id AND ar.resource_id = $%d)", len(args)+1)
		args = append(args, filter.ResourceID)
	}
	if filter.UserID != "" {
		base += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM appointment_users au WHERE au.appointment_id = a.id AND au.user_id = $%d)", len(args)+1)
		args = append(args, filter.UserID)
	}
	if filter.TeamID != "" {
		base += fmt.Sprintf(" AND a.team_id = $%d", len(args)+1)
		args = append(args, filter.TeamID)
	}
	if filter.Status != "" {
		base += fmt.Sprintf(" AND a.status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		base += fmt.Sprintf(" AND a.end_time > $%d", len(args)+1)
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		base += fmt.Sprintf(" AND a.start_time < $%d", len(args)+1)
		args = append(args, *filter.To)
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"start_time": "start_time",
		"created_at": "created_at",
		"priority":   "priority",
		"status":     "status",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "start_time"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	cols := "a.id, a.tenant_id, a.title, a.description, a.start_time, a.end_time, a.timezone, a.status, a.priority, a.team_id, a.parent_id, a.template_id, a.cost, a.is_billable, a.created_by, a.created_at, a.updated_at"
	query := fmt.Sprintf("SELECT %s %s ORDER BY a.%s %s LIMIT %d OFFSET %d", cols, base, column, order, size, offset)
	var appointments []models.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	return appointments, total, nil
}

// ListOverlapping answers the non-transactional overlap query used by the
// availability index and dry-run evaluation.
func (r *AppointmentRepository) ListOverlapping(ctx context.Context, tenantID string, resourceIDs []string, teamID *string, userIDs []string, start, end time.Time, excludeID string) ([]models.Appointment, error) {
	return listOverlapping(ctx, r.db, tenantID, resourceIDs, teamID, userIDs, start, end, excludeID)
}

// CountResourceOverlaps answers the capacity predicate outside of a booking
// transaction, for dry-run rule evaluation.
func (r *AppointmentRepository) CountResourceOverlaps(ctx context.Context, tenantID, resourceID string, start, end time.Time, excludeID string) (int, error) {
	const query = `SELECT COUNT(DISTINCT a.id)
		FROM appointments a
		JOIN appointment_resources ar ON ar.appointment_id = a.id
		WHERE a.tenant_id = $1 AND ar.resource_id = $2
		  AND a.status IN ('scheduled', 'confirmed', 'in_progress')
		  AND a.start_time < $4 AND $3 < a.end_time
		  AND a.id <> $5`
	var count int
	if err := r.db.GetContext(ctx, &count, query, tenantID, resourceID, start, end, excludeID); err != nil {
		return 0, fmt.Errorf("count resource overlaps: %w", err)
	}
	return count, nil
}

// CommittedWindows returns the committed booking windows for a resource
// ordered by start time, for free-slot enumeration.
func (r *AppointmentRepository) CommittedWindows(ctx context.Context, tenantID, resourceID string, start, end time.Time) ([]models.Appointment, error) {
	const query = `SELECT DISTINCT a.id, a.start_time, a.end_time, a.status
		FROM appointments a
		JOIN appointment_resources ar ON ar.appointment_id = a.id
		WHERE a.tenant_id = $1 AND ar.resource_id = $2
		  AND a.status IN ('scheduled', 'confirmed', 'in_progress')
		  AND a.start_time < $4 AND $3 < a.end_time
		ORDER BY a.start_time`
	var appointments []models.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, tenantID, resourceID, start, end); err != nil {
		return nil, fmt.Errorf("list committed windows: %w", err)
	}
	return appointments, nil
}

// TeamCommittedWindows returns committed booking windows for a team ordered
// by start time.
func (r *AppointmentRepository) TeamCommittedWindows(ctx context.Context, tenantID, teamID string, start, end time.Time) ([]models.Appointment, error) {
	const query = `SELECT a.id, a.start_time, a.end_time, a.status
		FROM appointments a
		WHERE a.tenant_id = $1 AND a.team_id = $2
		  AND a.status IN ('scheduled', 'confirmed', 'in_progress')
		  AND a.start_time < $4 AND $3 < a.end_time
		ORDER BY a.start_time`
	var appointments []models.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, tenantID, teamID, start, end); err != nil {
		return nil, fmt.Errorf("list team committed windows: %w", err)
	}
	return appointments, nil
}

type queryer interface {
	sqlx.QueryerContext
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func listOverlapping(ctx context.Context, q queryer, tenantID string, resourceIDs []string, teamID *string, userIDs []string, start, end time.Time, excludeID string) ([]models.Appointment, error) {
	team := ""
	if teamID != nil {
		team = *teamID
	}
	const query = `SELECT DISTINCT a.id, a.tenant_id, a.title, a.description, a.start_time, a.end_time, a.timezone, a.status, a.priority, a.team_id, a.parent_id, a.template_id, a.cost, a.is_billable, a.created_by, a.created_at, a.updated_at
		FROM appointments a
		LEFT JOIN appointment_resources ar ON ar.appointment_id = a.id
		LEFT JOIN appointment_users au ON au.appointment_id = a.id
		WHERE a.tenant_id = $1
		  AND a.status IN ('scheduled', 'confirmed', 'in_progress')
		  AND a.start_time < $3 AND $2 < a.end_time
		  AND a.id <> $4
		  AND (ar.resource_id = ANY($5) OR (a.team_id IS NOT NULL AND a.team_id = $6) OR au.user_id = ANY($7))
		ORDER BY a.start_time`
	var appointments []models.Appointment
	if err := q.SelectContext(ctx, &appointments, query, tenantID, start, end, excludeID, pq.Array(resourceIDs), team, pq.Array(userIDs)); err != nil {
		return nil, fmt.Errorf("list overlapping appointments: %w", err)
	}
	for i := range appointments {
		if err := loadLinksOn(ctx, q, &appointments[i]); err != nil {
			return nil, err
		}
	}
	return appointments, nil
}

func loadLinksOn(ctx context.Context, q queryer, appt *models.Appointment) error {
	if err := q.SelectContext(ctx, &appt.ResourceIDs, "SELECT resource_id FROM appointment_resources WHERE appointment_id = $1 ORDER BY resource_id", appt.ID); err != nil {
		return fmt.Errorf("load appointment resources: %w", err)
	}
	if err := q.SelectContext(ctx, &appt.UserIDs, "SELECT user_id FROM appointment_users WHERE appointment_id = $1 ORDER BY user_id", appt.ID); err != nil {
		return fmt.Errorf("load appointment users: %w", err)
	}
	return nil
}

// IsNotFound reports whether the error is the driver's no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
