package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

const analyticsColumns = "id, tenant_id, period_start, period_end, granularity, total_appointments, counts_by_status, total_scheduled_hours, avg_scheduled_hours, utilization_rate, conflict_count, resolved_conflicts, avg_resolution_minutes, revenue, generated_at"

// AnalyticsRepository persists immutable rollup snapshots and provides the
// aggregate source queries.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository constructs an AnalyticsRepository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// appointmentStatsRow is the scan target for the appointment aggregate query.
type appointmentStatsRow struct {
	Status     models.AppointmentStatus `db:"status"`
	Count      int                      `db:"count"`
	TotalHours float64                  `db:"total_hours"`
	Revenue    float64                  `db:"revenue"`
}

// AppointmentStats aggregates appointments within [start, end) grouped by
// status.
func (r *AnalyticsRepository) AppointmentStats(ctx context.Context, tenantID string, start, end time.Time) (models.StatusCounts, float64, float64, error) {
	const query = `SELECT status,
			COUNT(*) AS count,
			COALESCE(SUM(EXTRACT(EPOCH FROM (end_time - start_time)) / 3600.0), 0) AS total_hours,
			COALESCE(SUM(CASE WHEN is_billable THEN cost ELSE 0 END), 0) AS revenue
		FROM appointments
		WHERE tenant_id = $1 AND start_time >= $2 AND start_time < $3
		GROUP BY status`
	var rows []appointmentStatsRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, start, end); err != nil {
		return nil, 0, 0, fmt.Errorf("appointment stats: %w", err)
	}

	counts := models.StatusCounts{}
	var totalHours, revenue float64
	for _, row := range rows {
		counts[row.Status] = row.Count
		totalHours += row.TotalHours
		revenue += row.Revenue
	}
	return counts, totalHours, revenue, nil
}

// conflictStatsRow is the scan target for the conflict aggregate query.
type conflictStatsRow struct {
	Total             int     `db:"total"`
	Resolved          int     `db:"resolved"`
	AvgResolutionMins float64 `db:"avg_resolution_minutes"`
}

// ConflictStats aggregates conflicts created within [start, end).
func (r *AnalyticsRepository) ConflictStats(ctx context.Context, tenantID string, start, end time.Time) (int, int, float64, error) {
	const query = `SELECT COUNT(*) AS total,
			COUNT(resolved_at) AS resolved,
			COALESCE(AVG(EXTRACT(EPOCH FROM (resolved_at - created_at)) / 60.0), 0) AS avg_resolution_minutes
		FROM schedule_conflicts
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3`
	var row conflictStatsRow
	if err := r.db.GetContext(ctx, &row, query, tenantID, start, end); err != nil {
		return 0, 0, 0, fmt.Errorf("conflict stats: %w", err)
	}
	return row.Total, row.Resolved, row.AvgResolutionMins, nil
}

// ResourceAvailableHours sums the bookable hours offered by active resources
// within the period, the denominator of the utilization rate.
func (r *AnalyticsRepository) ResourceAvailableHours(ctx context.Context, tenantID string, start, end time.Time) (float64, error) {
	// Each active resource offers the full period times its capacity, minus
	// maintenance blocks.
	const query = `SELECT COALESCE(SUM(
			EXTRACT(EPOCH FROM ($3::timestamptz - $2::timestamptz)) / 3600.0 * r.capacity
			- COALESCE((SELECT SUM(EXTRACT(EPOCH FROM (LEAST(m.end_time, $3) - GREATEST(m.start_time, $2))) / 3600.0)
				FROM maintenance_windows m
				WHERE m.resource_id = r.id AND m.start_time < $3 AND $2 < m.end_time), 0)
		), 0)
		FROM resources r
		WHERE r.tenant_id = $1 AND r.is_active = TRUE`
	var hours float64
	if err := r.db.GetContext(ctx, &hours, query, tenantID, start, end); err != nil {
		return 0, fmt.Errorf("resource available hours: %w", err)
	}
	return hours, nil
}

// ActiveTenants lists the tenants that had any appointment activity within
// the period. The scheduled aggregator rolls up each of them.
func (r *AnalyticsRepository) ActiveTenants(ctx context.Context, start, end time.Time) ([]string, error) {
	const query = `SELECT DISTINCT tenant_id FROM appointments
		WHERE start_time < $2 AND $1 < end_time ORDER BY tenant_id`
	var tenants []string
	if err := r.db.SelectContext(ctx, &tenants, query, start, end); err != nil {
		return nil, fmt.Errorf("active tenants: %w", err)
	}
	return tenants, nil
}

// Insert persists a new snapshot. Snapshots are append-only.
func (r *AnalyticsRepository) Insert(ctx context.Context, snapshot *models.ScheduleAnalytics) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.GeneratedAt.IsZero() {
		snapshot.GeneratedAt = time.Now().UTC()
	}

	const query = `INSERT INTO schedule_analytics (id, tenant_id, period_start, period_end, granularity, total_appointments, counts_by_status, total_scheduled_hours, avg_scheduled_hours, utilization_rate, conflict_count, resolved_conflicts, avg_resolution_minutes, revenue, generated_at)
		VALUES (:id, :tenant_id, :period_start, :period_end, :granularity, :total_appointments, :counts_by_status, :total_scheduled_hours, :avg_scheduled_hours, :utilization_rate, :conflict_count, :resolved_conflicts, :avg_resolution_minutes, :revenue, :generated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, snapshot); err != nil {
		return fmt.Errorf("insert analytics snapshot: %w", err)
	}
	return nil
}

// List returns snapshots matching the filter along with the total count.
func (r *AnalyticsRepository) List(ctx context.Context, filter models.AnalyticsFilter) ([]models.ScheduleAnalytics, int, error) {
	base := "FROM schedule_analytics WHERE tenant_id = $1"
	args := []interface{}{filter.TenantID}

	if filter.Granularity != "" {
		base += fmt.Sprintf(" AND granularity = $%d", len(args)+1)
		args = append(args, filter.Granularity)
	}
	if filter.From != nil {
		base += fmt.Sprintf(" AND period_end > $%d", len(args)+1)
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		base += fmt.Sprintf(" AND period_start < $%d", len(args)+1)
		args = append(args, *filter.To)
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY period_start DESC, generated_at DESC LIMIT %d OFFSET %d", analyticsColumns, base, size, offset)
	var snapshots []models.ScheduleAnalytics
	if err := r.db.SelectContext(ctx, &snapshots, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list analytics snapshots: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count analytics snapshots: %w", err)
	}

	return snapshots, total, nil
}

// FindByID fetches a snapshot by id.
func (r *AnalyticsRepository) FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleAnalytics, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_analytics WHERE tenant_id = $1 AND id = $2", analyticsColumns)
	var snapshot models.ScheduleAnalytics
	if err := r.db.GetContext(ctx, &snapshot, query, tenantID, id); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
