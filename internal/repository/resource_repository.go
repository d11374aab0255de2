package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

const resourceColumns = "id, tenant_id, name, type, capacity, is_active, is_available, hourly_rate, daily_rate, created_at, updated_at"

// ResourceRepository manages persistence for bookable resources. The engine
// reads the registry; lifecycle mutations arrive from the administrative CRUD
// module.
type ResourceRepository struct {
	db *sqlx.DB
}

// NewResourceRepository constructs a ResourceRepository.
func NewResourceRepository(db *sqlx.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// List returns resources matching the filter along with the total count.
func (r *ResourceRepository) List(ctx context.Context, filter models.ResourceFilter) ([]models.Resource, int, error) {
	base := "FROM resources WHERE tenant_id = $1"
	args := []interface{}{filter.TenantID}

	if filter.Type != "" {
		base += fmt.Sprintf(" AND type = $%d", len(args)+1)
		args = append(args, filter.Type)
	}
	if filter.Active != nil {
		base += fmt.Sprintf(" AND is_active = $%d", len(args)+1)
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		base += fmt.Sprintf(" AND LOWER(name) LIKE $%d", len(args)+1)
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY name ASC LIMIT %d OFFSET %d", resourceColumns, base, size, offset)
	var resources []models.Resource
	if err := r.db.SelectContext(ctx, &resources, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list resources: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count resources: %w", err)
	}

	return resources, total, nil
}

// FindByID fetches a resource by id.
func (r *ResourceRepository) FindByID(ctx context.Context, tenantID, id string) (*models.Resource, error) {
	query := fmt.Sprintf("SELECT %s FROM resources WHERE tenant_id = $1 AND id = $2", resourceColumns)
	var resource models.Resource
	if err := r.db.GetContext(ctx, &resource, query, tenantID, id); err != nil {
		return nil, err
	}
	return &resource, nil
}

// FindByIDs fetches multiple resources at once, preserving no order.
func (r *ResourceRepository) FindByIDs(ctx context.Context, tenantID string, ids []string) ([]models.Resource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s FROM resources WHERE tenant_id = $1 AND id = ANY($2)", resourceColumns)
	var resources []models.Resource
	if err := r.db.SelectContext(ctx, &resources, query, tenantID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find resources: %w", err)
	}
	return resources, nil
}

// Create inserts a new resource record.
func (r *ResourceRepository) Create(ctx context.Context, resource *models.Resource) error {
	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = now
	}
	resource.UpdatedAt = now

	const query = `INSERT INTO resources (id, tenant_id, name, type, capacity, is_active, is_available, hourly_rate, daily_rate, created_at, updated_at)
		VALUES (:id, :tenant_id, :name, :type, :capacity, :is_active, :is_available, :hourly_rate, :daily_rate, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, resource); err != nil {
		return fmt.Errorf("create resource: %w", err)
	}
	return nil
}

// Update modifies an existing resource record.
func (r *ResourceRepository) Update(ctx context.Context, resource *models.Resource) error {
	resource.UpdatedAt = time.Now().UTC()
	const query = `UPDATE resources SET name = :name, type = :type, capacity = :capacity, is_active = :is_active, is_available = :is_available, hourly_rate = :hourly_rate, daily_rate = :daily_rate, updated_at = :updated_at WHERE id = :id AND tenant_id = :tenant_id`
	if _, err := r.db.NamedExecContext(ctx, query, resource); err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	return nil
}

// Deactivate soft-deactivates a resource.
func (r *ResourceRepository) Deactivate(ctx context.Context, tenantID, id string) error {
	const query = `UPDATE resources SET is_active = FALSE, updated_at = $3 WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate resource: %w", err)
	}
	return nil
}

// MaintenanceWindowsIn returns maintenance windows for the resources that
// intersect [start, end).
func (r *ResourceRepository) MaintenanceWindowsIn(ctx context.Context, resourceIDs []string, start, end time.Time) ([]models.MaintenanceWindow, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT id, resource_id, start_time, end_time, reason
		FROM maintenance_windows
		WHERE resource_id = ANY($1) AND start_time < $3 AND $2 < end_time
		ORDER BY start_time`
	var windows []models.MaintenanceWindow
	if err := r.db.SelectContext(ctx, &windows, query, pq.Array(resourceIDs), start, end); err != nil {
		return nil, fmt.Errorf("list maintenance windows: %w", err)
	}
	return windows, nil
}

// AddMaintenanceWindow records a maintenance block for a resource.
func (r *ResourceRepository) AddMaintenanceWindow(ctx context.Context, w *models.MaintenanceWindow) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	const query = `INSERT INTO maintenance_windows (id, resource_id, start_time, end_time, reason)
		VALUES (:id, :resource_id, :start_time, :end_time, :reason)`
	if _, err := r.db.NamedExecContext(ctx, query, w); err != nil {
		return fmt.Errorf("add maintenance window: %w", err)
	}
	return nil
}
