package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

const templateColumns = "id, tenant_id, name, default_duration, capacity, price, is_billable, recurrence, breaks, created_at, updated_at"

// TemplateRepository manages persistence for schedule templates.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository constructs a TemplateRepository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// FindByID fetches a template by id.
func (r *TemplateRepository) FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleTemplate, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_templates WHERE tenant_id = $1 AND id = $2", templateColumns)
	var tpl models.ScheduleTemplate
	if err := r.db.GetContext(ctx, &tpl, query, tenantID, id); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// List returns all templates for a tenant.
func (r *TemplateRepository) List(ctx context.Context, tenantID string) ([]models.ScheduleTemplate, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_templates WHERE tenant_id = $1 ORDER BY name", templateColumns)
	var templates []models.ScheduleTemplate
	if err := r.db.SelectContext(ctx, &templates, query, tenantID); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// Create inserts a new template record.
func (r *TemplateRepository) Create(ctx context.Context, tpl *models.ScheduleTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now

	const query = `INSERT INTO schedule_templates (id, tenant_id, name, default_duration, capacity, price, is_billable, recurrence, breaks, created_at, updated_at)
		VALUES (:id, :tenant_id, :name, :default_duration, :capacity, :price, :is_billable, :recurrence, :breaks, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tpl); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}
