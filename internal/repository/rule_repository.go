package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

const ruleColumns = "id, tenant_id, name, kind, scope, params, valid_from, valid_until, is_active, created_at, updated_at"

// RuleRepository manages persistence for schedule rules.
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository constructs a RuleRepository.
func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// ListActive returns the active rules for a tenant. Rule sets are small and
// bounded per organization, so scope and validity filtering happens in the
// rule engine rather than SQL.
func (r *RuleRepository) ListActive(ctx context.Context, tenantID string) ([]models.ScheduleRule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_rules WHERE tenant_id = $1 AND is_active = TRUE ORDER BY created_at", ruleColumns)
	var rules []models.ScheduleRule
	if err := r.db.SelectContext(ctx, &rules, query, tenantID); err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return rules, nil
}

// List returns rules matching the filter along with the total count.
func (r *RuleRepository) List(ctx context.Context, filter models.RuleFilter) ([]models.ScheduleRule, int, error) {
	base := "FROM schedule_rules WHERE tenant_id = $1"
	args := []interface{}{filter.TenantID}

	if filter.Kind != "" {
		base += fmt.Sprintf(" AND kind = $%d", len(args)+1)
		args = append(args, filter.Kind)
	}
	if filter.Active != nil {
		base += fmt.Sprintf(" AND is_active = $%d", len(args)+1)
		args = append(args, *filter.Active)
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", ruleColumns, base, size, offset)
	var rules []models.ScheduleRule
	if err := r.db.SelectContext(ctx, &rules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list rules: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count rules: %w", err)
	}

	return rules, total, nil
}

// FindByID fetches a rule by id.
func (r *RuleRepository) FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleRule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_rules WHERE tenant_id = $1 AND id = $2", ruleColumns)
	var rule models.ScheduleRule
	if err := r.db.GetContext(ctx, &rule, query, tenantID, id); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Create inserts a new rule record. Params must already be validated against
// the rule kind.
func (r *RuleRepository) Create(ctx context.Context, rule *models.ScheduleRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	const query = `INSERT INTO schedule_rules (id, tenant_id, name, kind, scope, params, valid_from, valid_until, is_active, created_at, updated_at)
		VALUES (:id, :tenant_id, :name, :kind, :scope, :params, :valid_from, :valid_until, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// Update modifies an existing rule record.
func (r *RuleRepository) Update(ctx context.Context, rule *models.ScheduleRule) error {
	rule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedule_rules SET name = :name, kind = :kind, scope = :scope, params = :params, valid_from = :valid_from, valid_until = :valid_until, is_active = :is_active, updated_at = :updated_at WHERE id = :id AND tenant_id = :tenant_id`
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return nil
}

// Deactivate turns a rule off without deleting it.
func (r *RuleRepository) Deactivate(ctx context.Context, tenantID, id string) error {
	const query = `UPDATE schedule_rules SET is_active = FALSE, updated_at = $3 WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	return nil
}
