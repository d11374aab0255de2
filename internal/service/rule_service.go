package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
)

// RuleRepo is the persistence surface for schedule rules.
type RuleRepo interface {
	ListActive(ctx context.Context, tenantID string) ([]models.ScheduleRule, error)
	List(ctx context.Context, filter models.RuleFilter) ([]models.ScheduleRule, int, error)
	FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleRule, error)
	Create(ctx context.Context, rule *models.ScheduleRule) error
	Update(ctx context.Context, rule *models.ScheduleRule) error
	Deactivate(ctx context.Context, tenantID, id string) error
}

// CreateRuleRequest is the rule admin payload. Params must carry exactly the
// block matching Kind.
type CreateRuleRequest struct {
	Name       string            `json:"name" validate:"required,max=120"`
	Kind       models.RuleKind   `json:"kind" validate:"required"`
	Scope      models.RuleScope  `json:"scope"`
	Params     models.RuleParams `json:"params"`
	ValidFrom  *time.Time        `json:"valid_from,omitempty"`
	ValidUntil *time.Time        `json:"valid_until,omitempty"`
	IsActive   *bool             `json:"is_active,omitempty"`
}

// EvaluateRequest is the dry-run payload: a candidate appointment shape plus
// the operation to evaluate it as.
type EvaluateRequest struct {
	Operation   RuleOperation              `json:"operation,omitempty"`
	Title       string                     `json:"title,omitempty"`
	StartTime   time.Time                  `json:"start_time" validate:"required"`
	EndTime     time.Time                  `json:"end_time" validate:"required"`
	Timezone    string                     `json:"timezone,omitempty"`
	Priority    models.AppointmentPriority `json:"priority,omitempty"`
	TeamID      *string                    `json:"team_id,omitempty"`
	ResourceIDs []string                   `json:"resource_ids,omitempty"`
	UserIDs     []string                   `json:"user_ids,omitempty"`
}

// EvaluateResult reports the dry-run outcome without writing anything.
type EvaluateResult struct {
	Allowed    bool                   `json:"allowed"`
	Violations []models.RuleViolation `json:"violations"`
}

// RuleService manages schedule rules and exposes dry-run evaluation.
type RuleService struct {
	repo      RuleRepo
	engine    *RuleEngine
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRuleService constructs a rule service.
func NewRuleService(repo RuleRepo, engine *RuleEngine, validate *validator.Validate, logger *zap.Logger) *RuleService {
	if validate == nil {
		validate = validator.New()
	}
	return &RuleService{repo: repo, engine: engine, validator: validate, logger: logger}
}

// List returns rules matching the filter.
func (s *RuleService) List(ctx context.Context, filter models.RuleFilter) ([]models.ScheduleRule, int, error) {
	if filter.TenantID == "" {
		return nil, 0, appErrors.ErrTenantRequired
	}
	return s.repo.List(ctx, filter)
}

// Get fetches one rule.
func (s *RuleService) Get(ctx context.Context, tenantID, id string) (*models.ScheduleRule, error) {
	rule, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "rule not found")
	}
	return rule, nil
}

// Create validates and persists a new rule. Typed params are rejected at
// write time so the engine never sees a malformed rule.
func (s *RuleService) Create(ctx context.Context, tenantID string, req CreateRuleRequest) (*models.ScheduleRule, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rule payload")
	}
	if err := req.Params.Validate(req.Kind); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidUntil.After(*req.ValidFrom) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "valid_until must be after valid_from")
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rule := &models.ScheduleRule{
		TenantID:   tenantID,
		Name:       req.Name,
		Kind:       req.Kind,
		Scope:      req.Scope,
		Params:     req.Params,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		IsActive:   active,
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create rule")
	}
	if s.logger != nil {
		s.logger.Info("schedule rule created",
			zap.String("rule_id", rule.ID),
			zap.String("kind", string(rule.Kind)))
	}
	return rule, nil
}

// Update replaces a rule's mutable fields.
func (s *RuleService) Update(ctx context.Context, tenantID, id string, req CreateRuleRequest) (*models.ScheduleRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rule payload")
	}
	if err := req.Params.Validate(req.Kind); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	rule, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	rule.Name = req.Name
	rule.Kind = req.Kind
	rule.Scope = req.Scope
	rule.Params = req.Params
	rule.ValidFrom = req.ValidFrom
	rule.ValidUntil = req.ValidUntil
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update rule")
	}
	return rule, nil
}

// Deactivate soft-disables a rule.
func (s *RuleService) Deactivate(ctx context.Context, tenantID, id string) error {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return s.repo.Deactivate(ctx, tenantID, id)
}

// Evaluate runs the rule engine against a hypothetical appointment without
// writing anything.
func (s *RuleService) Evaluate(ctx context.Context, tenantID string, req EvaluateRequest) (*EvaluateResult, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	op := req.Operation
	if op == "" {
		op = RuleOpCreate
	}

	candidate := &models.Appointment{
		TenantID:    tenantID,
		Title:       req.Title,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		Timezone:    req.Timezone,
		Status:      models.StatusScheduled,
		Priority:    req.Priority,
		TeamID:      req.TeamID,
		ResourceIDs: req.ResourceIDs,
		UserIDs:     req.UserIDs,
	}

	rules, err := s.repo.ListActive(ctx, tenantID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scheduling rules")
	}
	violations, err := s.engine.Evaluate(ctx, op, candidate, rules)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "rule evaluation failed")
	}
	return &EvaluateResult{Allowed: len(violations) == 0, Violations: violations}, nil
}
