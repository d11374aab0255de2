package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/internal/repository"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
)

// TemplateRepo is the persistence surface for schedule templates.
type TemplateRepo interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleTemplate, error)
	List(ctx context.Context, tenantID string) ([]models.ScheduleTemplate, error)
	Create(ctx context.Context, tpl *models.ScheduleTemplate) error
}

// CreateTemplateRequest is the template admin payload.
type CreateTemplateRequest struct {
	Name            string                   `json:"name" validate:"required,max=200"`
	DefaultDuration int                      `json:"default_duration" validate:"required,gt=0"`
	Capacity        int                      `json:"capacity" validate:"omitempty,gte=1"`
	Price           float64                  `json:"price" validate:"gte=0"`
	IsBillable      bool                     `json:"is_billable,omitempty"`
	Recurrence      models.RecurrencePattern `json:"recurrence,omitempty"`
	Breaks          models.BreakWindows      `json:"breaks,omitempty"`
}

// TemplateService manages reusable appointment defaults.
type TemplateService struct {
	repo      TemplateRepo
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTemplateService constructs a template service.
func NewTemplateService(repo TemplateRepo, validate *validator.Validate, logger *zap.Logger) *TemplateService {
	if validate == nil {
		validate = validator.New()
	}
	return &TemplateService{repo: repo, validator: validate, logger: logger}
}

// List returns all templates for a tenant.
func (s *TemplateService) List(ctx context.Context, tenantID string) ([]models.ScheduleTemplate, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	return s.repo.List(ctx, tenantID)
}

// Get fetches one template.
func (s *TemplateService) Get(ctx context.Context, tenantID, id string) (*models.ScheduleTemplate, error) {
	tpl, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}
	return tpl, nil
}

// Create validates and persists a new template.
func (s *TemplateService) Create(ctx context.Context, tenantID string, req CreateTemplateRequest) (*models.ScheduleTemplate, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid template payload")
	}
	recurrence := req.Recurrence
	if recurrence == "" {
		recurrence = models.RecurrenceNone
	}
	switch recurrence {
	case models.RecurrenceNone, models.RecurrenceDaily, models.RecurrenceWeekly, models.RecurrenceMonthly:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown recurrence %q", recurrence))
	}
	if err := validateBreaks(req.Breaks); err != nil {
		return nil, err
	}

	capacity := req.Capacity
	if capacity == 0 {
		capacity = 1
	}
	tpl := &models.ScheduleTemplate{
		TenantID:        tenantID,
		Name:            req.Name,
		DefaultDuration: req.DefaultDuration,
		Capacity:        capacity,
		Price:           req.Price,
		IsBillable:      req.IsBillable,
		Recurrence:      recurrence,
		Breaks:          req.Breaks,
	}
	if err := s.repo.Create(ctx, tpl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create template")
	}
	if s.logger != nil {
		s.logger.Info("schedule template created",
			zap.String("template_id", tpl.ID),
			zap.String("name", tpl.Name))
	}
	return tpl, nil
}

// validateBreaks rejects malformed or inverted HH:MM break windows.
func validateBreaks(breaks models.BreakWindows) error {
	for _, b := range breaks {
		start, err := time.Parse("15:04", b.Start)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid break start %q", b.Start))
		}
		end, err := time.Parse("15:04", b.End)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid break end %q", b.End))
		}
		if !end.After(start) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("break %s-%s must end after it starts", b.Start, b.End))
		}
	}
	return nil
}
