package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/interval"
	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/internal/repository"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
)

// BookingStore is the transactional persistence surface for appointments.
type BookingStore interface {
	InTx(ctx context.Context, fn func(tx repository.BookingTx) error) error
	FindByID(ctx context.Context, tenantID, id string) (*models.Appointment, error)
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error)
}

// BookingResourceRepo loads resources for booking validation.
type BookingResourceRepo interface {
	FindByIDs(ctx context.Context, tenantID string, ids []string) ([]models.Resource, error)
	MaintenanceWindowsIn(ctx context.Context, resourceIDs []string, start, end time.Time) ([]models.MaintenanceWindow, error)
}

// BookingTemplateRepo loads schedule templates referenced at creation.
type BookingTemplateRepo interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleTemplate, error)
}

// BookingTeamRepo loads a team with its roster for member availability
// checks.
type BookingTeamRepo interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.Team, error)
}

// BookingConfig tunes the booking transaction manager behaviour.
type BookingConfig struct {
	// StrictConflicts rejects requests whose overlap checks find conflicts
	// instead of recording them. Default is advisory: detect, don't block.
	StrictConflicts bool
	DefaultTimezone string
}

// CreateAppointmentRequest is the booking payload.
type CreateAppointmentRequest struct {
	Title       string                     `json:"title" validate:"required,max=200"`
	Description *string                    `json:"description,omitempty"`
	StartTime   time.Time                  `json:"start_time" validate:"required"`
	// EndTime may be omitted when template_id supplies a default duration.
	EndTime     time.Time                  `json:"end_time,omitempty"`
	Timezone    string                     `json:"timezone,omitempty"`
	Priority    models.AppointmentPriority `json:"priority,omitempty"`
	TeamID      *string                    `json:"team_id,omitempty"`
	TemplateID  *string                    `json:"template_id,omitempty"`
	ResourceIDs []string                   `json:"resource_ids,omitempty"`
	UserIDs     []string                   `json:"user_ids,omitempty"`
	Cost        float64                    `json:"cost,omitempty" validate:"gte=0"`
	IsBillable  bool                       `json:"is_billable,omitempty"`
}

// UpdateAppointmentRequest carries mutable fields; changing the window
// re-runs the full creation checks.
type UpdateAppointmentRequest struct {
	Title       *string                     `json:"title,omitempty" validate:"omitempty,max=200"`
	Description *string                     `json:"description,omitempty"`
	StartTime   *time.Time                  `json:"start_time,omitempty"`
	EndTime     *time.Time                  `json:"end_time,omitempty"`
	Priority    *models.AppointmentPriority `json:"priority,omitempty"`
	Cost        *float64                    `json:"cost,omitempty" validate:"omitempty,gte=0"`
	IsBillable  *bool                       `json:"is_billable,omitempty"`
}

// RescheduleRequest moves an appointment to a new window via a linked
// replacement.
type RescheduleRequest struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
	Reason    *string   `json:"reason,omitempty"`
}

// BookingResult is the creation outcome: conflicts are findings attached to
// a successful booking, never errors.
type BookingResult struct {
	Appointment *models.Appointment       `json:"appointment"`
	Conflicts   []models.ScheduleConflict `json:"conflicts,omitempty"`
}

// BookingService orchestrates the appointment lifecycle: rule evaluation,
// the locked booking transaction, conflict detection and outbox events.
type BookingService struct {
	store        BookingStore
	resources    BookingResourceRepo
	templates    BookingTemplateRepo
	teams        BookingTeamRepo
	rules        ActiveRuleRepo
	engine       *RuleEngine
	conflicts    *ConflictService
	availability *AvailabilityService
	validator    *validator.Validate
	metrics      *MetricsService
	logger       *zap.Logger
	cfg          BookingConfig
	now          func() time.Time
}

// NewBookingService constructs a booking service.
func NewBookingService(store BookingStore, resources BookingResourceRepo, rules ActiveRuleRepo, engine *RuleEngine, conflicts *ConflictService, availability *AvailabilityService, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg BookingConfig) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	return &BookingService{
		store:        store,
		resources:    resources,
		rules:        rules,
		engine:       engine,
		conflicts:    conflicts,
		availability: availability,
		validator:    validate,
		metrics:      metrics,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *BookingService) WithClock(now func() time.Time) *BookingService {
	s.now = now
	return s
}

// WithTemplates enables template-backed creation defaults.
func (s *BookingService) WithTemplates(templates BookingTemplateRepo) *BookingService {
	s.templates = templates
	return s
}

// WithTeams enables team member availability checks on booking writes.
func (s *BookingService) WithTeams(teams BookingTeamRepo) *BookingService {
	s.teams = teams
	return s
}

// Get fetches one appointment.
func (s *BookingService) Get(ctx context.Context, tenantID, id string) (*models.Appointment, error) {
	appt, err := s.store.FindByID(ctx, tenantID, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment")
	}
	return appt, nil
}

// List returns appointments matching the filter.
func (s *BookingService) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	if filter.TenantID == "" {
		return nil, 0, appErrors.ErrTenantRequired
	}
	return s.store.List(ctx, filter)
}

// Create books a new appointment. Hard rule violations reject the request
// before anything is written; detected overlaps become pending conflict
// records attached to the successful booking unless strict mode is on.
func (s *BookingService) Create(ctx context.Context, tenantID, actorID string, req CreateAppointmentRequest) (*BookingResult, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid appointment payload")
	}
	if req.TemplateID != nil {
		if err := s.applyTemplateDefaults(ctx, tenantID, &req); err != nil {
			return nil, err
		}
	}
	if req.EndTime.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time is required unless template_id supplies a default duration")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !models.ValidPriority(priority) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", priority))
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = s.cfg.DefaultTimezone
	}

	appt := &models.Appointment{
		TenantID:    tenantID,
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		Timezone:    timezone,
		Status:      models.StatusScheduled,
		Priority:    priority,
		TeamID:      req.TeamID,
		TemplateID:  req.TemplateID,
		Cost:        req.Cost,
		IsBillable:  req.IsBillable,
		CreatedBy:   actorID,
		ResourceIDs: dedupe(req.ResourceIDs),
		UserIDs:     dedupe(req.UserIDs),
	}

	capacities, err := s.checkResources(ctx, appt)
	if err != nil {
		return nil, err
	}
	if err := s.checkTeam(ctx, appt); err != nil {
		s.recordOutcome("create", "rejected")
		return nil, err
	}

	rules, err := s.rules.ListActive(ctx, tenantID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scheduling rules")
	}
	violations, err := s.engine.Evaluate(ctx, RuleOpCreate, appt, rules)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "rule evaluation failed")
	}
	if hard, _ := SplitViolations(violations); len(hard) > 0 {
		s.recordOutcome("create", "rejected")
		return nil, ruleViolationError(hard)
	}

	result, err := s.commitBooking(ctx, appt, rules, capacities, models.EventAppointmentCreated, actorID, nil)
	if err != nil {
		s.recordOutcome("create", "failed")
		return nil, err
	}

	s.invalidate(ctx, tenantID)
	s.recordOutcome("create", "ok")
	if s.logger != nil {
		s.logger.Info("appointment created",
			zap.String("appointment_id", result.Appointment.ID),
			zap.String("tenant_id", tenantID),
			zap.Int("conflicts", len(result.Conflicts)))
	}
	return result, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (s *BookingService) Confirm(ctx context.Context, tenantID, actorID, id string) (*models.Appointment, error) {
	return s.transition(ctx, tenantID, actorID, id, models.StatusConfirmed, models.EventAppointmentConfirmed)
}

// Start moves a confirmed appointment to in_progress.
func (s *BookingService) Start(ctx context.Context, tenantID, actorID, id string) (*models.Appointment, error) {
	return s.transition(ctx, tenantID, actorID, id, models.StatusInProgress, models.EventAppointmentUpdated)
}

// Complete finishes an in-progress appointment.
func (s *BookingService) Complete(ctx context.Context, tenantID, actorID, id string) (*models.Appointment, error) {
	return s.transition(ctx, tenantID, actorID, id, models.StatusCompleted, models.EventAppointmentCompleted)
}

// NoShow marks a missed appointment. Only allowed once the booked window
// has elapsed.
func (s *BookingService) NoShow(ctx context.Context, tenantID, actorID, id string) (*models.Appointment, error) {
	appt, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if s.now().Before(appt.EndTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot mark no-show before the appointment window has elapsed")
	}
	return s.transition(ctx, tenantID, actorID, id, models.StatusNoShow, models.EventAppointmentNoShow)
}

// Cancel cancels an appointment after enforcing cancellation-policy rules.
// The overlap its conflicts referenced no longer holds afterwards; a worker
// re-checks and closes them asynchronously.
func (s *BookingService) Cancel(ctx context.Context, tenantID, actorID, id string, reason *string) (*models.Appointment, error) {
	appt, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.enforceNoticeRules(ctx, RuleOpCancel, appt); err != nil {
		s.recordOutcome("cancel", "rejected")
		return nil, err
	}
	updated, err := s.transition(ctx, tenantID, actorID, id, models.StatusCancelled, models.EventAppointmentCancelled)
	if err != nil {
		return nil, err
	}
	s.recordOutcome("cancel", "ok")
	return updated, nil
}

// Reschedule moves an appointment to a new window by creating a linked
// replacement and marking the original rescheduled, atomically.
func (s *BookingService) Reschedule(ctx context.Context, tenantID, actorID, id string, req RescheduleRequest) (*BookingResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}

	original, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(original.Status, models.StatusRescheduled) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot reschedule appointment in status %s", original.Status))
	}
	if err := s.enforceNoticeRules(ctx, RuleOpReschedule, original); err != nil {
		s.recordOutcome("reschedule", "rejected")
		return nil, err
	}

	replacement := *original
	replacement.ID = ""
	replacement.StartTime = req.StartTime.UTC()
	replacement.EndTime = req.EndTime.UTC()
	replacement.Status = models.StatusScheduled
	replacement.ParentID = &original.ID
	replacement.CreatedBy = actorID
	replacement.CreatedAt = time.Time{}

	capacities, err := s.checkResources(ctx, &replacement)
	if err != nil {
		return nil, err
	}
	if err := s.checkTeam(ctx, &replacement); err != nil {
		s.recordOutcome("reschedule", "rejected")
		return nil, err
	}
	rules, err := s.rules.ListActive(ctx, tenantID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scheduling rules")
	}
	violations, err := s.engine.Evaluate(ctx, RuleOpCreate, &replacement, rules)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "rule evaluation failed")
	}
	if hard, _ := SplitViolations(violations); len(hard) > 0 {
		s.recordOutcome("reschedule", "rejected")
		return nil, ruleViolationError(hard)
	}

	parent := original
	result, err := s.commitBooking(ctx, &replacement, rules, capacities, models.EventAppointmentCreated, actorID, func(tx repository.BookingTx) error {
		ok, err := tx.UpdateAppointmentStatus(ctx, parent.ID, parent.Status, models.StatusRescheduled)
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrConcurrentModification, "appointment changed while rescheduling")
		}
		// The rescheduled event's aggregate is the parent: its window is the
		// one vacated, so the async sweep must close its conflicts, never the
		// replacement's freshly detected ones.
		moved := *parent
		moved.Status = models.StatusRescheduled
		return s.writeEvents(ctx, tx, &moved, models.EventAppointmentRescheduled, actorID, nil)
	})
	if err != nil {
		s.recordOutcome("reschedule", "failed")
		return nil, err
	}

	s.invalidate(ctx, tenantID)
	s.recordOutcome("reschedule", "ok")
	if s.logger != nil {
		s.logger.Info("appointment rescheduled",
			zap.String("parent_id", original.ID),
			zap.String("appointment_id", result.Appointment.ID))
	}
	return result, nil
}

// Update mutates appointment fields. A window change re-runs the full
// booking checks and may record fresh conflicts.
func (s *BookingService) Update(ctx context.Context, tenantID, actorID, id string, req UpdateAppointmentRequest) (*BookingResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}
	appt, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() || appt.Status == models.StatusRescheduled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot update appointment in status %s", appt.Status))
	}

	if req.Title != nil {
		appt.Title = *req.Title
	}
	if req.Description != nil {
		appt.Description = req.Description
	}
	if req.Priority != nil {
		if !models.ValidPriority(*req.Priority) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", *req.Priority))
		}
		appt.Priority = *req.Priority
	}
	if req.Cost != nil {
		appt.Cost = *req.Cost
	}
	if req.IsBillable != nil {
		appt.IsBillable = *req.IsBillable
	}

	windowChanged := false
	if req.StartTime != nil {
		appt.StartTime = req.StartTime.UTC()
		windowChanged = true
	}
	if req.EndTime != nil {
		appt.EndTime = req.EndTime.UTC()
		windowChanged = true
	}
	if !appt.EndTime.After(appt.StartTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}

	var rules []models.ScheduleRule
	var capacities map[string]int
	if windowChanged {
		capacities, err = s.checkResources(ctx, appt)
		if err != nil {
			return nil, err
		}
		if err := s.checkTeam(ctx, appt); err != nil {
			s.recordOutcome("update", "rejected")
			return nil, err
		}
		rules, err = s.rules.ListActive(ctx, tenantID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scheduling rules")
		}
		violations, err := s.engine.Evaluate(ctx, RuleOpUpdate, appt, rules)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "rule evaluation failed")
		}
		if hard, _ := SplitViolations(violations); len(hard) > 0 {
			s.recordOutcome("update", "rejected")
			return nil, ruleViolationError(hard)
		}
	}

	result := &BookingResult{Appointment: appt}
	err = s.store.InTx(ctx, func(tx repository.BookingTx) error {
		if windowChanged {
			if err := tx.AcquireAdvisoryLocks(ctx, lockKeys(appt)); err != nil {
				return err
			}
			detected, err := s.detectConflicts(ctx, tx, appt, rules, capacities)
			if err != nil {
				return err
			}
			if s.cfg.StrictConflicts && len(detected) > 0 {
				return appErrors.ErrConflictDetected
			}
			for i := range detected {
				if err := tx.InsertConflict(ctx, &detected[i]); err != nil {
					return err
				}
			}
			result.Conflicts = detected
		}
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		return s.writeEvents(ctx, tx, appt, models.EventAppointmentUpdated, actorID, result.Conflicts)
	})
	if err != nil {
		s.recordOutcome("update", "failed")
		return nil, err
	}

	s.invalidate(ctx, tenantID)
	s.recordOutcome("update", "ok")
	return result, nil
}

// applyTemplateDefaults fills request gaps from the referenced template.
// Explicit request values always win.
func (s *BookingService) applyTemplateDefaults(ctx context.Context, tenantID string, req *CreateAppointmentRequest) error {
	if s.templates == nil {
		return appErrors.Clone(appErrors.ErrValidation, "templates are not enabled")
	}
	tpl, err := s.templates.FindByID(ctx, tenantID, *req.TemplateID)
	if err != nil {
		if repository.IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}
	if req.EndTime.IsZero() && tpl.DefaultDuration > 0 {
		req.EndTime = req.StartTime.Add(time.Duration(tpl.DefaultDuration) * time.Minute)
	}
	if req.Cost == 0 {
		req.Cost = tpl.Price
	}
	if !req.IsBillable {
		req.IsBillable = tpl.IsBillable
	}
	return nil
}

// commitBooking runs the locked insert transaction shared by create and
// reschedule. extra runs inside the transaction after the locks are held.
func (s *BookingService) commitBooking(ctx context.Context, appt *models.Appointment, rules []models.ScheduleRule, capacities map[string]int, event models.EventType, actorID string, extra func(tx repository.BookingTx) error) (*BookingResult, error) {
	result := &BookingResult{Appointment: appt}
	err := s.store.InTx(ctx, func(tx repository.BookingTx) error {
		if err := tx.AcquireAdvisoryLocks(ctx, lockKeys(appt)); err != nil {
			return err
		}
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		detected, err := s.detectConflicts(ctx, tx, appt, rules, capacities)
		if err != nil {
			return err
		}
		if s.cfg.StrictConflicts && len(detected) > 0 {
			return appErrors.ErrConflictDetected
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		for i := range detected {
			detected[i].PrimaryAppointmentID = appt.ID
			if err := tx.InsertConflict(ctx, &detected[i]); err != nil {
				return err
			}
		}
		result.Conflicts = detected
		return s.writeEvents(ctx, tx, appt, event, actorID, detected)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// detectConflicts runs the overlap query and capacity counts under the
// advisory locks and classifies the findings.
func (s *BookingService) detectConflicts(ctx context.Context, tx repository.BookingTx, appt *models.Appointment, rules []models.ScheduleRule, capacities map[string]int) ([]models.ScheduleConflict, error) {
	overlapping, err := tx.ListOverlapping(ctx, appt.TenantID, appt.ResourceIDs, appt.TeamID, appt.UserIDs, appt.StartTime, appt.EndTime, appt.ID)
	if err != nil {
		return nil, err
	}

	ceilings := make(map[string]int, len(appt.ResourceIDs))
	granting := make(map[string]*models.ScheduleRule, len(appt.ResourceIDs))
	for _, resourceID := range appt.ResourceIDs {
		ceiling, rule := s.engine.EffectiveCapacity(rules, resourceID, appt.StartTime)
		ceilings[resourceID] = ceiling
		granting[resourceID] = rule
	}

	detected := s.conflicts.Classify(ClassifyInput{
		Candidate:        appt,
		Existing:         overlapping,
		Ceilings:         ceilings,
		ResourceCapacity: capacities,
		Now:              s.now().UTC(),
	})

	// A ceiling above one permits overlap up to the ceiling and no further.
	for _, resourceID := range appt.ResourceIDs {
		ceiling := ceilings[resourceID]
		if ceiling <= 1 {
			continue
		}
		count, err := tx.CountResourceOverlaps(ctx, appt.TenantID, resourceID, appt.StartTime, appt.EndTime, appt.ID)
		if err != nil {
			return nil, err
		}
		if count >= ceiling {
			rule := granting[resourceID]
			v := models.RuleViolation{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Kind:     models.RuleCapacityLimit,
				Message:  fmt.Sprintf("resource %s exceeds capacity ceiling %d", resourceID, ceiling),
				Details:  map[string]string{"resource_id": resourceID},
			}
			detected = append(detected, s.conflicts.CapacityConflict(appt, v))
		}
	}
	return detected, nil
}

func (s *BookingService) writeEvents(ctx context.Context, tx repository.BookingTx, appt *models.Appointment, event models.EventType, actorID string, conflicts []models.ScheduleConflict) error {
	payload, err := json.Marshal(models.AppointmentEventPayload{
		AppointmentID: appt.ID,
		Title:         appt.Title,
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
		Status:        string(appt.Status),
		TeamID:        appt.TeamID,
		ResourceIDs:   appt.ResourceIDs,
		UserIDs:       appt.UserIDs,
		ActorID:       actorID,
	})
	if err != nil {
		return fmt.Errorf("marshal appointment event: %w", err)
	}
	if err := tx.InsertOutboxEvent(ctx, &models.OutboxEvent{
		TenantID:    appt.TenantID,
		Type:        event,
		AggregateID: appt.ID,
		Payload:     payload,
	}); err != nil {
		return err
	}

	for i := range conflicts {
		c := &conflicts[i]
		conflictPayload, err := json.Marshal(models.ConflictEventPayload{
			ConflictID:             c.ID,
			PrimaryAppointmentID:   c.PrimaryAppointmentID,
			SecondaryAppointmentID: c.SecondaryAppointmentID,
			Type:                   string(c.Type),
			Impact:                 string(c.Impact),
			Status:                 string(c.Status),
		})
		if err != nil {
			return fmt.Errorf("marshal conflict event: %w", err)
		}
		if err := tx.InsertOutboxEvent(ctx, &models.OutboxEvent{
			TenantID:    appt.TenantID,
			Type:        models.EventConflictDetected,
			AggregateID: c.ID,
			Payload:     conflictPayload,
		}); err != nil {
			return err
		}
	}
	return nil
}

// transition applies one guarded status change and emits the matching
// outbox event.
func (s *BookingService) transition(ctx context.Context, tenantID, actorID, id string, to models.AppointmentStatus, event models.EventType) (*models.Appointment, error) {
	appt, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(appt.Status, to) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot transition appointment from %s to %s", appt.Status, to))
	}

	from := appt.Status
	err = s.store.InTx(ctx, func(tx repository.BookingTx) error {
		ok, err := tx.UpdateAppointmentStatus(ctx, id, from, to)
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrConcurrentModification, "appointment status changed concurrently")
		}
		appt.Status = to
		return s.writeEvents(ctx, tx, appt, event, actorID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, tenantID)
	if s.logger != nil {
		s.logger.Info("appointment status changed",
			zap.String("appointment_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	}
	return appt, nil
}

// enforceNoticeRules evaluates cancellation-policy rules for cancel and
// reschedule requests.
func (s *BookingService) enforceNoticeRules(ctx context.Context, op RuleOperation, appt *models.Appointment) error {
	rules, err := s.rules.ListActive(ctx, appt.TenantID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scheduling rules")
	}
	violations, err := s.engine.Evaluate(ctx, op, appt, rules)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "rule evaluation failed")
	}
	var notice []models.RuleViolation
	for _, v := range violations {
		if v.Kind == models.RuleCancellation {
			notice = append(notice, v)
		}
	}
	if len(notice) > 0 {
		return ruleViolationError(notice)
	}
	return nil
}

// checkResources verifies every referenced resource exists, accepts
// bookings and has no maintenance window overlapping the candidate. It
// returns the physical capacities for impact scoring.
func (s *BookingService) checkResources(ctx context.Context, appt *models.Appointment) (map[string]int, error) {
	capacities := map[string]int{}
	if len(appt.ResourceIDs) == 0 {
		return capacities, nil
	}

	resources, err := s.resources.FindByIDs(ctx, appt.TenantID, appt.ResourceIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resources")
	}
	byID := make(map[string]*models.Resource, len(resources))
	for i := range resources {
		byID[resources[i].ID] = &resources[i]
	}
	for _, id := range appt.ResourceIDs {
		resource, ok := byID[id]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("resource %s not found", id))
		}
		if !resource.Bookable() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("resource %s is not accepting bookings", id))
		}
		capacities[id] = resource.Capacity
	}

	maintenance, err := s.resources.MaintenanceWindowsIn(ctx, appt.ResourceIDs, appt.StartTime, appt.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load maintenance windows")
	}
	window := appt.Window()
	for _, m := range maintenance {
		if window.Overlaps(interval.New(m.StartTime, m.EndTime)) {
			return nil, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("resource %s is under maintenance during the requested window", m.ResourceID))
		}
	}
	return capacities, nil
}

// checkTeam verifies an assigned team is active and has at least one active
// member whose weekly schedule covers the whole booked window.
func (s *BookingService) checkTeam(ctx context.Context, appt *models.Appointment) error {
	if appt.TeamID == nil || s.teams == nil {
		return nil
	}
	team, err := s.teams.FindByID(ctx, appt.TenantID, *appt.TeamID)
	if err != nil {
		if repository.IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("team %s not found", *appt.TeamID))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load team")
	}
	if !team.IsActive {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("team %s is not accepting bookings", team.ID))
	}
	window := appt.Window()
	for i := range team.Members {
		member := &team.Members[i]
		if member.IsActive && member.Availability.Covers(window) {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrValidation, "no active team member is available for the requested window")
}

func (s *BookingService) invalidate(ctx context.Context, tenantID string) {
	if s.availability != nil {
		s.availability.Invalidate(ctx, tenantID)
	}
}

func (s *BookingService) recordOutcome(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordBookingOperation(operation, outcome)
	}
}

// lockKeys builds the advisory lock key set: one per resource plus the team.
func lockKeys(appt *models.Appointment) []string {
	keys := make([]string, 0, len(appt.ResourceIDs)+1)
	for _, id := range appt.ResourceIDs {
		keys = append(keys, "resource:"+id)
	}
	if appt.TeamID != nil {
		keys = append(keys, "team:"+*appt.TeamID)
	}
	return keys
}

// ruleViolationError wraps the violation list in the typed 422 error. The
// violations ride on Details so the response body names every failed rule and
// its parameters.
func ruleViolationError(violations []models.RuleViolation) error {
	return appErrors.Wrap(&models.RuleViolationError{Violations: violations},
		appErrors.ErrRuleViolation.Code, appErrors.ErrRuleViolation.Status, appErrors.ErrRuleViolation.Message).
		WithDetails(violations)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
