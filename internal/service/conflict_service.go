package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
)

// ConflictRepo is the persistence surface for conflict records.
type ConflictRepo interface {
	List(ctx context.Context, filter models.ConflictFilter) ([]models.ScheduleConflict, int, error)
	FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleConflict, error)
	ListOpenByAppointment(ctx context.Context, tenantID, appointmentID string) ([]models.ScheduleConflict, error)
	Close(ctx context.Context, tenantID, id string, status models.ConflictStatus, resolvedBy, notes string) (bool, error)
	Escalate(ctx context.Context, tenantID, id string, impact models.ConflictImpact) (bool, error)
}

// ConflictNotifier fans out a notification for a conflict. Elevated
// notifications add organization admins to the recipient set.
type ConflictNotifier interface {
	NotifyConflict(ctx context.Context, conflict *models.ScheduleConflict, elevated bool) error
}

// ClassifyInput carries everything the detector needs to classify one
// candidate against its committed overlaps inside the booking transaction.
type ClassifyInput struct {
	Candidate *models.Appointment
	Existing  []models.Appointment
	// Ceilings maps resource id to the effective concurrency ceiling from
	// capacity rules; absent means one.
	Ceilings map[string]int
	// ResourceCapacity maps resource id to the physical capacity attribute,
	// used for impact scoring.
	ResourceCapacity map[string]int
	Now              time.Time
}

// ConflictService classifies detected conflicts and drives the resolution
// state machine.
type ConflictService struct {
	repo     ConflictRepo
	notifier ConflictNotifier
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewConflictService constructs a conflict service.
func NewConflictService(repo ConflictRepo, notifier ConflictNotifier, metrics *MetricsService, logger *zap.Logger) *ConflictService {
	return &ConflictService{repo: repo, notifier: notifier, metrics: metrics, logger: logger}
}

// Classify produces at most one conflict per overlapping pair, first match
// in precedence order: double_booking, resource_conflict, team_conflict,
// time_conflict. Overlap on a resource whose ceiling permits it produces no
// pair conflict; capacity exceedance is raised separately from rule findings.
func (s *ConflictService) Classify(in ClassifyInput) []models.ScheduleConflict {
	candidate := in.Candidate
	var conflicts []models.ScheduleConflict

	for i := range in.Existing {
		other := &in.Existing[i]
		if other.ID == candidate.ID {
			continue
		}
		if !candidate.Window().Overlaps(other.Window()) {
			continue
		}

		shared := intersect(candidate.ResourceIDs, other.ResourceIDs)
		contested := contestedResources(shared, in.Ceilings)
		sharedUsers := intersect(candidate.UserIDs, other.UserIDs)
		sameTeam := candidate.TeamID != nil && other.TeamID != nil && *candidate.TeamID == *other.TeamID

		var conflictType models.ConflictType
		var resourceID *string
		switch {
		case len(contested) > 0 && sameWindow(candidate, other) && candidate.Status == other.Status:
			conflictType = models.ConflictDoubleBooking
			resourceID = &contested[0]
		case len(contested) > 0:
			conflictType = models.ConflictResource
			resourceID = &contested[0]
		case len(sharedUsers) > 0 || sameTeam:
			conflictType = models.ConflictTeam
		case len(shared) > 0:
			// Overlap fully inside a permitted capacity ceiling.
			continue
		default:
			conflictType = models.ConflictTime
		}

		conflict := models.ScheduleConflict{
			TenantID:               candidate.TenantID,
			PrimaryAppointmentID:   candidate.ID,
			SecondaryAppointmentID: &other.ID,
			ResourceID:             resourceID,
			TeamID:                 candidate.TeamID,
			Type:                   conflictType,
			Impact:                 scoreImpact(candidate, other, contested, in.ResourceCapacity, in.Now),
			Status:                 models.ConflictPending,
		}
		conflicts = append(conflicts, conflict)
		if s.metrics != nil {
			s.metrics.RecordConflictDetected(conflictType)
		}
	}
	return conflicts
}

// CapacityConflict turns a capacity rule finding into a pending
// capacity_exceeded conflict.
func (s *ConflictService) CapacityConflict(candidate *models.Appointment, v models.RuleViolation) models.ScheduleConflict {
	var resourceID *string
	if id, ok := v.Details["resource_id"]; ok {
		resourceID = &id
	}
	ruleID := v.RuleID
	conflict := models.ScheduleConflict{
		TenantID:             candidate.TenantID,
		PrimaryAppointmentID: candidate.ID,
		RuleID:               &ruleID,
		ResourceID:           resourceID,
		TeamID:               candidate.TeamID,
		Type:                 models.ConflictCapacityExceeded,
		Impact:               models.ImpactMedium,
		Status:               models.ConflictPending,
	}
	if s.metrics != nil {
		s.metrics.RecordConflictDetected(models.ConflictCapacityExceeded)
	}
	return conflict
}

// List returns conflicts matching the filter.
func (s *ConflictService) List(ctx context.Context, filter models.ConflictFilter) ([]models.ScheduleConflict, int, error) {
	if filter.TenantID == "" {
		return nil, 0, appErrors.ErrTenantRequired
	}
	return s.repo.List(ctx, filter)
}

// Get fetches one conflict.
func (s *ConflictService) Get(ctx context.Context, tenantID, id string) (*models.ScheduleConflict, error) {
	conflict, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "conflict not found")
	}
	return conflict, nil
}

// Resolve applies a resolution action. Resolve and ignore close the
// conflict and stamp resolved_at once; escalate raises impact one step,
// fans out an elevated notification and leaves resolved_at null. A guard on
// the current status makes concurrent resolutions lose with
// ErrStaleConflict instead of double-applying.
func (s *ConflictService) Resolve(ctx context.Context, tenantID, id string, action models.ResolutionAction, actorID, notes string) (*models.ScheduleConflict, error) {
	target, err := action.TargetStatus()
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	conflict, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "conflict not found")
	}

	var updated bool
	switch target {
	case models.ConflictResolved, models.ConflictIgnored:
		updated, err = s.repo.Close(ctx, tenantID, id, target, actorID, notes)
	case models.ConflictEscalated:
		updated, err = s.repo.Escalate(ctx, tenantID, id, conflict.Impact.Escalate())
	}
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, appErrors.ErrStaleConflict
	}

	result, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if target == models.ConflictEscalated && s.notifier != nil {
		if err := s.notifier.NotifyConflict(ctx, result, true); err != nil && s.logger != nil {
			s.logger.Warn("escalation notification failed",
				zap.String("conflict_id", id), zap.Error(err))
		}
	}

	if s.logger != nil {
		s.logger.Info("conflict resolution applied",
			zap.String("conflict_id", id),
			zap.String("action", string(action)),
			zap.String("actor_id", actorID))
	}
	return result, nil
}

// CloseForAppointment resolves the open conflicts of an appointment with a
// system note. Used after cancellations remove the underlying overlap.
func (s *ConflictService) CloseForAppointment(ctx context.Context, tenantID, appointmentID, note string) error {
	open, err := s.repo.ListOpenByAppointment(ctx, tenantID, appointmentID)
	if err != nil {
		return err
	}
	for _, conflict := range open {
		if _, err := s.repo.Close(ctx, tenantID, conflict.ID, models.ConflictResolved, "system", note); err != nil {
			return err
		}
	}
	return nil
}

func sameWindow(a, b *models.Appointment) bool {
	return a.StartTime.Equal(b.StartTime) && a.EndTime.Equal(b.EndTime)
}

// contestedResources filters shared resources down to those whose ceiling
// forbids overlap.
func contestedResources(shared []string, ceilings map[string]int) []string {
	var out []string
	for _, id := range shared {
		if ceilings[id] <= 1 {
			out = append(out, id)
		}
	}
	return out
}

func intersect(a, b []string) []string {
	var out []string
	for _, x := range a {
		for _, y := range b {
			if x == y {
				out = append(out, x)
				break
			}
		}
	}
	return out
}

func scoreImpact(candidate, other *models.Appointment, contested []string, capacities map[string]int, now time.Time) models.ConflictImpact {
	if priorityElevated(candidate.Priority) || priorityElevated(other.Priority) {
		return models.ImpactCritical
	}
	for _, id := range contested {
		if capacities[id] == 1 {
			return models.ImpactCritical
		}
	}
	if candidate.Status == models.StatusConfirmed && other.Status == models.StatusConfirmed {
		return models.ImpactHigh
	}
	horizon := now.Add(30 * 24 * time.Hour)
	if candidate.StartTime.After(horizon) || other.StartTime.After(horizon) {
		return models.ImpactLow
	}
	return models.ImpactMedium
}

func priorityElevated(p models.AppointmentPriority) bool {
	return p == models.PriorityHigh || p == models.PriorityUrgent
}
