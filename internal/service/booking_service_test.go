package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/internal/repository"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
)

type stubTx struct {
	overlaps      []models.Appointment
	counts        map[string]int
	lockedKeys    []string
	appointments  []*models.Appointment
	conflicts     []*models.ScheduleConflict
	events        []*models.OutboxEvent
	statusChanges []string
	failStatus    bool
}

func (s *stubTx) AcquireAdvisoryLocks(ctx context.Context, keys []string) error {
	s.lockedKeys = append(s.lockedKeys, keys...)
	return nil
}

func (s *stubTx) ListOverlapping(ctx context.Context, tenantID string, resourceIDs []string, teamID *string, userIDs []string, start, end time.Time, excludeID string) ([]models.Appointment, error) {
	return s.overlaps, nil
}

func (s *stubTx) CountResourceOverlaps(ctx context.Context, tenantID, resourceID string, start, end time.Time, excludeID string) (int, error) {
	return s.counts[resourceID], nil
}

func (s *stubTx) InsertAppointment(ctx context.Context, a *models.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.appointments = append(s.appointments, a)
	return nil
}

func (s *stubTx) UpdateAppointmentStatus(ctx context.Context, id string, from, to models.AppointmentStatus) (bool, error) {
	if s.failStatus {
		return false, nil
	}
	s.statusChanges = append(s.statusChanges, id+":"+string(from)+">"+string(to))
	return true, nil
}

func (s *stubTx) UpdateAppointment(ctx context.Context, a *models.Appointment) error {
	s.appointments = append(s.appointments, a)
	return nil
}

func (s *stubTx) InsertConflict(ctx context.Context, c *models.ScheduleConflict) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.conflicts = append(s.conflicts, c)
	return nil
}

func (s *stubTx) InsertOutboxEvent(ctx context.Context, e *models.OutboxEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.events = append(s.events, e)
	return nil
}

type stubStore struct {
	tx     *stubTx
	byID   map[string]*models.Appointment
	listed []models.Appointment
}

func (s *stubStore) InTx(ctx context.Context, fn func(tx repository.BookingTx) error) error {
	return fn(s.tx)
}

func (s *stubStore) FindByID(ctx context.Context, tenantID, id string) (*models.Appointment, error) {
	if a, ok := s.byID[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubStore) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	return s.listed, len(s.listed), nil
}

type stubResourceRepo struct {
	resources   map[string]models.Resource
	maintenance []models.MaintenanceWindow
}

func (s *stubResourceRepo) FindByIDs(ctx context.Context, tenantID string, ids []string) ([]models.Resource, error) {
	var out []models.Resource
	for _, id := range ids {
		if r, ok := s.resources[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubResourceRepo) MaintenanceWindowsIn(ctx context.Context, resourceIDs []string, start, end time.Time) ([]models.MaintenanceWindow, error) {
	return s.maintenance, nil
}

type stubRuleRepo struct {
	rules []models.ScheduleRule
}

func (s *stubRuleRepo) ListActive(ctx context.Context, tenantID string) ([]models.ScheduleRule, error) {
	return s.rules, nil
}

type bookingFixture struct {
	svc   *BookingService
	store *stubStore
	tx    *stubTx
	rules *stubRuleRepo
}

func newBookingFixture(t *testing.T, rules []models.ScheduleRule, cfg BookingConfig) *bookingFixture {
	t.Helper()
	tx := &stubTx{counts: map[string]int{}}
	store := &stubStore{tx: tx, byID: map[string]*models.Appointment{}}
	resources := &stubResourceRepo{resources: map[string]models.Resource{
		"room-a": {ID: "room-a", TenantID: "tenant-1", Capacity: 1, IsActive: true, IsAvailable: true},
		"room-b": {ID: "room-b", TenantID: "tenant-1", Capacity: 4, IsActive: true, IsAvailable: true},
	}}
	ruleRepo := &stubRuleRepo{rules: rules}
	counter := &stubCounter{counts: map[string]int{}}
	engine := NewRuleEngine(counter, zap.NewNop()).WithClock(fixedClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	conflicts := NewConflictService(&mockConflictRepo{}, nil, nil, zap.NewNop())

	svc := NewBookingService(store, resources, ruleRepo, engine, conflicts, nil, nil, nil, zap.NewNop(), cfg)
	svc.WithClock(fixedClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	return &bookingFixture{svc: svc, store: store, tx: tx, rules: ruleRepo}
}

func createRequest(resourceID string, start, end time.Time) CreateAppointmentRequest {
	return CreateAppointmentRequest{
		Title:       "Planning session",
		StartTime:   start,
		EndTime:     end,
		ResourceIDs: []string{resourceID},
		UserIDs:     []string{"user-1"},
	}
}

func TestCreateCleanBooking(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	result, err := f.svc.Create(context.Background(), "tenant-1", "user-1", createRequest("room-a", start, start.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, result.Appointment.Status)
	assert.Empty(t, result.Conflicts)
	require.Len(t, f.tx.appointments, 1)
	assert.Contains(t, f.tx.lockedKeys, "resource:room-a")
	require.Len(t, f.tx.events, 1)
	assert.Equal(t, models.EventAppointmentCreated, f.tx.events[0].Type)
}

func TestCreateDetectsResourceConflict(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.tx.overlaps = []models.Appointment{{
		ID:          "existing",
		StartTime:   start.Add(-30 * time.Minute),
		EndTime:     start.Add(30 * time.Minute),
		Status:      models.StatusConfirmed,
		Priority:    models.PriorityNormal,
		ResourceIDs: []string{"room-a"},
	}}

	result, err := f.svc.Create(context.Background(), "tenant-1", "user-1", createRequest("room-a", start.Add(30*time.Minute), start.Add(90*time.Minute)))
	require.NoError(t, err, "advisory mode records conflicts instead of failing")
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.ConflictResource, result.Conflicts[0].Type)
	assert.Equal(t, models.ConflictPending, result.Conflicts[0].Status)
	assert.Equal(t, result.Appointment.ID, result.Conflicts[0].PrimaryAppointmentID)
	require.Len(t, f.tx.appointments, 1)
	require.Len(t, f.tx.conflicts, 1)
	// One appointment event plus one conflict event.
	assert.Len(t, f.tx.events, 2)
}

func TestCreateDetectsSharedUserConflict(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	// The existing booking holds a different room; only user-1 is shared.
	f.tx.overlaps = []models.Appointment{{
		ID:          "existing",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Status:      models.StatusConfirmed,
		Priority:    models.PriorityNormal,
		ResourceIDs: []string{"room-b"},
		UserIDs:     []string{"user-1"},
	}}

	result, err := f.svc.Create(context.Background(), "tenant-1", "user-1", createRequest("room-a", start, start.Add(time.Hour)))
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.ConflictTeam, result.Conflicts[0].Type)
	assert.Nil(t, result.Conflicts[0].ResourceID)
}

func TestCreateRejectedByWorkingHoursWritesNothing(t *testing.T) {
	rules := []models.ScheduleRule{
		activeRule(models.RuleWorkingHours, models.RuleParams{
			WorkingHours: &models.WorkingHoursParams{Start: "09:00", End: "17:00"},
		}),
	}
	f := newBookingFixture(t, rules, BookingConfig{})
	start := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

	_, err := f.svc.Create(context.Background(), "tenant-1", "user-1", createRequest("room-a", start, start.Add(time.Hour)))
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrRuleViolation.Code, appErr.Code)
	require.NotNil(t, appErr.Details, "violation list must reach the response body")
	var violations *models.RuleViolationError
	require.True(t, errors.As(err, &violations))
	require.Len(t, violations.Violations, 1)
	assert.Equal(t, models.RuleWorkingHours, violations.Violations[0].Kind)

	assert.Empty(t, f.tx.appointments, "rejected booking must write nothing")
	assert.Empty(t, f.tx.conflicts)
	assert.Empty(t, f.tx.events)
}

func TestCreateCapacityCeiling(t *testing.T) {
	rule := activeRule(models.RuleCapacityLimit, models.RuleParams{
		CapacityLimit: &models.CapacityLimitParams{MaxConcurrent: 2},
	})
	rule.Scope = models.RuleScope{ResourceIDs: []string{"room-b"}}
	f := newBookingFixture(t, []models.ScheduleRule{rule}, BookingConfig{})
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	req := createRequest("room-b", start, start.Add(time.Hour))

	// First booking: no committed overlap yet.
	result, err := f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)

	// Second booking overlaps one committed appointment, still under the
	// ceiling, and the permitted overlap raises no conflict.
	f.tx.counts["room-b"] = 1
	f.tx.overlaps = []models.Appointment{{
		ID: "first", StartTime: start, EndTime: start.Add(time.Hour),
		Status: models.StatusConfirmed, Priority: models.PriorityNormal,
		ResourceIDs: []string{"room-b"},
	}}
	result, err = f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)

	// Third booking hits the ceiling.
	f.tx.counts["room-b"] = 2
	f.tx.overlaps = append(f.tx.overlaps, models.Appointment{
		ID: "second", StartTime: start, EndTime: start.Add(time.Hour),
		Status: models.StatusScheduled, Priority: models.PriorityNormal,
		ResourceIDs: []string{"room-b"},
	})
	result, err = f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.ConflictCapacityExceeded, result.Conflicts[0].Type)
	require.NotNil(t, result.Conflicts[0].RuleID)
	assert.Equal(t, rule.ID, *result.Conflicts[0].RuleID)
}

func TestCreateStrictModeRejects(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{StrictConflicts: true})
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.tx.overlaps = []models.Appointment{{
		ID: "existing", StartTime: start, EndTime: start.Add(time.Hour),
		Status: models.StatusScheduled, Priority: models.PriorityNormal,
		ResourceIDs: []string{"room-a"},
	}}

	_, err := f.svc.Create(context.Background(), "tenant-1", "user-1", createRequest("room-a", start, start.Add(time.Hour)))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflictDetected.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.tx.appointments)
}

func TestCreateValidation(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, err := f.svc.Create(context.Background(), "", "user-1", createRequest("room-a", start, start.Add(time.Hour)))
	assert.Equal(t, appErrors.ErrTenantRequired.Code, appErrors.FromError(err).Code)

	req := createRequest("room-a", start, start)
	_, err = f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	req = createRequest("room-missing", start, start.Add(time.Hour))
	_, err = f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCreateRejectsMaintenanceOverlap(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	resourceRepo := f.svc.resources.(*stubResourceRepo)
	resourceRepo.maintenance = []models.MaintenanceWindow{{
		ID: "m1", ResourceID: "room-a",
		StartTime: start.Add(-time.Hour), EndTime: start.Add(30 * time.Minute),
	}}

	_, err := f.svc.Create(context.Background(), "tenant-1", "user-1", createRequest("room-a", start, start.Add(time.Hour)))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    models.AppointmentStatus
		to      models.AppointmentStatus
		allowed bool
	}{
		{models.StatusScheduled, models.StatusConfirmed, true},
		{models.StatusScheduled, models.StatusCancelled, true},
		{models.StatusScheduled, models.StatusRescheduled, true},
		{models.StatusScheduled, models.StatusInProgress, false},
		{models.StatusScheduled, models.StatusCompleted, false},
		{models.StatusScheduled, models.StatusNoShow, false},
		{models.StatusConfirmed, models.StatusInProgress, true},
		{models.StatusConfirmed, models.StatusCancelled, true},
		{models.StatusConfirmed, models.StatusRescheduled, true},
		{models.StatusConfirmed, models.StatusNoShow, true},
		{models.StatusConfirmed, models.StatusCompleted, false},
		{models.StatusConfirmed, models.StatusScheduled, false},
		{models.StatusInProgress, models.StatusCompleted, true},
		{models.StatusInProgress, models.StatusNoShow, true},
		{models.StatusInProgress, models.StatusCancelled, false},
		{models.StatusInProgress, models.StatusRescheduled, false},
		{models.StatusCompleted, models.StatusConfirmed, false},
		{models.StatusCompleted, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusScheduled, false},
		{models.StatusCancelled, models.StatusConfirmed, false},
		{models.StatusNoShow, models.StatusCompleted, false},
		{models.StatusRescheduled, models.StatusScheduled, false},
		{models.StatusRescheduled, models.StatusConfirmed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, models.CanTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestConfirmHappyPath(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	f.store.byID["a1"] = &models.Appointment{
		ID: "a1", TenantID: "tenant-1", Status: models.StatusScheduled,
		StartTime: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}

	appt, err := f.svc.Confirm(context.Background(), "tenant-1", "user-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, appt.Status)
	require.Len(t, f.tx.events, 1)
	assert.Equal(t, models.EventAppointmentConfirmed, f.tx.events[0].Type)
}

func TestInvalidTransitionRejected(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	f.store.byID["a1"] = &models.Appointment{
		ID: "a1", TenantID: "tenant-1", Status: models.StatusCompleted,
	}

	_, err := f.svc.Confirm(context.Background(), "tenant-1", "user-1", "a1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestTransitionConcurrentChange(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	f.tx.failStatus = true
	f.store.byID["a1"] = &models.Appointment{
		ID: "a1", TenantID: "tenant-1", Status: models.StatusScheduled,
	}

	_, err := f.svc.Confirm(context.Background(), "tenant-1", "user-1", "a1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConcurrentModification.Code, appErrors.FromError(err).Code)
}

func TestNoShowRequiresElapsedWindow(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.store.byID["a1"] = &models.Appointment{
		ID: "a1", TenantID: "tenant-1", Status: models.StatusConfirmed,
		StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour),
	}

	_, err := f.svc.NoShow(context.Background(), "tenant-1", "user-1", "a1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	f.store.byID["a1"].StartTime = now.Add(-2 * time.Hour)
	f.store.byID["a1"].EndTime = now.Add(-time.Hour)
	appt, err := f.svc.NoShow(context.Background(), "tenant-1", "user-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoShow, appt.Status)
}

func TestCancelEnforcesNoticeRules(t *testing.T) {
	rules := []models.ScheduleRule{
		activeRule(models.RuleCancellation, models.RuleParams{
			Cancellation: &models.CancellationParams{MinNoticeHours: 48},
		}),
	}
	f := newBookingFixture(t, rules, BookingConfig{})
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.store.byID["a1"] = &models.Appointment{
		ID: "a1", TenantID: "tenant-1", Status: models.StatusScheduled,
		StartTime: now.Add(3 * time.Hour), EndTime: now.Add(4 * time.Hour),
	}

	_, err := f.svc.Cancel(context.Background(), "tenant-1", "user-1", "a1", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRuleViolation.Code, appErrors.FromError(err).Code)

	f.store.byID["a1"].StartTime = now.Add(72 * time.Hour)
	f.store.byID["a1"].EndTime = now.Add(73 * time.Hour)
	appt, err := f.svc.Cancel(context.Background(), "tenant-1", "user-1", "a1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, appt.Status)
	require.NotEmpty(t, f.tx.events)
	assert.Equal(t, models.EventAppointmentCancelled, f.tx.events[len(f.tx.events)-1].Type)
}

func TestRescheduleLinksReplacement(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.store.byID["a1"] = &models.Appointment{
		ID: "a1", TenantID: "tenant-1", Title: "Original", Status: models.StatusConfirmed,
		StartTime: now.Add(24 * time.Hour), EndTime: now.Add(25 * time.Hour),
		Timezone: "UTC", Priority: models.PriorityNormal,
		ResourceIDs: []string{"room-a"}, UserIDs: []string{"user-1"},
	}

	result, err := f.svc.Reschedule(context.Background(), "tenant-1", "user-2", "a1", RescheduleRequest{
		StartTime: now.Add(48 * time.Hour),
		EndTime:   now.Add(49 * time.Hour),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Appointment.ParentID)
	assert.Equal(t, "a1", *result.Appointment.ParentID)
	assert.Equal(t, models.StatusScheduled, result.Appointment.Status)
	assert.Equal(t, "user-2", result.Appointment.CreatedBy)
	require.Len(t, f.tx.statusChanges, 1)
	assert.Equal(t, "a1:confirmed>rescheduled", f.tx.statusChanges[0])
	require.Len(t, f.tx.events, 2)
	assert.Equal(t, models.EventAppointmentRescheduled, f.tx.events[0].Type)
	assert.Equal(t, "a1", f.tx.events[0].AggregateID)
	assert.Equal(t, models.EventAppointmentCreated, f.tx.events[1].Type)
	assert.Equal(t, result.Appointment.ID, f.tx.events[1].AggregateID)
}

func TestRescheduleVacatedEventTargetsParent(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.store.byID["a1"] = &models.Appointment{
		ID: "a1", TenantID: "tenant-1", Title: "Original", Status: models.StatusScheduled,
		StartTime: now.Add(24 * time.Hour), EndTime: now.Add(25 * time.Hour),
		Timezone: "UTC", Priority: models.PriorityNormal,
		ResourceIDs: []string{"room-a"}, UserIDs: []string{"user-1"},
	}
	// The target window is already taken, so the replacement picks up a fresh
	// pending conflict that the vacate sweep must leave untouched.
	f.tx.overlaps = []models.Appointment{{
		ID: "other", TenantID: "tenant-1", Status: models.StatusScheduled,
		StartTime: now.Add(48 * time.Hour), EndTime: now.Add(49 * time.Hour),
		ResourceIDs: []string{"room-a"},
	}}

	result, err := f.svc.Reschedule(context.Background(), "tenant-1", "user-2", "a1", RescheduleRequest{
		StartTime: now.Add(48 * time.Hour),
		EndTime:   now.Add(49 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, result.Appointment.ID, result.Conflicts[0].PrimaryAppointmentID)

	var rescheduled, created *models.OutboxEvent
	for _, e := range f.tx.events {
		switch e.Type {
		case models.EventAppointmentRescheduled:
			rescheduled = e
		case models.EventAppointmentCreated:
			created = e
		}
	}
	require.NotNil(t, rescheduled)
	require.NotNil(t, created)
	assert.Equal(t, "a1", rescheduled.AggregateID)
	assert.NotEqual(t, result.Appointment.ID, rescheduled.AggregateID)
	assert.Equal(t, result.Appointment.ID, created.AggregateID)
}

func TestUpdateWindowChangeRerunsChecks(t *testing.T) {
	rules := []models.ScheduleRule{
		activeRule(models.RuleWorkingHours, models.RuleParams{
			WorkingHours: &models.WorkingHoursParams{Start: "09:00", End: "17:00"},
		}),
	}
	f := newBookingFixture(t, rules, BookingConfig{})
	f.store.byID["a1"] = &models.Appointment{
		ID: "a1", TenantID: "tenant-1", Title: "Original", Status: models.StatusScheduled,
		StartTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		Timezone:  "UTC", Priority: models.PriorityNormal,
		ResourceIDs: []string{"room-a"},
	}

	late := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	end := late.Add(time.Hour)
	_, err := f.svc.Update(context.Background(), "tenant-1", "user-1", "a1", UpdateAppointmentRequest{
		StartTime: &late, EndTime: &end,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRuleViolation.Code, appErrors.FromError(err).Code)

	newTitle := "Renamed"
	result, err := f.svc.Update(context.Background(), "tenant-1", "user-1", "a1", UpdateAppointmentRequest{Title: &newTitle})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", result.Appointment.Title)
	assert.Empty(t, result.Conflicts)
}

func fieldOpsTeam(active bool) *models.Team {
	return &models.Team{
		ID: "team-1", TenantID: "tenant-1", Name: "Field Ops", IsActive: active,
		Members: []models.TeamMember{
			{UserID: "user-1", IsActive: true, Availability: models.WeeklyAvailability{
				{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			}},
			// Inactive members never satisfy the coverage check, whatever
			// their schedule says.
			{UserID: "user-2", IsActive: false, Availability: models.WeeklyAvailability{
				{Weekday: time.Monday, StartMinute: 0, EndMinute: 24 * 60},
			}},
		},
	}
}

func TestCreateRequiresAvailableTeamMember(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	f.svc.WithTeams(&mockTeamLookup{teams: map[string]*models.Team{"team-1": fieldOpsTeam(true)}})

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	req := createRequest("room-b", monday, monday.Add(time.Hour))
	req.TeamID = strPtr("team-1")
	result, err := f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)

	evening := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	req = createRequest("room-b", evening, evening.Add(time.Hour))
	req.TeamID = strPtr("team-1")
	_, err = f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Len(t, f.tx.appointments, 1, "rejected team booking must write nothing further")
}

func TestCreateRejectsInactiveTeam(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	f.svc.WithTeams(&mockTeamLookup{teams: map[string]*models.Team{"team-1": fieldOpsTeam(false)}})

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	req := createRequest("room-b", monday, monday.Add(time.Hour))
	req.TeamID = strPtr("team-1")

	_, err := f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateUnknownTeam(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	f.svc.WithTeams(&mockTeamLookup{teams: map[string]*models.Team{}})

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	req := createRequest("room-b", monday, monday.Add(time.Hour))
	req.TeamID = strPtr("team-9")

	_, err := f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRescheduleRechecksTeamAvailability(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	f.svc.WithTeams(&mockTeamLookup{teams: map[string]*models.Team{"team-1": fieldOpsTeam(true)}})
	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f.store.byID["a1"] = &models.Appointment{
		ID: "a1", TenantID: "tenant-1", Title: "Site walk", Status: models.StatusScheduled,
		StartTime: monday, EndTime: monday.Add(time.Hour),
		Timezone: "UTC", Priority: models.PriorityNormal,
		TeamID: strPtr("team-1"), ResourceIDs: []string{"room-b"},
	}

	// Tuesday has no member coverage at all.
	tuesday := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	_, err := f.svc.Reschedule(context.Background(), "tenant-1", "user-1", "a1", RescheduleRequest{
		StartTime: tuesday, EndTime: tuesday.Add(time.Hour),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.tx.statusChanges, "parent must stay untouched on rejection")
}

type stubTemplateRepo struct {
	templates map[string]*models.ScheduleTemplate
}

func (s *stubTemplateRepo) FindByID(_ context.Context, _, id string) (*models.ScheduleTemplate, error) {
	tpl, ok := s.templates[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return tpl, nil
}

func TestCreateAppliesTemplateDefaults(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	f.svc.WithTemplates(&stubTemplateRepo{templates: map[string]*models.ScheduleTemplate{
		"tpl-1": {ID: "tpl-1", TenantID: "tenant-1", Name: "Standup", DefaultDuration: 45, Price: 25, IsBillable: true},
	}})

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tplID := "tpl-1"
	req := CreateAppointmentRequest{
		Title:       "Templated session",
		StartTime:   start,
		TemplateID:  &tplID,
		ResourceIDs: []string{"room-a"},
	}

	result, err := f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)
	assert.Equal(t, start.Add(45*time.Minute), result.Appointment.EndTime)
	assert.Equal(t, 25.0, result.Appointment.Cost)
	assert.True(t, result.Appointment.IsBillable)
	require.NotNil(t, result.Appointment.TemplateID)
	assert.Equal(t, "tpl-1", *result.Appointment.TemplateID)
}

func TestCreateTemplateDefaultsDoNotOverrideRequest(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	f.svc.WithTemplates(&stubTemplateRepo{templates: map[string]*models.ScheduleTemplate{
		"tpl-1": {ID: "tpl-1", TenantID: "tenant-1", Name: "Standup", DefaultDuration: 45, Price: 25},
	}})

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tplID := "tpl-1"
	req := createRequest("room-a", start, start.Add(2*time.Hour))
	req.TemplateID = &tplID
	req.Cost = 99

	result, err := f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)
	assert.Equal(t, start.Add(2*time.Hour), result.Appointment.EndTime)
	assert.Equal(t, 99.0, result.Appointment.Cost)
}

func TestCreateUnknownTemplate(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})
	f.svc.WithTemplates(&stubTemplateRepo{templates: map[string]*models.ScheduleTemplate{}})

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tplID := "missing"
	req := createRequest("room-a", start, start.Add(time.Hour))
	req.TemplateID = &tplID

	_, err := f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCreateMissingEndTimeWithoutTemplate(t *testing.T) {
	f := newBookingFixture(t, nil, BookingConfig{})

	req := CreateAppointmentRequest{
		Title:       "No end",
		StartTime:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		ResourceIDs: []string{"room-a"},
	}
	_, err := f.svc.Create(context.Background(), "tenant-1", "user-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
