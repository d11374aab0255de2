package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/interval"
	"github.com/agendaworks/scheduling-engine/internal/models"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
)

// AvailabilityAppointmentRepo supplies committed booking windows ordered by
// start time.
type AvailabilityAppointmentRepo interface {
	CommittedWindows(ctx context.Context, tenantID, resourceID string, start, end time.Time) ([]models.Appointment, error)
	TeamCommittedWindows(ctx context.Context, tenantID, teamID string, start, end time.Time) ([]models.Appointment, error)
}

// AvailabilityResourceRepo supplies resource metadata and maintenance
// windows.
type AvailabilityResourceRepo interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.Resource, error)
	MaintenanceWindowsIn(ctx context.Context, resourceIDs []string, start, end time.Time) ([]models.MaintenanceWindow, error)
}

// ActiveRuleRepo lists the active rules for a tenant.
type ActiveRuleRepo interface {
	ListActive(ctx context.Context, tenantID string) ([]models.ScheduleRule, error)
}

// AvailabilityTeamRepo loads a team with its roster. Team availability is the
// union of member weekly schedules, so spans no member covers are busy.
type AvailabilityTeamRepo interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.Team, error)
}

// AvailabilityQuery asks for free slots on exactly one of resource or team.
type AvailabilityQuery struct {
	TenantID   string
	ResourceID string
	TeamID     string
	From       time.Time
	To         time.Time
}

// AvailabilityResult is the answer to an availability query.
type AvailabilityResult struct {
	ResourceID string            `json:"resource_id,omitempty"`
	TeamID     string            `json:"team_id,omitempty"`
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	FreeSlots  []interval.Window `json:"free_slots"`
	BusyCount  int               `json:"busy_count"`
}

// AvailabilityService enumerates free slots by subtracting committed
// bookings, maintenance windows and working-hour restrictions from the query
// window. Reads are cached; booking mutations invalidate the tenant's keys.
type AvailabilityService struct {
	appointments AvailabilityAppointmentRepo
	resources    AvailabilityResourceRepo
	rules        ActiveRuleRepo
	teams        AvailabilityTeamRepo
	cache        *CacheService
	logger       *zap.Logger
	slotGrain    time.Duration
	cacheTTL     time.Duration
}

// NewAvailabilityService constructs the availability index.
func NewAvailabilityService(appointments AvailabilityAppointmentRepo, resources AvailabilityResourceRepo, rules ActiveRuleRepo, cache *CacheService, logger *zap.Logger, slotGrain, cacheTTL time.Duration) *AvailabilityService {
	if slotGrain <= 0 {
		slotGrain = 15 * time.Minute
	}
	return &AvailabilityService{
		appointments: appointments,
		resources:    resources,
		rules:        rules,
		cache:        cache,
		logger:       logger,
		slotGrain:    slotGrain,
		cacheTTL:     cacheTTL,
	}
}

// WithTeams enables the member schedule overlay on team queries.
func (s *AvailabilityService) WithTeams(teams AvailabilityTeamRepo) *AvailabilityService {
	s.teams = teams
	return s
}

// GetAvailability returns the free slots for a resource or team over a
// window. Gaps shorter than the slot grain are dropped.
func (s *AvailabilityService) GetAvailability(ctx context.Context, q AvailabilityQuery) (*AvailabilityResult, error) {
	if q.TenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	if (q.ResourceID == "") == (q.TeamID == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exactly one of resource_id or team_id is required")
	}
	bounds := interval.New(q.From, q.To)
	if !bounds.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "availability window must have positive length")
	}

	key := s.cacheKey(q)
	if s.cache.Enabled() {
		var cached AvailabilityResult
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	busy, err := s.busyWindows(ctx, q, bounds)
	if err != nil {
		return nil, err
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })

	var free []interval.Window
	for _, gap := range interval.Gaps(bounds, busy) {
		if gap.Duration() >= s.slotGrain {
			free = append(free, gap)
		}
	}

	result := &AvailabilityResult{
		ResourceID: q.ResourceID,
		TeamID:     q.TeamID,
		From:       q.From,
		To:         q.To,
		FreeSlots:  free,
		BusyCount:  len(busy),
	}

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil && s.logger != nil {
			s.logger.Warn("availability cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// Invalidate drops cached availability for a tenant. Called after every
// booking mutation.
func (s *AvailabilityService) Invalidate(ctx context.Context, tenantID string) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("availability:%s:*", tenantID)); err != nil && s.logger != nil {
		s.logger.Warn("availability cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (s *AvailabilityService) busyWindows(ctx context.Context, q AvailabilityQuery, bounds interval.Window) ([]interval.Window, error) {
	var busy []interval.Window

	if q.ResourceID != "" {
		resource, err := s.resources.FindByID(ctx, q.TenantID, q.ResourceID)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		if !resource.Bookable() {
			// An unavailable resource has no free slots at all.
			return []interval.Window{bounds}, nil
		}

		appointments, err := s.appointments.CommittedWindows(ctx, q.TenantID, q.ResourceID, q.From, q.To)
		if err != nil {
			return nil, fmt.Errorf("load committed windows: %w", err)
		}
		for i := range appointments {
			busy = append(busy, appointments[i].Window())
		}

		maintenance, err := s.resources.MaintenanceWindowsIn(ctx, []string{q.ResourceID}, q.From, q.To)
		if err != nil {
			return nil, fmt.Errorf("load maintenance windows: %w", err)
		}
		for _, m := range maintenance {
			busy = append(busy, interval.New(m.StartTime, m.EndTime))
		}
	} else {
		if s.teams != nil {
			team, err := s.teams.FindByID(ctx, q.TenantID, q.TeamID)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "team not found")
			}
			busy = append(busy, memberUncoveredWindows(team.Members, bounds)...)
		}

		appointments, err := s.appointments.TeamCommittedWindows(ctx, q.TenantID, q.TeamID, q.From, q.To)
		if err != nil {
			return nil, fmt.Errorf("load team committed windows: %w", err)
		}
		for i := range appointments {
			busy = append(busy, appointments[i].Window())
		}
	}

	rules, err := s.rules.ListActive(ctx, q.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}
	busy = append(busy, s.restrictedWindows(rules, q, bounds)...)
	return busy, nil
}

// memberUncoveredWindows turns the roster's weekly schedules into busy
// windows: a span counts as free only while at least one active member's
// schedule covers it.
func memberUncoveredWindows(members []models.TeamMember, bounds interval.Window) []interval.Window {
	var busy []interval.Window
	for _, day := range bounds.Days() {
		dayWindow := interval.New(day, day.AddDate(0, 0, 1)).Clamp(bounds)
		if !dayWindow.Valid() {
			continue
		}
		var covered []interval.Window
		for i := range members {
			member := &members[i]
			if !member.IsActive {
				continue
			}
			for _, slot := range member.Availability {
				if slot.Weekday != day.Weekday() {
					continue
				}
				w := interval.New(
					day.Add(time.Duration(slot.StartMinute)*time.Minute),
					day.Add(time.Duration(slot.EndMinute)*time.Minute),
				).Clamp(dayWindow)
				if w.Valid() {
					covered = append(covered, w)
				}
			}
		}
		sort.Slice(covered, func(i, j int) bool { return covered[i].Start.Before(covered[j].Start) })
		busy = append(busy, interval.Gaps(dayWindow, covered)...)
	}
	return busy
}

// restrictedWindows converts working-hour, blackout and maintenance rules
// into busy windows within the query bounds.
func (s *AvailabilityService) restrictedWindows(rules []models.ScheduleRule, q AvailabilityQuery, bounds interval.Window) []interval.Window {
	var resourceIDs []string
	if q.ResourceID != "" {
		resourceIDs = []string{q.ResourceID}
	}
	var teamID *string
	if q.TeamID != "" {
		teamID = &q.TeamID
	}

	var busy []interval.Window
	for i := range rules {
		rule := &rules[i]
		if !rule.AppliesAt(bounds.Start) {
			continue
		}
		if !rule.Scope.Matches(resourceIDs, teamID, nil) {
			continue
		}
		switch rule.Kind {
		case models.RuleWorkingHours:
			busy = append(busy, outsideWorkingHours(rule.Params.WorkingHours, bounds)...)
		case models.RuleBlackout:
			if p := rule.Params.Blackout; p != nil {
				if w := interval.New(p.Start, p.End).Clamp(bounds); w.Valid() {
					busy = append(busy, w)
				}
			}
		case models.RuleMaintenance:
			if p := rule.Params.Maintenance; p != nil {
				if w := interval.New(p.Start, p.End).Clamp(bounds); w.Valid() {
					busy = append(busy, w)
				}
			}
		case models.RuleBreakTime:
			busy = append(busy, dailyWindows(rule.Params.BreakTime, bounds)...)
		}
	}
	return busy
}

func outsideWorkingHours(params *models.WorkingHoursParams, bounds interval.Window) []interval.Window {
	if params == nil {
		return nil
	}
	startMin, endMin, err := models.ParseDailyRange(params.Start, params.End)
	if err != nil {
		return nil
	}
	var busy []interval.Window
	for _, day := range bounds.Days() {
		if !params.AppliesOn(day.Weekday()) {
			continue
		}
		before := interval.New(day, day.Add(time.Duration(startMin)*time.Minute)).Clamp(bounds)
		if before.Valid() {
			busy = append(busy, before)
		}
		after := interval.New(day.Add(time.Duration(endMin)*time.Minute), day.AddDate(0, 0, 1)).Clamp(bounds)
		if after.Valid() {
			busy = append(busy, after)
		}
	}
	return busy
}

func dailyWindows(params *models.BreakTimeParams, bounds interval.Window) []interval.Window {
	if params == nil {
		return nil
	}
	startMin, endMin, err := models.ParseDailyRange(params.Start, params.End)
	if err != nil {
		return nil
	}
	var busy []interval.Window
	for _, day := range bounds.Days() {
		w := interval.New(day.Add(time.Duration(startMin)*time.Minute), day.Add(time.Duration(endMin)*time.Minute)).Clamp(bounds)
		if w.Valid() {
			busy = append(busy, w)
		}
	}
	return busy
}

func (s *AvailabilityService) cacheKey(q AvailabilityQuery) string {
	subject := q.ResourceID
	if subject == "" {
		subject = "team:" + q.TeamID
	}
	return fmt.Sprintf("availability:%s:%s:%d:%d", q.TenantID, subject, q.From.Unix(), q.To.Unix())
}
