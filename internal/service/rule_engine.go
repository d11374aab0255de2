package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/interval"
	"github.com/agendaworks/scheduling-engine/internal/models"
)

// RuleOperation names the booking operation being evaluated. Cancellation
// policy rules only apply to cancel and reschedule requests.
type RuleOperation string

const (
	RuleOpCreate     RuleOperation = "create"
	RuleOpUpdate     RuleOperation = "update"
	RuleOpCancel     RuleOperation = "cancel"
	RuleOpReschedule RuleOperation = "reschedule"
)

// OverlapCounter counts committed appointments overlapping a window on a
// single resource. The capacity predicate needs it; everything else in the
// engine is pure.
type OverlapCounter interface {
	CountResourceOverlaps(ctx context.Context, tenantID, resourceID string, start, end time.Time, excludeID string) (int, error)
}

// RuleEngine evaluates scheduling rules against a candidate appointment. For
// a fixed candidate, rule set and clock the result is deterministic; the
// clock is injected so tests can pin "now".
type RuleEngine struct {
	counter OverlapCounter
	logger  *zap.Logger
	now     func() time.Time
}

// NewRuleEngine constructs a rule engine.
func NewRuleEngine(counter OverlapCounter, logger *zap.Logger) *RuleEngine {
	return &RuleEngine{counter: counter, logger: logger, now: time.Now}
}

// WithClock overrides the engine clock. Intended for tests.
func (e *RuleEngine) WithClock(now func() time.Time) *RuleEngine {
	e.now = now
	return e
}

// Evaluate runs every matching rule against the candidate and accumulates
// all violations; it never stops at the first failure. Rules whose scope or
// validity window does not cover the candidate are skipped. Cancellation
// rules fire only for cancel and reschedule operations.
func (e *RuleEngine) Evaluate(ctx context.Context, op RuleOperation, a *models.Appointment, rules []models.ScheduleRule) ([]models.RuleViolation, error) {
	now := e.now().UTC()
	loc := e.location(a.Timezone)
	window := interval.New(a.StartTime.In(loc), a.EndTime.In(loc))

	var violations []models.RuleViolation
	for i := range rules {
		rule := &rules[i]
		if !rule.AppliesAt(a.StartTime) {
			continue
		}
		if !rule.Scope.Matches(a.ResourceIDs, a.TeamID, a.UserIDs) {
			continue
		}

		switch rule.Kind {
		case models.RuleWorkingHours:
			violations = append(violations, e.checkWorkingHours(rule, window)...)
		case models.RuleBlackout:
			if v := e.checkAbsoluteWindow(rule, a.Window(), rule.Params.Blackout, "blackout window"); v != nil {
				violations = append(violations, *v)
			}
		case models.RuleMaintenance:
			if v := e.checkAbsoluteWindow(rule, a.Window(), rule.Params.Maintenance, "maintenance window"); v != nil {
				violations = append(violations, *v)
			}
		case models.RuleBreakTime:
			violations = append(violations, e.checkBreakTime(rule, window)...)
		case models.RuleAdvanceBooking:
			if op == RuleOpCreate || op == RuleOpUpdate || op == RuleOpReschedule {
				if v := e.checkAdvanceBooking(rule, a.StartTime, now); v != nil {
					violations = append(violations, *v)
				}
			}
		case models.RuleCancellation:
			if op == RuleOpCancel || op == RuleOpReschedule {
				if v := e.checkCancellation(rule, a.StartTime, now); v != nil {
					violations = append(violations, *v)
				}
			}
		case models.RuleCapacityLimit:
			vs, err := e.checkCapacity(ctx, rule, a)
			if err != nil {
				return nil, err
			}
			violations = append(violations, vs...)
		default:
			if e.logger != nil {
				e.logger.Warn("skipping rule with unknown kind",
					zap.String("rule_id", rule.ID),
					zap.String("kind", string(rule.Kind)))
			}
		}
	}
	return violations, nil
}

// EffectiveCapacity returns the highest concurrency ceiling any active
// capacity rule grants the resource at the given instant, along with the
// granting rule. Without a matching rule the ceiling is one, i.e. no overlap
// permitted.
func (e *RuleEngine) EffectiveCapacity(rules []models.ScheduleRule, resourceID string, at time.Time) (int, *models.ScheduleRule) {
	ceiling := 1
	var granting *models.ScheduleRule
	for i := range rules {
		rule := &rules[i]
		if rule.Kind != models.RuleCapacityLimit || rule.Params.CapacityLimit == nil {
			continue
		}
		if !rule.AppliesAt(at) {
			continue
		}
		if !rule.Scope.Matches([]string{resourceID}, nil, nil) {
			continue
		}
		if rule.Params.CapacityLimit.MaxConcurrent > ceiling {
			ceiling = rule.Params.CapacityLimit.MaxConcurrent
			granting = rule
		}
	}
	return ceiling, granting
}

// SplitViolations separates hard rejections from capacity findings. Capacity
// exceedance is advisory: the booking path records it as a conflict instead
// of refusing the write.
func SplitViolations(violations []models.RuleViolation) (hard, capacity []models.RuleViolation) {
	for _, v := range violations {
		if v.Kind == models.RuleCapacityLimit {
			capacity = append(capacity, v)
			continue
		}
		hard = append(hard, v)
	}
	return hard, capacity
}

func (e *RuleEngine) checkWorkingHours(rule *models.ScheduleRule, window interval.Window) []models.RuleViolation {
	params := rule.Params.WorkingHours
	if params == nil {
		return nil
	}
	startMin, endMin, err := models.ParseDailyRange(params.Start, params.End)
	if err != nil {
		return []models.RuleViolation{violation(rule, fmt.Sprintf("rule has invalid daily range: %v", err), nil)}
	}

	var out []models.RuleViolation
	for _, day := range window.Days() {
		if !params.AppliesOn(day.Weekday()) {
			continue
		}
		allowed := interval.New(day.Add(time.Duration(startMin)*time.Minute), day.Add(time.Duration(endMin)*time.Minute))
		portion := window.Clamp(interval.New(day, day.AddDate(0, 0, 1)))
		if !portion.Valid() {
			continue
		}
		if !allowed.Encloses(portion) {
			out = append(out, violation(rule,
				fmt.Sprintf("window falls outside working hours %s-%s on %s", params.Start, params.End, day.Format("2006-01-02")),
				map[string]string{"day": day.Format("2006-01-02")}))
		}
	}
	return out
}

func (e *RuleEngine) checkAbsoluteWindow(rule *models.ScheduleRule, window interval.Window, params *models.BlackoutParams, label string) *models.RuleViolation {
	if params == nil {
		return nil
	}
	blocked := interval.New(params.Start, params.End)
	if !window.Overlaps(blocked) {
		return nil
	}
	v := violation(rule,
		fmt.Sprintf("window overlaps %s %s to %s", label, params.Start.Format(time.RFC3339), params.End.Format(time.RFC3339)),
		nil)
	return &v
}

func (e *RuleEngine) checkBreakTime(rule *models.ScheduleRule, window interval.Window) []models.RuleViolation {
	params := rule.Params.BreakTime
	if params == nil {
		return nil
	}
	startMin, endMin, err := models.ParseDailyRange(params.Start, params.End)
	if err != nil {
		return []models.RuleViolation{violation(rule, fmt.Sprintf("rule has invalid break range: %v", err), nil)}
	}

	var out []models.RuleViolation
	for _, day := range window.Days() {
		brk := interval.New(day.Add(time.Duration(startMin)*time.Minute), day.Add(time.Duration(endMin)*time.Minute))
		if window.Overlaps(brk) {
			out = append(out, violation(rule,
				fmt.Sprintf("window overlaps break %s-%s on %s", params.Start, params.End, day.Format("2006-01-02")),
				map[string]string{"day": day.Format("2006-01-02")}))
		}
	}
	return out
}

func (e *RuleEngine) checkAdvanceBooking(rule *models.ScheduleRule, start, now time.Time) *models.RuleViolation {
	params := rule.Params.AdvanceBooking
	if params == nil {
		return nil
	}
	lead := start.Sub(now)
	if minLead := time.Duration(params.MinLeadHours) * time.Hour; lead < minLead {
		v := violation(rule,
			fmt.Sprintf("appointment starts in %s, minimum advance booking is %dh", lead.Round(time.Minute), params.MinLeadHours),
			map[string]string{"min_lead_hours": strconv.Itoa(params.MinLeadHours)})
		return &v
	}
	if params.MaxLeadDays > 0 {
		if maxLead := time.Duration(params.MaxLeadDays) * 24 * time.Hour; lead > maxLead {
			v := violation(rule,
				fmt.Sprintf("appointment starts in %s, maximum advance booking is %d days", lead.Round(time.Hour), params.MaxLeadDays),
				map[string]string{"max_lead_days": strconv.Itoa(params.MaxLeadDays)})
			return &v
		}
	}
	return nil
}

func (e *RuleEngine) checkCancellation(rule *models.ScheduleRule, start, now time.Time) *models.RuleViolation {
	params := rule.Params.Cancellation
	if params == nil {
		return nil
	}
	notice := start.Sub(now)
	if required := time.Duration(params.MinNoticeHours) * time.Hour; notice < required {
		v := violation(rule,
			fmt.Sprintf("cancellation requires %dh notice, appointment starts in %s", params.MinNoticeHours, notice.Round(time.Minute)),
			map[string]string{"min_notice_hours": strconv.Itoa(params.MinNoticeHours)})
		return &v
	}
	return nil
}

func (e *RuleEngine) checkCapacity(ctx context.Context, rule *models.ScheduleRule, a *models.Appointment) ([]models.RuleViolation, error) {
	params := rule.Params.CapacityLimit
	if params == nil || e.counter == nil {
		return nil, nil
	}
	var out []models.RuleViolation
	for _, resourceID := range a.ResourceIDs {
		if !rule.Scope.Matches([]string{resourceID}, nil, nil) {
			continue
		}
		count, err := e.counter.CountResourceOverlaps(ctx, a.TenantID, resourceID, a.StartTime, a.EndTime, a.ID)
		if err != nil {
			return nil, fmt.Errorf("count overlaps for resource %s: %w", resourceID, err)
		}
		if count >= params.MaxConcurrent {
			out = append(out, violation(rule,
				fmt.Sprintf("resource %s already has %d committed overlapping appointment(s), ceiling is %d", resourceID, count, params.MaxConcurrent),
				map[string]string{
					"resource_id":    resourceID,
					"overlapping":    strconv.Itoa(count),
					"max_concurrent": strconv.Itoa(params.MaxConcurrent),
				}))
		}
	}
	return out, nil
}

func (e *RuleEngine) location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("unknown timezone, falling back to UTC", zap.String("timezone", name))
		}
		return time.UTC
	}
	return loc
}

func violation(rule *models.ScheduleRule, message string, details map[string]string) models.RuleViolation {
	return models.RuleViolation{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Kind:     rule.Kind,
		Message:  message,
		Details:  details,
	}
}
