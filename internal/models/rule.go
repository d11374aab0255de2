package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RuleKind enumerates the supported scheduling rule kinds.
type RuleKind string

const (
	RuleWorkingHours   RuleKind = "working_hours"
	RuleBlackout       RuleKind = "blackout"
	RuleBreakTime      RuleKind = "break_time"
	RuleMaintenance    RuleKind = "maintenance"
	RuleCapacityLimit  RuleKind = "capacity_limit"
	RuleAdvanceBooking RuleKind = "advance_booking"
	RuleCancellation   RuleKind = "cancellation"
)

// ScheduleRule is a named business constraint. Rules are additive
// restrictions; the only parameter that can permit otherwise-forbidden
// overlap is a capacity ceiling above one.
type ScheduleRule struct {
	ID         string     `db:"id" json:"id"`
	TenantID   string     `db:"tenant_id" json:"tenant_id"`
	Name       string     `db:"name" json:"name"`
	Kind       RuleKind   `db:"kind" json:"kind"`
	Scope      RuleScope  `db:"scope" json:"scope"`
	Params     RuleParams `db:"params" json:"params"`
	ValidFrom  *time.Time `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil *time.Time `db:"valid_until" json:"valid_until,omitempty"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// AppliesAt reports whether the rule's validity window includes the instant.
func (r *ScheduleRule) AppliesAt(t time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.ValidFrom != nil && t.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && !t.Before(*r.ValidUntil) {
		return false
	}
	return true
}

// RuleScope restricts a rule to specific resources, teams or users. A scope
// with no ids is global.
type RuleScope struct {
	ResourceIDs []string `json:"resource_ids,omitempty"`
	TeamIDs     []string `json:"team_ids,omitempty"`
	UserIDs     []string `json:"user_ids,omitempty"`
}

// Global reports whether the scope matches everything.
func (s RuleScope) Global() bool {
	return len(s.ResourceIDs) == 0 && len(s.TeamIDs) == 0 && len(s.UserIDs) == 0
}

// Matches reports whether the scope touches any of the candidate's resources,
// team or users.
func (s RuleScope) Matches(resourceIDs []string, teamID *string, userIDs []string) bool {
	if s.Global() {
		return true
	}
	for _, scoped := range s.ResourceIDs {
		for _, id := range resourceIDs {
			if scoped == id {
				return true
			}
		}
	}
	if teamID != nil {
		for _, scoped := range s.TeamIDs {
			if scoped == *teamID {
				return true
			}
		}
	}
	for _, scoped := range s.UserIDs {
		for _, id := range userIDs {
			if scoped == id {
				return true
			}
		}
	}
	return false
}

// Value marshals the scope to JSON for persistence.
func (s RuleScope) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal rule scope: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the scope.
func (s *RuleScope) Scan(value interface{}) error {
	return scanJSON(value, s, "RuleScope")
}

// WorkingHoursParams bounds bookings to a daily range, HH:MM in the
// organization timezone.
type WorkingHoursParams struct {
	Start string         `json:"start"`
	End   string         `json:"end"`
	Days  []time.Weekday `json:"days,omitempty"` // empty = every day
}

// AppliesOn reports whether the working-hours rule covers the weekday.
func (p WorkingHoursParams) AppliesOn(day time.Weekday) bool {
	if len(p.Days) == 0 {
		return true
	}
	for _, d := range p.Days {
		if d == day {
			return true
		}
	}
	return false
}

// BlackoutParams forbids any overlap with an absolute window.
type BlackoutParams struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BreakTimeParams forbids overlap with a recurring daily break, HH:MM.
type BreakTimeParams struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CapacityLimitParams raises the per-resource concurrency ceiling. A ceiling
// above one is the single legitimate overbooking path.
type CapacityLimitParams struct {
	MaxConcurrent int `json:"max_concurrent"`
}

// AdvanceBookingParams bounds the lead time between "now" and the start.
type AdvanceBookingParams struct {
	MinLeadHours int `json:"min_lead_hours"`
	MaxLeadDays  int `json:"max_lead_days"`
}

// CancellationParams requires notice before a cancel/reschedule.
type CancellationParams struct {
	MinNoticeHours int `json:"min_notice_hours"`
}

// RuleParams is a tagged union: exactly one pointer matching the rule kind is
// set. Validated at write time so the rule engine never type-switches on raw
// JSON.
type RuleParams struct {
	WorkingHours   *WorkingHoursParams   `json:"working_hours,omitempty"`
	Blackout       *BlackoutParams       `json:"blackout,omitempty"`
	BreakTime      *BreakTimeParams      `json:"break_time,omitempty"`
	Maintenance    *BlackoutParams       `json:"maintenance,omitempty"`
	CapacityLimit  *CapacityLimitParams  `json:"capacity_limit,omitempty"`
	AdvanceBooking *AdvanceBookingParams `json:"advance_booking,omitempty"`
	Cancellation   *CancellationParams   `json:"cancellation,omitempty"`
}

// Validate checks that exactly the parameter block for kind is populated and
// well-formed.
func (p RuleParams) Validate(kind RuleKind) error {
	set := 0
	if p.WorkingHours != nil {
		set++
	}
	if p.Blackout != nil {
		set++
	}
	if p.BreakTime != nil {
		set++
	}
	if p.Maintenance != nil {
		set++
	}
	if p.CapacityLimit != nil {
		set++
	}
	if p.AdvanceBooking != nil {
		set++
	}
	if p.Cancellation != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("rule params must set exactly one block, got %d", set)
	}

	switch kind {
	case RuleWorkingHours:
		if p.WorkingHours == nil {
			return fmt.Errorf("working_hours rule requires working_hours params")
		}
		if _, _, err := ParseDailyRange(p.WorkingHours.Start, p.WorkingHours.End); err != nil {
			return err
		}
	case RuleBlackout:
		if p.Blackout == nil {
			return fmt.Errorf("blackout rule requires blackout params")
		}
		if !p.Blackout.End.After(p.Blackout.Start) {
			return fmt.Errorf("blackout window must have positive length")
		}
	case RuleBreakTime:
		if p.BreakTime == nil {
			return fmt.Errorf("break_time rule requires break_time params")
		}
		if _, _, err := ParseDailyRange(p.BreakTime.Start, p.BreakTime.End); err != nil {
			return err
		}
	case RuleMaintenance:
		if p.Maintenance == nil {
			return fmt.Errorf("maintenance rule requires maintenance params")
		}
		if !p.Maintenance.End.After(p.Maintenance.Start) {
			return fmt.Errorf("maintenance window must have positive length")
		}
	case RuleCapacityLimit:
		if p.CapacityLimit == nil {
			return fmt.Errorf("capacity_limit rule requires capacity_limit params")
		}
		if p.CapacityLimit.MaxConcurrent < 1 {
			return fmt.Errorf("capacity ceiling must be at least 1")
		}
	case RuleAdvanceBooking:
		if p.AdvanceBooking == nil {
			return fmt.Errorf("advance_booking rule requires advance_booking params")
		}
		if p.AdvanceBooking.MinLeadHours < 0 || p.AdvanceBooking.MaxLeadDays < 0 {
			return fmt.Errorf("advance booking bounds must be non-negative")
		}
	case RuleCancellation:
		if p.Cancellation == nil {
			return fmt.Errorf("cancellation rule requires cancellation params")
		}
		if p.Cancellation.MinNoticeHours < 0 {
			return fmt.Errorf("cancellation notice must be non-negative")
		}
	default:
		return fmt.Errorf("unknown rule kind %q", kind)
	}
	return nil
}

// Value marshals the params to JSON for persistence.
func (p RuleParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal rule params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params.
func (p *RuleParams) Scan(value interface{}) error {
	return scanJSON(value, p, "RuleParams")
}

// ParseDailyRange parses a HH:MM pair into minutes from midnight.
func ParseDailyRange(start, end string) (int, int, error) {
	s, err := parseClock(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := parseClock(end)
	if err != nil {
		return 0, 0, err
	}
	if s >= e {
		return 0, 0, fmt.Errorf("daily range %s-%s is empty", start, end)
	}
	return s, e, nil
}

func parseClock(raw string) (int, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", raw)
	}
	var h, m int
	if _, err := fmt.Sscanf(raw, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q", raw)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock value %q out of range", raw)
	}
	return h*60 + m, nil
}

func scanJSON(value interface{}, dest interface{}, name string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, name)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}

// RuleViolation describes a single failed rule check.
type RuleViolation struct {
	RuleID   string            `json:"rule_id"`
	RuleName string            `json:"rule_name"`
	Kind     RuleKind          `json:"kind"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
}

// RuleViolationError carries the complete violation list for a rejected
// request.
type RuleViolationError struct {
	Violations []RuleViolation `json:"violations"`
}

// Error implements the error interface.
func (e *RuleViolationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "rule violation"
	}
	return fmt.Sprintf("%d scheduling rule violation(s), first: %s", len(e.Violations), e.Violations[0].Message)
}

// RuleFilter describes query params for listing rules.
type RuleFilter struct {
	TenantID string
	Kind     RuleKind
	Active   *bool
	Page     int
	PageSize int
}
