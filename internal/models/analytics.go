package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AnalyticsGranularity enumerates aggregation cadences.
type AnalyticsGranularity string

const (
	GranularityDaily     AnalyticsGranularity = "daily"
	GranularityWeekly    AnalyticsGranularity = "weekly"
	GranularityMonthly   AnalyticsGranularity = "monthly"
	GranularityQuarterly AnalyticsGranularity = "quarterly"
	GranularityYearly    AnalyticsGranularity = "yearly"
)

// ValidGranularity reports whether the value is a known cadence.
func ValidGranularity(g AnalyticsGranularity) bool {
	switch g {
	case GranularityDaily, GranularityWeekly, GranularityMonthly, GranularityQuarterly, GranularityYearly:
		return true
	}
	return false
}

// StatusCounts maps appointment statuses to counts, persisted as JSONB.
type StatusCounts map[AppointmentStatus]int

// Value marshals the counts to JSON.
func (c StatusCounts) Value() (driver.Value, error) {
	if c == nil {
		c = StatusCounts{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal status counts: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the counts.
func (c *StatusCounts) Scan(value interface{}) error {
	return scanJSON(value, c, "StatusCounts")
}

// ScheduleAnalytics is an immutable rollup snapshot for a period.
// Re-aggregating the same period inserts a new snapshot rather than mutating
// the old one.
type ScheduleAnalytics struct {
	ID                   string               `db:"id" json:"id"`
	TenantID             string               `db:"tenant_id" json:"tenant_id"`
	PeriodStart          time.Time            `db:"period_start" json:"period_start"`
	PeriodEnd            time.Time            `db:"period_end" json:"period_end"`
	Granularity          AnalyticsGranularity `db:"granularity" json:"granularity"`
	TotalAppointments    int                  `db:"total_appointments" json:"total_appointments"`
	CountsByStatus       StatusCounts         `db:"counts_by_status" json:"counts_by_status"`
	TotalScheduledHours  float64              `db:"total_scheduled_hours" json:"total_scheduled_hours"`
	AvgScheduledHours    float64              `db:"avg_scheduled_hours" json:"avg_scheduled_hours"`
	UtilizationRate      float64              `db:"utilization_rate" json:"utilization_rate"`
	ConflictCount        int                  `db:"conflict_count" json:"conflict_count"`
	ResolvedConflicts    int                  `db:"resolved_conflicts" json:"resolved_conflicts"`
	AvgResolutionMinutes float64              `db:"avg_resolution_minutes" json:"avg_resolution_minutes"`
	Revenue              float64              `db:"revenue" json:"revenue"`
	GeneratedAt          time.Time            `db:"generated_at" json:"generated_at"`
}

// SystemMetrics is a point-in-time view of runtime counters.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"avg_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"avg_db_query_duration_ms"`
	BookingOperations        uint64    `json:"booking_operations"`
	ConflictsDetected        uint64    `json:"conflicts_detected"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// AnalyticsFilter describes query params for listing snapshots.
type AnalyticsFilter struct {
	TenantID    string
	Granularity AnalyticsGranularity
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}
