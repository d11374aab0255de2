package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
	"github.com/agendaworks/scheduling-engine/pkg/export"
	"github.com/agendaworks/scheduling-engine/pkg/storage"
)

// AnalyticsRepo is the persistence surface for rollup snapshots.
type AnalyticsRepo interface {
	AppointmentStats(ctx context.Context, tenantID string, start, end time.Time) (models.StatusCounts, float64, float64, error)
	ConflictStats(ctx context.Context, tenantID string, start, end time.Time) (int, int, float64, error)
	ResourceAvailableHours(ctx context.Context, tenantID string, start, end time.Time) (float64, error)
	Insert(ctx context.Context, snapshot *models.ScheduleAnalytics) error
	List(ctx context.Context, filter models.AnalyticsFilter) ([]models.ScheduleAnalytics, int, error)
	FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleAnalytics, error)
}

// ExportResult points at a rendered snapshot export.
type ExportResult struct {
	Filename  string    `json:"filename"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AnalyticsService builds immutable rollup snapshots and renders exports.
// Re-aggregating a period inserts a new snapshot; existing rows are never
// mutated.
type AnalyticsService struct {
	repo     AnalyticsRepo
	cache    *CacheService
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	storage  *storage.LocalStorage
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// NewAnalyticsService constructs an analytics service.
func NewAnalyticsService(repo AnalyticsRepo, cache *CacheService, store *storage.LocalStorage, signer *storage.SignedURLSigner, logger *zap.Logger, cacheTTL time.Duration) *AnalyticsService {
	return &AnalyticsService{
		repo:     repo,
		cache:    cache,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		storage:  store,
		signer:   signer,
		logger:   logger,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *AnalyticsService) WithClock(now func() time.Time) *AnalyticsService {
	s.now = now
	return s
}

// Aggregate builds and stores a snapshot for the period starting at
// periodStart with the given granularity.
func (s *AnalyticsService) Aggregate(ctx context.Context, tenantID string, periodStart time.Time, granularity models.AnalyticsGranularity) (*models.ScheduleAnalytics, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	if !models.ValidGranularity(granularity) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown granularity %q", granularity))
	}
	periodEnd := periodEnd(periodStart, granularity)

	counts, totalHours, revenue, err := s.repo.AppointmentStats(ctx, tenantID, periodStart, periodEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate appointments")
	}
	conflictCount, resolved, avgResolution, err := s.repo.ConflictStats(ctx, tenantID, periodStart, periodEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate conflicts")
	}
	availableHours, err := s.repo.ResourceAvailableHours(ctx, tenantID, periodStart, periodEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute available hours")
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	var avgHours float64
	if total > 0 {
		avgHours = totalHours / float64(total)
	}
	var utilization float64
	if availableHours > 0 {
		utilization = totalHours / availableHours
	}

	snapshot := &models.ScheduleAnalytics{
		TenantID:             tenantID,
		PeriodStart:          periodStart,
		PeriodEnd:            periodEnd,
		Granularity:          granularity,
		TotalAppointments:    total,
		CountsByStatus:       counts,
		TotalScheduledHours:  totalHours,
		AvgScheduledHours:    avgHours,
		UtilizationRate:      utilization,
		ConflictCount:        conflictCount,
		ResolvedConflicts:    resolved,
		AvgResolutionMinutes: avgResolution,
		Revenue:              revenue,
		GeneratedAt:          s.now().UTC(),
	}
	if err := s.repo.Insert(ctx, snapshot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store snapshot")
	}

	if s.cache.Enabled() {
		if err := s.cache.Invalidate(ctx, fmt.Sprintf("analytics:%s:*", tenantID)); err != nil && s.logger != nil {
			s.logger.Warn("analytics cache invalidation failed", zap.Error(err))
		}
	}
	if s.logger != nil {
		s.logger.Info("analytics snapshot generated",
			zap.String("tenant_id", tenantID),
			zap.String("granularity", string(granularity)),
			zap.Time("period_start", periodStart))
	}
	return snapshot, nil
}

// List returns snapshots matching the filter, cached per filter shape.
func (s *AnalyticsService) List(ctx context.Context, filter models.AnalyticsFilter) ([]models.ScheduleAnalytics, int, error) {
	if filter.TenantID == "" {
		return nil, 0, appErrors.ErrTenantRequired
	}

	type cached struct {
		Snapshots []models.ScheduleAnalytics `json:"snapshots"`
		Total     int                        `json:"total"`
	}
	key := fmt.Sprintf("analytics:%s:list:%s:%d:%d", filter.TenantID, filter.Granularity, filter.Page, filter.PageSize)
	if s.cache.Enabled() && filter.From == nil && filter.To == nil {
		var hit cached
		if ok, err := s.cache.Get(ctx, key, &hit); err == nil && ok {
			return hit.Snapshots, hit.Total, nil
		}
	}

	snapshots, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if s.cache.Enabled() && filter.From == nil && filter.To == nil {
		_ = s.cache.Set(ctx, key, cached{Snapshots: snapshots, Total: total}, s.cacheTTL)
	}
	return snapshots, total, nil
}

// Get fetches one snapshot.
func (s *AnalyticsService) Get(ctx context.Context, tenantID, id string) (*models.ScheduleAnalytics, error) {
	snapshot, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "snapshot not found")
	}
	return snapshot, nil
}

// Export renders a snapshot as CSV or PDF, stores the file and returns a
// signed download URL.
func (s *AnalyticsService) Export(ctx context.Context, tenantID, id, format string) (*ExportResult, error) {
	if s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "exports are not configured")
	}
	snapshot, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	dataset := snapshotDataset(snapshot)
	var data []byte
	var ext string
	switch format {
	case "csv", "":
		data, err = s.csv.Render(dataset)
		ext = "csv"
	case "pdf":
		title := fmt.Sprintf("Schedule analytics %s to %s",
			snapshot.PeriodStart.Format("2006-01-02"), snapshot.PeriodEnd.Format("2006-01-02"))
		data, err = s.pdf.Render(dataset, title)
		ext = "pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := fmt.Sprintf("%s-%s.%s", snapshot.ID, snapshot.Granularity, ext)
	if _, err := s.storage.Save(filename, data); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expires, err := s.signer.Generate(snapshot.ID, filename)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export url")
	}
	return &ExportResult{Filename: filename, URL: "/api/v1/analytics/exports/" + token, ExpiresAt: expires}, nil
}

// OpenExport validates a signed token and opens the stored file.
func (s *AnalyticsService) OpenExport(token string) (*os.File, error) {
	if s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "exports are not configured")
	}
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired export link")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, nil
}

func snapshotDataset(s *models.ScheduleAnalytics) export.Dataset {
	headers := []string{"metric", "value"}
	rows := []map[string]string{
		{"metric": "period_start", "value": s.PeriodStart.Format(time.RFC3339)},
		{"metric": "period_end", "value": s.PeriodEnd.Format(time.RFC3339)},
		{"metric": "granularity", "value": string(s.Granularity)},
		{"metric": "total_appointments", "value": strconv.Itoa(s.TotalAppointments)},
		{"metric": "total_scheduled_hours", "value": formatFloat(s.TotalScheduledHours)},
		{"metric": "avg_scheduled_hours", "value": formatFloat(s.AvgScheduledHours)},
		{"metric": "utilization_rate", "value": formatFloat(s.UtilizationRate)},
		{"metric": "conflict_count", "value": strconv.Itoa(s.ConflictCount)},
		{"metric": "resolved_conflicts", "value": strconv.Itoa(s.ResolvedConflicts)},
		{"metric": "avg_resolution_minutes", "value": formatFloat(s.AvgResolutionMinutes)},
		{"metric": "revenue", "value": formatFloat(s.Revenue)},
	}
	for status, count := range s.CountsByStatus {
		rows = append(rows, map[string]string{
			"metric": "count_" + string(status),
			"value":  strconv.Itoa(count),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// periodEnd derives the exclusive period end for a granularity.
func periodEnd(start time.Time, granularity models.AnalyticsGranularity) time.Time {
	switch granularity {
	case models.GranularityDaily:
		return start.AddDate(0, 0, 1)
	case models.GranularityWeekly:
		return start.AddDate(0, 0, 7)
	case models.GranularityMonthly:
		return start.AddDate(0, 1, 0)
	case models.GranularityQuarterly:
		return start.AddDate(0, 3, 0)
	default:
		return start.AddDate(1, 0, 0)
	}
}
