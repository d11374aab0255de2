package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
	"github.com/agendaworks/scheduling-engine/pkg/storage"
)

type mockAnalyticsRepo struct {
	counts         models.StatusCounts
	totalHours     float64
	revenue        float64
	conflicts      int
	resolved       int
	avgResolution  float64
	availableHours float64

	inserted  []*models.ScheduleAnalytics
	listCalls int
}

func (m *mockAnalyticsRepo) AppointmentStats(ctx context.Context, tenantID string, start, end time.Time) (models.StatusCounts, float64, float64, error) {
	return m.counts, m.totalHours, m.revenue, nil
}

func (m *mockAnalyticsRepo) ConflictStats(ctx context.Context, tenantID string, start, end time.Time) (int, int, float64, error) {
	return m.conflicts, m.resolved, m.avgResolution, nil
}

func (m *mockAnalyticsRepo) ResourceAvailableHours(ctx context.Context, tenantID string, start, end time.Time) (float64, error) {
	return m.availableHours, nil
}

func (m *mockAnalyticsRepo) Insert(ctx context.Context, snapshot *models.ScheduleAnalytics) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	copied := *snapshot
	m.inserted = append(m.inserted, &copied)
	return nil
}

func (m *mockAnalyticsRepo) List(ctx context.Context, filter models.AnalyticsFilter) ([]models.ScheduleAnalytics, int, error) {
	m.listCalls++
	out := make([]models.ScheduleAnalytics, 0, len(m.inserted))
	for _, s := range m.inserted {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *mockAnalyticsRepo) FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleAnalytics, error) {
	for _, s := range m.inserted {
		if s.ID == id {
			copied := *s
			return &copied, nil
		}
	}
	return nil, assert.AnError
}

func analyticsFixture(t *testing.T) (*AnalyticsService, *mockAnalyticsRepo, *memCacheRepo) {
	t.Helper()
	repo := &mockAnalyticsRepo{
		counts: models.StatusCounts{
			models.StatusCompleted: 8,
			models.StatusCancelled: 2,
		},
		totalHours:     20,
		revenue:        1500,
		conflicts:      3,
		resolved:       2,
		avgResolution:  42,
		availableHours: 80,
	}
	cacheRepo := newMemCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	svc := NewAnalyticsService(repo, cache, store, signer, zap.NewNop(), time.Minute)
	svc.WithClock(fixedClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	return svc, repo, cacheRepo
}

func TestAggregateComputesRates(t *testing.T) {
	svc, repo, _ := analyticsFixture(t)
	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	snapshot, err := svc.Aggregate(context.Background(), "tenant-1", periodStart, models.GranularityMonthly)
	require.NoError(t, err)
	assert.Equal(t, 10, snapshot.TotalAppointments)
	assert.InDelta(t, 2.0, snapshot.AvgScheduledHours, 1e-9)
	assert.InDelta(t, 0.25, snapshot.UtilizationRate, 1e-9)
	assert.Equal(t, 3, snapshot.ConflictCount)
	assert.Equal(t, 2, snapshot.ResolvedConflicts)
	assert.Equal(t, periodStart.AddDate(0, 1, 0), snapshot.PeriodEnd)
	require.Len(t, repo.inserted, 1)

	// Re-aggregating inserts a fresh snapshot instead of mutating the first.
	_, err = svc.Aggregate(context.Background(), "tenant-1", periodStart, models.GranularityMonthly)
	require.NoError(t, err)
	assert.Len(t, repo.inserted, 2)
	assert.NotEqual(t, repo.inserted[0].ID, repo.inserted[1].ID)
}

func TestAggregatePeriodEnds(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		granularity models.AnalyticsGranularity
		end         time.Time
	}{
		{models.GranularityDaily, start.AddDate(0, 0, 1)},
		{models.GranularityWeekly, start.AddDate(0, 0, 7)},
		{models.GranularityMonthly, start.AddDate(0, 1, 0)},
		{models.GranularityQuarterly, start.AddDate(0, 3, 0)},
		{models.GranularityYearly, start.AddDate(1, 0, 0)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.end, periodEnd(start, tc.granularity), string(tc.granularity))
	}
}

func TestAggregateValidation(t *testing.T) {
	svc, _, _ := analyticsFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Aggregate(context.Background(), "", start, models.GranularityDaily)
	assert.Equal(t, appErrors.ErrTenantRequired.Code, appErrors.FromError(err).Code)

	_, err = svc.Aggregate(context.Background(), "tenant-1", start, models.AnalyticsGranularity("hourly"))
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAggregateEmptyPeriod(t *testing.T) {
	svc, repo, _ := analyticsFixture(t)
	repo.counts = models.StatusCounts{}
	repo.totalHours = 0
	repo.availableHours = 0

	snapshot, err := svc.Aggregate(context.Background(), "tenant-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), models.GranularityDaily)
	require.NoError(t, err)
	assert.Zero(t, snapshot.TotalAppointments)
	assert.Zero(t, snapshot.AvgScheduledHours)
	assert.Zero(t, snapshot.UtilizationRate)
}

func TestListCachesUnfilteredQueries(t *testing.T) {
	svc, repo, _ := analyticsFixture(t)
	_, err := svc.Aggregate(context.Background(), "tenant-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), models.GranularityMonthly)
	require.NoError(t, err)

	filter := models.AnalyticsFilter{TenantID: "tenant-1", Page: 1, PageSize: 20}
	_, total, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, repo.listCalls)

	_, _, err = svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls, "second unfiltered list must come from cache")

	// Date-bounded queries bypass the cache.
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	filter.From = &from
	_, _, err = svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
}

func TestAggregateInvalidatesListCache(t *testing.T) {
	svc, repo, cacheRepo := analyticsFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Aggregate(context.Background(), "tenant-1", start, models.GranularityMonthly)
	require.NoError(t, err)

	filter := models.AnalyticsFilter{TenantID: "tenant-1", Page: 1, PageSize: 20}
	_, _, err = svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, cacheRepo.entries, 1)

	_, err = svc.Aggregate(context.Background(), "tenant-1", start.AddDate(0, 1, 0), models.GranularityMonthly)
	require.NoError(t, err)
	assert.Empty(t, cacheRepo.entries)

	_, total, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, repo.listCalls)
}

func TestExportRoundTrip(t *testing.T) {
	svc, _, _ := analyticsFixture(t)
	snapshot, err := svc.Aggregate(context.Background(), "tenant-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), models.GranularityMonthly)
	require.NoError(t, err)

	result, err := svc.Export(context.Background(), "tenant-1", snapshot.ID, "csv")
	require.NoError(t, err)
	assert.Contains(t, result.Filename, snapshot.ID)
	assert.True(t, strings.HasSuffix(result.Filename, ".csv"))
	assert.True(t, result.ExpiresAt.After(time.Now()))

	token := result.URL[strings.LastIndex(result.URL, "/")+1:]
	file, err := svc.OpenExport(token)
	require.NoError(t, err)
	defer file.Close()

	buf := make([]byte, 64)
	n, err := file.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "metric")
}

func TestExportUnknownFormat(t *testing.T) {
	svc, _, _ := analyticsFixture(t)
	snapshot, err := svc.Aggregate(context.Background(), "tenant-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), models.GranularityDaily)
	require.NoError(t, err)

	_, err = svc.Export(context.Background(), "tenant-1", snapshot.ID, "xlsx")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGetUnknownSnapshot(t *testing.T) {
	svc, _, _ := analyticsFixture(t)
	_, err := svc.Get(context.Background(), "tenant-1", "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSnapshotDatasetRows(t *testing.T) {
	snapshot := &models.ScheduleAnalytics{
		PeriodStart:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:         time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Granularity:       models.GranularityMonthly,
		TotalAppointments: 10,
		CountsByStatus:    models.StatusCounts{models.StatusCompleted: 8},
	}
	dataset := snapshotDataset(snapshot)
	assert.Equal(t, []string{"metric", "value"}, dataset.Headers)

	found := map[string]string{}
	for _, row := range dataset.Rows {
		found[row["metric"]] = row["value"]
	}
	assert.Equal(t, "10", found["total_appointments"])
	assert.Equal(t, "8", found["count_completed"])
	assert.Equal(t, "monthly", found["granularity"])
}
