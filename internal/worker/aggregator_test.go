package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/pkg/config"
)

type stubTenantSource struct {
	tenants []string
	err     error

	gotStart time.Time
	gotEnd   time.Time
}

func (s *stubTenantSource) ActiveTenants(_ context.Context, start, end time.Time) ([]string, error) {
	s.gotStart, s.gotEnd = start, end
	return s.tenants, s.err
}

type stubSnapshotBuilder struct {
	mu      sync.Mutex
	calls   []string
	periods []time.Time
	failFor map[string]bool
}

func (s *stubSnapshotBuilder) Aggregate(_ context.Context, tenantID string, periodStart time.Time, granularity models.AnalyticsGranularity) (*models.ScheduleAnalytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[tenantID] {
		return nil, errors.New("aggregation failed")
	}
	s.calls = append(s.calls, tenantID)
	s.periods = append(s.periods, periodStart)
	return &models.ScheduleAnalytics{TenantID: tenantID, PeriodStart: periodStart, Granularity: granularity}, nil
}

func (s *stubSnapshotBuilder) aggregated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestAggregatorRollsUpPreviousDay(t *testing.T) {
	tenants := &stubTenantSource{tenants: []string{"tenant-1", "tenant-2"}}
	builder := &stubSnapshotBuilder{}

	agg := NewAggregator(tenants, builder, config.AnalyticsConfig{AggregateEvery: time.Hour}, zap.NewNop()).
		WithClock(func() time.Time {
			return time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
		})
	agg.RunOnce(context.Background())

	wantStart := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, wantStart, tenants.gotStart)
	assert.Equal(t, wantStart.Add(24*time.Hour), tenants.gotEnd)

	require.Len(t, builder.calls, 2)
	assert.ElementsMatch(t, []string{"tenant-1", "tenant-2"}, builder.aggregated())
	assert.Equal(t, wantStart, builder.periods[0])
}

func TestAggregatorContinuesPastTenantFailure(t *testing.T) {
	tenants := &stubTenantSource{tenants: []string{"tenant-1", "tenant-2"}}
	builder := &stubSnapshotBuilder{failFor: map[string]bool{"tenant-1": true}}

	agg := NewAggregator(tenants, builder, config.AnalyticsConfig{AggregateEvery: time.Hour}, zap.NewNop())
	agg.RunOnce(context.Background())

	assert.Equal(t, []string{"tenant-2"}, builder.aggregated())
}

func TestAggregatorSkipsRunOnTenantLookupError(t *testing.T) {
	tenants := &stubTenantSource{err: errors.New("db down")}
	builder := &stubSnapshotBuilder{}

	agg := NewAggregator(tenants, builder, config.AnalyticsConfig{}, zap.NewNop())
	agg.RunOnce(context.Background())

	assert.Empty(t, builder.aggregated())
}

func TestAggregatorRunsOnBoot(t *testing.T) {
	tenants := &stubTenantSource{tenants: []string{"tenant-1"}}
	builder := &stubSnapshotBuilder{}

	agg := NewAggregator(tenants, builder, config.AnalyticsConfig{
		AggregateEvery:  time.Hour,
		AggregateOnBoot: true,
	}, zap.NewNop())
	agg.Start(context.Background())
	defer agg.Stop()

	require.Eventually(t, func() bool {
		return len(builder.aggregated()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
