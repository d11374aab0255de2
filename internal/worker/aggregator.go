package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/pkg/config"
)

// TenantSource lists the tenants with appointment activity in a period.
type TenantSource interface {
	ActiveTenants(ctx context.Context, start, end time.Time) ([]string, error)
}

// SnapshotBuilder produces a rollup snapshot for one tenant and period.
type SnapshotBuilder interface {
	Aggregate(ctx context.Context, tenantID string, periodStart time.Time, granularity models.AnalyticsGranularity) (*models.ScheduleAnalytics, error)
}

// Aggregator periodically rolls up daily analytics for every active tenant.
// Each run covers the previous UTC day; re-running a period appends a fresh
// snapshot rather than mutating an existing one, so the loop needs no
// progress tracking.
type Aggregator struct {
	tenants   TenantSource
	analytics SnapshotBuilder
	logger    *zap.Logger

	every  time.Duration
	onBoot bool
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAggregator builds the scheduled aggregator from the analytics
// configuration.
func NewAggregator(tenants TenantSource, analytics SnapshotBuilder, cfg config.AnalyticsConfig, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	every := cfg.AggregateEvery
	if every <= 0 {
		every = time.Hour
	}
	return &Aggregator{
		tenants:   tenants,
		analytics: analytics,
		logger:    logger,
		every:     every,
		onBoot:    cfg.AggregateOnBoot,
		now:       time.Now,
	}
}

// WithClock overrides the aggregator clock. Intended for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Start launches the aggregation loop.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		ticker := time.NewTicker(a.every)
		defer ticker.Stop()

		if a.onBoot {
			a.RunOnce(ctx)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the current run to finish.
func (a *Aggregator) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

// RunOnce aggregates the previous UTC day for every tenant active in it.
func (a *Aggregator) RunOnce(ctx context.Context) {
	periodStart := a.previousDay()
	periodEnd := periodStart.Add(24 * time.Hour)

	tenants, err := a.tenants.ActiveTenants(ctx, periodStart, periodEnd)
	if err != nil {
		a.logger.Error("tenant lookup failed", zap.Error(err))
		return
	}

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.analytics.Aggregate(ctx, tenantID, periodStart, models.GranularityDaily); err != nil {
			a.logger.Error("scheduled aggregation failed",
				zap.String("tenant_id", tenantID),
				zap.Time("period_start", periodStart),
				zap.Error(err))
			continue
		}
	}

	a.logger.Info("daily aggregation complete",
		zap.Time("period_start", periodStart),
		zap.Int("tenants", len(tenants)))
}

func (a *Aggregator) previousDay() time.Time {
	now := a.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(-24 * time.Hour)
}
