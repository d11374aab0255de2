package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/pkg/config"
	"github.com/agendaworks/scheduling-engine/pkg/jobs"
)

// EventSource reads and acknowledges durable domain events.
type EventSource interface {
	ListUnprocessed(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id string) error
}

// EventHandler consumes a domain event. Handlers must be idempotent on event
// id; the worker delivers at least once.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *models.OutboxEvent) error
}

// ConflictCloser resolves open conflicts whose underlying overlap no longer
// exists.
type ConflictCloser interface {
	CloseForAppointment(ctx context.Context, tenantID, appointmentID, note string) error
}

// OutboxWorker polls the outbox table and dispatches events to a worker pool.
// Events stay unprocessed until every consumer succeeds, so a crashed worker
// replays them on the next poll.
type OutboxWorker struct {
	source    EventSource
	notifier  EventHandler
	conflicts ConflictCloser
	queue     *jobs.Queue
	logger    *zap.Logger

	pollInterval time.Duration
	batchSize    int

	mu       sync.Mutex
	inFlight map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutboxWorker builds an outbox worker from the outbox configuration.
func NewOutboxWorker(source EventSource, notifier EventHandler, conflicts ConflictCloser, cfg config.OutboxConfig, logger *zap.Logger) *OutboxWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &OutboxWorker{
		source:       source,
		notifier:     notifier,
		conflicts:    conflicts,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		inFlight:     make(map[string]struct{}),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 5 * time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 50
	}
	w.queue = jobs.NewQueue("outbox", w.process, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		Logger:     logger,
	})
	return w
}

// Start launches the poll loop and the worker pool. An immediate drain runs
// before the first tick so restarts pick up backlog without delay.
func (w *OutboxWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.queue.Start(ctx)

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		w.drain(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.drain(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for in-flight jobs to finish.
func (w *OutboxWorker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.queue.Stop()
}

func (w *OutboxWorker) drain(ctx context.Context) {
	events, err := w.source.ListUnprocessed(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("outbox poll failed", zap.Error(err))
		return
	}
	for _, event := range events {
		if !w.claim(event.ID) {
			continue
		}
		job := jobs.Job{ID: event.ID, Type: string(event.Type), Payload: event}
		if err := w.queue.Enqueue(job); err != nil {
			w.release(event.ID)
			w.logger.Warn("outbox enqueue failed",
				zap.String("event_id", event.ID), zap.Error(err))
			return
		}
	}
}

// claim reserves an event id so overlapping polls do not enqueue it twice.
func (w *OutboxWorker) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inFlight[id]; ok {
		return false
	}
	w.inFlight[id] = struct{}{}
	return true
}

func (w *OutboxWorker) release(id string) {
	w.mu.Lock()
	delete(w.inFlight, id)
	w.mu.Unlock()
}

func (w *OutboxWorker) process(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.OutboxEvent)
	if !ok {
		w.release(job.ID)
		return fmt.Errorf("unexpected payload type %T for job %s", job.Payload, job.ID)
	}

	if err := w.notifier.HandleEvent(ctx, &event); err != nil {
		w.release(event.ID)
		return fmt.Errorf("handle event %s: %w", event.ID, err)
	}

	// Cancellation and rescheduling vacate the original window, so any
	// conflict anchored on it is closed with a system note.
	switch event.Type {
	case models.EventAppointmentCancelled, models.EventAppointmentRescheduled:
		if w.conflicts != nil {
			if err := w.conflicts.CloseForAppointment(ctx, event.TenantID, event.AggregateID, "appointment no longer occupies the contested window"); err != nil {
				w.release(event.ID)
				return fmt.Errorf("close conflicts for %s: %w", event.AggregateID, err)
			}
		}
	}

	if err := w.source.MarkProcessed(ctx, event.ID); err != nil {
		w.release(event.ID)
		return fmt.Errorf("mark processed %s: %w", event.ID, err)
	}
	w.release(event.ID)

	w.logger.Debug("outbox event processed",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)))
	return nil
}
