package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

// OutboxRepository reads and acknowledges durable domain events. Events are
// only ever inserted inside the mutating transaction (see BookingTx).
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// ListUnprocessed returns the oldest unprocessed events up to limit.
func (r *OutboxRepository) ListUnprocessed(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id, tenant_id, type, aggregate_id, payload, created_at, processed_at
		FROM outbox_events WHERE processed_at IS NULL ORDER BY created_at ASC LIMIT %d`, limit)
	var events []models.OutboxEvent
	if err := r.db.SelectContext(ctx, &events, query); err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	return events, nil
}

// MarkProcessed acknowledges an event. Safe to call twice; consumers are
// idempotent on event id.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id string) error {
	const query = `UPDATE outbox_events SET processed_at = $2 WHERE id = $1 AND processed_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}
