package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// AuditEvent is one applied event as stored in ClickHouse.
type AuditEvent struct {
	EventID      string    `db:"event_id"      json:"event_id"`
	EventType    string    `db:"event_type"    json:"event_type"`
	AggregateKey string    `db:"aggregate_key" json:"aggregate_key"`
	OccurredAt   time.Time `db:"occurred_at"   json:"occurred_at"`
	HandledAt    time.Time `db:"handled_at"    json:"handled_at"`
}

// CHEventsRepository appends and lists applied events in ClickHouse.
type CHEventsRepository interface {
	Append(ctx context.Context, ev AuditEvent) error
	List(ctx context.Context, aggregateKey, eventType string, limit, offset int) ([]AuditEvent, error)
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

func (r *chEventsRepository) Append(ctx context.Context, ev AuditEvent) error {
	_, err := r.ch.ExecContext(ctx, `
		INSERT INTO commerce.handled_events (event_id, event_type, aggregate_key, occurred_at, handled_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.EventID, ev.EventType, ev.AggregateKey, ev.OccurredAt.UTC(), ev.HandledAt.UTC())
	return err
}

func (r *chEventsRepository) List(ctx context.Context, aggregateKey, eventType string, limit, offset int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT event_id, event_type, aggregate_key, occurred_at, handled_at
		FROM commerce.handled_events
		WHERE 1 = 1
	`
	args := []any{}

	if aggregateKey != "" {
		q += " AND aggregate_key = ?"
		args = append(args, aggregateKey)
	}
	if eventType != "" {
		q += " AND event_type = ?"
		args = append(args, eventType)
	}

	q += " ORDER BY handled_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []AuditEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
