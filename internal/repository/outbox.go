package repository

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository defines persistence methods for the outbox table.
type OutboxRepository interface {
	// Insert writes a single outbox event inside the caller's transaction,
	// the same one that carries the business change.
	Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent) (int64, error)
	// ListPending skips events queued behind an older retryable FAILED event
	// of the same aggregate.
	ListPending(ctx context.Context, maxAttempts, limit int) ([]model.OutboxEvent, error)
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]model.OutboxEvent, error)
	MarkSent(ctx context.Context, id int64, from model.OutboxStatus) (bool, error)
	MarkFailed(ctx context.Context, id int64, from model.OutboxStatus, lastError string) (bool, error)
	Requeue(ctx context.Context, id int64) (bool, error)
	CountExhausted(ctx context.Context, maxAttempts int) (int64, error)
	GetByEventID(ctx context.Context, eventID string) (*model.OutboxEvent, error)
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

const outboxColumns = `id, event_id, aggregate_type, aggregate_key, event_type, topic, payload,
	status, attempts, last_error, created_at, updated_at`

// maxErrorLen matches outbox.last_error VARCHAR(1024).
const maxErrorLen = 1024

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("outbox insert: %w", ErrTxRequired)
	}
	if ev.Status == "" {
		ev.Status = model.OutboxPending
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = nowUTC()
	}
	ev.UpdatedAt = ev.CreatedAt

	const q = `
		INSERT INTO outbox_events
		    (event_id, aggregate_type, aggregate_key, event_type, topic, payload, status, attempts, created_at, updated_at)
		VALUES
		    (?,        ?,              ?,             ?,          ?,     ?,       ?,      0,        ?,          ?)
	`
	res, err := tx.ExecContext(ctx, q,
		ev.EventID, ev.AggregateType, ev.AggregateKey, ev.EventType, ev.Topic, ev.Payload,
		ev.Status.String(), ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListPending returns the oldest PENDING events first. An event waits while
// an older event of its aggregate is FAILED under the retry cap, so the
// transport sees each aggregate's events in creation order.
func (r *OutboxRepositoryImpl) ListPending(ctx context.Context, maxAttempts, limit int) ([]model.OutboxEvent, error) {
	var rows []model.OutboxEvent
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+outboxColumns+`
		  FROM outbox_events o
		 WHERE o.status = ?
		   AND NOT EXISTS (
		       SELECT 1 FROM outbox_events f
		        WHERE f.aggregate_type = o.aggregate_type
		          AND f.aggregate_key = o.aggregate_key
		          AND f.status = ?
		          AND f.attempts < ?
		          AND (f.created_at < o.created_at OR (f.created_at = o.created_at AND f.id < o.id))
		   )
		 ORDER BY o.created_at, o.id
		 LIMIT ?
	`, model.OutboxPending.String(), model.OutboxFailed.String(), maxAttempts, limit)
	return rows, err
}

// ListRetryable returns FAILED events still under the retry cap, oldest first.
func (r *OutboxRepositoryImpl) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]model.OutboxEvent, error) {
	var rows []model.OutboxEvent
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+outboxColumns+`
		  FROM outbox_events
		 WHERE status = ? AND attempts < ?
		 ORDER BY created_at, id
		 LIMIT ?
	`, model.OutboxFailed.String(), maxAttempts, limit)
	return rows, err
}

func (r *OutboxRepositoryImpl) MarkSent(ctx context.Context, id int64, from model.OutboxStatus) (bool, error) {
	if err := model.ValidateOutboxTransition(from, model.OutboxSent); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		   SET status = ?, last_error = NULL, updated_at = ?
		 WHERE id = ? AND status = ?
	`, model.OutboxSent.String(), nowUTC(), id, from.String())
	return affectedOne(res, err)
}

func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, id int64, from model.OutboxStatus, lastError string) (bool, error) {
	if err := model.ValidateOutboxTransition(from, model.OutboxFailed); err != nil {
		return false, err
	}
	lastError = clipRunes(lastError, maxErrorLen)
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		   SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?
	`, model.OutboxFailed.String(), lastError, nowUTC(), id, from.String())
	return affectedOne(res, err)
}

// Requeue moves a FAILED event back to PENDING. It returns false when another
// retry pass already took it.
func (r *OutboxRepositoryImpl) Requeue(ctx context.Context, id int64) (bool, error) {
	if err := model.ValidateOutboxTransition(model.OutboxFailed, model.OutboxPending); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		   SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?
	`, model.OutboxPending.String(), nowUTC(), id, model.OutboxFailed.String())
	return affectedOne(res, err)
}

// CountExhausted counts FAILED events that reached the retry cap.
func (r *OutboxRepositoryImpl) CountExhausted(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM outbox_events WHERE status = ? AND attempts >= ?
	`, model.OutboxFailed.String(), maxAttempts)
	return n, err
}

func (r *OutboxRepositoryImpl) GetByEventID(ctx context.Context, eventID string) (*model.OutboxEvent, error) {
	var ev model.OutboxEvent
	err := r.db.GetContext(ctx, &ev, `
		SELECT `+outboxColumns+` FROM outbox_events WHERE event_id = ? LIMIT 1
	`, eventID)
	if err != nil {
		return nil, notFound(err)
	}
	return &ev, nil
}

// clipRunes keeps at most n characters of s without splitting one.
func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
