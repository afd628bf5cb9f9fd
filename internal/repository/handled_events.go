package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// HandledEventRepository is the consumer-side idempotency ledger.
type HandledEventRepository interface {
	// Exists checks if the event has already been applied.
	Exists(ctx context.Context, tx *sqlx.Tx, eventID string) (bool, error)
	// Mark records the event; ErrAlreadyHandled means another consumer won the race.
	Mark(ctx context.Context, tx *sqlx.Tx, eventID, eventType, aggregateKey string, at time.Time) error
}

type handledEventRepo struct{}

func NewHandledEventRepository() HandledEventRepository { return &handledEventRepo{} }

func (r *handledEventRepo) Exists(ctx context.Context, tx *sqlx.Tx, eventID string) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("handled exists: %w", ErrTxRequired)
	}
	var one int
	err := tx.QueryRowxContext(ctx,
		`SELECT 1 FROM handled_events WHERE event_id = ? LIMIT 1`, eventID,
	).Scan(&one)

	if err != nil {
		// no rows means false
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *handledEventRepo) Mark(ctx context.Context, tx *sqlx.Tx, eventID, eventType, aggregateKey string, at time.Time) error {
	if tx == nil {
		return fmt.Errorf("handled mark: %w", ErrTxRequired)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO handled_events (event_id, event_type, aggregate_key, handled_at)
		VALUES (?, ?, ?, ?)
	`, eventID, eventType, aggregateKey, at.UTC())
	if isDuplicateKey(err) {
		return fmt.Errorf("mark %s: %w", eventID, ErrAlreadyHandled)
	}
	return err
}
