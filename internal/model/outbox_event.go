package model

import (
	"fmt"
	"time"
)

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string { return string(s) }

func (s OutboxStatus) Valid() bool {
	return s == OutboxPending || s == OutboxSent || s == OutboxFailed
}

// outboxTransitions lists every allowed source -> target pair.
// FAILED -> PENDING is the requeue step of the retry pass.
var outboxTransitions = map[OutboxStatus][]OutboxStatus{
	OutboxPending: {OutboxSent, OutboxFailed},
	OutboxFailed:  {OutboxPending, OutboxSent, OutboxFailed},
	OutboxSent:    nil,
}

// CanTransitionTo reports whether s -> next is part of the outbox lifecycle.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	for _, t := range outboxTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ValidateOutboxTransition returns ErrInvalidTransition for pairs outside the table.
func ValidateOutboxTransition(from, to OutboxStatus) error {
	if !from.Valid() || !to.Valid() || !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: outbox %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// OutboxEvent is a row of the outbox table, written in the same
// transaction as the business change it describes.
type OutboxEvent struct {
	ID            int64        `db:"id"`
	EventID       string       `db:"event_id"`       // ULID, published as the message id
	AggregateType string       `db:"aggregate_type"` // e.g. "product", "order", "point"
	AggregateKey  string       `db:"aggregate_key"`  // partition key on the transport
	EventType     string       `db:"event_type"`
	Topic         string       `db:"topic"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	Attempts      int          `db:"attempts"`
	LastError     *string      `db:"last_error"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}
