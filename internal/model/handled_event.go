package model

import "time"

// HandledEvent proves that the effect of EventID has been applied.
type HandledEvent struct {
	EventID      string    `db:"event_id"`
	EventType    string    `db:"event_type"`
	AggregateKey string    `db:"aggregate_key"`
	HandledAt    time.Time `db:"handled_at"`
}
