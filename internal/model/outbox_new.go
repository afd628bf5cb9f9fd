package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/util"
)

// NewOutboxEvent builds a PENDING outbox row whose payload is the JSON
// envelope the relay publishes as-is.
func NewOutboxEvent(aggregateType, aggregateKey, eventType, topic string, data any, now time.Time) (OutboxEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal %s data: %w", eventType, err)
	}

	env := Envelope{
		EventID:      util.NewID(),
		EventType:    eventType,
		AggregateKey: aggregateKey,
		OccurredAt:   now,
		Data:         raw,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal envelope: %w", err)
	}

	return OutboxEvent{
		EventID:       env.EventID,
		AggregateType: aggregateType,
		AggregateKey:  aggregateKey,
		EventType:     eventType,
		Topic:         topic,
		Payload:       payload,
		Status:        OutboxPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
