package kafka

import (
	"context"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/segmentio/kafka-go"
)

// Header names set on every published outbox event.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

type ProducerConfig struct {
	Brokers      []string
	WriteTimeout time.Duration // default 5s
	RequiredAcks int           // -1 all, 1 leader, 0 none
}

// Producer publishes outbox events. Messages are keyed by aggregate key and
// hashed to partitions so one aggregate's events stay ordered.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c ProducerConfig) *Producer {
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}
	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(c.RequiredAcks),
		WriteTimeout:           wt,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

// Publish writes ev synchronously; a nil error means the broker acknowledged it.
func (p *Producer) Publish(ctx context.Context, ev model.OutboxEvent) error {
	return p.w.WriteMessages(ctx, messageOf(ev))
}

func (p *Producer) Close() error { return p.w.Close() }

func messageOf(ev model.OutboxEvent) kafka.Message {
	return kafka.Message{
		Topic: ev.Topic,
		Key:   []byte(ev.AggregateKey),
		Value: ev.Payload,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(ev.EventID)},
			{Key: HeaderEventType, Value: []byte(ev.EventType)},
		},
	}
}
