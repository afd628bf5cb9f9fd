package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/consumer"
	"github.com/jmehdipour/commerce-sync/internal/kafka"
	"github.com/jmehdipour/commerce-sync/internal/logger"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"go.uber.org/zap"
)

// Source is the subset of *kafka.Consumer the worker needs.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

type EventHandler interface {
	Handle(ctx context.Context, env model.Envelope) (consumer.Outcome, error)
}

// MetricsConsumer:
// - fetches envelopes from Kafka,
// - shards them by partition so each partition is applied in order,
// - commits an offset only after its event is applied or skipped.
type MetricsConsumer struct {
	Source  Source
	Handler EventHandler
	Log     *zap.Logger

	Workers    int           // number of partition shards
	MaxBackoff time.Duration // cap between retries of a failing event
}

func NewMetricsConsumer(src Source, h EventHandler, workers int, log *zap.Logger) *MetricsConsumer {
	return &MetricsConsumer{
		Source:     src,
		Handler:    h,
		Log:        logger.OrNop(log).Named("metrics-consumer"),
		Workers:    workers,
		MaxBackoff: 5 * time.Second,
	}
}

// Run blocks until ctx is cancelled and every shard has drained.
func (w *MetricsConsumer) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 8
	}
	if w.MaxBackoff <= 0 {
		w.MaxBackoff = 5 * time.Second
	}
	if w.Log == nil {
		w.Log = zap.NewNop()
	}

	shards := make([]chan kafka.Message, w.Workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				w.processOne(ctx, m)
			}
		}(shards[i])
	}

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	for {
		m, err := w.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.Log.Warn("kafka fetch", zap.Error(err))
			if sleep(ctx, 200*time.Millisecond) != nil {
				return nil
			}
			continue
		}

		select {
		case shards[m.Partition%w.Workers] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *MetricsConsumer) processOne(ctx context.Context, m kafka.Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		w.Log.Error("bad envelope json, skipping",
			zap.String("topic", m.Topic), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		w.commit(ctx, m)
		return
	}
	if env.EventID == "" {
		env.EventID = kafka.Header(m, kafka.HeaderEventID)
	}
	if env.EventType == "" {
		env.EventType = kafka.Header(m, kafka.HeaderEventType)
	}

	backoff := 100 * time.Millisecond
	for {
		outcome, err := w.Handler.Handle(ctx, env)
		if err == nil {
			if outcome != consumer.Applied {
				w.Log.Debug("event not applied", zap.String("event_id", env.EventID), zap.String("outcome", string(outcome)))
			}
			w.commit(ctx, m)
			return
		}
		if errors.Is(err, consumer.ErrMalformedEvent) {
			w.Log.Error("malformed event, skipping", zap.String("event_id", env.EventID), zap.Error(err))
			w.commit(ctx, m)
			return
		}

		// leave the offset uncommitted and try the same event again
		w.Log.Warn("handle event", zap.String("event_id", env.EventID), zap.Duration("backoff", backoff), zap.Error(err))
		if sleep(ctx, backoff) != nil {
			return
		}
		if backoff *= 2; backoff > w.MaxBackoff {
			backoff = w.MaxBackoff
		}
	}
}

func (w *MetricsConsumer) commit(ctx context.Context, m kafka.Message) {
	if err := w.Source.Commit(ctx, m); err != nil && ctx.Err() == nil {
		w.Log.Warn("kafka commit", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
