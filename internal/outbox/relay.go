// Package outbox moves committed outbox rows to the message transport.
package outbox

import (
	"context"
	"fmt"

	"github.com/jmehdipour/commerce-sync/internal/logger"
	"github.com/jmehdipour/commerce-sync/internal/metrics"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 10
)

// Publisher delivers one event to the transport. A nil error means the
// transport accepted it.
type Publisher interface {
	Publish(ctx context.Context, ev model.OutboxEvent) error
}

// Result summarizes one relay or retry pass.
type Result struct {
	Selected int `json:"selected"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"` // lost a status race to another pass
	Held     int `json:"held"`    // left for a later pass behind a failed event of the same aggregate
}

type Relay struct {
	repo        repository.OutboxRepository
	pub         Publisher
	batchSize   int
	maxAttempts int
	log         *zap.Logger
}

func NewRelay(repo repository.OutboxRepository, pub Publisher, batchSize, maxAttempts int, log *zap.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Relay{
		repo:        repo,
		pub:         pub,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		log:         logger.OrNop(log).Named("outbox"),
	}
}

// RelayPending publishes the oldest PENDING events. A failed publish marks
// the event FAILED and moves on; later events of the same aggregate stay
// PENDING until the failed one has been delivered.
func (r *Relay) RelayPending(ctx context.Context) (Result, error) {
	var res Result

	events, err := r.repo.ListPending(ctx, r.maxAttempts, r.batchSize)
	if err != nil {
		return res, fmt.Errorf("list pending: %w", err)
	}
	res.Selected = len(events)

	blocked := make(map[aggregate]bool)
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		if blocked[aggregateOf(ev)] {
			res.Held++
			continue
		}
		if !r.deliver(ctx, ev, "relay", &res) {
			blocked[aggregateOf(ev)] = true
		}
	}

	r.log.Info("relay pass",
		zap.Int("selected", res.Selected), zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed), zap.Int("skipped", res.Skipped), zap.Int("held", res.Held))
	return res, ctx.Err()
}

// RetryFailed gives FAILED events under the attempt cap another publish.
// Each one is first requeued to PENDING; losing that race skips the event.
func (r *Relay) RetryFailed(ctx context.Context) (Result, error) {
	var res Result

	events, err := r.repo.ListRetryable(ctx, r.maxAttempts, r.batchSize)
	if err != nil {
		return res, fmt.Errorf("list retryable: %w", err)
	}
	res.Selected = len(events)

	blocked := make(map[aggregate]bool)
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		if blocked[aggregateOf(ev)] {
			res.Held++
			continue
		}
		ok, err := r.repo.Requeue(ctx, ev.ID)
		if err != nil {
			res.Failed++
			metrics.OutboxEventsTotal.WithLabelValues("retry", "failed").Inc()
			r.log.Error("requeue", zap.String("event_id", ev.EventID), zap.Error(err))
			blocked[aggregateOf(ev)] = true
			continue
		}
		if !ok {
			res.Skipped++
			metrics.OutboxEventsTotal.WithLabelValues("retry", "skipped").Inc()
			blocked[aggregateOf(ev)] = true
			continue
		}
		ev.Status = model.OutboxPending
		if !r.deliver(ctx, ev, "retry", &res) {
			blocked[aggregateOf(ev)] = true
		}
	}

	if dead, err := r.repo.CountExhausted(ctx, r.maxAttempts); err == nil {
		metrics.OutboxDeadEvents.Set(float64(dead))
		if dead > 0 {
			r.log.Warn("outbox events exhausted retries", zap.Int64("count", dead), zap.Int("max_attempts", r.maxAttempts))
		}
	}

	r.log.Info("retry pass",
		zap.Int("selected", res.Selected), zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed), zap.Int("skipped", res.Skipped), zap.Int("held", res.Held))
	return res, ctx.Err()
}

type aggregate struct{ typ, key string }

func aggregateOf(ev model.OutboxEvent) aggregate {
	return aggregate{typ: ev.AggregateType, key: ev.AggregateKey}
}

// deliver publishes ev and records the outcome. It reports false when the
// publish itself failed.
func (r *Relay) deliver(ctx context.Context, ev model.OutboxEvent, pass string, res *Result) bool {
	from := ev.Status

	if perr := r.pub.Publish(ctx, ev); perr != nil {
		ok, err := r.repo.MarkFailed(ctx, ev.ID, from, perr.Error())
		switch {
		case err != nil:
			r.log.Error("mark failed", zap.String("event_id", ev.EventID), zap.Error(err))
			res.Failed++
		case !ok:
			res.Skipped++
			metrics.OutboxEventsTotal.WithLabelValues(pass, "skipped").Inc()
			return false
		default:
			res.Failed++
		}
		metrics.OutboxEventsTotal.WithLabelValues(pass, "failed").Inc()
		r.log.Warn("publish failed",
			zap.String("event_id", ev.EventID), zap.String("topic", ev.Topic),
			zap.Int("attempts", ev.Attempts+1), zap.Error(perr))
		return false
	}

	ok, err := r.repo.MarkSent(ctx, ev.ID, from)
	switch {
	case err != nil:
		// published but not recorded; the next pass republishes and the
		// consumer ledger absorbs the duplicate
		res.Failed++
		metrics.OutboxEventsTotal.WithLabelValues(pass, "failed").Inc()
		r.log.Error("mark sent", zap.String("event_id", ev.EventID), zap.Error(err))
	case !ok:
		res.Skipped++
		metrics.OutboxEventsTotal.WithLabelValues(pass, "skipped").Inc()
	default:
		res.Sent++
		metrics.OutboxEventsTotal.WithLabelValues(pass, "sent").Inc()
	}
	return true
}
