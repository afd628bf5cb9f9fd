// Package consumer applies transport events to product metrics exactly once
// per event id.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/logger"
	"github.com/jmehdipour/commerce-sync/internal/metrics"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/retry"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks an envelope that can never be applied.
var ErrMalformedEvent = errors.New("malformed event")

type Outcome string

const (
	Applied           Outcome = "applied"
	Duplicate         Outcome = "duplicate"
	DuplicateInFlight Outcome = "duplicate_in_flight"
	Ignored           Outcome = "ignored" // unknown type, recorded in the ledger anyway
)

// Weights are ranking score increments per unit of activity.
type Weights struct {
	View  float64
	Like  float64
	Order float64
}

// ScoreRecorder adds to a product's ranking score for the day of at.
type ScoreRecorder interface {
	Incr(ctx context.Context, at time.Time, productID int64, delta float64) error
}

// Auditor appends applied events to an analytics store.
type Auditor interface {
	Append(ctx context.Context, ev repository.AuditEvent) error
}

type Handler struct {
	db      *sqlx.DB
	ledger  repository.HandledEventRepository
	metrics repository.ProductMetricsRepository
	exec    *retry.Executor
	weights Weights
	log     *zap.Logger

	scores ScoreRecorder // optional
	audit  Auditor       // optional
	now    func() time.Time
}

type Option func(*Handler)

func WithScores(s ScoreRecorder) Option { return func(h *Handler) { h.scores = s } }
func WithAudit(a Auditor) Option        { return func(h *Handler) { h.audit = a } }
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func NewHandler(
	db *sqlx.DB,
	ledger repository.HandledEventRepository,
	metricsRepo repository.ProductMetricsRepository,
	exec *retry.Executor,
	weights Weights,
	log *zap.Logger,
	opts ...Option,
) *Handler {
	h := &Handler{
		db:      db,
		ledger:  ledger,
		metrics: metricsRepo,
		exec:    exec,
		weights: weights,
		log:     logger.OrNop(log).Named("consumer"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

type scoreDelta struct {
	productID int64
	delta     float64
}

// Handle runs check, effect and mark in one transaction. Version conflicts on
// metric rows re-run the whole transaction.
func (h *Handler) Handle(ctx context.Context, env model.Envelope) (Outcome, error) {
	if env.EventID == "" || env.EventType == "" {
		metrics.ConsumedEventsTotal.WithLabelValues(env.EventType, "error").Inc()
		return "", fmt.Errorf("%w: missing event id or type", ErrMalformedEvent)
	}

	var (
		outcome Outcome
		scores  []scoreDelta
	)
	err := h.exec.Execute(ctx, func(ctx context.Context) error {
		outcome, scores = "", nil

		tx, err := h.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		handled, err := h.ledger.Exists(ctx, tx, env.EventID)
		if err != nil {
			return fmt.Errorf("ledger lookup: %w", err)
		}
		if handled {
			outcome = Duplicate
			return nil
		}

		known, deltas, err := h.apply(ctx, tx, env)
		if err != nil {
			return err
		}

		if err := h.ledger.Mark(ctx, tx, env.EventID, env.EventType, env.AggregateKey, h.now()); err != nil {
			if errors.Is(err, repository.ErrAlreadyHandled) {
				outcome = DuplicateInFlight
				return nil
			}
			return fmt.Errorf("ledger mark: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		if known {
			outcome, scores = Applied, deltas
		} else {
			outcome = Ignored
		}
		return nil
	})
	if err != nil {
		metrics.ConsumedEventsTotal.WithLabelValues(env.EventType, "error").Inc()
		return "", err
	}
	metrics.ConsumedEventsTotal.WithLabelValues(env.EventType, string(outcome)).Inc()

	if outcome == Applied {
		h.afterCommit(ctx, env, scores)
	}
	return outcome, nil
}

// afterCommit feeds derived read models. Failures are logged only; the
// ledger already holds the event.
func (h *Handler) afterCommit(ctx context.Context, env model.Envelope, scores []scoreDelta) {
	if h.scores != nil {
		at := env.OccurredAt
		if at.IsZero() {
			at = h.now()
		}
		for _, s := range scores {
			if err := h.scores.Incr(ctx, at, s.productID, s.delta); err != nil {
				h.log.Warn("ranking score", zap.String("event_id", env.EventID), zap.Int64("product_id", s.productID), zap.Error(err))
			}
		}
	}
	if h.audit != nil {
		err := h.audit.Append(ctx, repository.AuditEvent{
			EventID:      env.EventID,
			EventType:    env.EventType,
			AggregateKey: env.AggregateKey,
			OccurredAt:   env.OccurredAt,
			HandledAt:    h.now(),
		})
		if err != nil {
			h.log.Warn("audit append", zap.String("event_id", env.EventID), zap.Error(err))
		}
	}
}

func (h *Handler) apply(ctx context.Context, tx *sqlx.Tx, env model.Envelope) (bool, []scoreDelta, error) {
	switch env.EventType {
	case model.EventProductLiked, model.EventProductUnliked:
		var p model.ProductLikePayload
		if err := decode(env, &p); err != nil {
			return false, nil, err
		}
		liked := env.EventType == model.EventProductLiked
		err := h.bump(ctx, tx, p.ProductID, func(m *model.ProductMetrics) {
			if liked {
				m.LikeCount++
			} else if m.LikeCount > 0 {
				m.LikeCount--
			}
		})
		if err != nil || !liked {
			return true, nil, err
		}
		return true, []scoreDelta{{p.ProductID, h.weights.Like}}, nil

	case model.EventProductViewed:
		var p model.ProductViewPayload
		if err := decode(env, &p); err != nil {
			return false, nil, err
		}
		err := h.bump(ctx, tx, p.ProductID, func(m *model.ProductMetrics) { m.ViewCount++ })
		return true, []scoreDelta{{p.ProductID, h.weights.View}}, err

	case model.EventOrderPaid:
		var p model.OrderPayload
		if err := decode(env, &p); err != nil {
			return false, nil, err
		}
		deltas := make([]scoreDelta, 0, len(p.Items))
		for _, it := range p.Items {
			qty := it.Quantity
			if err := h.bump(ctx, tx, it.ProductID, func(m *model.ProductMetrics) { m.SalesCount += qty }); err != nil {
				return true, nil, err
			}
			deltas = append(deltas, scoreDelta{it.ProductID, h.weights.Order * float64(qty)})
		}
		return true, deltas, nil

	default:
		return false, nil, nil
	}
}

// bump is one versioned read-modify-write of a product's metrics row.
func (h *Handler) bump(ctx context.Context, tx *sqlx.Tx, productID int64, mutate func(*model.ProductMetrics)) error {
	if err := h.metrics.Ensure(ctx, tx, productID); err != nil {
		return err
	}
	m, err := h.metrics.Get(ctx, tx, productID)
	if err != nil {
		return err
	}
	mutate(&m)
	return h.metrics.Update(ctx, tx, m)
}

func decode(env model.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedEvent, env.EventType, env.EventID, err)
	}
	return nil
}
