// Package reconcile settles payments whose outcome never reached us by
// asking the gateway directly.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/gateway"
	"github.com/jmehdipour/commerce-sync/internal/logger"
	"github.com/jmehdipour/commerce-sync/internal/metrics"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultStaleAfter = 30 * time.Minute
	DefaultBatchSize  = 200

	unknownReason = "payment unknown to gateway"
)

type StatusSource interface {
	QueryStatus(ctx context.Context, orderKey string, userID int64) (gateway.Transaction, error)
}

type Resolver interface {
	Resolve(ctx context.Context, orderKey, transactionKey string, status model.PaymentStatus, reason string) (bool, error)
}

type Result struct {
	Scanned      int `json:"scanned"`
	Resolved     int `json:"resolved"`
	StillPending int `json:"still_pending"`
	Failed       int `json:"failed"`
}

type Sweeper struct {
	payments   repository.PaymentRepository
	source     StatusSource
	resolver   Resolver
	staleAfter time.Duration
	batchSize  int
	log        *zap.Logger
	now        func() time.Time
}

func NewSweeper(payments repository.PaymentRepository, source StatusSource, resolver Resolver,
	staleAfter time.Duration, batchSize int, log *zap.Logger) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sweeper{
		payments:   payments,
		source:     source,
		resolver:   resolver,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		log:        logger.OrNop(log).Named("reconcile"),
		now:        time.Now,
	}
}

// Sweep queries the gateway for each payment PENDING longer than the
// staleness threshold, oldest first. One payment's failure never stops the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	cutoff := s.now().UTC().Add(-s.staleAfter)
	stale, err := s.payments.ListStalePending(ctx, cutoff, s.batchSize)
	if err != nil {
		return res, fmt.Errorf("list stale payments: %w", err)
	}
	res.Scanned = len(stale)

	for _, p := range stale {
		if ctx.Err() != nil {
			break
		}
		outcome := s.settle(ctx, p)
		metrics.ReconcileTotal.WithLabelValues(outcome).Inc()
		switch outcome {
		case "resolved":
			res.Resolved++
		case "pending":
			res.StillPending++
		default:
			res.Failed++
		}
	}

	s.log.Info("reconcile sweep",
		zap.Time("cutoff", cutoff), zap.Int("scanned", res.Scanned), zap.Int("resolved", res.Resolved),
		zap.Int("still_pending", res.StillPending), zap.Int("failed", res.Failed))
	return res, ctx.Err()
}

func (s *Sweeper) settle(ctx context.Context, p model.Payment) string {
	tx, err := s.source.QueryStatus(ctx, p.OrderKey, p.UserID)
	switch {
	case errors.Is(err, gateway.ErrUnknownPayment):
		// the request never reached the gateway; no charge can follow
		tx = gateway.Transaction{Status: model.PaymentFailed, Reason: unknownReason}
	case err != nil:
		s.log.Warn("query gateway", zap.String("order_key", p.OrderKey), zap.Error(err))
		return "failed"
	}

	if !tx.Status.Terminal() {
		return "pending"
	}

	if _, err := s.resolver.Resolve(ctx, p.OrderKey, tx.TransactionKey, tx.Status, tx.Reason); err != nil {
		s.log.Warn("resolve payment", zap.String("order_key", p.OrderKey), zap.Error(err))
		return "failed"
	}
	// a false result means the callback got there first; either way it is settled
	return "resolved"
}
