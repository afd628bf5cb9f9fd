// Package point manages user point balances with optimistic concurrency.
package point

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/retry"
	"github.com/jmoiron/sqlx"
)

var (
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

// Service applies balance changes as versioned read-modify-write units and
// records each change in the outbox within the same transaction.
type Service struct {
	db     *sqlx.DB
	points repository.PointRepository
	outbox repository.OutboxRepository
	exec   *retry.Executor
}

func New(db *sqlx.DB, pointsRepo repository.PointRepository, outboxRepo repository.OutboxRepository, exec *retry.Executor) *Service {
	return &Service{db: db, points: pointsRepo, outbox: outboxRepo, exec: exec}
}

// Charge adds amount to the user's balance, provisioning the account on first use.
func (s *Service) Charge(ctx context.Context, userID, amount int64) (model.PointAccount, error) {
	if amount <= 0 {
		return model.PointAccount{}, ErrInvalidAmount
	}
	if err := s.points.Ensure(ctx, nil, userID); err != nil {
		return model.PointAccount{}, fmt.Errorf("provision account: %w", err)
	}
	return s.apply(ctx, userID, amount, model.EventPointCharged)
}

// Use deducts amount. A missing account is repository.ErrNotFound.
func (s *Service) Use(ctx context.Context, userID, amount int64) (model.PointAccount, error) {
	if amount <= 0 {
		return model.PointAccount{}, ErrInvalidAmount
	}
	return s.apply(ctx, userID, -amount, model.EventPointUsed)
}

func (s *Service) Balance(ctx context.Context, userID int64) (model.PointAccount, error) {
	return s.points.Get(ctx, nil, userID)
}

func (s *Service) apply(ctx context.Context, userID, delta int64, eventType string) (model.PointAccount, error) {
	var out model.PointAccount

	err := s.exec.Execute(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		acc, err := s.points.Get(ctx, tx, userID)
		if err != nil {
			return err
		}
		balance := acc.Balance + delta
		if balance < 0 {
			return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientPoints, acc.Balance, -delta)
		}
		if err := s.points.UpdateBalance(ctx, tx, userID, balance, acc.Version); err != nil {
			return err
		}

		acc.Balance, acc.Version = balance, acc.Version+1
		now := time.Now().UTC().Truncate(time.Microsecond)
		acc.UpdatedAt = now

		amount := delta
		if amount < 0 {
			amount = -amount
		}
		ev, err := model.NewOutboxEvent(model.AggregatePoint, strconv.FormatInt(userID, 10), eventType, model.TopicPointEvents,
			model.PointPayload{UserID: userID, Amount: amount, Balance: acc.Balance, Version: acc.Version}, now)
		if err != nil {
			return err
		}
		if _, err := s.outbox.Insert(ctx, tx, ev); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		out = acc
		return nil
	})
	return out, err
}
