// Package payment resolves pending payments from gateway answers, whether
// they arrive by callback or by reconciliation.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmoiron/sqlx"
)

var ErrTransactionMismatch = errors.New("transaction key does not match payment")

type Service struct {
	db       *sqlx.DB
	payments repository.PaymentRepository
	orders   repository.OrderRepository
	outbox   repository.OutboxRepository
}

func New(db *sqlx.DB, paymentsRepo repository.PaymentRepository, ordersRepo repository.OrderRepository, outboxRepo repository.OutboxRepository) *Service {
	return &Service{db: db, payments: paymentsRepo, orders: ordersRepo, outbox: outboxRepo}
}

func (s *Service) Get(ctx context.Context, orderKey string) (model.Payment, error) {
	return s.payments.GetByOrderKey(ctx, nil, orderKey)
}

// Resolve applies a terminal gateway status to a PENDING payment, moves the
// order along and emits order.paid or order.payment_failed. It reports false
// when there was nothing to do: status not terminal, or payment already resolved.
func (s *Service) Resolve(ctx context.Context, orderKey, transactionKey string, status model.PaymentStatus, reason string) (bool, error) {
	if !status.Terminal() {
		return false, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := s.payments.GetByOrderKey(ctx, tx, orderKey)
	if err != nil {
		return false, err
	}
	if p.TransactionKey != nil && transactionKey != "" && *p.TransactionKey != transactionKey {
		return false, fmt.Errorf("%w: order %s", ErrTransactionMismatch, orderKey)
	}

	ok, err := s.payments.Resolve(ctx, tx, orderKey, status, transactionKey, reason)
	if err != nil || !ok {
		return false, err
	}

	payload := model.OrderPayload{OrderKey: orderKey, UserID: p.UserID, Amount: p.Amount}
	to, eventType := model.OrderPaid, model.EventOrderPaid
	if status == model.PaymentSuccess {
		if payload.Items, err = s.orders.Items(ctx, tx, orderKey); err != nil {
			return false, err
		}
	} else {
		to, eventType = model.OrderPaymentFailed, model.EventOrderPaymentFailed
		payload.Reason = reason
	}

	moved, err := s.orders.UpdateStatus(ctx, tx, orderKey, model.OrderPending, to)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	if !moved {
		return false, fmt.Errorf("%w: order %s is not PENDING", model.ErrInvalidTransition, orderKey)
	}

	ev, err := model.NewOutboxEvent(model.AggregateOrder, orderKey, eventType, model.TopicOrderEvents, payload,
		time.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return false, err
	}
	if _, err := s.outbox.Insert(ctx, tx, ev); err != nil {
		return false, fmt.Errorf("insert outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
