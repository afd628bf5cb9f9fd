// Package order places orders and hands their payment to the gateway.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/gateway"
	"github.com/jmehdipour/commerce-sync/internal/logger"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var ErrInvalidOrder = errors.New("invalid order")

type Gateway interface {
	RequestPayment(ctx context.Context, req gateway.PaymentRequest) (gateway.Transaction, error)
}

type Item struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// Placed is the result of PlaceOrder.
type Placed struct {
	Order          model.Order       `json:"-"`
	Items          []model.OrderItem `json:"items"`
	TransactionKey string            `json:"transaction_key,omitempty"`
}

type Service struct {
	db          *sqlx.DB
	orders      repository.OrderRepository
	payments    repository.PaymentRepository
	products    repository.ProductRepository
	outbox      repository.OutboxRepository
	gw          Gateway
	callbackURL string
	log         *zap.Logger
}

func New(
	db *sqlx.DB,
	ordersRepo repository.OrderRepository,
	paymentsRepo repository.PaymentRepository,
	productsRepo repository.ProductRepository,
	outboxRepo repository.OutboxRepository,
	gw Gateway,
	callbackURL string,
	log *zap.Logger,
) *Service {
	return &Service{
		db:          db,
		orders:      ordersRepo,
		payments:    paymentsRepo,
		products:    productsRepo,
		outbox:      outboxRepo,
		gw:          gw,
		callbackURL: callbackURL,
		log:         logger.OrNop(log).Named("order"),
	}
}

// PlaceOrder writes the order, its items, a PENDING payment and order.created
// in one transaction, then requests the payment. A gateway failure leaves the
// payment PENDING for the reconciliation sweep.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, req []Item) (Placed, error) {
	if len(req) == 0 {
		return Placed{}, fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	qty := make(map[int64]int64, len(req))
	ids := make([]int64, 0, len(req))
	for _, it := range req {
		if it.Quantity <= 0 {
			return Placed{}, fmt.Errorf("%w: quantity of product %d", ErrInvalidOrder, it.ProductID)
		}
		if _, seen := qty[it.ProductID]; !seen {
			ids = append(ids, it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}

	prices, err := s.products.PricesByID(ctx, nil, ids)
	if err != nil {
		return Placed{}, err
	}

	items := make([]model.OrderItem, 0, len(ids))
	var total int64
	for _, id := range ids {
		price, ok := prices[id]
		if !ok {
			return Placed{}, fmt.Errorf("product %d: %w", id, repository.ErrNotFound)
		}
		items = append(items, model.OrderItem{ProductID: id, Quantity: qty[id], Price: price})
		total += price * qty[id]
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	o := model.Order{
		OrderKey:    util.NewOrderKey(),
		UserID:      userID,
		TotalAmount: total,
		Status:      model.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Placed{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if o.ID, err = s.orders.Insert(ctx, tx, o, items); err != nil {
		return Placed{}, fmt.Errorf("insert order: %w", err)
	}
	if _, err := s.payments.Insert(ctx, tx, model.Payment{
		OrderKey: o.OrderKey, UserID: userID, Amount: total, Status: model.PaymentPending, CreatedAt: now,
	}); err != nil {
		return Placed{}, fmt.Errorf("insert payment: %w", err)
	}
	ev, err := model.NewOutboxEvent(model.AggregateOrder, o.OrderKey, model.EventOrderCreated, model.TopicOrderEvents,
		model.OrderPayload{OrderKey: o.OrderKey, UserID: userID, Amount: total, Items: items}, now)
	if err != nil {
		return Placed{}, err
	}
	if _, err := s.outbox.Insert(ctx, tx, ev); err != nil {
		return Placed{}, fmt.Errorf("insert outbox: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Placed{}, err
	}

	placed := Placed{Order: o, Items: items}

	pt, err := s.gw.RequestPayment(ctx, gateway.PaymentRequest{
		OrderKey: o.OrderKey, UserID: userID, Amount: total, CallbackURL: s.callbackURL,
	})
	if err != nil {
		s.log.Warn("payment request failed, left for reconciliation", zap.String("order_key", o.OrderKey), zap.Error(err))
		return placed, nil
	}
	if err := s.payments.SetTransactionKey(ctx, o.OrderKey, pt.TransactionKey); err != nil {
		s.log.Warn("store transaction key", zap.String("order_key", o.OrderKey), zap.Error(err))
		return placed, nil
	}
	placed.TransactionKey = pt.TransactionKey
	return placed, nil
}
