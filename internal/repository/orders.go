package repository

import (
	"context"
	"strings"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

type OrderRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, o model.Order, items []model.OrderItem) (int64, error)
	GetByKey(ctx context.Context, tx *sqlx.Tx, orderKey string) (model.Order, error)
	Items(ctx context.Context, tx *sqlx.Tx, orderKey string) ([]model.OrderItem, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, orderKey string, from, to model.OrderStatus) (bool, error)
}

type OrderRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepositoryImpl {
	return &OrderRepositoryImpl{db: db}
}

var _ OrderRepository = (*OrderRepositoryImpl)(nil)

// Insert writes the order row and all of its items with a single multi-row insert.
func (r *OrderRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, o model.Order, items []model.OrderItem) (int64, error) {
	if o.Status == "" {
		o.Status = model.OrderPending
	}
	now := nowUTC()

	var id int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders (order_key, user_id, total_amount, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, o.OrderKey, o.UserID, o.TotalAmount, o.Status.String(), now, now)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		var sb strings.Builder
		args := make([]any, 0, len(items)*4)
		sb.WriteString(`INSERT INTO order_items (order_key, product_id, quantity, price) VALUES `)
		for i, it := range items {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, ?, ?)")
			args = append(args, o.OrderKey, it.ProductID, it.Quantity, it.Price)
		}
		_, err = tx.ExecContext(ctx, sb.String(), args...)
		return err
	})
	return id, err
}

func (r *OrderRepositoryImpl) GetByKey(ctx context.Context, tx *sqlx.Tx, orderKey string) (model.Order, error) {
	var o model.Order
	err := pick(r.db, tx).GetContext(ctx, &o, `
		SELECT id, order_key, user_id, total_amount, status, created_at, updated_at
		  FROM orders
		 WHERE order_key = ?
	`, orderKey)
	if err != nil {
		return model.Order{}, notFound(err)
	}
	return o, nil
}

func (r *OrderRepositoryImpl) Items(ctx context.Context, tx *sqlx.Tx, orderKey string) ([]model.OrderItem, error) {
	var items []model.OrderItem
	err := pick(r.db, tx).SelectContext(ctx, &items, `
		SELECT product_id, quantity, price
		  FROM order_items
		 WHERE order_key = ?
		 ORDER BY id
	`, orderKey)
	return items, err
}

func (r *OrderRepositoryImpl) UpdateStatus(ctx context.Context, tx *sqlx.Tx, orderKey string, from, to model.OrderStatus) (bool, error) {
	res, err := pick(r.db, tx).ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ? WHERE order_key = ? AND status = ?
	`, to.String(), nowUTC(), orderKey, from.String())
	return affectedOne(res, err)
}
