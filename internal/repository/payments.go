package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

type PaymentRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, p model.Payment) (int64, error)
	GetByOrderKey(ctx context.Context, tx *sqlx.Tx, orderKey string) (model.Payment, error)
	SetTransactionKey(ctx context.Context, orderKey, transactionKey string) error
	// ListStalePending returns PENDING payments created before cutoff, oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Payment, error)
	// Resolve moves a PENDING payment to a terminal status. It returns false
	// when the payment was no longer PENDING.
	Resolve(ctx context.Context, tx *sqlx.Tx, orderKey string, to model.PaymentStatus, transactionKey, reason string) (bool, error)
}

type PaymentRepositoryImpl struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepositoryImpl {
	return &PaymentRepositoryImpl{db: db}
}

var _ PaymentRepository = (*PaymentRepositoryImpl)(nil)

const paymentColumns = `id, order_key, transaction_key, user_id, amount, status, reason, created_at, updated_at`

func (r *PaymentRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, p model.Payment) (int64, error) {
	if p.Status == "" {
		p.Status = model.PaymentPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = nowUTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	var id int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payments
			    (order_key, transaction_key, user_id, amount, status, reason, created_at, updated_at)
			VALUES
			    (?,         ?,               ?,       ?,      ?,      ?,      ?,          ?)
		`, p.OrderKey, p.TransactionKey, p.UserID, p.Amount, p.Status.String(), p.Reason, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (r *PaymentRepositoryImpl) GetByOrderKey(ctx context.Context, tx *sqlx.Tx, orderKey string) (model.Payment, error) {
	var p model.Payment
	err := pick(r.db, tx).GetContext(ctx, &p, `
		SELECT `+paymentColumns+` FROM payments WHERE order_key = ? LIMIT 1
	`, orderKey)
	if err != nil {
		return model.Payment{}, notFound(err)
	}
	return p, nil
}

func (r *PaymentRepositoryImpl) SetTransactionKey(ctx context.Context, orderKey, transactionKey string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments
		   SET transaction_key = ?, updated_at = ?
		 WHERE order_key = ? AND transaction_key IS NULL
	`, transactionKey, nowUTC(), orderKey)
	return err
}

func (r *PaymentRepositoryImpl) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Payment, error) {
	var rows []model.Payment
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+paymentColumns+`
		  FROM payments
		 WHERE status = ? AND created_at < ?
		 ORDER BY created_at, id
		 LIMIT ?
	`, model.PaymentPending.String(), cutoff.UTC(), limit)
	return rows, err
}

func (r *PaymentRepositoryImpl) Resolve(ctx context.Context, tx *sqlx.Tx, orderKey string, to model.PaymentStatus, transactionKey, reason string) (bool, error) {
	if err := model.ValidatePaymentTransition(model.PaymentPending, to); err != nil {
		return false, err
	}

	var txKey, rsn *string
	if transactionKey != "" {
		txKey = &transactionKey
	}
	if reason != "" {
		rsn = &reason
	}

	res, err := pick(r.db, tx).ExecContext(ctx, `
		UPDATE payments
		   SET status = ?, transaction_key = COALESCE(?, transaction_key), reason = ?, updated_at = ?
		 WHERE order_key = ? AND status = ?
	`, to.String(), txKey, rsn, nowUTC(), orderKey, model.PaymentPending.String())
	return affectedOne(res, err)
}
