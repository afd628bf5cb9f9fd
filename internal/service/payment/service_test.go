package payment_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/service/payment"
	"github.com/jmehdipour/commerce-sync/internal/testutil"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*payment.Service, *sqlx.DB) {
	t.Helper()
	dbx := testutil.NewDB(t)
	ctx := context.Background()

	orders := repository.NewOrderRepository(dbx)
	payments := repository.NewPaymentRepository(dbx)
	_, err := orders.Insert(ctx, nil, model.Order{OrderKey: "ORD-1", UserID: 9, TotalAmount: 1000},
		[]model.OrderItem{{ProductID: 3, Quantity: 2, Price: 500}})
	require.NoError(t, err)
	_, err = payments.Insert(ctx, nil, model.Payment{OrderKey: "ORD-1", UserID: 9, Amount: 1000})
	require.NoError(t, err)
	require.NoError(t, payments.SetTransactionKey(ctx, "ORD-1", "TX-1"))

	return payment.New(dbx, payments, orders, repository.NewOutboxRepository(dbx)), dbx
}

func TestResolve_SuccessOnce(t *testing.T) {
	svc, dbx := setup(t)
	ctx := context.Background()

	ok, err := svc.Resolve(ctx, "ORD-1", "TX-1", model.PaymentSuccess, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Resolve(ctx, "ORD-1", "TX-1", model.PaymentSuccess, "")
	require.NoError(t, err)
	assert.False(t, ok, "callback and sweeper may both deliver the answer")

	o, err := repository.NewOrderRepository(dbx).GetByKey(ctx, nil, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, o.Status)

	var payload []byte
	require.NoError(t, dbx.Get(&payload, `SELECT payload FROM outbox_events WHERE event_type = ?`, model.EventOrderPaid))
	var env model.Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	var data model.OrderPayload
	require.NoError(t, env.Decode(&data))
	assert.Equal(t, []model.OrderItem{{ProductID: 3, Quantity: 2, Price: 500}}, data.Items)
}

func TestResolve_Failed(t *testing.T) {
	svc, dbx := setup(t)
	ctx := context.Background()

	ok, err := svc.Resolve(ctx, "ORD-1", "", model.PaymentFailed, "card limit")
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := svc.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, p.Status)
	require.NotNil(t, p.Reason)
	assert.Equal(t, "card limit", *p.Reason)
	assert.Equal(t, "TX-1", p.TxKey())
	assert.Equal(t, 1, testutil.CountRows(t, dbx, "outbox_events", "event_type = ?", model.EventOrderPaymentFailed))
}

func TestResolve_Guards(t *testing.T) {
	svc, dbx := setup(t)
	ctx := context.Background()

	ok, err := svc.Resolve(ctx, "ORD-1", "TX-1", model.PaymentPending, "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Resolve(ctx, "ORD-1", "TX-OTHER", model.PaymentSuccess, "")
	require.ErrorIs(t, err, payment.ErrTransactionMismatch)

	_, err = svc.Resolve(ctx, "ORD-404", "", model.PaymentSuccess, "")
	require.ErrorIs(t, err, repository.ErrNotFound)

	assert.Zero(t, testutil.CountRows(t, dbx, "outbox_events", ""))
}

func TestResolve_OrderNoLongerPending(t *testing.T) {
	svc, dbx := setup(t)
	ctx := context.Background()

	_, err := dbx.Exec(`UPDATE orders SET status = ? WHERE order_key = ?`, model.OrderPaymentFailed, "ORD-1")
	require.NoError(t, err)

	ok, err := svc.Resolve(ctx, "ORD-1", "TX-1", model.PaymentSuccess, "")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.False(t, ok)

	p, err := svc.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, p.Status, "payment change rolls back with the order")
	assert.Equal(t, 0, testutil.CountRows(t, dbx, "outbox_events", "event_type = ?", model.EventOrderPaid))
}
