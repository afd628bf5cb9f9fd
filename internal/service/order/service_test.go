package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jmehdipour/commerce-sync/internal/gateway"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/service/order"
	"github.com/jmehdipour/commerce-sync/internal/testutil"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	err  error
	reqs []gateway.PaymentRequest
}

func (g *fakeGateway) RequestPayment(_ context.Context, req gateway.PaymentRequest) (gateway.Transaction, error) {
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return gateway.Transaction{}, g.err
	}
	return gateway.Transaction{TransactionKey: "TX-" + req.OrderKey, Status: model.PaymentPending}, nil
}

func newService(t *testing.T, gw order.Gateway) (*order.Service, *sqlx.DB) {
	t.Helper()
	dbx := testutil.NewDB(t)
	return order.New(dbx,
		repository.NewOrderRepository(dbx),
		repository.NewPaymentRepository(dbx),
		repository.NewProductRepository(dbx),
		repository.NewOutboxRepository(dbx),
		gw, "http://localhost/cb", nil), dbx
}

func TestPlaceOrder(t *testing.T) {
	gw := &fakeGateway{}
	svc, dbx := newService(t, gw)
	ctx := context.Background()
	a := testutil.SeedProduct(t, dbx, "a", 500)
	b := testutil.SeedProduct(t, dbx, "b", 300)

	placed, err := svc.PlaceOrder(ctx, 9, []order.Item{{ProductID: a, Quantity: 1}, {ProductID: b, Quantity: 1}, {ProductID: a, Quantity: 1}})
	require.NoError(t, err)
	assert.EqualValues(t, 1300, placed.Order.TotalAmount)
	assert.Len(t, placed.Items, 2)
	assert.Equal(t, "TX-"+placed.Order.OrderKey, placed.TransactionKey)

	require.Len(t, gw.reqs, 1)
	assert.EqualValues(t, 1300, gw.reqs[0].Amount)
	assert.Equal(t, "http://localhost/cb", gw.reqs[0].CallbackURL)

	p, err := repository.NewPaymentRepository(dbx).GetByOrderKey(ctx, nil, placed.Order.OrderKey)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, p.Status)
	assert.Equal(t, placed.TransactionKey, p.TxKey())
	assert.Equal(t, 1, testutil.CountRows(t, dbx, "outbox_events", "event_type = ?", model.EventOrderCreated))
}

func TestPlaceOrder_GatewayDownLeavesPending(t *testing.T) {
	svc, dbx := newService(t, &fakeGateway{err: errors.New("timeout")})
	ctx := context.Background()
	a := testutil.SeedProduct(t, dbx, "a", 500)

	placed, err := svc.PlaceOrder(ctx, 9, []order.Item{{ProductID: a, Quantity: 2}})
	require.NoError(t, err)
	assert.Empty(t, placed.TransactionKey)

	p, err := repository.NewPaymentRepository(dbx).GetByOrderKey(ctx, nil, placed.Order.OrderKey)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, p.Status)
	assert.Nil(t, p.TransactionKey)
}

func TestPlaceOrder_Invalid(t *testing.T) {
	gw := &fakeGateway{}
	svc, dbx := newService(t, gw)
	ctx := context.Background()
	a := testutil.SeedProduct(t, dbx, "a", 500)

	_, err := svc.PlaceOrder(ctx, 9, nil)
	require.ErrorIs(t, err, order.ErrInvalidOrder)

	_, err = svc.PlaceOrder(ctx, 9, []order.Item{{ProductID: a, Quantity: 0}})
	require.ErrorIs(t, err, order.ErrInvalidOrder)

	_, err = svc.PlaceOrder(ctx, 9, []order.Item{{ProductID: 404, Quantity: 1}})
	require.ErrorIs(t, err, repository.ErrNotFound)

	assert.Empty(t, gw.reqs)
	assert.Zero(t, testutil.CountRows(t, dbx, "orders", ""))
}
