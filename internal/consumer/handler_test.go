package consumer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/consumer"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/retry"
	"github.com/jmehdipour/commerce-sync/internal/testutil"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScores struct {
	mu    sync.Mutex
	added map[int64]float64
}

func (f *fakeScores) Incr(_ context.Context, _ time.Time, productID int64, delta float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.added == nil {
		f.added = map[int64]float64{}
	}
	f.added[productID] += delta
	return nil
}

type fakeAudit struct {
	events []repository.AuditEvent
}

func (f *fakeAudit) Append(_ context.Context, ev repository.AuditEvent) error {
	f.events = append(f.events, ev)
	return nil
}

// conflictOnce makes the first Update lose its version race.
type conflictOnce struct {
	repository.ProductMetricsRepository
	mu    sync.Mutex
	fired bool
	calls int
}

func (c *conflictOnce) Update(ctx context.Context, tx *sqlx.Tx, m model.ProductMetrics) error {
	c.mu.Lock()
	c.calls++
	fire := !c.fired
	c.fired = true
	c.mu.Unlock()
	if fire {
		return fmt.Errorf("product metrics %d: %w", m.ProductID, retry.ErrConflict)
	}
	return c.ProductMetricsRepository.Update(ctx, tx, m)
}

// blindLedger never sees prior rows, as when a concurrent consumer committed
// between our check and our mark.
type blindLedger struct {
	repository.HandledEventRepository
}

func (blindLedger) Exists(context.Context, *sqlx.Tx, string) (bool, error) { return false, nil }

var weights = consumer.Weights{View: 0.1, Like: 0.2, Order: 0.7}

func envelope(t *testing.T, id, typ, key string, data any) model.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return model.Envelope{EventID: id, EventType: typ, AggregateKey: key, OccurredAt: time.Now().UTC(), Data: raw}
}

func newHandler(t *testing.T, dbx *sqlx.DB, opts ...consumer.Option) (*consumer.Handler, *repository.ProductMetricsRepositoryImpl) {
	t.Helper()
	mrepo := repository.NewProductMetricsRepository(dbx)
	exec := retry.NewExecutor("product_metrics", retry.NoDelay(5), nil)
	return consumer.NewHandler(dbx, repository.NewHandledEventRepository(), mrepo, exec, weights, nil, opts...), mrepo
}

func TestHandle_SameEventTwiceAppliesOnce(t *testing.T) {
	dbx := testutil.NewDB(t)
	scores := &fakeScores{}
	audit := &fakeAudit{}
	h, mrepo := newHandler(t, dbx, consumer.WithScores(scores), consumer.WithAudit(audit))
	ctx := context.Background()

	env := envelope(t, "evt-7", model.EventProductLiked, "7", model.ProductLikePayload{UserID: 1, ProductID: 7})

	out, err := h.Handle(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, consumer.Applied, out)

	out, err = h.Handle(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, consumer.Duplicate, out)

	m, err := mrepo.Get(ctx, nil, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.LikeCount)
	assert.InDelta(t, 0.2, scores.added[7], 1e-9)
	assert.Len(t, audit.events, 1)
	assert.Equal(t, 1, testutil.CountRows(t, dbx, "handled_events", "event_id = ?", "evt-7"))
}

func TestHandle_RedeliveredEventsAcrossTypes(t *testing.T) {
	dbx := testutil.NewDB(t)
	h, mrepo := newHandler(t, dbx)
	ctx := context.Background()

	events := []model.Envelope{
		envelope(t, "e1", model.EventProductViewed, "3", model.ProductViewPayload{ProductID: 3}),
		envelope(t, "e2", model.EventProductViewed, "3", model.ProductViewPayload{ProductID: 3}),
		envelope(t, "e3", model.EventOrderPaid, "ORD-1", model.OrderPayload{
			OrderKey: "ORD-1",
			Items:    []model.OrderItem{{ProductID: 3, Quantity: 2}, {ProductID: 4, Quantity: 1}},
		}),
	}
	// broker redelivers everything
	for i := 0; i < 2; i++ {
		for _, env := range events {
			_, err := h.Handle(ctx, env)
			require.NoError(t, err)
		}
	}

	m3, err := mrepo.Get(ctx, nil, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, m3.ViewCount)
	assert.EqualValues(t, 2, m3.SalesCount)

	m4, err := mrepo.Get(ctx, nil, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m4.SalesCount)
}

func TestHandle_UnlikeFloorsAtZero(t *testing.T) {
	dbx := testutil.NewDB(t)
	h, mrepo := newHandler(t, dbx)
	ctx := context.Background()

	out, err := h.Handle(ctx, envelope(t, "u1", model.EventProductUnliked, "9", model.ProductLikePayload{ProductID: 9}))
	require.NoError(t, err)
	assert.Equal(t, consumer.Applied, out)

	m, err := mrepo.Get(ctx, nil, 9)
	require.NoError(t, err)
	assert.EqualValues(t, 0, m.LikeCount)
}

func TestHandle_UnknownTypeIsIgnoredButRecorded(t *testing.T) {
	dbx := testutil.NewDB(t)
	h, _ := newHandler(t, dbx)
	ctx := context.Background()

	env := envelope(t, "p1", model.EventPointCharged, "1", model.PointPayload{UserID: 1, Amount: 10})
	out, err := h.Handle(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, consumer.Ignored, out)

	out, err = h.Handle(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, consumer.Duplicate, out)
}

func TestHandle_ConflictRerunsTransaction(t *testing.T) {
	dbx := testutil.NewDB(t)
	mrepo := &conflictOnce{ProductMetricsRepository: repository.NewProductMetricsRepository(dbx)}
	exec := retry.NewExecutor("product_metrics", retry.NoDelay(5), nil)
	h := consumer.NewHandler(dbx, repository.NewHandledEventRepository(), mrepo, exec, weights, nil)
	ctx := context.Background()

	out, err := h.Handle(ctx, envelope(t, "c1", model.EventProductLiked, "5", model.ProductLikePayload{ProductID: 5}))
	require.NoError(t, err)
	assert.Equal(t, consumer.Applied, out)
	assert.Equal(t, 2, mrepo.calls)

	m, err := mrepo.Get(ctx, nil, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.LikeCount, "rolled back attempt must not count")
}

func TestHandle_DuplicateInFlightRollsBack(t *testing.T) {
	dbx := testutil.NewDB(t)
	ledger := repository.NewHandledEventRepository()
	mrepo := repository.NewProductMetricsRepository(dbx)
	ctx := context.Background()

	tx, err := dbx.Beginx()
	require.NoError(t, err)
	require.NoError(t, ledger.Mark(ctx, tx, "race-1", model.EventProductLiked, "8", time.Now()))
	require.NoError(t, tx.Commit())

	exec := retry.NewExecutor("product_metrics", retry.NoDelay(5), nil)
	h := consumer.NewHandler(dbx, blindLedger{ledger}, mrepo, exec, weights, nil)

	out, err := h.Handle(ctx, envelope(t, "race-1", model.EventProductLiked, "8", model.ProductLikePayload{ProductID: 8}))
	require.NoError(t, err)
	assert.Equal(t, consumer.DuplicateInFlight, out)

	_, err = mrepo.Get(ctx, nil, 8)
	require.ErrorIs(t, err, repository.ErrNotFound, "effect must be rolled back with the mark")
}

func TestHandle_Malformed(t *testing.T) {
	dbx := testutil.NewDB(t)
	h, _ := newHandler(t, dbx)
	ctx := context.Background()

	_, err := h.Handle(ctx, model.Envelope{EventType: model.EventProductLiked})
	require.ErrorIs(t, err, consumer.ErrMalformedEvent)

	bad := model.Envelope{EventID: "m1", EventType: model.EventProductLiked, Data: json.RawMessage(`"nope"`)}
	_, err = h.Handle(ctx, bad)
	require.ErrorIs(t, err, consumer.ErrMalformedEvent)
	assert.Zero(t, testutil.CountRows(t, dbx, "handled_events", ""))
}
