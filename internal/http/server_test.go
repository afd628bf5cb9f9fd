package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/commerce-sync/internal/gateway"
	apphttp "github.com/jmehdipour/commerce-sync/internal/http"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/ranking"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/retry"
	"github.com/jmehdipour/commerce-sync/internal/scheduler"
	"github.com/jmehdipour/commerce-sync/internal/service/like"
	"github.com/jmehdipour/commerce-sync/internal/service/order"
	"github.com/jmehdipour/commerce-sync/internal/service/payment"
	"github.com/jmehdipour/commerce-sync/internal/service/point"
	"github.com/jmehdipour/commerce-sync/internal/testutil"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct{}

func (stubGateway) RequestPayment(_ context.Context, req gateway.PaymentRequest) (gateway.Transaction, error) {
	return gateway.Transaction{TransactionKey: "TX-" + req.OrderKey, Status: model.PaymentPending}, nil
}

type stubRunner struct {
	ran         []string
	ctxErr      error
	hasDeadline bool
}

func (r *stubRunner) RunNow(ctx context.Context, name string) (any, error) {
	if name != scheduler.TaskOutboxRelay {
		return nil, scheduler.ErrUnknownTask
	}
	r.ran = append(r.ran, name)
	r.ctxErr = ctx.Err()
	_, r.hasDeadline = ctx.Deadline()
	return map[string]int{"sent": 3}, nil
}

type fixture struct {
	h      http.Handler
	db     *sqlx.DB
	store  *ranking.Store
	runner *stubRunner
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dbx := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	outbox := repository.NewOutboxRepository(dbx)
	orders := repository.NewOrderRepository(dbx)
	payments := repository.NewPaymentRepository(dbx)
	products := repository.NewProductRepository(dbx)
	store := ranking.NewStore(rdb, time.UTC, time.Hour)
	runner := &stubRunner{}

	srv := apphttp.NewServer(apphttp.Deps{
		Points:   point.New(dbx, repository.NewPointRepository(dbx), outbox, retry.NewExecutor("point", retry.NoDelay(5), nil)),
		Likes:    like.New(dbx, repository.NewLikeRepository(), products, outbox),
		Orders:   order.New(dbx, orders, payments, products, outbox, stubGateway{}, "http://localhost/cb", nil),
		Payments: payment.New(dbx, payments, orders, outbox),
		Rankings: store,
		Tasks:    runner,
		Redis:    rdb,
	})
	return fixture{h: srv.Handler(), db: dbx, store: store, runner: runner}
}

func (f fixture) do(t *testing.T, method, path, user, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-USER-ID", user)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestPoints(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/v1/points", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := f.do(t, http.MethodPost, "/v1/points/charge", "7", `{"amount":1000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1000, body["balance"])

	rec, body = f.do(t, http.MethodPost, "/v1/points/use", "7", `{"amount":400}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 600, body["balance"])

	rec, body = f.do(t, http.MethodPost, "/v1/points/use", "7", `{"amount":601}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "insufficient_points", body["error"])

	rec, _ = f.do(t, http.MethodPost, "/v1/points/charge", "7", `{"amount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/v1/points", "7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 600, body["balance"])
}

func TestLikes(t *testing.T) {
	f := newFixture(t)
	pid := testutil.SeedProduct(t, f.db, "mug", 900)
	path := "/v1/products/" + itoa(pid) + "/likes"

	rec, body := f.do(t, http.MethodPost, path, "3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["changed"])

	_, body = f.do(t, http.MethodPost, path, "3", "")
	assert.Equal(t, false, body["changed"])

	_, body = f.do(t, http.MethodDelete, path, "3", "")
	assert.Equal(t, true, body["changed"])

	rec, _ = f.do(t, http.MethodPost, "/v1/products/abc/likes", "3", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/products/"+itoa(pid)+"/views", "3", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, 3, testutil.CountRows(t, f.db, "outbox_events", ""))
}

func TestOrderAndCallback(t *testing.T) {
	f := newFixture(t)
	pid := testutil.SeedProduct(t, f.db, "lamp", 250)

	rec, body := f.do(t, http.MethodPost, "/v1/orders", "5", `{"items":[{"product_id":`+itoa(pid)+`,"quantity":2}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 500, body["total_amount"])
	orderKey, _ := body["order_key"].(string)
	require.NotEmpty(t, orderKey)
	assert.Equal(t, "TX-"+orderKey, body["transaction_key"])

	cb := `{"order_key":"` + orderKey + `","transaction_key":"TX-` + orderKey + `","status":"success"}`
	rec, body = f.do(t, http.MethodPost, "/v1/payments/callback", "", cb)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["applied"])

	// a replayed callback is a no-op
	_, body = f.do(t, http.MethodPost, "/v1/payments/callback", "", cb)
	assert.Equal(t, false, body["applied"])

	rec, _ = f.do(t, http.MethodPost, "/v1/payments/callback", "", `{"order_key":"`+orderKey+`","status":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/orders", "5", `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 1, testutil.CountRows(t, f.db, "orders", "status = ?", model.OrderPaid))
}

func TestRankings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.store.Incr(ctx, now, 11, 0.2))
	require.NoError(t, f.store.Incr(ctx, now, 12, 0.7))

	rec, body := f.do(t, http.MethodGet, "/v1/rankings?size=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	results, _ := body["results"].([]any)
	require.Len(t, results, 1)
	assert.EqualValues(t, 12, results[0].(map[string]any)["product_id"])

	rec, body = f.do(t, http.MethodGet, "/v1/products/11/rank", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["rank"])

	_, body = f.do(t, http.MethodGet, "/v1/products/99/rank", "", "")
	assert.Nil(t, body["rank"])

	rec, _ = f.do(t, http.MethodGet, "/v1/rankings?date=2024-01-01", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTasksAndReports(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/internal/tasks/outbox-relay/run", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "outbox-relay", body["task"])
	assert.Equal(t, []string{"outbox-relay"}, f.runner.ran)

	rec, _ = f.do(t, http.MethodPost, "/internal/tasks/nope/run", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/v1/reports/events", "1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func TestTaskRunOutlivesClient(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/internal/tasks/outbox-relay/run", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, f.runner.ctxErr, "a gone client does not cancel the run")
	assert.True(t, f.runner.hasDeadline)
}
