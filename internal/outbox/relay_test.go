package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/outbox"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/testutil"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail map[string]int // event id -> remaining failures
	sent []model.OutboxEvent
}

func (p *fakePublisher) Publish(_ context.Context, ev model.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[ev.EventID] > 0 {
		p.fail[ev.EventID]--
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, ev)
	return nil
}

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, ev := range p.sent {
		out = append(out, ev.AggregateKey)
	}
	return out
}

// flakyMarkSent loses the first MarkSent result, as if the process died
// right after the broker acknowledged.
type flakyMarkSent struct {
	repository.OutboxRepository
	once sync.Once
}

func (f *flakyMarkSent) MarkSent(ctx context.Context, id int64, from model.OutboxStatus) (bool, error) {
	var crashed bool
	f.once.Do(func() { crashed = true })
	if crashed {
		return false, errors.New("connection reset")
	}
	return f.OutboxRepository.MarkSent(ctx, id, from)
}

func enqueue(t *testing.T, dbx *sqlx.DB, repo repository.OutboxRepository, key string, at time.Time) model.OutboxEvent {
	t.Helper()
	ev, err := model.NewOutboxEvent(model.AggregateProduct, key, model.EventProductViewed, model.TopicCatalogEvents,
		model.ProductViewPayload{ProductID: 1}, at)
	require.NoError(t, err)

	tx, err := dbx.Beginx()
	require.NoError(t, err)
	ev.ID, err = repo.Insert(context.Background(), tx, ev)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return ev
}

func TestRelayPending_PublishesInOrder(t *testing.T) {
	dbx := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(dbx)
	pub := &fakePublisher{}
	relay := outbox.NewRelay(repo, pub, 10, 3, nil)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, k := range []string{"a", "b", "c"} {
		enqueue(t, dbx, repo, k, base.Add(time.Duration(i)*time.Second))
	}

	res, err := relay.RelayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbox.Result{Selected: 3, Sent: 3}, res)
	assert.Equal(t, []string{"a", "b", "c"}, pub.keys())

	res, err = relay.RelayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbox.Result{}, res, "sent events are not selected again")
}

func TestRelayPending_BatchSize(t *testing.T) {
	dbx := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(dbx)
	pub := &fakePublisher{}
	relay := outbox.NewRelay(repo, pub, 2, 3, nil)

	now := time.Now().UTC()
	for _, k := range []string{"a", "b", "c"} {
		enqueue(t, dbx, repo, k, now)
	}

	res, err := relay.RelayPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 1, testutil.CountRows(t, dbx, "outbox_events", "status = ?", "PENDING"))
}

func TestRelay_FailureDoesNotAbortBatchAndRetrySucceeds(t *testing.T) {
	dbx := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(dbx)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	bad := enqueue(t, dbx, repo, "bad", base)
	enqueue(t, dbx, repo, "good", base.Add(time.Second))

	pub := &fakePublisher{fail: map[string]int{bad.EventID: 1}}
	relay := outbox.NewRelay(repo, pub, 10, 3, nil)

	res, err := relay.RelayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbox.Result{Selected: 2, Sent: 1, Failed: 1}, res)

	got, err := repo.GetByEventID(ctx, bad.EventID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "broker unavailable")

	res, err = relay.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbox.Result{Selected: 1, Sent: 1}, res)

	got, err = repo.GetByEventID(ctx, bad.EventID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxSent, got.Status)
	assert.ElementsMatch(t, []string{"good", "bad"}, pub.keys())
}

func TestRetryFailed_StopsAtAttemptCap(t *testing.T) {
	dbx := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(dbx)
	ctx := context.Background()

	ev := enqueue(t, dbx, repo, "x", time.Now().UTC())
	pub := &fakePublisher{fail: map[string]int{ev.EventID: 100}}
	relay := outbox.NewRelay(repo, pub, 10, 3, nil)

	_, err := relay.RelayPending(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = relay.RetryFailed(ctx)
		require.NoError(t, err)
	}

	got, err := repo.GetByEventID(ctx, ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxFailed, got.Status)
	assert.Equal(t, 3, got.Attempts, "no publish attempts beyond the cap")

	res, err := relay.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Selected)
}

func TestRelay_LostMarkSentRepublishes(t *testing.T) {
	dbx := testutil.NewDB(t)
	base := repository.NewOutboxRepository(dbx)
	repo := &flakyMarkSent{OutboxRepository: base}
	pub := &fakePublisher{}
	relay := outbox.NewRelay(repo, pub, 10, 3, nil)
	ctx := context.Background()

	ev := enqueue(t, dbx, base, "k", time.Now().UTC())

	res, err := relay.RelayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	res, err = relay.RelayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	// at-least-once: the same event id went out twice
	require.Len(t, pub.sent, 2)
	assert.Equal(t, ev.EventID, pub.sent[0].EventID)
	assert.Equal(t, ev.EventID, pub.sent[1].EventID)
}

func TestRelay_CancelledContext(t *testing.T) {
	dbx := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(dbx)
	relay := outbox.NewRelay(repo, &fakePublisher{}, 10, 3, nil)
	enqueue(t, dbx, repo, "k", time.Now().UTC())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := relay.RelayPending(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRelay_KeepsCreationOrderPerAggregate(t *testing.T) {
	dbx := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(dbx)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	first := enqueue(t, dbx, repo, "p", base)
	second := enqueue(t, dbx, repo, "p", base.Add(time.Second))
	other := enqueue(t, dbx, repo, "q", base.Add(2*time.Second))

	pub := &fakePublisher{fail: map[string]int{first.EventID: 1}}
	relay := outbox.NewRelay(repo, pub, 10, 3, nil)

	res, err := relay.RelayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbox.Result{Selected: 3, Sent: 1, Failed: 1, Held: 1}, res)

	got, err := repo.GetByEventID(ctx, second.EventID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxPending, got.Status)

	// still waiting behind the failed event
	res, err = relay.RelayPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Selected)

	res, err = relay.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	res, err = relay.RelayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	ids := make([]string, 0, len(pub.sent))
	for _, ev := range pub.sent {
		ids = append(ids, ev.EventID)
	}
	assert.Equal(t, []string{other.EventID, first.EventID, second.EventID}, ids)
}
