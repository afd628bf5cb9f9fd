package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLease(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, ttl), mr
}

func TestTryAcquire_Exclusive(t *testing.T) {
	l, _ := newLease(t, 5*time.Second)
	ctx := context.Background()

	held, ok, err := l.TryAcquire(ctx, "outbox-relay")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "outbox-relay")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	other, ok, err := l.TryAcquire(ctx, "payment-reconcile")
	require.NoError(t, err)
	assert.True(t, ok, "leases are per task")
	defer func() { _ = other.Release(ctx) }()

	require.NoError(t, held.Release(ctx))
	require.NoError(t, held.Release(ctx), "second release is a no-op")

	again, ok, err := l.TryAcquire(ctx, "outbox-relay")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, again.Release(ctx))
}

func TestTryAcquire_ExtendedWhileHeld(t *testing.T) {
	l, mr := newLease(t, time.Second)
	ctx := context.Background()

	held, ok, err := l.TryAcquire(ctx, "payment-reconcile")
	require.NoError(t, err)
	require.True(t, ok)

	// without an extension the key would be gone after the second jump
	mr.FastForward(900 * time.Millisecond)
	time.Sleep(750 * time.Millisecond)
	mr.FastForward(900 * time.Millisecond)

	_, ok, err = l.TryAcquire(ctx, "payment-reconcile")
	require.NoError(t, err)
	assert.False(t, ok, "a long run keeps its lease")

	select {
	case <-held.Lost():
		t.Fatal("lease reported lost while extensions succeed")
	default:
	}
	require.NoError(t, held.Release(ctx))
}

func TestTryAcquire_LostWhenKeyVanishes(t *testing.T) {
	l, mr := newLease(t, 200*time.Millisecond)
	ctx := context.Background()

	held, ok, err := l.TryAcquire(ctx, "outbox-retry")
	require.NoError(t, err)
	require.True(t, ok)

	mr.Del(keyPrefix + "outbox-retry")

	select {
	case <-held.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("lost lease not reported")
	}
	assert.Error(t, held.Release(ctx))
}

func TestTryAcquire_ExpiresAfterCrash(t *testing.T) {
	l, mr := newLease(t, 5*time.Second)
	ctx := context.Background()

	held, ok, err := l.TryAcquire(ctx, "ranking-carry-over")
	require.NoError(t, err)
	require.True(t, ok)

	// a crashed holder stops extending
	close(held.stop)
	<-held.done
	mr.FastForward(6 * time.Second)

	_, ok, err = l.TryAcquire(ctx, "ranking-carry-over")
	require.NoError(t, err)
	assert.True(t, ok, "a crashed holder's lease lapses")
}

func TestTryAcquire_EmptyName(t *testing.T) {
	l, _ := newLease(t, time.Second)
	_, _, err := l.TryAcquire(context.Background(), " ")
	require.Error(t, err)
}
