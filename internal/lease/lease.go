// Package lease provides best-effort distributed mutual exclusion for
// scheduled tasks running on more than one instance.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = time.Minute
	keyPrefix  = "lease:task:"
)

type Redis struct {
	rs  *redsync.Redsync
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rs: redsync.New(goredis.NewPool(rdb)), ttl: ttl}
}

// TryAcquire makes a single attempt at the lease for name. ok is false when
// another holder has it. A held lease is extended every ttl/2 until Release.
func (l *Redis) TryAcquire(ctx context.Context, name string) (*Held, bool, error) {
	if strings.TrimSpace(name) == "" {
		return nil, false, errors.New("lease: empty name")
	}

	m := l.rs.NewMutex(keyPrefix+name, redsync.WithExpiry(l.ttl), redsync.WithTries(1))
	if err := m.TryLockContext(ctx); err != nil {
		if isTaken(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lease %s: %w", name, err)
	}

	h := &Held{
		name: name,
		m:    m,
		lost: make(chan struct{}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go h.keepAlive(l.ttl / 2)
	return h, true, nil
}

// Held is an acquired lease.
type Held struct {
	name string
	m    *redsync.Mutex

	lost chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Lost is closed when an extension fails; from then on another instance may
// hold the lease.
func (h *Held) Lost() <-chan struct{} { return h.lost }

func (h *Held) keepAlive(every time.Duration) {
	defer close(h.done)

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			ok, err := h.m.ExtendContext(ctx)
			cancel()
			if err != nil || !ok {
				close(h.lost)
				return
			}
		}
	}
}

// Release stops the extensions and gives the lease back. Only the first call
// has any effect.
func (h *Held) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		<-h.done

		ok, uerr := h.m.UnlockContext(ctx)
		switch {
		case uerr != nil:
			err = fmt.Errorf("lease %s: unlock: %w", h.name, uerr)
		case !ok:
			err = fmt.Errorf("lease %s: expired before release", h.name)
		}
	})
	return err
}

func isTaken(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}
