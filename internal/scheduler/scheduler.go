// Package scheduler runs named background tasks on cron specs. A task never
// overlaps itself: an in-process guard skips ticks while a run is in flight,
// and an optional lease does the same across instances.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/lease"
	"github.com/jmehdipour/commerce-sync/internal/logger"
	"github.com/jmehdipour/commerce-sync/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrTaskRunning = errors.New("task already running")
	ErrLeaseBusy   = errors.New("task running on another instance")
)

// Task names.
const (
	TaskOutboxRelay      = "outbox-relay"
	TaskOutboxRetry      = "outbox-retry"
	TaskPaymentReconcile = "payment-reconcile"
	TaskRankingCarryOver = "ranking-carry-over"
)

// TaskFunc does one pass and returns its summary.
type TaskFunc func(ctx context.Context) (any, error)

type Lease interface {
	TryAcquire(ctx context.Context, name string) (*lease.Held, bool, error)
}

type task struct {
	name    string
	spec    string
	fn      TaskFunc
	running atomic.Bool
}

type Scheduler struct {
	cron  *cron.Cron
	lease Lease // nil runs without cross-instance exclusion
	log   *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*task

	ctx    context.Context
	cancel context.CancelFunc
}

func New(loc *time.Location, l Lease, log *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		lease:  l,
		log:    logger.OrNop(log).Named("scheduler"),
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a task. An empty spec registers it for RunNow only.
func (s *Scheduler) Register(name, spec string, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.tasks[name]; dup {
		return fmt.Errorf("task %s already registered", name)
	}
	t := &task{name: name, spec: spec, fn: fn}
	if spec != "" {
		if _, err := s.cron.AddFunc(spec, func() { s.tick(t) }); err != nil {
			return fmt.Errorf("task %s spec %q: %w", name, spec, err)
		}
	}
	s.tasks[name] = t
	return nil
}

func (s *Scheduler) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tasks))
	for n := range s.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops issuing ticks, cancels in-flight runs and waits for them.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// RunNow runs name immediately under the same guards as a scheduled tick.
func (s *Scheduler) RunNow(ctx context.Context, name string) (any, error) {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, t)
}

func (s *Scheduler) tick(t *task) {
	summary, err := s.run(s.ctx, t)
	switch {
	case errors.Is(err, ErrTaskRunning), errors.Is(err, ErrLeaseBusy):
		s.log.Debug("tick skipped", zap.String("task", t.name), zap.Error(err))
	case err != nil:
		s.log.Error("task failed", zap.String("task", t.name), zap.Error(err))
	default:
		s.log.Debug("task done", zap.String("task", t.name), zap.Any("summary", summary))
	}
}

func (s *Scheduler) run(ctx context.Context, t *task) (any, error) {
	if !t.running.CompareAndSwap(false, true) {
		metrics.TaskRunsTotal.WithLabelValues(t.name, "overlap").Inc()
		return nil, fmt.Errorf("%w: %s", ErrTaskRunning, t.name)
	}
	defer t.running.Store(false)

	if s.lease != nil {
		held, ok, err := s.lease.TryAcquire(ctx, t.name)
		if err != nil {
			metrics.TaskRunsTotal.WithLabelValues(t.name, "error").Inc()
			return nil, err
		}
		if !ok {
			metrics.TaskRunsTotal.WithLabelValues(t.name, "lease_busy").Inc()
			return nil, fmt.Errorf("%w: %s", ErrLeaseBusy, t.name)
		}
		defer func() {
			if err := held.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("release lease", zap.String("task", t.name), zap.Error(err))
			}
		}()

		// another instance may take over once the lease is lost; stop this run
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-held.Lost():
				s.log.Warn("lease lost, cancelling run", zap.String("task", t.name))
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	start := time.Now()
	summary, err := t.fn(ctx)
	metrics.TaskDuration.WithLabelValues(t.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TaskRunsTotal.WithLabelValues(t.name, "error").Inc()
		return summary, err
	}
	metrics.TaskRunsTotal.WithLabelValues(t.name, "ok").Inc()
	return summary, nil
}
