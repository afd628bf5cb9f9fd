// Package app wires config into connections, services and scheduled tasks
// for the serve and worker commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/config"
	"github.com/jmehdipour/commerce-sync/internal/db"
	"github.com/jmehdipour/commerce-sync/internal/gateway"
	"github.com/jmehdipour/commerce-sync/internal/lease"
	"github.com/jmehdipour/commerce-sync/internal/outbox"
	"github.com/jmehdipour/commerce-sync/internal/ranking"
	"github.com/jmehdipour/commerce-sync/internal/reconcile"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/retry"
	"github.com/jmehdipour/commerce-sync/internal/scheduler"
	"github.com/jmehdipour/commerce-sync/internal/service/payment"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrNoEndpoints = errors.New("no payment gateway endpoints enabled")

// Infra holds the process-wide connections. CH is nil when ClickHouse is not configured.
type Infra struct {
	DB    *sqlx.DB
	Redis *redis.Client
	CH    *sqlx.DB
}

// Open connects to MySQL (or SQLite), Redis and the optional ClickHouse sink.
func Open(cfg config.Config) (*Infra, error) {
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOptsFrom(cfg.MySQL))
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}

	rdb, err := db.NewRedisClient(db.RedisOptsFrom(cfg.Redis))
	if err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	ch, err := db.NewClickHouseConnection(db.ClickHouseOptsFrom(cfg.ClickHouse))
	if err != nil {
		_ = rdb.Close()
		_ = dbx.Close()
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}

	return &Infra{DB: dbx, Redis: rdb, CH: ch}, nil
}

func (i *Infra) Close() {
	if i.CH != nil {
		_ = i.CH.Close()
	}
	_ = i.Redis.Close()
	_ = i.DB.Close()
}

// Reports returns the ClickHouse events repository, or nil without ClickHouse.
func (i *Infra) Reports() repository.CHEventsRepository {
	if i.CH == nil {
		return nil
	}
	return repository.NewCHEventsRepository(i.CH)
}

// Executor builds the optimistic-retry executor from the retry section.
func Executor(name string, cfg config.RetryConfig, log *zap.Logger) *retry.Executor {
	p := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p = retry.Linear(cfg.MaxAttempts, cfg.BaseDelay)
	}
	return retry.NewExecutor(name, p, log)
}

// NewGateway builds the payment gateway client over every enabled endpoint.
func NewGateway(cfg config.GatewayConfig) (*gateway.Client, error) {
	var eps []gateway.Endpoint
	for _, ec := range cfg.Endpoints {
		if !ec.Enabled || strings.TrimSpace(ec.BaseURL) == "" {
			continue
		}
		eps = append(eps, gateway.NewHTTPEndpoint(
			ec.Name,
			strings.TrimRight(ec.BaseURL, "/"),
			cfg.MerchantID,
			ec.TimeoutMs,
			ec.Breaker.FailThreshold,
			ec.Breaker.OpenForMs,
		))
	}
	if len(eps) == 0 {
		return nil, ErrNoEndpoints
	}
	return gateway.NewClient(eps, cfg.MaxAttempts), nil
}

func RankingStore(cfg config.RankingConfig, rdb *redis.Client) *ranking.Store {
	return ranking.NewStore(rdb, cfg.Location(), cfg.KeyTTL)
}

// TaskDeps are the collaborators of the scheduled tasks.
type TaskDeps struct {
	Config    config.Config
	Infra     *Infra
	Publisher outbox.Publisher
	Gateway   reconcile.StatusSource
	Log       *zap.Logger
}

// NewScheduler registers the relay, retry, reconcile and carry-over tasks.
// With schedule false the tasks are registered for RunNow only.
func NewScheduler(d TaskDeps, schedule bool) (*scheduler.Scheduler, error) {
	cfg := d.Config
	loc := cfg.Ranking.Location()

	var l scheduler.Lease
	if d.Infra.Redis != nil {
		l = lease.NewRedis(d.Infra.Redis, cfg.Scheduler.LeaseTTL)
	}
	s := scheduler.New(loc, l, d.Log)

	outboxRepo := repository.NewOutboxRepository(d.Infra.DB)
	payments := repository.NewPaymentRepository(d.Infra.DB)
	orders := repository.NewOrderRepository(d.Infra.DB)

	relay := outbox.NewRelay(outboxRepo, d.Publisher, cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts, d.Log)
	sweeper := reconcile.NewSweeper(payments, d.Gateway,
		payment.New(d.Infra.DB, payments, orders, outboxRepo),
		cfg.Reconcile.StaleAfter, cfg.Reconcile.BatchSize, d.Log)
	roller := ranking.NewRoller(RankingStore(cfg.Ranking, d.Infra.Redis), cfg.Ranking.CarryOverWeight, d.Log)

	spec := func(s string) string {
		if !schedule {
			return ""
		}
		return s
	}

	tasks := []struct {
		name, spec string
		fn         scheduler.TaskFunc
	}{
		{scheduler.TaskOutboxRelay, spec(cfg.Scheduler.RelaySpec), func(ctx context.Context) (any, error) {
			return relay.RelayPending(ctx)
		}},
		{scheduler.TaskOutboxRetry, spec(cfg.Scheduler.RetrySpec), func(ctx context.Context) (any, error) {
			return relay.RetryFailed(ctx)
		}},
		{scheduler.TaskPaymentReconcile, spec(cfg.Scheduler.ReconcileSpec), func(ctx context.Context) (any, error) {
			return sweeper.Sweep(ctx)
		}},
		{scheduler.TaskRankingCarryOver, spec(cfg.Scheduler.CarryOverSpec), func(ctx context.Context) (any, error) {
			return roller.Roll(ctx, time.Now())
		}},
	}
	for _, t := range tasks {
		if err := s.Register(t.name, t.spec, t.fn); err != nil {
			return nil, err
		}
	}
	return s, nil
}
