package ranking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/logger"
	"github.com/jmehdipour/commerce-sync/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultCarryOverWeight = 0.1
	rollPageSize           = 500
	snapshotPrefix         = "ranking:snap:"
)

// seedScript adds ARGV[2] to member ARGV[1] of KEYS[1] unless the marker set
// KEYS[2] already holds the member. Returns 1 when seeded, 0 when skipped.
var seedScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('ZINCRBY', KEYS[1], ARGV[2], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[3])
redis.call('EXPIRE', KEYS[2], ARGV[3])
return 1
`)

// RollResult summarizes one carry-over run.
type RollResult struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Subjects int    `json:"subjects"`
	Seeded   int    `json:"seeded"`
	Skipped  int    `json:"skipped"` // already seeded by an earlier run
	Failed   int    `json:"failed"`
}

// Roller seeds tomorrow's ranking with a fraction of today's closing scores.
type Roller struct {
	store    *Store
	weight   float64
	log      *zap.Logger
	pageSize int64
	pageRead func() // test hook, runs after each page is read
}

func NewRoller(store *Store, weight float64, log *zap.Logger) *Roller {
	if weight <= 0 {
		weight = DefaultCarryOverWeight
	}
	return &Roller{store: store, weight: weight, log: logger.OrNop(log).Named("carry-over"), pageSize: rollPageSize}
}

// Roll carries the day of now into the following day. Running it again for
// the same day seeds nothing twice.
func (r *Roller) Roll(ctx context.Context, now time.Time) (RollResult, error) {
	local := now.In(r.store.loc)
	res := RollResult{
		Source: r.store.Day(local),
		Target: r.store.Day(local.AddDate(0, 0, 1)),
	}
	src, dst, marker := keyOf(res.Source), keyOf(res.Target), markerOf(res.Target)
	ttl := strconv.FormatInt(int64(r.store.ttl/time.Second), 10)

	// page over a frozen copy; the live key keeps moving while we read it
	snap := snapshotPrefix + res.Source + ":" + strconv.FormatInt(now.UnixNano(), 36)
	pipe := r.store.rdb.TxPipeline()
	pipe.ZUnionStore(ctx, snap, &redis.ZStore{Keys: []string{src}})
	pipe.Expire(ctx, snap, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return res, fmt.Errorf("snapshot %s: %w", src, err)
	}
	defer r.store.rdb.Del(context.WithoutCancel(ctx), snap)

	for start := int64(0); ; start += r.pageSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		zs, err := r.store.rdb.ZRangeWithScores(ctx, snap, start, start+r.pageSize-1).Result()
		if err != nil {
			return res, fmt.Errorf("read %s: %w", snap, err)
		}
		if r.pageRead != nil {
			r.pageRead()
		}

		for _, z := range zs {
			res.Subjects++
			member, _ := z.Member.(string)
			seed := z.Score * r.weight

			n, err := seedScript.Run(ctx, r.store.rdb, []string{dst, marker},
				member, strconv.FormatFloat(seed, 'f', -1, 64), ttl).Int()
			switch {
			case err != nil:
				res.Failed++
				metrics.CarryOverTotal.WithLabelValues("failed").Inc()
				r.log.Warn("seed", zap.String("member", member), zap.Error(err))
			case n == 0:
				res.Skipped++
				metrics.CarryOverTotal.WithLabelValues("skipped").Inc()
			default:
				res.Seeded++
				metrics.CarryOverTotal.WithLabelValues("seeded").Inc()
			}
		}
		if int64(len(zs)) < r.pageSize {
			break
		}
	}

	r.log.Info("carry-over",
		zap.String("source", res.Source), zap.String("target", res.Target),
		zap.Int("subjects", res.Subjects), zap.Int("seeded", res.Seeded),
		zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
	return res, nil
}
