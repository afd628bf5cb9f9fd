// Package ranking keeps daily product rankings in Redis sorted sets.
package ranking

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "ranking:all:"
	markerPrefix = "ranking:carry:"
	dateLayout   = "20060102"

	DefaultTTL = 48 * time.Hour
)

// Store reads and writes the daily ranking of one timezone.
type Store struct {
	rdb *redis.Client
	loc *time.Location
	ttl time.Duration
}

func NewStore(rdb *redis.Client, loc *time.Location, ttl time.Duration) *Store {
	if loc == nil {
		loc = time.UTC
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, loc: loc, ttl: ttl}
}

// Day formats t as the yyyyMMdd date in the store's timezone.
func (s *Store) Day(t time.Time) string { return t.In(s.loc).Format(dateLayout) }

func (s *Store) Key(t time.Time) string { return keyPrefix + s.Day(t) }

func keyOf(day string) string    { return keyPrefix + day }
func markerOf(day string) string { return markerPrefix + day }

// Incr adds delta to productID's score for the day of at.
func (s *Store) Incr(ctx context.Context, at time.Time, productID int64, delta float64) error {
	key := s.Key(at)
	pipe := s.rdb.TxPipeline()
	pipe.ZIncrBy(ctx, key, delta, strconv.FormatInt(productID, 10))
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Top returns one page of the day's ranking, highest score first. page is 1-based.
func (s *Store) Top(ctx context.Context, day string, page, size int) ([]model.RankingEntry, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	start := int64((page - 1) * size)

	zs, err := s.rdb.ZRevRangeWithScores(ctx, keyOf(day), start, start+int64(size)-1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]model.RankingEntry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, model.RankingEntry{Rank: start + int64(i) + 1, ProductID: id, Score: z.Score})
	}
	return out, nil
}

// Rank returns the 1-based rank and score of productID, or ok=false when unranked.
func (s *Store) Rank(ctx context.Context, day string, productID int64) (model.RankingEntry, bool, error) {
	member := strconv.FormatInt(productID, 10)
	r, err := s.rdb.ZRevRank(ctx, keyOf(day), member).Result()
	if errors.Is(err, redis.Nil) {
		return model.RankingEntry{}, false, nil
	}
	if err != nil {
		return model.RankingEntry{}, false, err
	}
	score, err := s.rdb.ZScore(ctx, keyOf(day), member).Result()
	if err != nil {
		return model.RankingEntry{}, false, err
	}
	return model.RankingEntry{Rank: r + 1, ProductID: productID, Score: score}, true, nil
}
