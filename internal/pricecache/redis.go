package pricecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/quoterelay/quoterelay/internal/aggregate"
)

const redisKeyPrefix = "quoterelay:cache:"

// RedisCache shares the sample cache between relay processes. Entries
// are stored as one JSON value with a PX expiry equal to the TTL, so
// Redis enforces freshness; the stored timestamp still yields an exact
// age. Backend errors degrade to a miss rather than failing the
// request. Single-flight coalescing stays process-local either way.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisCache(addr string, db int, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &RedisCache{client: client, ttl: ttl, now: time.Now}
}

func (c *RedisCache) Get(ctx context.Context, pair string) (Entry, int64, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+pair).Bytes()
	if err == redis.Nil {
		return Entry{}, 0, ErrMiss
	}
	if err != nil {
		log.Warn().Err(err).Msg("redis cache read failed, treating as miss")
		return Entry{}, 0, ErrMiss
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn().Err(err).Msg("redis cache entry corrupt, treating as miss")
		return Entry{}, 0, ErrMiss
	}
	ageMs := c.now().UnixMilli() - entry.TsMs
	if ageMs > c.ttl.Milliseconds() {
		return Entry{}, 0, ErrMiss
	}
	return entry, ageMs, nil
}

func (c *RedisCache) Set(ctx context.Context, pair string, samples []aggregate.Sample) error {
	entry := Entry{TsMs: c.now().UnixMilli(), Samples: samples}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, redisKeyPrefix+pair, raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("redis cache write failed")
		return err
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error { return c.client.Close() }
