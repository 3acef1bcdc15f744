package cache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis namespaces every key under a generation number. Invalidate bumps the
// generation, so stale entries are never read again and simply expire.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration, log *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, log: log}
}

func (r *Redis) genKey() string {
	return r.prefix + ":gen"
}

func (r *Redis) generation(ctx context.Context) (int64, error) {
	v, err := r.rdb.Get(ctx, r.genKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (r *Redis) fullKey(gen int64, key string) string {
	return r.prefix + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

// Get reads under the current generation. A failed generation lookup
// returns gen -1, which Set ignores.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, int64, bool) {
	gen, err := r.generation(ctx)
	if err != nil {
		r.log.WarnContext(ctx, "cache.generation_failed", "err", err)
		return nil, -1, false
	}

	b, err := r.rdb.Get(ctx, r.fullKey(gen, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.WarnContext(ctx, "cache.get_failed", "err", err)
		}
		return nil, gen, false
	}
	return b, gen, true
}

// Set writes under the generation the caller read with. After an Invalidate
// that key is unreachable, so a stale fill is never served.
func (r *Redis) Set(ctx context.Context, key string, gen int64, val []byte) {
	if gen < 0 {
		return
	}
	if err := r.rdb.Set(ctx, r.fullKey(gen, key), val, r.ttl).Err(); err != nil {
		r.log.WarnContext(ctx, "cache.set_failed", "err", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context) {
	if err := r.rdb.Incr(ctx, r.genKey()).Err(); err != nil {
		r.log.WarnContext(ctx, "cache.invalidate_failed", "err", err)
	}
}
