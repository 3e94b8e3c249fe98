package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dal-gateway/dal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores em hashes Redis usando uma conexão emprestada
// do registry (pipeline: um round trip por evento).
type RedisStatsStore struct {
	src domain.ConnectionSource

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(src domain.ConnectionSource, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		src:    src,
		prefix: "dal:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.src == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	return withRedis(ctx, s.src, func(rdb *redis.Client) error {
		pipe := rdb.Pipeline()
		pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

		if ev.Kind != "" {
			pipe.HIncrBy(ctx, s.prefix+":kind", string(ev.Kind)+":"+field, 1)
		}

		if s.bucket == "minute" {
			bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
			pipe.HIncrBy(ctx, bucketKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, bucketKey, s.ttl)
			}
		}

		if s.trackKeys {
			if k := strings.TrimSpace(ev.Key); k != "" {
				keyKey := s.prefix + ":key:" + k
				pipe.HIncrBy(ctx, keyKey, field, 1)
				if s.ttl > 0 {
					pipe.Expire(ctx, keyKey, s.ttl)
				}
			}
		}

		_, err := pipe.Exec(ctx)
		return err
	})
}
