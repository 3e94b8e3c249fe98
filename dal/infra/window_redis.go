package infra

import (
	"context"
	"fmt"
	"time"

	"dal-gateway/dal/domain"

	"github.com/redis/go-redis/v9"
)

// hardExpirySlack mantém a chave viva um pouco além da janela caso o TTL se perca.
const hardExpirySlack = 2 * time.Second

// RedisWindowStore implementa domain.WindowStore com o script ratelimiter.lua.
type RedisWindowStore struct {
	src     domain.ConnectionSource
	scripts *Scripts
}

func NewRedisWindowStore(src domain.ConnectionSource, scripts *Scripts) *RedisWindowStore {
	return &RedisWindowStore{src: src, scripts: scripts}
}

func (s *RedisWindowStore) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.WindowState, error) {
	hardExpiry := now.Add(window + hardExpirySlack).UnixMilli()

	var st domain.WindowState
	err := withRedis(ctx, s.src, func(rdb *redis.Client) error {
		v, err := s.scripts.Run(ctx, rdb, ScriptRateLimiter, []string{key}, limit, window.Milliseconds(), hardExpiry)
		if err != nil {
			return err
		}
		st, err = parseWindowReply(v)
		return err
	})
	return st, err
}

func parseWindowReply(v any) (domain.WindowState, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 4 {
		return domain.WindowState{}, fmt.Errorf("rate limiter script: unexpected reply %v", v)
	}
	nums := make([]int64, 4)
	for i := range nums {
		n, ok := arr[i].(int64)
		if !ok {
			return domain.WindowState{}, fmt.Errorf("rate limiter script: field %d is %T", i, arr[i])
		}
		nums[i] = n
	}
	return domain.WindowState{
		Remaining: int(nums[0]),
		Total:     int(nums[1]),
		ResetAt:   time.UnixMilli(nums[3]),
	}, nil
}
