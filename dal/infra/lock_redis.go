package infra

import (
	"context"
	"fmt"
	"time"

	"dal-gateway/dal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisLockStore implementa domain.LockStore com scripts Lua (SET NX PX e
// GET==token -> DEL), executados numa conexão emprestada do registry.
type RedisLockStore struct {
	src     domain.ConnectionSource
	scripts *Scripts
}

func NewRedisLockStore(src domain.ConnectionSource, scripts *Scripts) *RedisLockStore {
	return &RedisLockStore{src: src, scripts: scripts}
}

func (s *RedisLockStore) AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	var code int64
	err := withRedis(ctx, s.src, func(rdb *redis.Client) error {
		v, err := s.scripts.Run(ctx, rdb, ScriptLock, []string{key}, token, ttl.Milliseconds())
		if err != nil {
			return err
		}
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("lock script: unexpected reply %T", v)
		}
		code = n
		return nil
	})
	if err != nil {
		return false, err
	}
	if code < 0 {
		return false, fmt.Errorf("lock script rejected arguments (code %d)", code)
	}
	return code > 0, nil
}

func (s *RedisLockStore) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	var removed bool
	err := withRedis(ctx, s.src, func(rdb *redis.Client) error {
		v, err := s.scripts.Run(ctx, rdb, ScriptUnlock, []string{key}, token)
		if err != nil {
			return err
		}
		n, _ := v.(int64)
		removed = n > 0
		return nil
	})
	return removed, err
}
