package application

import (
	"context"
	"fmt"

	"dal-gateway/dal/domain"

	"github.com/redis/go-redis/v9"
)

type kvResource interface {
	Cmdable() redis.Cmdable
}

// KV empresta uma conexão Redis para uma sequência de comandos.
type KV struct {
	src domain.ConnectionSource
}

func NewKV(src domain.ConnectionSource) *KV { return &KV{src: src} }

func (k *KV) With(ctx context.Context, fn func(ctx context.Context, c redis.Cmdable) error) (err error) {
	conn, err := k.src.Acquire(ctx, domain.ResourceRedis)
	if err != nil {
		return err
	}
	defer func() { k.src.Release(conn, err) }()

	r, ok := conn.Resource.(kvResource)
	if !ok {
		return fmt.Errorf("connection %s is not a redis connection", conn)
	}
	return fn(ctx, r.Cmdable())
}

func (k *KV) Ping(ctx context.Context) error {
	return k.With(ctx, func(ctx context.Context, c redis.Cmdable) error {
		return c.Ping(ctx).Err()
	})
}
