package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"dal-gateway/dal/config"
	"dal-gateway/dal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisResource é um cliente go-redis com uma única conexão física.
type RedisResource struct {
	Client *redis.Client
}

func (r *RedisResource) Cmdable() redis.Cmdable { return r.Client }

func (r *RedisResource) Close() error { return r.Client.Close() }

type RedisConnector struct {
	opts redis.Options
}

func NewRedisConnector(cfg config.Redis) *RedisConnector {
	opts := redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     1,
		MinIdleConns: 0,
		MaxRetries:   -1,
		DialTimeout:  cfg.ConnectTimeout,
	}
	if cfg.ReadTimeout < 0 {
		opts.ReadTimeout = -1
	} else {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	return &RedisConnector{opts: opts}
}

func (c *RedisConnector) Addr() string { return c.opts.Addr }

func (c *RedisConnector) Connect(ctx context.Context) (io.Closer, error) {
	opts := c.opts
	cl := redis.NewClient(&opts)
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis connect %s: %w", c.opts.Addr, err)
	}
	return &RedisResource{Client: cl}, nil
}

// RedisOf extrai o *redis.Client do handle.
func RedisOf(c *domain.Connection) (*redis.Client, error) {
	if c == nil {
		return nil, errors.New("nil connection")
	}
	r, ok := c.Resource.(*RedisResource)
	if !ok {
		return nil, fmt.Errorf("connection %s is not a redis connection", c)
	}
	return r.Client, nil
}

// withRedis empresta uma conexão Redis da origem, executa fn e devolve
// a conexão com o erro de fn (a origem decide se despeja).
func withRedis(ctx context.Context, src domain.ConnectionSource, fn func(rdb *redis.Client) error) (err error) {
	conn, err := src.Acquire(ctx, domain.ResourceRedis)
	if err != nil {
		return err
	}
	defer func() { src.Release(conn, err) }()

	rdb, err := RedisOf(conn)
	if err != nil {
		return err
	}
	return fn(rdb)
}
