package infra

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"dal-gateway/dal/config"
	"dal-gateway/dal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisSource abre uma conexão avulsa por empréstimo e guarda os erros de devolução.
type redisSource struct {
	connector *RedisConnector

	mu       sync.Mutex
	released []error
}

func (s *redisSource) Acquire(ctx context.Context, _ domain.ResourceType) (*domain.Connection, error) {
	res, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return domain.NewConnection(domain.PoolID{}, 1, res), nil
}

func (s *redisSource) Release(conn *domain.Connection, err error) {
	s.mu.Lock()
	s.released = append(s.released, err)
	s.mu.Unlock()
	_ = conn.Close()
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redisSource) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := config.Default().Redis
	cfg.Host = mr.Host()
	cfg.Port = port
	return mr, &redisSource{connector: NewRedisConnector(cfg)}
}

func TestRedisConnector_Connect(t *testing.T) {
	mr, src := newMiniredis(t)
	assert.Equal(t, mr.Addr(), src.connector.Addr())

	res, err := src.connector.Connect(context.Background())
	require.NoError(t, err)
	defer res.Close()

	rr, ok := res.(*RedisResource)
	require.True(t, ok)
	require.NoError(t, rr.Cmdable().Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}

func TestRedisConnector_ConnectFailure(t *testing.T) {
	cfg := config.Default().Redis
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.ConnectTimeout = 100 * time.Millisecond

	_, err := NewRedisConnector(cfg).Connect(context.Background())
	require.Error(t, err)
}

func TestScripts_CachesShaOnDisk(t *testing.T) {
	_, src := newMiniredis(t)
	dir := t.TempDir()
	ctx := context.Background()

	res, err := src.connector.Connect(ctx)
	require.NoError(t, err)
	defer res.Close()
	rdb := res.(*RedisResource).Client

	s := NewScripts(dir, nil)
	v, err := s.Run(ctx, rdb, ScriptLock, []string{"k"}, "tok", 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	b, err := os.ReadFile(filepath.Join(dir, "luasha."+ScriptLock+".dat"))
	require.NoError(t, err)
	assert.Len(t, string(b), 40)

	// outra instância lê o SHA do arquivo sem SCRIPT LOAD
	s2 := NewScripts(dir, nil)
	v, err = s2.Run(ctx, rdb, ScriptUnlock, []string{"k"}, "tok")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}

func TestScripts_ReloadsAfterFlush(t *testing.T) {
	_, src := newMiniredis(t)
	ctx := context.Background()

	res, err := src.connector.Connect(ctx)
	require.NoError(t, err)
	defer res.Close()
	rdb := res.(*RedisResource).Client

	s := NewScripts(t.TempDir(), nil)
	_, err = s.Run(ctx, rdb, ScriptLock, []string{"a"}, "tok", 1000)
	require.NoError(t, err)

	require.NoError(t, rdb.ScriptFlush(ctx).Err())

	v, err := s.Run(ctx, rdb, ScriptLock, []string{"b"}, "tok", 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}

func TestScripts_UnknownScript(t *testing.T) {
	_, err := NewScripts("", nil).Body("nope")
	require.ErrorIs(t, err, domain.ErrScriptUnavailable)
}

func TestRedisLockStore_OwnershipAndExpiry(t *testing.T) {
	mr, src := newMiniredis(t)
	s := NewRedisLockStore(src, NewScripts("", nil))
	ctx := context.Background()

	ok, err := s.AcquireIfAbsent(ctx, "redislock@job:42", "a", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireIfAbsent(ctx, "redislock@job:42", "b", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := s.ReleaseIfOwner(ctx, "redislock@job:42", "b")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, mr.Exists("redislock@job:42"))

	mr.FastForward(6 * time.Second)

	ok, err = s.AcquireIfAbsent(ctx, "redislock@job:42", "b", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// o dono expirado não solta o lock do novo dono
	removed, err = s.ReleaseIfOwner(ctx, "redislock@job:42", "a")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = s.ReleaseIfOwner(ctx, "redislock@job:42", "b")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, mr.Exists("redislock@job:42"))
}

func TestRedisLockStore_RejectsBadTTL(t *testing.T) {
	_, src := newMiniredis(t)
	s := NewRedisLockStore(src, NewScripts("", nil))

	_, err := s.AcquireIfAbsent(context.Background(), "k", "a", 0)
	require.Error(t, err)
}

func TestRedisWindowStore_FixedWindow(t *testing.T) {
	mr, src := newMiniredis(t)
	s := NewRedisWindowStore(src, NewScripts("", nil))
	ctx := context.Background()
	now := time.Now()
	window := 2 * time.Second

	var remaining []int
	for i := 0; i < 4; i++ {
		st, err := s.Take(ctx, "ratelimiter@x@3@2s", 3, window, now)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Total)
		assert.Equal(t, now.Add(window).UnixMilli(), st.ResetAt.UnixMilli())
		remaining = append(remaining, st.Remaining)
	}
	assert.Equal(t, []int{2, 1, 0, -1}, remaining)

	mr.FastForward(window)
	later := now.Add(window)
	st, err := s.Take(ctx, "ratelimiter@x@3@2s", 3, window, later)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Remaining)
	assert.Equal(t, later.Add(window).UnixMilli(), st.ResetAt.UnixMilli())
}

func TestParseWindowReply_Malformed(t *testing.T) {
	_, err := parseWindowReply("nope")
	require.Error(t, err)
	_, err = parseWindowReply([]any{int64(1), "x", int64(1), int64(1)})
	require.Error(t, err)
}

func TestRedisStatsStore_Record(t *testing.T) {
	mr, src := newMiniredis(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewRedisStatsStore(src, WithStatsPrefix("test:stats:"), WithStatsTrackKeys(true))

	ctx := context.Background()
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Kind: domain.StatsRateLimit, Key: "1.2.3.4", Allowed: true, At: at}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Kind: domain.StatsRateLimit, Key: "1.2.3.4", Allowed: false, At: at}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Kind: domain.StatsLock, Allowed: true, At: at}))

	assert.Equal(t, "2", mr.HGet("test:stats:total", "allowed"))
	assert.Equal(t, "1", mr.HGet("test:stats:total", "denied"))
	assert.Equal(t, "1", mr.HGet("test:stats:kind", "lock:allowed"))
	assert.Equal(t, "1", mr.HGet("test:stats:minute:202601020304", "denied"))
	assert.Equal(t, "1", mr.HGet("test:stats:key:1.2.3.4", "allowed"))
	assert.Greater(t, mr.TTL("test:stats:minute:202601020304"), time.Duration(0))
}

func TestWithRedis_ReleasesWithCallbackError(t *testing.T) {
	_, src := newMiniredis(t)

	err := withRedis(context.Background(), src, func(rdb *redis.Client) error {
		return rdb.Get(context.Background(), "missing").Err()
	})
	require.ErrorIs(t, err, redis.Nil)

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Len(t, src.released, 1)
	assert.ErrorIs(t, src.released[0], redis.Nil)
}
