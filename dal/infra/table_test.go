package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableLockStore_AcquireRelease(t *testing.T) {
	s := NewTableLockStore(newTestLoop(t))
	ctx := context.Background()

	ok, err := s.AcquireIfAbsent(ctx, "job:42", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireIfAbsent(ctx, "job:42", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	removed, err := s.ReleaseIfOwner(ctx, "job:42", "b")
	require.NoError(t, err)
	assert.False(t, removed, "wrong token must not release")

	removed, err = s.ReleaseIfOwner(ctx, "job:42", "a")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, s.Len(ctx))

	ok, err = s.AcquireIfAbsent(ctx, "job:42", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTableLockStore_ExpiresAfterTTL(t *testing.T) {
	s := NewTableLockStore(newTestLoop(t))
	ctx := context.Background()

	ok, err := s.AcquireIfAbsent(ctx, "k", "a", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return s.Len(ctx) == 0 }, time.Second, 2*time.Millisecond)

	ok, err = s.AcquireIfAbsent(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// o dono antigo não remove o lock do novo dono
	removed, err := s.ReleaseIfOwner(ctx, "k", "a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestTableLockStore_StaleEntryIsReplaced(t *testing.T) {
	s := NewTableLockStore(newTestLoop(t))
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	ok, _ := s.AcquireIfAbsent(ctx, "k", "a", time.Hour)
	require.True(t, ok)

	// relógio passa do expiresAt antes do passo agendado rodar
	now = now.Add(2 * time.Hour)
	ok, err := s.AcquireIfAbsent(ctx, "k", "b", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTableWindowStore_CountsAndResets(t *testing.T) {
	s := NewTableWindowStore(newTestLoop(t))
	ctx := context.Background()
	now := time.Now()
	window := 2 * time.Second

	var remaining []int
	for i := 0; i < 4; i++ {
		st, err := s.Take(ctx, "w", 3, window, now)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Total)
		assert.Equal(t, now.Add(window), st.ResetAt)
		remaining = append(remaining, st.Remaining)
	}
	assert.Equal(t, []int{2, 1, 0, -1}, remaining)

	st, err := s.Take(ctx, "w", 3, window, now.Add(window))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Remaining)
	assert.Equal(t, now.Add(2*window), st.ResetAt)
}

func TestTableWindowStore_KeysAreIndependent(t *testing.T) {
	s := NewTableWindowStore(newTestLoop(t))
	ctx := context.Background()
	now := time.Now()

	_, _ = s.Take(ctx, "a", 1, time.Second, now)
	st, err := s.Take(ctx, "b", 1, time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Remaining)
}
