package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

func assertBusy(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, clierr.CodeBusy, clierr.CodeOf(err))
}

func TestMemoryLockExcludesAndReleases(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	unlock, err := m.TryLock(ctx, "flow:a", time.Minute)
	require.NoError(t, err)
	_, err = m.TryLock(ctx, "flow:a", time.Minute)
	assertBusy(t, err)

	other, err := m.TryLock(ctx, "flow:b", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	again, err := m.TryLock(ctx, "flow:a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestMemoryLockExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	stale, err := m.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	fresh, err := m.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	_, err = m.TryLock(ctx, "k", time.Second)
	assertBusy(t, err)
	require.NoError(t, fresh(ctx))
}

func TestFileLock(t *testing.T) {
	ctx := context.Background()
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)

	unlock, err := f.TryLock(ctx, "flow:owner", 0)
	require.NoError(t, err)
	_, err = f.TryLock(ctx, "flow:owner", 0)
	assertBusy(t, err)
	require.NoError(t, unlock(ctx))

	again, err := f.TryLock(ctx, "flow:owner", 0)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedis(client, "test:")
}

func TestRedisLockContention(t *testing.T) {
	ctx := context.Background()
	mr, l := newMiniRedis(t)

	unlock, err := l.TryLock(ctx, "flow:owner", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:flow:owner"))

	_, err = l.TryLock(ctx, "flow:owner", 5*time.Second)
	assertBusy(t, err)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:flow:owner"))
}

func TestRedisStaleUnlockKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	mr, l := newMiniRedis(t)

	stale, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("test:k"), "old holder must not release the new lock")
	require.NoError(t, fresh(ctx))
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := DialRedis(context.Background(), "redis://"+mr.Addr()+"/0", "p:")
	require.NoError(t, err)
	defer l.Close()

	_, err = DialRedis(context.Background(), "not a url", "p:")
	require.Error(t, err)
	assert.Equal(t, clierr.CodeUsage, clierr.CodeOf(err))
}
