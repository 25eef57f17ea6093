package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c := NewRedisCache(config.RedisConfig{Addr: srv.Addr()}, time.Minute, time.Hour)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestRedisCache_Rooms(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	rooms, err := c.GetRooms(ctx)
	require.NoError(t, err)
	assert.Nil(t, rooms)

	want := []domain.Room{{ID: "r-1", Name: "Aurora", Capacity: 12, HourlyRateCents: 5000}}
	require.NoError(t, c.SetRooms(ctx, want))

	got, err := c.GetRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	srv.FastForward(2 * time.Minute)
	got, err = c.GetRooms(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCache_Temperature(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.GetTemperature(ctx, "Berlin", "2025-06-02")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetTemperature(ctx, "Berlin", "2025-06-02", 26.5))
	assert.True(t, srv.Exists("weather:berlin_2025-06-02"))

	temp, ok, err := c.GetTemperature(ctx, "BERLIN", "2025-06-02")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 26.5, temp)

	srv.FastForward(61 * time.Minute)
	_, ok, err = c.GetTemperature(ctx, "Berlin", "2025-06-02")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Lock(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	unlock, err := c.Lock(ctx, "room:r-1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, srv.Exists("lock:room:r-1"))

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = c.Lock(waitCtx, "room:r-1", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrTransientDependency)

	require.NoError(t, unlock(ctx))
	assert.False(t, srv.Exists("lock:room:r-1"))

	unlock2, err := c.Lock(ctx, "room:r-1", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisCache_LockReleaseKeepsForeignToken(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	unlock, err := c.Lock(ctx, "payment:b-1", time.Second)
	require.NoError(t, err)

	// the lock expired and somebody else took it
	srv.FastForward(2 * time.Second)
	require.NoError(t, srv.Set("lock:payment:b-1", "someone-else"))

	require.NoError(t, unlock(ctx))
	val, err := srv.Get("lock:payment:b-1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
