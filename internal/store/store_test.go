package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type outfitList struct {
	UserID  string `json:"userId"`
	Fetched int    `json:"fetched"`
}

func TestMemoryStoreTTL(t *testing.T) {
	now := time.Unix(0, 0)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, s, "outfits:1", outfitList{UserID: "1", Fetched: 2}, time.Minute))

	var got outfitList
	require.NoError(t, GetJSON(ctx, s, "outfits:1", &got))
	assert.Equal(t, 2, got.Fetched)

	now = now.Add(59 * time.Second)
	_, err := s.Get(ctx, "outfits:1")
	assert.NoError(t, err)

	now = now.Add(time.Second)
	_, err = s.Get(ctx, "outfits:1")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreMissAndDelete(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	_, err := s.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, s.Set(ctx, "k", nil, 0))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryStorePrunesExpired(t *testing.T) {
	now := time.Unix(0, 0)
	s := NewMemoryStore(func() time.Time { return now })
	s.pruneAbove = 4
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Second))
	}
	now = now.Add(2 * time.Second)
	require.NoError(t, s.Set(ctx, "fresh", []byte("v"), time.Second))
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := NewRedisStore(RedisConfig{Addr: mr.Addr(), KeyPrefix: "rbx:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr, s := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, s, "outfits:42", outfitList{UserID: "42", Fetched: 3}, time.Minute))
	assert.True(t, mr.Exists("rbx:outfits:42"))

	var got outfitList
	require.NoError(t, GetJSON(ctx, s, "outfits:42", &got))
	assert.Equal(t, outfitList{UserID: "42", Fetched: 3}, got)
}

func TestRedisStoreExpiry(t *testing.T) {
	mr, s := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(61 * time.Second)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStoreClosed(t *testing.T) {
	_, s := setupRedis(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(RedisConfig{Addr: addr}, nil)
	assert.Error(t, err)
}
