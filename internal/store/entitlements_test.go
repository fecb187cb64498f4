package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantAndLapse(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewEntitlementStore(&memorySnapshotter{}, zerolog.Nop(), WithClock(clock.Now))

	assert.False(t, s.IsEntitled(2), "absent users are not entitled")

	e := s.Grant(ctx, 2, 24*time.Hour)
	assert.Equal(t, int64(2), e.UserID)
	assert.Equal(t, clock.Now().Add(24*time.Hour), e.ExpiresAt)
	assert.True(t, s.IsEntitled(2))
	assert.False(t, s.IsEntitled(3))

	clock.Advance(25 * time.Hour)
	assert.False(t, s.IsEntitled(2))

	_, ok := s.Get(2)
	assert.True(t, ok, "lapsed grants are not reaped")
}

func TestGrantOverwrites(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewEntitlementStore(&memorySnapshotter{}, zerolog.Nop(), WithClock(clock.Now))

	s.Grant(ctx, 2, 30*24*time.Hour)
	s.Grant(ctx, 2, time.Hour)

	e, ok := s.Get(2)
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(time.Hour), e.ExpiresAt)
}

func TestEntitlementsRoundTripThroughFile(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "premium.json")

	first := NewEntitlementStore(NewFileSnapshotter(path), zerolog.Nop(), WithClock(clock.Now))
	first.Grant(ctx, 2, 24*time.Hour)

	second := NewEntitlementStore(NewFileSnapshotter(path), zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, second.Load(ctx))
	assert.True(t, second.IsEntitled(2))

	e, ok := second.Get(2)
	require.True(t, ok)
	assert.Equal(t, int64(2), e.UserID)
}

func TestEntitlementsSnapshotLayout(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	clock := newFakeClock()
	s := NewEntitlementStore(NewRedisSnapshotter(client, "premium"), zerolog.Nop(), WithClock(clock.Now))
	s.Grant(ctx, 2, 24*time.Hour)

	got, err := mr.Get("premium")
	require.NoError(t, err)
	assert.JSONEq(t, `{"2": {"expires": "2025-06-02T12:00:00Z"}}`, got)
}

func TestEntitlementsLoadLegacySnapshot(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	snap := &memorySnapshotter{data: []byte(`{
		"2": {"expires": "2025-06-08T12:00:00.000123"},
		"3": {"expires": "2025-05-01T00:00:00"},
		"x": {"expires": "2099-01-01T00:00:00"},
		"4": {"expires": "later"}
	}`)}

	s := NewEntitlementStore(snap, zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, s.Load(ctx))

	assert.True(t, s.IsEntitled(2))
	assert.False(t, s.IsEntitled(3), "lapsed")
	assert.False(t, s.IsEntitled(4))

	_, ok := s.Get(4)
	assert.False(t, ok)
	e, ok := s.Get(3)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), e.ExpiresAt)
}

func TestEntitlementsCorruptRedisSnapshotIsSetAside(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set("premium", "not json"))

	s := NewEntitlementStore(NewRedisSnapshotter(client, "premium"), zerolog.Nop())
	assert.ErrorContains(t, s.Load(ctx), "decoding entitlements snapshot")
	assert.False(t, mr.Exists("premium"))

	var moved []string
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "premium:corrupt:") {
			moved = append(moved, key)
		}
	}
	require.Len(t, moved, 1)
	kept, err := mr.Get(moved[0])
	require.NoError(t, err)
	assert.Equal(t, "not json", kept)

	s.Grant(ctx, 2, time.Hour)
	assert.True(t, mr.Exists("premium"))
}
