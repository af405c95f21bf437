package refstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutRetrieve(t *testing.T) {
	s := NewStore(NewMemoryKV(), time.Hour)
	ctx := context.Background()

	value := map[string]any{"distance_nm": 8345.2, "waypoints": []any{"SGSIN", "NLRTM"}}
	id, err := s.Put(ctx, "route_data", value)
	require.NoError(t, err)
	assert.Contains(t, id, "route_data:")

	got, found, err := s.Retrieve(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 8345.2, got.(map[string]any)["distance_nm"])
}

func TestStore_DedupEqualValues(t *testing.T) {
	s := NewStore(NewMemoryKV(), time.Hour)
	ctx := context.Background()

	v := map[string]any{"a": 1.0}
	id1, err := s.Put(ctx, "weather_data", v)
	require.NoError(t, err)
	id2, err := s.Put(ctx, "weather_data", map[string]any{"a": 1.0})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := s.Put(ctx, "weather_data", map[string]any{"a": 2.0})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestStore_ExpiredReturnsNotFound(t *testing.T) {
	kv := NewMemoryKV()
	s := NewStore(kv, time.Hour)
	ctx := context.Background()

	id, err := s.Put(ctx, "messages", []any{"hello"})
	require.NoError(t, err)

	kv.Expire(id)

	_, found, err := s.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReferenceStrings(t *testing.T) {
	ref := CreateReference("route_data:abc123")
	assert.Equal(t, "ref:route_data:abc123", ref)
	assert.True(t, IsReference(ref))
	assert.False(t, IsReference("route_data:abc123"))

	id, ok := ExtractReferenceID(ref)
	require.True(t, ok)
	assert.Equal(t, "route_data:abc123", id)

	_, ok = ExtractReferenceID("not a reference")
	assert.False(t, ok)
}

func TestMemoryKV_TTL(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), time.Nanosecond))
	time.Sleep(2 * time.Millisecond)
	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "k2", []byte("v2"), 0))
	b, err := kv.Get(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), b)
}

func TestRedisKV_RoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	kv := NewRedisKVFromClient(client)
	ctx := context.Background()

	require.NoError(t, kv.Ping(ctx))
	require.NoError(t, kv.Set(ctx, "k", []byte("v"), time.Minute))

	b, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), b)

	srv.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RedisBacked(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	s := NewStore(NewRedisKVFromClient(client), time.Minute)
	ctx := context.Background()

	id, err := s.Put(ctx, "vessel_list", []any{map[string]any{"imo": "9434761"}})
	require.NoError(t, err)

	got, found, err := s.Retrieve(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, got, 1)
}
