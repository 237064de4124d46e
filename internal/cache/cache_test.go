// Copyright 2025 James Ross
package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c, err := New(10, false, zap.NewNop())
	require.NoError(t, err)

	res := c.Get("missing")
	assert.Equal(t, Miss, res.Freshness)
}

func TestPutThenGetFresh(t *testing.T) {
	c, err := New(10, false, zap.NewNop())
	require.NoError(t, err)

	c.Put(Key("GET", "/artists/1", ""), "/artists/1", []byte("body"), time.Second, 10*time.Second)
	res := c.Get(Key("GET", "/artists/1", ""))
	assert.Equal(t, Fresh, res.Freshness)
	assert.Equal(t, StrongETag([]byte("body")), res.Entry.ETag)
}

func TestStaleWhileRevalidateWindow(t *testing.T) {
	c, err := New(10, false, zap.NewNop())
	require.NoError(t, err)

	key := Key("GET", "/artists/1", "")
	c.lru.Add(key, Entry{
		Key:      key,
		Body:     []byte("body"),
		StoredAt: time.Now().Add(-1500 * time.Millisecond),
		TTL:      time.Second,
		SWR:      10 * time.Second,
		Path:     "/artists/1",
	})

	res := c.Get(key)
	assert.Equal(t, Stale, res.Freshness)
}

func TestEntryExpiresPastSWRWindow(t *testing.T) {
	c, err := New(10, false, zap.NewNop())
	require.NoError(t, err)

	key := Key("GET", "/artists/1", "")
	c.lru.Add(key, Entry{
		Key:      key,
		Body:     []byte("body"),
		StoredAt: time.Now().Add(-12 * time.Second),
		TTL:      time.Second,
		SWR:      10 * time.Second,
		Path:     "/artists/1",
	})

	res := c.Get(key)
	assert.Equal(t, Miss, res.Freshness)
}

func TestInvalidatePrefixRemovesMatches(t *testing.T) {
	c, err := New(10, true, zap.NewNop())
	require.NoError(t, err)

	c.Put(Key("GET", "/artists/1", ""), "/artists/1", []byte("a"), time.Minute, time.Minute)
	c.Put(Key("GET", "/artists/1/releases", ""), "/artists/1/releases", []byte("b"), time.Minute, time.Minute)
	c.Put(Key("GET", "/artists/2", ""), "/artists/2", []byte("c"), time.Minute, time.Minute)

	removed := c.InvalidatePrefix("/artists/1")
	assert.Equal(t, 2, removed)

	assert.Equal(t, Miss, c.Get(Key("GET", "/artists/1", "")).Freshness)
	assert.Equal(t, Fresh, c.Get(Key("GET", "/artists/2", "")).Freshness)
}

func TestWeakETagPrefixed(t *testing.T) {
	assert.True(t, len(WeakETag([]byte("x"))) > 2)
	assert.Equal(t, "W/", WeakETag([]byte("x"))[:2])
}
