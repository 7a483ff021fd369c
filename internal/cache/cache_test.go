package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(ttl time.Duration, size int) (*Cache[string, int], *clock) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache[string, int](ttl, size)
	c.now = clk.now
	return c, clk
}

func TestExpiry(t *testing.T) {
	c, clk := newTestCache(time.Second, 0)
	c.Set("a", 1)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clk.t = clk.t.Add(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "entries expire exactly at their TTL")
	assert.Equal(t, 0, c.Size())
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	c, _ := newTestCache(0, 0)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, clk := newTestCache(time.Minute, 2)
	c.Set("a", 1)
	clk.t = clk.t.Add(time.Millisecond)
	c.Set("b", 2)
	clk.t = clk.t.Add(time.Millisecond)
	c.Get("a")

	c.Set("c", 3)
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())

	c.Set("a", 10)
	assert.Equal(t, 2, c.Size(), "overwriting does not evict")
}

func TestGetOrLoad(t *testing.T) {
	c, _ := newTestCache(time.Minute, 0)
	loads := 0
	load := func() (int, error) {
		loads++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("k", load)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, loads)

	_, err := c.GetOrLoad("bad", func() (int, error) { return 0, errors.New("boom") })
	assert.Error(t, err)
	_, ok := c.Get("bad")
	assert.False(t, ok, "failed loads are not cached")
}
