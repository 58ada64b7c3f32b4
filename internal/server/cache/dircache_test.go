package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wharf/internal/server/objectstore"
)

func TestGetMiss(t *testing.T) {
	c := New(time.Minute)

	items, ok := c.Get("cfg-1", "/docs")
	require.False(t, ok)
	require.Nil(t, items)
}

func TestPutThenGet(t *testing.T) {
	c := New(time.Minute)
	listing := []objectstore.Entry{
		{Name: "reports", IsDir: true},
		{Name: "a.txt", Size: 12},
	}

	c.Put("cfg-1", "/docs", listing)

	items, ok := c.Get("cfg-1", "/docs")
	require.True(t, ok)
	require.Equal(t, listing, items)

	// Same path under a different config is a separate entry.
	_, ok = c.Get("cfg-2", "/docs")
	require.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Put("cfg-1", "/", []objectstore.Entry{{Name: "a.txt"}})

	_, ok := c.Get("cfg-1", "/")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get("cfg-1", "/")
	require.False(t, ok)
}

func TestInvalidateByConfig(t *testing.T) {
	c := New(time.Minute)
	c.Put("cfg-1", "/", []objectstore.Entry{{Name: "a.txt"}})
	c.Put("cfg-1", "/docs", []objectstore.Entry{{Name: "b.txt"}})
	c.Put("cfg-2", "/", []objectstore.Entry{{Name: "c.txt"}})

	c.Invalidate("cfg-1")

	_, ok := c.Get("cfg-1", "/")
	require.False(t, ok)
	_, ok = c.Get("cfg-1", "/docs")
	require.False(t, ok)

	items, ok := c.Get("cfg-2", "/")
	require.True(t, ok)
	require.Len(t, items, 1)
}

func TestZeroTTLDisablesCache(t *testing.T) {
	c := New(0)
	c.Put("cfg-1", "/", []objectstore.Entry{{Name: "a.txt"}})

	_, ok := c.Get("cfg-1", "/")
	require.False(t, ok)
}
