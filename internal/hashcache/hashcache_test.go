package hashcache_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapidx/internal/hashcache"
	"scrapidx/internal/scrap"
)

func TestLoad(t *testing.T) {
	t.Run("missing file yields empty cache", func(t *testing.T) {
		c := hashcache.Load(filepath.Join(t.TempDir(), "cache.json"), scrap.NewNopLogger())
		assert.Equal(t, 0, c.Len())
	})

	t.Run("corrupt file yields empty cache", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

		c := hashcache.Load(path, scrap.NewNopLogger())
		assert.Equal(t, 0, c.Len())
	})

	t.Run("reads existing entries", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"a.txt":"h1","b.txt":"h2"}`), 0644))

		c := hashcache.Load(path, scrap.NewNopLogger())
		assert.Equal(t, 2, c.Len())
		h, ok := c.Get("a.txt")
		assert.True(t, ok)
		assert.Equal(t, "h1", h)
		assert.True(t, c.HasHash("h2"))
	})
}

func TestFileCache_Flush(t *testing.T) {
	t.Run("round trips through disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "cache.json")
		c := hashcache.Load(path, scrap.NewNopLogger())
		c.Put("leak1.txt", "abc")
		require.NoError(t, c.Flush())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var m map[string]string
		require.NoError(t, json.Unmarshal(data, &m))
		assert.Equal(t, map[string]string{"leak1.txt": "abc"}, m)

		reloaded := hashcache.Load(path, scrap.NewNopLogger())
		h, ok := reloaded.Get("leak1.txt")
		assert.True(t, ok)
		assert.Equal(t, "abc", h)
	})

	t.Run("clean cache does not write", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")
		c := hashcache.Load(path, scrap.NewNopLogger())
		require.NoError(t, c.Flush())

		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		c := hashcache.Load(filepath.Join(dir, "cache.json"), scrap.NewNopLogger())
		c.Put("k", "v")
		require.NoError(t, c.Flush())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("reset persists an empty cache", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")
		c := hashcache.Load(path, scrap.NewNopLogger())
		c.Put("k", "v")
		require.NoError(t, c.Flush())

		c.Reset()
		require.NoError(t, c.Flush())

		reloaded := hashcache.Load(path, scrap.NewNopLogger())
		assert.Equal(t, 0, reloaded.Len())
	})
}

func TestMemoryCache_HasHash(t *testing.T) {
	c := hashcache.NewMemory()
	c.Put("a", "h1")
	c.Put("b", "h1")
	c.Put("a", "h2")

	assert.True(t, c.HasHash("h1"), "b still maps to h1")
	assert.True(t, c.HasHash("h2"))

	c.Put("b", "h2")
	assert.False(t, c.HasHash("h1"))
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := hashcache.NewMemory()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := string(rune('a' + i%26))
			c.Put(key, "h")
			c.Get(key)
			c.HasHash("h")
		}()
	}
	wg.Wait()
	assert.Equal(t, 26, c.Len())
}
