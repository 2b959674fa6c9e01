// Package hashcache holds source-key to content-hash maps used to skip
// rehashing objects that were already seen.
package hashcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"scrapidx/internal/scrap"
)

var (
	_ scrap.HashCache = (*FileCache)(nil)
	_ scrap.HashCache = (*MemoryCache)(nil)
)

// entries is the shared in-memory state of both cache kinds. hashes counts
// how many keys map to each hash so HasHash stays O(1) across overwrites.
type entries struct {
	mu     sync.Mutex
	keys   map[string]string
	hashes map[string]int
	dirty  bool
}

func newEntries() *entries {
	return &entries{keys: make(map[string]string), hashes: make(map[string]int)}
}

func (e *entries) Get(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.keys[key]
	return h, ok
}

func (e *entries) Put(key, hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.put(key, hash)
}

func (e *entries) put(key, hash string) {
	if prev, ok := e.keys[key]; ok {
		if prev == hash {
			return
		}
		e.hashes[prev]--
		if e.hashes[prev] == 0 {
			delete(e.hashes, prev)
		}
	}
	e.keys[key] = hash
	e.hashes[hash]++
	e.dirty = true
}

func (e *entries) HasHash(hash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hashes[hash] > 0
}

func (e *entries) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.keys)
}

func (e *entries) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.keys) == 0 {
		return
	}
	e.keys = make(map[string]string)
	e.hashes = make(map[string]int)
	e.dirty = true
}

// MemoryCache is a HashCache that is never persisted. Useful for testing.
type MemoryCache struct {
	*entries
}

// NewMemory creates an empty MemoryCache.
func NewMemory() *MemoryCache {
	return &MemoryCache{entries: newEntries()}
}

func (m *MemoryCache) Flush() error {
	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()
	return nil
}

// FileCache is a HashCache persisted as a JSON object {key: hexdigest}.
type FileCache struct {
	*entries
	path   string
	logger scrap.Logger
}

// Load reads the cache at path. A missing or unreadable file yields an empty
// cache; losing the cache only costs rehashing.
func Load(path string, logger scrap.Logger) *FileCache {
	c := &FileCache{entries: newEntries(), path: path, logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("hash cache unreadable, starting empty", "path", path, "error", err)
		}
		return c
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Warn("hash cache corrupt, starting empty", "path", path, "error", err)
		return c
	}
	for k, h := range m {
		c.put(k, h)
	}
	c.dirty = false
	logger.Debug("hash cache loaded", "path", path, "entries", len(m))
	return c
}

// Path returns the file backing the cache.
func (c *FileCache) Path() string { return c.path }

// Flush writes the cache to disk with an atomic write (temp file + rename).
// It does nothing when no entry changed since the last flush.
func (c *FileCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.keys, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding hash cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating hash cache directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing hash cache: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing hash cache: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	c.dirty = false
	return nil
}
