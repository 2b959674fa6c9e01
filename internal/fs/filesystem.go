package fs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"scrapidx/internal/scrap"
)

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
type OSFilesystemManager struct {
	ignore []string

	mu       sync.Mutex
	matchers map[string]*IgnoreMatcher
}

// NewOSFilesystemManager creates a filesystem manager for the real
// filesystem. The ignore patterns apply under every root, in addition to the
// defaults and each root's .scrapignore.
func NewOSFilesystemManager(ignore []string) *OSFilesystemManager {
	return &OSFilesystemManager{
		ignore:   ignore,
		matchers: make(map[string]*IgnoreMatcher),
	}
}

// Resolve validates a raw path and returns a Path object.
func (m *OSFilesystemManager) Resolve(rawPath string) (*scrap.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	if !mode.IsRegular() && !mode.IsDir() {
		return nil, fmt.Errorf("not a regular file or directory: %s", absPath)
	}

	return scrap.NewPath(absPath, info.IsDir(), info), nil
}

// Open opens a file for reading.
func (m *OSFilesystemManager) Open(path *scrap.Path) (io.ReadCloser, error) {
	if path.IsDir() {
		return nil, fmt.Errorf("cannot open directory as file: %s", path.String())
	}
	return os.Open(path.String())
}

// FindFiles discovers regular files under the given directory path, in
// lexical order.
func (m *OSFilesystemManager) FindFiles(path *scrap.Path, recursive bool) ([]*scrap.Path, error) {
	if !path.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", path.String())
	}

	var paths []*scrap.Path

	if recursive {
		err := filepath.WalkDir(path.String(), func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("stat %s: %w", p, err)
			}
			paths = append(paths, scrap.NewPath(p, false, info))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking directory: %w", err)
		}
		return paths, nil
	}

	entries, err := os.ReadDir(path.String())
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		paths = append(paths, scrap.NewPath(filepath.Join(path.String(), entry.Name()), false, info))
	}
	return paths, nil
}

// IsIgnored reports whether path, which must lie under root, matches the
// default patterns, the configured patterns or root's .scrapignore.
// The .scrapignore of each root is read once.
func (m *OSFilesystemManager) IsIgnored(path *scrap.Path, root string) (bool, error) {
	rel, err := filepath.Rel(root, path.String())
	if err != nil {
		return false, fmt.Errorf("relative path: %w", err)
	}
	if !filepath.IsLocal(rel) {
		return false, fmt.Errorf("%s is not under %s", path.String(), root)
	}

	matcher, err := m.matcherFor(root)
	if err != nil {
		return false, err
	}
	return matcher.Match(rel), nil
}

func (m *OSFilesystemManager) matcherFor(root string) (*IgnoreMatcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if matcher, ok := m.matchers[root]; ok {
		return matcher, nil
	}

	fromFile, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns := append([]string{}, defaultIgnorePatterns...)
	patterns = append(patterns, m.ignore...)
	patterns = append(patterns, fromFile...)

	matcher := NewIgnoreMatcher(patterns)
	m.matchers[root] = matcher
	return matcher, nil
}

// Compile-time check that OSFilesystemManager implements scrap.FilesystemManager interface
var _ scrap.FilesystemManager = (*OSFilesystemManager)(nil)
