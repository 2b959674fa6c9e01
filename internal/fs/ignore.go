package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-directory ignore file read by the collector.
const IgnoreFileName = ".scrapignore"

// defaultIgnorePatterns are always applied regardless of config or .scrapignore.
var defaultIgnorePatterns = []string{IgnoreFileName, ".DS_Store", "Thumbs.db"}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // match against the relative path instead of the basename
	dirOnly   bool // "name/" matches any directory component
	negate    bool // "!pattern" re-includes what earlier patterns ignored
}

// IgnoreMatcher checks file paths against a set of ignore patterns.
// Patterns without '/' match against the file's basename only.
// Patterns with '/' match against the full relative path from the directory root.
// A trailing '/' makes the pattern match directory names anywhere in the path,
// and a leading '!' negates it. The last matching pattern wins.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var p ignorePattern
		if strings.HasPrefix(raw, "!") {
			p.negate = true
			raw = raw[1:]
		}
		if strings.HasSuffix(raw, "/") {
			p.dirOnly = true
			raw = strings.TrimRight(raw, "/")
		}
		if raw == "" {
			continue
		}
		p.pattern = raw
		p.matchPath = !p.dirOnly && strings.Contains(raw, "/")
		patterns = append(patterns, p)
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the given relative path should be ignored.
// relativePath should use filepath separators and be relative to the directory root.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	parts := strings.Split(normalized, "/")
	basename := parts[len(parts)-1]
	dirs := parts[:len(parts)-1]

	ignored := false
	for _, p := range m.patterns {
		if p.matches(normalized, basename, dirs) {
			ignored = !p.negate
		}
	}
	return ignored
}

func (p ignorePattern) matches(normalized, basename string, dirs []string) bool {
	switch {
	case p.dirOnly:
		for _, d := range dirs {
			if ok, err := filepath.Match(p.pattern, d); err == nil && ok {
				return true
			}
		}
		return false
	case p.matchPath:
		ok, err := filepath.Match(p.pattern, normalized)
		return err == nil && ok
	default:
		ok, err := filepath.Match(p.pattern, basename)
		return err == nil && ok
	}
}

// ParseIgnoreFile reads a .scrapignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
