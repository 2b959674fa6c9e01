package scrap

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
)

// DefaultExtensions is the extension whitelist used when none is configured.
var DefaultExtensions = []string{".txt", ".lst", ".json"}

// Scanner enumerates candidate source objects.
type Scanner struct {
	objects    ObjectStore
	extensions map[string]bool
	logger     Logger
}

// NewScanner creates a Scanner accepting keys with one of the given
// extensions, compared case-insensitively.
func NewScanner(objects ObjectStore, extensions []string, logger Logger) *Scanner {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Scanner{objects: objects, extensions: exts, logger: logger}
}

// Accepts reports whether key has a whitelisted extension.
func (s *Scanner) Accepts(key string) bool {
	return s.extensions[strings.ToLower(path.Ext(key))]
}

// List returns the whitelisted objects under every prefix, deduplicated and
// sorted by key. An empty prefix list scans the whole store. A listing
// failure is returned; unmatched extensions are only logged.
func (s *Scanner) List(ctx context.Context, prefixes []string) ([]ObjectRef, error) {
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}

	seen := make(map[string]bool)
	var refs []ObjectRef
	for _, prefix := range prefixes {
		objs, err := s.objects.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("listing prefix %q: %w", prefix, err)
		}
		for _, obj := range objs {
			if seen[obj.Key] || strings.HasPrefix(obj.Key, MetaPrefix) {
				continue
			}
			seen[obj.Key] = true
			if !s.Accepts(obj.Key) {
				s.logger.Info("skipping object with unsupported extension", "key", obj.Key)
				continue
			}
			refs = append(refs, obj)
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	s.logger.Debug("scan complete", "prefixes", len(prefixes), "objects", len(refs))
	return refs, nil
}
