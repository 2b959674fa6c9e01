package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"scrapidx/internal/scrap"
)

var _ scrap.ObjectStore = (*FileSystemStore)(nil)

// FileSystemStore is a filesystem-based implementation of the ObjectStore
// interface. Object keys map to slash-separated paths below the root:
//
//	<root>/
//	  leaks/2024/combo.txt   (key "leaks/2024/combo.txt")
//	  _meta/<hostID>/...     (metadata snapshots)
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a filesystem object store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

// resolve maps a key to its path, rejecting keys that escape the root.
func (s *FileSystemStore) resolve(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(s.root, rel), nil
}

func (s *FileSystemStore) List(ctx context.Context, prefix string) ([]scrap.ObjectRef, error) {
	var refs []scrap.ObjectRef
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		refs = append(refs, scrap.ObjectRef{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking object store: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

func (s *FileSystemStore) Stat(_ context.Context, key string) (int64, error) {
	p, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("object %s: %w", key, scrap.ErrObjectNotFound)
		}
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Size(), nil
}

func (s *FileSystemStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", key, scrap.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// Put stores the object with an atomic write (temp file + rename). A negative
// size skips the length check.
func (s *FileSystemStore) Put(_ context.Context, key string, r io.Reader, size int64) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	return writeFile(p, r, size)
}

// ValidateSetup verifies that the root exists and is a directory.
func (s *FileSystemStore) ValidateSetup(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("object store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("object store root is not a directory: %s", s.root)
	}
	return nil
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// The temp file lives in the destination directory so the rename is atomic.
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if expectedSize >= 0 && written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
