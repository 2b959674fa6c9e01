package testutil

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	scrapfs "scrapidx/internal/fs"
	"scrapidx/internal/scrap"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
	IsDirectory bool
}

// MockFilesystemManager is an in-memory filesystem for testing.
type MockFilesystemManager struct {
	files   map[string]*MockFile
	ignore  *scrapfs.IgnoreMatcher
	openErr map[string]error
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files:   make(map[string]*MockFile),
		ignore:  scrapfs.NewIgnoreMatcher(nil),
		openErr: make(map[string]error),
	}
}

// AddFile adds a file to the mock filesystem, creating its parent
// directories.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	for dir := filepath.Dir(path); dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		if _, ok := m.files[dir]; !ok {
			m.AddDirectory(dir)
		}
	}
	m.files[path] = &MockFile{
		Content:     content,
		Permissions: 0644,
		ModTime:     time.Now(),
	}
}

// AddDirectory adds a directory to the mock filesystem.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.files[path] = &MockFile{
		Permissions: 0755,
		ModTime:     time.Now(),
		IsDirectory: true,
	}
}

// SetIgnore replaces the ignore patterns applied under every root.
func (m *MockFilesystemManager) SetIgnore(patterns ...string) {
	m.ignore = scrapfs.NewIgnoreMatcher(patterns)
}

// FailOpen makes Open of path return err.
func (m *MockFilesystemManager) FailOpen(path string, err error) {
	m.openErr[path] = err
}

func (m *MockFilesystemManager) Resolve(rawPath string) (*scrap.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, err
	}

	file, ok := m.files[absPath]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", absPath)
	}
	return scrap.NewPath(absPath, file.IsDirectory, newMockFileInfo(absPath, file)), nil
}

func (m *MockFilesystemManager) Open(path *scrap.Path) (io.ReadCloser, error) {
	if err, ok := m.openErr[path.String()]; ok {
		return nil, err
	}
	file, ok := m.files[path.String()]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path.String())
	}
	if file.IsDirectory {
		return nil, fmt.Errorf("cannot open directory: %s", path.String())
	}
	return io.NopCloser(bytes.NewReader(file.Content)), nil
}

// FindFiles returns the files under path in lexical order.
func (m *MockFilesystemManager) FindFiles(path *scrap.Path, recursive bool) ([]*scrap.Path, error) {
	if !path.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", path.String())
	}
	prefix := path.String() + string(filepath.Separator)

	var names []string
	for name, file := range m.files {
		if file.IsDirectory || !strings.HasPrefix(name, prefix) {
			continue
		}
		if !recursive && strings.ContainsRune(name[len(prefix):], filepath.Separator) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]*scrap.Path, len(names))
	for i, name := range names {
		paths[i] = scrap.NewPath(name, false, newMockFileInfo(name, m.files[name]))
	}
	return paths, nil
}

func (m *MockFilesystemManager) IsIgnored(path *scrap.Path, root string) (bool, error) {
	rel, err := filepath.Rel(root, path.String())
	if err != nil {
		return false, err
	}
	return m.ignore.Match(rel), nil
}

func newMockFileInfo(path string, file *MockFile) *mockFileInfo {
	return &mockFileInfo{
		name:    filepath.Base(path),
		size:    int64(len(file.Content)),
		mode:    file.Permissions,
		modTime: file.ModTime,
		isDir:   file.IsDirectory,
	}
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

// Compile-time check
var _ scrap.FilesystemManager = (*MockFilesystemManager)(nil)
