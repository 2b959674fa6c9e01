package scrap

import (
	"io"
	"io/fs"
)

// Path represents a validated local filesystem path with cached metadata.
// Path objects are created by FilesystemManager.Resolve.
type Path struct {
	absPath string
	isDir   bool
	info    fs.FileInfo
}

// NewPath creates a Path from its components.
// This is primarily for use by FilesystemManager implementations.
func NewPath(absPath string, isDir bool, info fs.FileInfo) *Path {
	return &Path{
		absPath: absPath,
		isDir:   isDir,
		info:    info,
	}
}

func (p *Path) String() string { return p.absPath }

func (p *Path) IsDir() bool { return p.isDir }

// Info returns the cached file info from when the path was resolved.
func (p *Path) Info() fs.FileInfo { return p.info }

// FilesystemManager abstracts the local filesystem the Collector reads from.
type FilesystemManager interface {
	// Resolve validates a raw path and returns a Path object.
	// Only regular files and directories are accepted.
	Resolve(rawPath string) (*Path, error)

	// Open opens a file for reading.
	Open(path *Path) (io.ReadCloser, error)

	// FindFiles discovers regular files under a directory.
	FindFiles(path *Path, recursive bool) ([]*Path, error)

	// IsIgnored reports whether path matches the ignore rules that apply
	// under root.
	IsIgnored(path *Path, root string) (bool, error)
}
