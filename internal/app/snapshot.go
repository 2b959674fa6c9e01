package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"scrapidx/internal/scrap"
)

const snapshotName = "scrapidx.db"

// SnapshotStore publishes the metadata database of one host under the
// object store's reserved prefix, together with a version marker holding the
// ID of the operation that produced it.
type SnapshotStore struct {
	objects scrap.ObjectStore
	hostID  string
	suffix  string
}

// NewSnapshotStore creates a SnapshotStore. suffix is appended to the
// snapshot key, e.g. ".age" for encrypted snapshots.
func NewSnapshotStore(objects scrap.ObjectStore, hostID, suffix string) *SnapshotStore {
	return &SnapshotStore{objects: objects, hostID: hostID, suffix: suffix}
}

func (s *SnapshotStore) dir() string {
	return path.Join(strings.TrimSuffix(scrap.MetaPrefix, "/"), s.hostID)
}

// Key returns the object key of the snapshot.
func (s *SnapshotStore) Key() string {
	return path.Join(s.dir(), snapshotName+s.suffix)
}

func (s *SnapshotStore) versionKey() string {
	return path.Join(s.dir(), snapshotName+".version")
}

// Version returns the version of the published snapshot.
// Returns 0 if nothing was published yet.
func (s *SnapshotStore) Version(ctx context.Context) (int64, error) {
	rc, err := s.objects.Open(ctx, s.versionKey())
	if err != nil {
		if errors.Is(err, scrap.ErrObjectNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading snapshot version: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return 0, fmt.Errorf("reading snapshot version: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing snapshot version: %w", err)
	}
	return version, nil
}

// Put uploads the snapshot, then its version marker.
func (s *SnapshotStore) Put(ctx context.Context, r io.Reader, size int64, version int64) error {
	if err := s.objects.Put(ctx, s.Key(), r, size); err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}
	v := []byte(strconv.FormatInt(version, 10))
	if err := s.objects.Put(ctx, s.versionKey(), bytes.NewReader(v), int64(len(v))); err != nil {
		return fmt.Errorf("uploading snapshot version: %w", err)
	}
	return nil
}

// Get writes the published snapshot to w.
func (s *SnapshotStore) Get(ctx context.Context, w io.Writer) error {
	rc, err := s.objects.Open(ctx, s.Key())
	if err != nil {
		if errors.Is(err, scrap.ErrObjectNotFound) {
			return fmt.Errorf("no snapshot published for host %s: %w", s.hostID, err)
		}
		return fmt.Errorf("downloading snapshot: %w", err)
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("downloading snapshot: %w", err)
	}
	return nil
}
