package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapidx/internal/config"
	"scrapidx/internal/scrap"
)

// storeContract exercises the behavior every ObjectStore must share.
func storeContract(t *testing.T, newStore func(t *testing.T) scrap.ObjectStore) {
	ctx := context.Background()

	t.Run("put then open and stat", func(t *testing.T) {
		s := newStore(t)
		data := []byte("user1:pass1\nuser2:pass2\n")
		require.NoError(t, s.Put(ctx, "leaks/leak1.txt", bytes.NewReader(data), int64(len(data))))

		size, err := s.Stat(ctx, "leaks/leak1.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), size)

		rc, err := s.Open(ctx, "leaks/leak1.txt")
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("put replaces existing object", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a.txt", strings.NewReader("old"), 3))
		require.NoError(t, s.Put(ctx, "a.txt", strings.NewReader("newer"), 5))

		size, err := s.Stat(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(5), size)
	})

	t.Run("size mismatch is rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.Put(ctx, "a.txt", strings.NewReader("hello"), 100)
		assert.Error(t, err)
	})

	t.Run("unknown size skips the length check", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a.txt", strings.NewReader("hello"), -1))
	})

	t.Run("missing object wraps ErrObjectNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Stat(ctx, "nope.txt")
		assert.ErrorIs(t, err, scrap.ErrObjectNotFound)
		_, err = s.Open(ctx, "nope.txt")
		assert.ErrorIs(t, err, scrap.ErrObjectNotFound)
	})

	t.Run("list filters by prefix and sorts", func(t *testing.T) {
		s := newStore(t)
		for _, key := range []string{"b/2.txt", "a/1.txt", "b/1.txt", "c.lst"} {
			require.NoError(t, s.Put(ctx, key, strings.NewReader(key), int64(len(key))))
		}

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"a/1.txt", "b/1.txt", "b/2.txt", "c.lst"}, keys(all))

		b, err := s.List(ctx, "b/")
		require.NoError(t, err)
		assert.Equal(t, []string{"b/1.txt", "b/2.txt"}, keys(b))
		assert.Equal(t, int64(len("b/1.txt")), b[0].Size)
	})

	t.Run("validate setup succeeds", func(t *testing.T) {
		assert.NoError(t, newStore(t).ValidateSetup(ctx))
	})
}

func keys(refs []scrap.ObjectRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Key
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) scrap.ObjectStore { return NewMemoryStore() })
}

func TestFileSystemStore(t *testing.T) {
	storeContract(t, func(t *testing.T) scrap.ObjectStore {
		s, err := NewFileSystemStore(filepath.Join(t.TempDir(), "objects"))
		require.NoError(t, err)
		return s
	})
}

func TestFileSystemStore_Keys(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileSystemStore(root)
	require.NoError(t, err)

	t.Run("rejects keys escaping the root", func(t *testing.T) {
		for _, key := range []string{"../evil.txt", "/etc/passwd", ""} {
			err := s.Put(ctx, key, strings.NewReader("x"), 1)
			assert.Error(t, err, "key %q", key)
		}
	})

	t.Run("list ignores temp files", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, ".tmp-123"), []byte("partial"), 0644))
		require.NoError(t, s.Put(ctx, "real.txt", strings.NewReader("x"), 1))

		refs, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"real.txt"}, keys(refs))
	})

	t.Run("failed put leaves no temp file", func(t *testing.T) {
		require.Error(t, s.Put(ctx, "short.txt", strings.NewReader("x"), 10))
		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "leftover %s", e.Name())
		}
	})
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"head not found", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"wrapped", fmt.Errorf("get: %w", &smithy.GenericAPIError{Code: "NoSuchKey"}), true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFound(tt.err))
		})
	}
}

func TestNewObjectStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ObjectStoreConfig
		wantErr bool
	}{
		{name: "memory store", cfg: config.ObjectStoreConfig{Type: "memory"}},
		{name: "filesystem store", cfg: config.ObjectStoreConfig{Type: "filesystem", FSRoot: t.TempDir()}},
		{name: "filesystem store without root", cfg: config.ObjectStoreConfig{Type: "filesystem"}, wantErr: true},
		{name: "s3 store without bucket", cfg: config.ObjectStoreConfig{Type: "s3"}, wantErr: true},
		{name: "unknown type", cfg: config.ObjectStoreConfig{Type: "ftp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewObjectStoreFromConfig(context.Background(), tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, got.ValidateSetup(context.Background()))
		})
	}
}

func TestNewS3Store(t *testing.T) {
	s, err := NewS3Store(context.Background(), config.ObjectStoreConfig{
		Type:        "s3",
		S3Bucket:    "leaks",
		S3Endpoint:  "http://127.0.0.1:9000",
		S3AccessKey: "minio",
		S3SecretKey: "minio123",
		S3PathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "leaks", s.bucket)
	assert.True(t, s.client.Options().UsePathStyle)
}
