package scrap_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"scrapidx/internal/hashcache"
	"scrapidx/internal/objectstore"
	"scrapidx/internal/scrap"
	"scrapidx/internal/testutil"
)

func TestCollector_Collect(t *testing.T) {
	ctx := context.Background()

	setup := func() (*testutil.MockFilesystemManager, *objectstore.MemoryStore, *scrap.Collector) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/src/a.txt", []byte("a:1\n"))
		fsmgr.AddFile("/src/sub/b.lst", []byte("b:2\n"))
		fsmgr.AddFile("/src/notes.md", []byte("notes"))
		fsmgr.AddFile("/src/skip.txt", []byte("s:3\n"))
		fsmgr.SetIgnore("skip.txt")
		objects := objectstore.NewMemoryStore()
		c := scrap.NewCollector(fsmgr, objects, hashcache.NewMemory(), nil, "dumps", scrap.NewNopLogger())
		return fsmgr, objects, c
	}

	t.Run("uploads whitelisted files under the prefix", func(t *testing.T) {
		_, objects, c := setup()

		res, err := c.Collect(ctx, []string{"/src"}, false)
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if res.Scanned != 4 || res.Uploaded != 2 || res.Ignored != 2 || res.Failed != 0 {
			t.Errorf("Collect() = %+v", res)
		}
		for key, want := range map[string]string{"dumps/a.txt": "a:1\n", "dumps/sub/b.lst": "b:2\n"} {
			rc, err := objects.Open(ctx, key)
			if err != nil {
				t.Errorf("Open(%s) error = %v", key, err)
				continue
			}
			got, _ := io.ReadAll(rc)
			rc.Close()
			if string(got) != want {
				t.Errorf("%s = %q, want %q", key, got, want)
			}
		}
	})

	t.Run("second run skips uploaded files", func(t *testing.T) {
		_, _, c := setup()
		if _, err := c.Collect(ctx, []string{"/src"}, false); err != nil {
			t.Fatal(err)
		}

		res, err := c.Collect(ctx, []string{"/src"}, false)
		if err != nil {
			t.Fatal(err)
		}
		if res.Uploaded != 0 || res.Skipped != 2 {
			t.Errorf("second Collect() = %+v", res)
		}
	})

	t.Run("known content under a new path is skipped", func(t *testing.T) {
		fsmgr, objects, c := setup()
		if _, err := c.Collect(ctx, []string{"/src"}, false); err != nil {
			t.Fatal(err)
		}
		fsmgr.AddFile("/src/copy.txt", []byte("a:1\n"))

		res, err := c.Collect(ctx, []string{"/src"}, false)
		if err != nil {
			t.Fatal(err)
		}
		if res.Uploaded != 0 || res.Skipped != 3 {
			t.Errorf("Collect() = %+v", res)
		}
		if _, err := objects.Stat(ctx, "dumps/copy.txt"); !errors.Is(err, scrap.ErrObjectNotFound) {
			t.Errorf("copy.txt was uploaded: %v", err)
		}
	})

	t.Run("force uploads again", func(t *testing.T) {
		_, _, c := setup()
		if _, err := c.Collect(ctx, []string{"/src"}, false); err != nil {
			t.Fatal(err)
		}

		res, err := c.Collect(ctx, []string{"/src"}, true)
		if err != nil {
			t.Fatal(err)
		}
		if res.Uploaded != 2 {
			t.Errorf("forced Collect() = %+v", res)
		}
	})

	t.Run("unreadable file and missing source", func(t *testing.T) {
		fsmgr, _, c := setup()
		fsmgr.FailOpen("/src/a.txt", errors.New("permission denied"))

		res, err := c.Collect(ctx, []string{"/missing", "/src"}, false)
		if err != nil {
			t.Fatal(err)
		}
		if res.Failed != 1 || res.Uploaded != 1 {
			t.Errorf("Collect() = %+v", res)
		}
	})

	t.Run("single file source", func(t *testing.T) {
		fsmgr, objects, c := setup()
		fsmgr.AddFile("/other/c.txt", []byte("c:4\n"))

		res, err := c.Collect(ctx, []string{"/other/c.txt"}, false)
		if err != nil {
			t.Fatal(err)
		}
		if res.Uploaded != 1 {
			t.Errorf("Collect() = %+v", res)
		}
		if _, err := objects.Stat(ctx, "dumps/c.txt"); err != nil {
			t.Errorf("Stat(dumps/c.txt) error = %v", err)
		}
	})
}
