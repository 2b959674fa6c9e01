package scrap_test

import (
	"context"
	"testing"

	"scrapidx/internal/objectstore"
	"scrapidx/internal/scrap"
)

func TestScanner_List(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore()
	for _, key := range []string{
		"dumps/b.txt",
		"dumps/a.LST",
		"dumps/c.json",
		"dumps/readme.md",
		"dumps/archive.zip",
		"other/d.txt",
		"_meta/host/scrapidx.db.txt",
	} {
		objects.Add(key, []byte("x:y\n"))
	}

	t.Run("filters by extension and sorts", func(t *testing.T) {
		s := scrap.NewScanner(objects, nil, scrap.NewNopLogger())
		refs, err := s.List(ctx, []string{"dumps/"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		want := []string{"dumps/a.LST", "dumps/b.txt", "dumps/c.json"}
		if len(refs) != len(want) {
			t.Fatalf("List() = %v, want %v", refs, want)
		}
		for i, ref := range refs {
			if ref.Key != want[i] {
				t.Errorf("refs[%d] = %s, want %s", i, ref.Key, want[i])
			}
			if ref.Size != 4 {
				t.Errorf("refs[%d].Size = %d, want 4", i, ref.Size)
			}
		}
	})

	t.Run("whole store skips metadata", func(t *testing.T) {
		s := scrap.NewScanner(objects, []string{"txt"}, scrap.NewNopLogger())
		refs, err := s.List(ctx, nil)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(refs) != 2 {
			t.Errorf("List() = %v, want dumps/b.txt and other/d.txt", refs)
		}
	})

	t.Run("overlapping prefixes list once", func(t *testing.T) {
		s := scrap.NewScanner(objects, nil, scrap.NewNopLogger())
		refs, err := s.List(ctx, []string{"dumps/", "dumps/b", "other/"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(refs) != 4 {
			t.Errorf("List() returned %d objects, want 4", len(refs))
		}
	})
}

func TestScanner_Accepts(t *testing.T) {
	s := scrap.NewScanner(nil, []string{".TXT", "lst", " "}, scrap.NewNopLogger())
	tests := map[string]bool{
		"a.txt":     true,
		"a.Txt":     true,
		"dir/b.lst": true,
		"c.json":    false,
		"noext":     false,
		"d.txt.gz":  false,
	}
	for key, want := range tests {
		if got := s.Accepts(key); got != want {
			t.Errorf("Accepts(%q) = %v, want %v", key, got, want)
		}
	}
}
