package searchindex

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"modernc.org/sqlite"

	"scrapidx/internal/config"
	"scrapidx/internal/scrap"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func doc(id, line string, fileID int64, indexedAt time.Time) *scrap.Document {
	return &scrap.Document{
		ID:         id,
		Line:       line,
		FileID:     fileID,
		FileKey:    fmt.Sprintf("leak-%d.txt", fileID),
		FileSizeMB: 1.5,
		CreatedAt:  base,
		IndexedAt:  indexedAt,
	}
}

var implementations = map[string]func(t *testing.T) scrap.SearchIndex{
	"sqlite": func(t *testing.T) scrap.SearchIndex {
		x, err := NewSQLiteIndex(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { x.Close() })
		return x
	},
	"memory": func(*testing.T) scrap.SearchIndex { return NewMemoryIndex() },
}

func TestSearchIndex_Contract(t *testing.T) {
	ctx := context.Background()

	for name, fresh := range implementations {
		t.Run(name, func(t *testing.T) {

			t.Run("upsert never duplicates", func(t *testing.T) {
				x := fresh(t)
				docs := []*scrap.Document{
					doc("a", "alice@example.com:hunter2", 1, base),
					doc("b", "bob@example.com:letmein", 1, base),
				}

				res, err := x.Upsert(ctx, docs)
				require.NoError(t, err)
				assert.Equal(t, &scrap.BulkResult{Created: 2}, res)

				docs[0].Line = "alice@example.com:changed"
				res, err = x.Upsert(ctx, docs)
				require.NoError(t, err)
				assert.Equal(t, &scrap.BulkResult{Updated: 2}, res)

				n, err := x.Count(ctx)
				require.NoError(t, err)
				assert.EqualValues(t, 2, n)

				got, err := x.Get(ctx, "a")
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, "alice@example.com:changed", got.Line)
				assert.True(t, got.CreatedAt.Equal(base))
			})

			t.Run("get missing returns nil", func(t *testing.T) {
				got, err := fresh(t).Get(ctx, "missing")
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("substring search ignores case", func(t *testing.T) {
				x := fresh(t)
				_, err := x.Upsert(ctx, []*scrap.Document{
					doc("a", "Alice@Example.com:hunter2", 1, base),
					doc("b", "bob@example.org:letmein", 2, base.Add(time.Minute)),
					doc("c", "carol@test.net:x", 2, base.Add(2*time.Minute)),
				})
				require.NoError(t, err)

				tests := []struct {
					name string
					q    scrap.SearchQuery
					want []string
				}{
					{"trigram match", scrap.SearchQuery{Text: "example"}, []string{"b", "a"}},
					{"mixed case", scrap.SearchQuery{Text: "ALICE@"}, []string{"a"}},
					{"short text", scrap.SearchQuery{Text: ":x"}, []string{"c"}},
					{"quote in text", scrap.SearchQuery{Text: `hunter"2`}, nil},
					{"file filter", scrap.SearchQuery{Text: "example", FileID: 2}, []string{"b"}},
					{"indexed after", scrap.SearchQuery{IndexedAfter: base.Add(time.Minute)}, []string{"c", "b"}},
					{"indexed before", scrap.SearchQuery{IndexedBefore: base.Add(time.Minute)}, []string{"a"}},
					{"created before excludes all", scrap.SearchQuery{CreatedBefore: base}, nil},
					{"limit", scrap.SearchQuery{Limit: 1}, []string{"c"}},
				}
				for _, tt := range tests {
					t.Run(tt.name, func(t *testing.T) {
						docs, err := x.Search(ctx, tt.q)
						require.NoError(t, err)
						var ids []string
						for _, d := range docs {
							ids = append(ids, d.ID)
						}
						assert.Equal(t, tt.want, ids)
					})
				}
			})

			t.Run("delete by file", func(t *testing.T) {
				x := fresh(t)
				_, err := x.Upsert(ctx, []*scrap.Document{
					doc("a", "one:1", 1, base),
					doc("b", "two:2", 1, base),
					doc("c", "three:3", 2, base),
				})
				require.NoError(t, err)

				n, err := x.DeleteByFile(ctx, 1)
				require.NoError(t, err)
				assert.EqualValues(t, 2, n)

				n, err = x.CountByFile(ctx, 1)
				require.NoError(t, err)
				assert.Zero(t, n)
				n, err = x.CountByFile(ctx, 2)
				require.NoError(t, err)
				assert.EqualValues(t, 1, n)

				docs, err := x.Search(ctx, scrap.SearchQuery{Text: "one:1"})
				require.NoError(t, err)
				assert.Empty(t, docs)
			})

			t.Run("reset", func(t *testing.T) {
				x := fresh(t)
				_, err := x.Upsert(ctx, []*scrap.Document{doc("a", "one:1", 1, base)})
				require.NoError(t, err)
				require.NoError(t, x.Reset(ctx))

				n, err := x.Count(ctx)
				require.NoError(t, err)
				assert.Zero(t, n)
				require.NoError(t, x.Ping(ctx))
			})
		})
	}
}

func TestSQLiteIndex_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index", "search.db")

	x, err := NewSQLiteIndex(ctx, path)
	require.NoError(t, err)
	_, err = x.Upsert(ctx, []*scrap.Document{doc("a", "persisted@example.com:pw", 7, base)})
	require.NoError(t, err)
	require.NoError(t, x.Close())

	x, err = NewSQLiteIndex(ctx, path)
	require.NoError(t, err)
	defer x.Close()

	docs, err := x.Search(ctx, scrap.SearchQuery{Text: "persisted"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.EqualValues(t, 7, docs[0].FileID)
	assert.Equal(t, path, x.Path())
}

func TestQuotePhrase(t *testing.T) {
	assert.Equal(t, `"abc"`, quotePhrase("abc"))
	assert.Equal(t, `"a""b OR c"`, quotePhrase(`a"b OR c`))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
}

func TestClassify(t *testing.T) {
	assert.False(t, scrap.IsTransient(classify(errors.New("boom"))))
	assert.False(t, scrap.IsTransient(classify(fmt.Errorf("wrapped: %w", &sqlite.Error{}))))
}

func TestNewIndexFromConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.SearchIndexConfig
		wantErr bool
	}{
		{"memory", config.SearchIndexConfig{Type: "memory"}, false},
		{"sqlite", config.SearchIndexConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "s.db")}, false},
		{"sqlite without path", config.SearchIndexConfig{Type: "sqlite"}, true},
		{"unknown", config.SearchIndexConfig{Type: "elastic"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := NewIndexFromConfig(ctx, tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, x)
				return
			}
			require.NoError(t, err)
			defer x.Close()
			assert.NoError(t, x.Ping(ctx))
		})
	}
}
