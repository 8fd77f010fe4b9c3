package postgres

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/config"
	pkgpostgres "github.com/Adithya-Monish-Kumar-K/search-index/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := pkgpostgres.New(ctx, testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	s := New(client)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "searchindex_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "searchindex"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectAttempts: 1,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func TestDedupePostingsKeepsLast(t *testing.T) {
	in := []store.Posting{
		{Term: "cat", DocID: "doc1", TF: 1},
		{Term: "dog", DocID: "doc1", TF: 1},
		{Term: "cat", DocID: "doc1", TF: 3},
	}
	out := dedupePostings(in)
	require.Len(t, out, 2)
	assert.Equal(t, 3, out[0].TF)
	assert.Equal(t, "dog", out[1].Term)
}

func TestDedupeDocumentsKeepsLast(t *testing.T) {
	out := dedupeDocuments([]store.Document{
		{DocID: "doc1", Title: "old"},
		{DocID: "doc2", Title: "other"},
		{DocID: "doc1", Title: "new"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "new", out[0].Title)
}

func TestStoreRoundTrip(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()

	require.NoError(t, s.ResetIndex(ctx))
	require.NoError(t, s.WriteDocuments(ctx, []store.Document{
		{DocID: "pg-doc1", Title: "Cats", Length: 6},
		{DocID: "pg-doc2", Title: "Dogs", Length: 6},
	}))
	require.NoError(t, s.WritePostings(ctx, []store.Posting{
		{Term: "cat", DocID: "pg-doc1", TF: 1, DocLength: 6},
		{Term: "sat", DocID: "pg-doc1", TF: 1, DocLength: 6},
		{Term: "sat", DocID: "pg-doc2", TF: 1, DocLength: 6},
		{Term: "sat", DocID: "pg-doc2", TF: 2, DocLength: 6},
	}))
	require.NoError(t, s.WriteVocabulary(ctx, []store.VocabularyEntry{
		{Term: "cat", DF: 1, TermIndex: 0},
		{Term: "sat", DF: 2, TermIndex: 1},
	}))
	builtAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.WriteCorpusStats(ctx, store.CorpusStats{
		AvgDocLength: 6, TotalDocs: 2, Generation: "pg-gen", BuiltAt: builtAt,
	}))
	require.NoError(t, s.WriteVectors(ctx, []store.DocumentVector{
		{DocID: "pg-doc1", Vector: []float64{0.6, 0.8}, Generation: "pg-gen"},
	}))

	cs, ok, err := s.CorpusStats(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pg-gen", cs.Generation)
	assert.Equal(t, 2, cs.TotalDocs)
	assert.InDelta(t, 6.0, cs.AvgDocLength, 1e-9)
	assert.True(t, cs.VectorsBuiltAt.IsZero())

	vecAt := builtAt.Add(time.Minute)
	require.NoError(t, s.MarkVectorsBuilt(ctx, "other-gen", vecAt))
	cs, _, err = s.CorpusStats(ctx)
	require.NoError(t, err)
	assert.True(t, cs.VectorsBuiltAt.IsZero())
	require.NoError(t, s.MarkVectorsBuilt(ctx, "pg-gen", vecAt))
	cs, _, err = s.CorpusStats(ctx)
	require.NoError(t, err)
	assert.True(t, vecAt.Equal(cs.VectorsBuiltAt))

	vocab, err := s.VocabularyFor(ctx, []string{"sat", "zebra"})
	require.NoError(t, err)
	assert.Equal(t, map[string]store.VocabularyEntry{"sat": {Term: "sat", DF: 2, TermIndex: 1}}, vocab)

	postings, err := s.PostingsFor(ctx, []string{"sat"})
	require.NoError(t, err)
	require.Len(t, postings["sat"], 2)
	assert.Equal(t, "pg-doc2", postings["sat"][1].DocID)
	assert.Equal(t, 2, postings["sat"][1].TF, "the later write wins")

	docs, err := s.DocumentsByID(ctx, []string{"pg-doc1"})
	require.NoError(t, err)
	assert.Equal(t, "Cats", docs["pg-doc1"].Title)

	var vec []float64
	require.NoError(t, s.ScanDocuments(ctx, true, func(d store.Document) error {
		if d.DocID == "pg-doc1" {
			vec = d.Vector
		}
		return nil
	}))
	assert.Equal(t, []float64{0.6, 0.8}, vec)

	require.NoError(t, s.ResetIndex(ctx))
	all, err := s.Vocabulary(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
