package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
)

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WriteDocuments(ctx, []store.Document{
		{DocID: "doc2", Title: "Dogs", Length: 2},
		{DocID: "doc1", Title: "Cats", Length: 2},
	}))
	require.NoError(t, s.WritePostings(ctx, []store.Posting{
		{Term: "cat", DocID: "doc1", TF: 1, DocLength: 2},
		{Term: "the", DocID: "doc2", TF: 1, DocLength: 2},
		{Term: "the", DocID: "doc1", TF: 1, DocLength: 2},
		{Term: "dog", DocID: "doc2", TF: 1, DocLength: 2},
	}))
	require.NoError(t, s.WriteVocabulary(ctx, []store.VocabularyEntry{
		{Term: "cat", DF: 1, TermIndex: 0},
		{Term: "dog", DF: 1, TermIndex: 1},
		{Term: "the", DF: 2, TermIndex: 2},
	}))
	require.NoError(t, s.WriteCorpusStats(ctx, store.CorpusStats{
		AvgDocLength: 2, TotalDocs: 2, Generation: "gen-1", BuiltAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}))
	require.NoError(t, s.WriteVectors(ctx, []store.DocumentVector{
		{DocID: "doc1", Vector: []float64{1, 0, 0}, Generation: "gen-1"},
	}))
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)

	vocab, err := s.VocabularyFor(ctx, []string{"the", "zebra"})
	require.NoError(t, err)
	assert.Equal(t, map[string]store.VocabularyEntry{"the": {Term: "the", DF: 2, TermIndex: 2}}, vocab)

	postings, err := s.PostingsFor(ctx, []string{"the", "zebra"})
	require.NoError(t, err)
	require.Len(t, postings["the"], 2)
	assert.Equal(t, "doc1", postings["the"][0].DocID)
	assert.NotContains(t, postings, "zebra")

	docs, err := s.DocumentsByID(ctx, []string{"doc1", "missing"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, "Cats", docs["doc1"].Title)
}

func TestScanOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)

	var scanned []string
	require.NoError(t, s.ScanPostings(ctx, func(p store.Posting) error {
		scanned = append(scanned, p.DocID+"/"+p.Term)
		return nil
	}))
	assert.Equal(t, []string{"doc1/cat", "doc1/the", "doc2/dog", "doc2/the"}, scanned)

	var ids []string
	require.NoError(t, s.ScanDocuments(ctx, false, func(d store.Document) error {
		ids = append(ids, d.DocID)
		assert.Nil(t, d.Vector, "vectors are only loaded on request")
		return nil
	}))
	assert.Equal(t, []string{"doc1", "doc2"}, ids)

	require.NoError(t, s.ScanDocuments(ctx, true, func(d store.Document) error {
		if d.DocID == "doc1" {
			assert.Equal(t, []float64{1, 0, 0}, d.Vector)
			assert.Equal(t, "gen-1", d.VectorGeneration)
		}
		return nil
	}))
}

func TestWriteDocumentsKeepsVector(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)
	require.NoError(t, s.WriteDocuments(ctx, []store.Document{{DocID: "doc1", Title: "Cats Again", Length: 5}}))

	docs, err := s.DocumentsByID(ctx, []string{"doc1"})
	require.NoError(t, err)
	assert.Equal(t, "Cats Again", docs["doc1"].Title)
	assert.Equal(t, 5, docs["doc1"].Length)
	assert.Equal(t, []float64{1, 0, 0}, docs["doc1"].Vector)
}

func TestResetIndex(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)
	require.NoError(t, s.ResetIndex(ctx))

	vocab, err := s.Vocabulary(ctx)
	require.NoError(t, err)
	assert.Empty(t, vocab)
	postings, err := s.PostingsFor(ctx, []string{"the"})
	require.NoError(t, err)
	assert.Empty(t, postings)

	docs, err := s.DocumentsByID(ctx, []string{"doc1"})
	require.NoError(t, err)
	assert.Len(t, docs, 1, "documents survive a reset")
}

func TestWriteVectorsUnknownDocument(t *testing.T) {
	err := New().WriteVectors(context.Background(), []store.DocumentVector{{DocID: "ghost", Vector: []float64{1}}})
	assert.Error(t, err)
}

func TestCorpusStatsMissing(t *testing.T) {
	_, ok, err := New().CorpusStats(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkVectorsBuiltMatchesGeneration(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)
	at := time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)

	require.NoError(t, s.MarkVectorsBuilt(ctx, "gen-0", at))
	cs, _, err := s.CorpusStats(ctx)
	require.NoError(t, err)
	assert.True(t, cs.VectorsBuiltAt.IsZero())

	require.NoError(t, s.MarkVectorsBuilt(ctx, "gen-1", at))
	cs, _, err = s.CorpusStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, at, cs.VectorsBuiltAt)

	require.NoError(t, s.WriteCorpusStats(ctx, store.CorpusStats{TotalDocs: 2, Generation: "gen-2"}))
	cs, _, err = s.CorpusStats(ctx)
	require.NoError(t, err)
	assert.True(t, cs.VectorsBuiltAt.IsZero())
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "index.json")

	s, err := Open(path)
	require.NoError(t, err)
	seed(t, s)
	require.NoError(t, s.Close())
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	reopened, err := Open(path)
	require.NoError(t, err)

	cs, ok, err := reopened.CorpusStats(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "gen-1", cs.Generation)
	assert.True(t, cs.BuiltAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	vocab, err := reopened.Vocabulary(ctx)
	require.NoError(t, err)
	assert.Len(t, vocab, 3)

	postings, err := reopened.PostingsFor(ctx, []string{"the"})
	require.NoError(t, err)
	assert.Len(t, postings["the"], 2)

	docs, err := reopened.DocumentsByID(ctx, []string{"doc1"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, docs["doc1"].Vector)
}

func TestCloseWithoutChangesWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))
	_, err := Open(path)
	assert.Error(t, err)
}
