package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/events"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/corpus"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
)

const threeDocs = "doc1\tCats\tthe cat sat on the mat\n" +
	"doc2\tDogs\tthe dog sat on the log\n" +
	"doc3\tPets\tcats and dogs are great pets\n"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.IndexEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.IndexEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func newTestBuilder(st store.IndexWriter, opts ...Option) *Builder {
	cfg := config.IndexerConfig{Workers: 4, Partitions: 3, BatchSize: 4}
	return NewBuilder(st, cfg, append([]Option{WithGenerator(func() string { return "gen-1" })}, opts...)...)
}

func postingsByTerm(t *testing.T, st *memory.Store) map[string]map[string]int {
	t.Helper()
	out := map[string]map[string]int{}
	err := st.ScanPostings(context.Background(), func(p store.Posting) error {
		if out[p.Term] == nil {
			out[p.Term] = map[string]int{}
		}
		out[p.Term][p.DocID] = p.TF
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestBuildThreeDocuments(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	pub := &recordingPublisher{}

	report, err := newTestBuilder(st, WithPublisher(pub)).Build(ctx, corpus.NewTSV(strings.NewReader(threeDocs), nil))
	require.NoError(t, err)

	assert.Equal(t, "gen-1", report.Generation)
	assert.Equal(t, 3, report.DocumentsRead)
	assert.Equal(t, 16, report.Postings)
	assert.Equal(t, 13, report.Terms)
	assert.Equal(t, 6.0, report.AvgDocLength)

	postings := postingsByTerm(t, st)
	assert.Equal(t, map[string]int{"doc1": 2, "doc2": 2}, postings["the"])
	assert.Equal(t, map[string]int{"doc1": 1}, postings["cat"])
	assert.Equal(t, map[string]int{"doc1": 1, "doc2": 1}, postings["sat"])
	assert.Equal(t, map[string]int{"doc3": 1}, postings["cats"])

	cs, ok, err := st.CorpusStats(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, cs.TotalDocs)
	assert.Equal(t, 6.0, cs.AvgDocLength)
	assert.Equal(t, "gen-1", cs.Generation)
	assert.False(t, cs.BuiltAt.IsZero())

	vocabulary, err := st.Vocabulary(ctx)
	require.NoError(t, err)
	require.Len(t, vocabulary, 13)
	for i, v := range vocabulary {
		assert.Equal(t, i, v.TermIndex, "term_index must be dense")
		if i > 0 {
			assert.Less(t, vocabulary[i-1].Term, v.Term)
		}
		assert.Equal(t, len(postings[v.Term]), v.DF, "df of %s", v.Term)
	}

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.IndexBuilt, pub.events[0].Type)
	assert.Equal(t, "gen-1", pub.events[0].Generation)
	assert.Equal(t, 13, pub.events[0].VocabSize)
}

func TestBuildDocumentInvariants(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "d%03d\tTitle %d\tterm%d shared words, shared again %d\n", i, i, i%17, i%5)
	}
	_, err := newTestBuilder(st).Build(ctx, corpus.NewTSV(strings.NewReader(b.String()), nil))
	require.NoError(t, err)

	sums := map[string]int{}
	lengths := map[string]int{}
	err = st.ScanPostings(ctx, func(p store.Posting) error {
		sums[p.DocID] += p.TF
		lengths[p.DocID] = p.DocLength
		return nil
	})
	require.NoError(t, err)

	count := 0
	err = st.ScanDocuments(ctx, false, func(d store.Document) error {
		count++
		assert.Equal(t, d.Length, sums[d.DocID], "sum of tf for %s", d.DocID)
		assert.Equal(t, d.Length, lengths[d.DocID])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, count)
}

func TestBuildSkipsMalformedAndRepeatedDocuments(t *testing.T) {
	input := threeDocs + "broken line without tabs\n" + "doc1\tAgain\tsomething else entirely\n"
	st := memory.New()

	report, err := newTestBuilder(st).Build(context.Background(), corpus.NewTSV(strings.NewReader(input), nil))
	require.NoError(t, err)
	assert.Equal(t, 3, report.DocumentsRead)
	assert.Equal(t, 2, report.DocumentsSkipped)

	docs, err := st.DocumentsByID(context.Background(), []string{"doc1"})
	require.NoError(t, err)
	assert.Equal(t, "Cats", docs["doc1"].Title, "the first occurrence wins")
}

func TestBuildEmptyCorpus(t *testing.T) {
	st := memory.New()
	pub := &recordingPublisher{}
	_, err := newTestBuilder(st, WithPublisher(pub)).Build(context.Background(), corpus.NewTSV(strings.NewReader("\n\nbad\n"), nil))

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrEmptyCorpus)
	assert.Equal(t, apperrors.ExitEmptyCorpus, apperrors.ExitCode(err))

	_, ok, err := st.CorpusStats(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "nothing is written for an empty corpus")
	assert.Empty(t, pub.events)
}

func TestBuildEmptyDocumentText(t *testing.T) {
	st := memory.New()
	report, err := newTestBuilder(st).Build(context.Background(),
		corpus.NewTSV(strings.NewReader("d1\tEmpty\t...\nd2\tFull\tone two three four\n"), nil))
	require.NoError(t, err)
	assert.Equal(t, 2, report.DocumentsRead)
	assert.Equal(t, 2.0, report.AvgDocLength)

	docs, err := st.DocumentsByID(context.Background(), []string{"d1"})
	require.NoError(t, err)
	assert.Equal(t, 0, docs["d1"].Length)
}

func TestRebuildReplacesPostings(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, err := newTestBuilder(st).Build(ctx, corpus.NewTSV(strings.NewReader(threeDocs), nil))
	require.NoError(t, err)

	b := NewBuilder(st, config.IndexerConfig{}, WithGenerator(func() string { return "gen-2" }))
	_, err = b.Build(ctx, corpus.NewTSV(strings.NewReader("doc9\tBirds\tthe bird sang\n"), nil))
	require.NoError(t, err)

	postings := postingsByTerm(t, st)
	assert.NotContains(t, postings, "cat")
	assert.Equal(t, map[string]int{"doc9": 1}, postings["the"])

	cs, _, err := st.CorpusStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gen-2", cs.Generation)
	assert.Equal(t, 1, cs.TotalDocs)
}

func TestBuildPublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	_, err := newTestBuilder(memory.New(), WithPublisher(pub)).Build(context.Background(),
		corpus.NewTSV(strings.NewReader(threeDocs), nil))
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)
}

type failingWriter struct {
	*memory.Store
}

func (failingWriter) WritePostings(context.Context, []store.Posting) error {
	return apperrors.Storage("writing postings", errors.New("connection reset"))
}

func TestBuildStorageFailure(t *testing.T) {
	_, err := newTestBuilder(failingWriter{memory.New()}).Build(context.Background(),
		corpus.NewTSV(strings.NewReader(threeDocs), nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}

func TestBuildHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var b strings.Builder
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&b, "d%d\tT\tsome words here\n", i)
	}
	_, err := newTestBuilder(memory.New()).Build(ctx, corpus.NewTSV(strings.NewReader(b.String()), nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkBuild(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&sb, "doc-%d\tbenchmark title\tthis is a benchmark document with several terms for testing index build number %d\n", i, i%50)
	}
	input := sb.String()
	cfg := config.IndexerConfig{Workers: 4, Partitions: 4, BatchSize: 500}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		builder := NewBuilder(memory.New(), cfg)
		if _, err := builder.Build(context.Background(), corpus.NewTSV(strings.NewReader(input), nil)); err != nil {
			b.Fatal(err)
		}
	}
}
