package reducer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/record"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
)

type collectSink struct {
	postings []record.TermFreq
	vocab    []record.DocFreq
	failOn   string
}

func (s *collectSink) Posting(p record.TermFreq) error {
	if p.Term == s.failOn {
		return errors.New("sink full")
	}
	s.postings = append(s.postings, p)
	return nil
}

func (s *collectSink) Vocabulary(v record.DocFreq) error {
	s.vocab = append(s.vocab, v)
	return nil
}

func tf(term, doc string, n int) record.TermFreq {
	return record.TermFreq{Term: term, DocID: doc, TF: n, DocLength: 6}
}

func TestReducerGroupsByTerm(t *testing.T) {
	sink := &collectSink{}
	r := New(sink)
	assert.Equal(t, StateWaitingFirstKey, r.State())

	for _, rec := range []record.TermFreq{
		tf("cat", "d1", 1), tf("cat", "d2", 1), tf("mat", "d1", 1), tf("sat", "d1", 1), tf("sat", "d2", 2), tf("sat", "d3", 1),
	} {
		require.NoError(t, r.Consume(rec))
	}
	assert.Equal(t, StateAccumulating, r.State())
	require.NoError(t, r.Finish())
	assert.Equal(t, StateDone, r.State())

	assert.Equal(t, []record.DocFreq{{Term: "cat", DF: 2}, {Term: "mat", DF: 1}, {Term: "sat", DF: 3}}, sink.vocab)
	assert.Len(t, sink.postings, 6)
	st := r.Stats()
	assert.Equal(t, Stats{Consumed: 6, Postings: 6, Groups: 3}, st)
}

func TestReducerRejectsInvalidRecords(t *testing.T) {
	sink := &collectSink{}
	r := New(sink)
	require.NoError(t, r.Consume(tf("cat", "d1", 1)))
	require.NoError(t, r.Consume(tf("cat", "d2", 0)))
	require.NoError(t, r.Consume(record.TermFreq{Term: "cat", TF: 1}))
	require.NoError(t, r.Finish())

	assert.Equal(t, 2, r.Stats().Rejected)
	assert.Equal(t, []record.DocFreq{{Term: "cat", DF: 1}}, sink.vocab)
}

func TestReducerCountsDistinctDocuments(t *testing.T) {
	sink := &collectSink{}
	r := New(sink)
	require.NoError(t, r.Consume(tf("cat", "d1", 1)))
	require.NoError(t, r.Consume(tf("cat", "d1", 2)))
	require.NoError(t, r.Consume(tf("cat", "d2", 1)))
	require.NoError(t, r.Finish())

	assert.Equal(t, []record.DocFreq{{Term: "cat", DF: 2}}, sink.vocab)
	assert.Equal(t, 1, r.Stats().Duplicates)
}

func TestReducerSortOrderViolation(t *testing.T) {
	sink := &collectSink{}
	r := New(sink)
	require.NoError(t, r.Consume(tf("mat", "d1", 1)))
	err := r.Consume(tf("cat", "d1", 1))

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSortOrder)
	var soe *SortOrderError
	require.ErrorAs(t, err, &soe)
	assert.Equal(t, "mat", soe.Previous)
	assert.Equal(t, "cat", soe.Got)
	assert.Equal(t, StateFailed, r.State())

	assert.ErrorIs(t, r.Consume(tf("zed", "d1", 1)), apperrors.ErrSortOrder, "a failed reducer stays failed")
	assert.ErrorIs(t, r.Finish(), apperrors.ErrSortOrder)
	assert.Equal(t, apperrors.ExitSortOrder, apperrors.ExitCode(err))
}

func TestReducerEmptyInput(t *testing.T) {
	sink := &collectSink{}
	r := New(sink)
	require.NoError(t, r.Finish())
	assert.Empty(t, sink.vocab)
	assert.Equal(t, StateDone, r.State())
	assert.Error(t, r.Consume(tf("cat", "d1", 1)))
}

func TestReducerSinkFailure(t *testing.T) {
	sink := &collectSink{failOn: "cat"}
	r := New(sink)
	require.NoError(t, r.Consume(tf("cat", "d1", 1)))

	err := r.Consume(tf("dog", "d1", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink full")
	assert.Equal(t, StateFailed, r.State())
	assert.Equal(t, apperrors.ExitFailure, apperrors.ExitCode(err))
}
