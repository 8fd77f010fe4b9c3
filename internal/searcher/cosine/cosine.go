// Package cosine ranks documents by cosine similarity between a TF-IDF
// query vector and the stored document vectors.
package cosine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/vocab"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/topk"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/vector"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/metrics"
)

// snapshot is the vocabulary of one generation.
type snapshot struct {
	generation string
	totalDocs  int
	byTerm     map[string]store.VocabularyEntry
}

func (s *snapshot) dim() int {
	return len(s.byTerm)
}

// ScanStats describes one pass over the document vectors.
type ScanStats struct {
	Scanned    int
	NoVector   int
	Mismatched int
	ZeroNorm   int
}

type Searcher struct {
	reader  store.IndexReader
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

func New(reader store.IndexReader, m *metrics.Metrics) *Searcher {
	return &Searcher{
		reader:  reader,
		metrics: m,
		logger:  slog.Default().With("component", "cosine"),
	}
}

// Refresh reloads the vocabulary and swaps it in atomically.
func (s *Searcher) Refresh(ctx context.Context) error {
	stats, err := s.corpusStats(ctx)
	if err != nil {
		return err
	}
	_, err = s.load(ctx, stats)
	return err
}

func (s *Searcher) corpusStats(ctx context.Context) (store.CorpusStats, error) {
	stats, ok, err := s.reader.CorpusStats(ctx)
	if err != nil {
		return store.CorpusStats{}, fmt.Errorf("loading corpus stats: %w", err)
	}
	if !ok || stats.TotalDocs == 0 {
		return store.CorpusStats{}, apperrors.ErrEmptyCorpus
	}
	return stats, nil
}

func (s *Searcher) load(ctx context.Context, stats store.CorpusStats) (*snapshot, error) {
	entries, err := s.reader.Vocabulary(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary: %w", err)
	}
	byTerm, err := vocab.Validate(entries)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{generation: stats.Generation, totalDocs: stats.TotalDocs, byTerm: byTerm}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	s.logger.Info("vocabulary loaded", "generation", snap.generation, "terms", snap.dim())
	return snap, nil
}

// current returns the cached vocabulary, reloading it when stats belong to
// another generation.
func (s *Searcher) current(ctx context.Context, stats store.CorpusStats) (*snapshot, error) {
	if stats.TotalDocs == 0 {
		return nil, apperrors.ErrEmptyCorpus
	}
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap != nil && snap.generation == stats.Generation {
		return snap, nil
	}
	return s.load(ctx, stats)
}

func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]topk.Hit, error) {
	hits, _, err := s.SearchWithStats(ctx, query, limit)
	return hits, err
}

// Rank is Search against corpus stats the caller already holds.
func (s *Searcher) Rank(ctx context.Context, stats store.CorpusStats, query string, limit int) ([]topk.Hit, error) {
	hits, _, err := s.rank(ctx, stats, query, limit)
	return hits, err
}

// SearchWithStats is Search plus counts of the vectors it had to skip.
// Vectors built against another generation, or with the wrong number of
// dimensions, are excluded rather than scored.
func (s *Searcher) SearchWithStats(ctx context.Context, query string, limit int) ([]topk.Hit, ScanStats, error) {
	if len(tokenizer.QueryTerms(query)) == 0 {
		return []topk.Hit{}, ScanStats{}, nil
	}
	stats, err := s.corpusStats(ctx)
	if err != nil {
		return nil, ScanStats{}, err
	}
	return s.rank(ctx, stats, query, limit)
}

func (s *Searcher) rank(ctx context.Context, stats store.CorpusStats, query string, limit int) ([]topk.Hit, ScanStats, error) {
	var st ScanStats
	terms := tokenizer.DistinctTerms(tokenizer.QueryTerms(query))
	if len(terms) == 0 {
		return []topk.Hit{}, st, nil
	}
	snap, err := s.current(ctx, stats)
	if err != nil {
		return nil, st, err
	}

	q := QueryVector(terms, snap.byTerm, snap.totalDocs)
	if q.Normalize() == 0 {
		return []topk.Hit{}, st, nil
	}

	collector := topk.New(limit)
	err = s.reader.ScanDocuments(ctx, true, func(d store.Document) error {
		st.Scanned++
		if len(d.Vector) == 0 {
			st.NoVector++
			return nil
		}
		if len(d.Vector) != snap.dim() || d.VectorGeneration != snap.generation {
			st.Mismatched++
			return nil
		}
		norm := vector.Norm(d.Vector)
		if norm == 0 {
			st.ZeroNorm++
			return nil
		}
		sim := q.Dot(d.Vector) / norm
		if sim == 0 {
			return nil
		}
		collector.Offer(topk.Hit{DocID: d.DocID, Title: d.Title, Score: sim})
		return nil
	})
	if err != nil {
		return nil, st, fmt.Errorf("scanning document vectors: %w", err)
	}

	if st.Mismatched > 0 {
		s.metrics.ObserveMismatches(st.Mismatched)
		s.logger.Warn("stale document vectors excluded",
			"count", st.Mismatched,
			"generation", snap.generation,
			"error", apperrors.ErrDimensionMismatch,
		)
	}
	return collector.Results(), st, nil
}

// QueryVector weights every recognised query term by its idf. Unknown
// terms are ignored.
func QueryVector(terms []string, vocabulary map[string]store.VocabularyEntry, totalDocs int) vector.Sparse {
	q := make(vector.Sparse, len(terms))
	for _, t := range terms {
		entry, ok := vocabulary[t]
		if !ok {
			continue
		}
		q[entry.TermIndex] = vector.IDF(totalDocs, entry.DF)
	}
	return q
}
