// Package bm25 ranks documents against a free-text query with Okapi BM25
// over the stored postings.
package bm25

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/topk"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
)

const (
	K1 = 1.2
	B  = 0.75
)

// UntitledDocument is shown for a posting whose document row is missing.
const UntitledDocument = "Untitled"

type Scorer struct {
	reader store.IndexReader
	logger *slog.Logger
}

func New(reader store.IndexReader) *Scorer {
	return &Scorer{
		reader: reader,
		logger: slog.Default().With("component", "bm25"),
	}
}

// Search scores every document sharing a term with query and returns the
// best limit of them.
func (s *Scorer) Search(ctx context.Context, query string, limit int) ([]topk.Hit, error) {
	if len(tokenizer.QueryTerms(query)) == 0 {
		return []topk.Hit{}, nil
	}
	stats, ok, err := s.reader.CorpusStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading corpus stats: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrEmptyCorpus
	}
	return s.Rank(ctx, stats, query, limit)
}

// Rank is Search against corpus stats the caller already holds. Storage
// is read in three batches: vocabulary, postings, then titles of the
// winners.
func (s *Scorer) Rank(ctx context.Context, stats store.CorpusStats, query string, limit int) ([]topk.Hit, error) {
	terms := tokenizer.DistinctTerms(tokenizer.QueryTerms(query))
	if len(terms) == 0 {
		return []topk.Hit{}, nil
	}
	if stats.TotalDocs == 0 {
		return nil, apperrors.ErrEmptyCorpus
	}

	vocabulary, err := s.reader.VocabularyFor(ctx, terms)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary: %w", err)
	}
	known := make([]string, 0, len(terms))
	for _, t := range terms {
		entry, ok := vocabulary[t]
		if !ok || entry.DF == 0 {
			s.logger.Debug("query term not in vocabulary", "term", t)
			continue
		}
		known = append(known, t)
	}
	if len(known) == 0 {
		return []topk.Hit{}, nil
	}

	postings, err := s.reader.PostingsFor(ctx, known)
	if err != nil {
		return nil, fmt.Errorf("loading postings: %w", err)
	}

	scores := make(map[string]float64)
	for _, t := range known {
		idf := IDF(stats.TotalDocs, vocabulary[t].DF)
		for _, p := range postings[t] {
			scores[p.DocID] += idf * TermWeight(p.TF, p.DocLength, stats.AvgDocLength)
		}
	}
	hits := topk.FromScores(scores, limit)
	if err := s.attachTitles(ctx, hits); err != nil {
		return nil, err
	}
	return hits, nil
}

func (s *Scorer) attachTitles(ctx context.Context, hits []topk.Hit) error {
	if len(hits) == 0 {
		return nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	docs, err := s.reader.DocumentsByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading titles: %w", err)
	}
	for i := range hits {
		if d, ok := docs[hits[i].DocID]; ok {
			hits[i].Title = d.Title
		} else {
			hits[i].Title = UntitledDocument
		}
	}
	return nil
}

// IDF is the non-negative BM25 inverse document frequency.
func IDF(totalDocs, df int) float64 {
	n, d := float64(totalDocs), float64(df)
	return math.Max(0, math.Log((n-d+0.5)/(d+0.5)+1))
}

// TermWeight is the saturated, length-normalised term frequency.
func TermWeight(tf, docLength int, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	f := float64(tf)
	norm := 1 - B + B*float64(docLength)/avgDocLength
	return f * (K1 + 1) / (f + K1*norm)
}
