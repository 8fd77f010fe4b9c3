// Package vector builds the TF-IDF document vectors used by cosine search.
// Every vector has one dimension per vocabulary term, addressed by the
// term's term_index, and is stamped with the generation of the vocabulary
// it was built against.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/events"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/vocab"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/metrics"
)

// Store is what the builder needs from storage.
type Store interface {
	store.IndexReader
	store.VectorWriter
}

// Report summarises one vector build. Orphaned counts document rows left
// over from an earlier, larger build; they have a length but no postings
// and get no vector.
type Report struct {
	Generation  string
	Dimension   int
	Documents   int
	ZeroVectors int
	Orphaned    int
	Batches     int
	Duration    time.Duration
}

type Builder struct {
	store     Store
	cfg       config.VectorsConfig
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewBuilder(s Store, cfg config.VectorsConfig, publisher events.Publisher, m *metrics.Metrics) *Builder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Builder{
		store:     s,
		cfg:       cfg,
		publisher: publisher,
		metrics:   m,
		logger:    slog.Default().With("component", "vector-builder"),
	}
}

// Build recomputes the vector of every document against the current
// vocabulary. With an empty vocabulary nothing is written.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	start := time.Now()
	stats, ok, err := b.store.CorpusStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading corpus stats: %w", err)
	}
	if !ok || stats.TotalDocs == 0 {
		return nil, fmt.Errorf("building vectors: %w", apperrors.ErrEmptyCorpus)
	}

	entries, err := b.store.Vocabulary(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary: %w", err)
	}
	report := &Report{Generation: stats.Generation, Dimension: len(entries)}
	if len(entries) == 0 {
		b.logger.Warn("vocabulary is empty, no vectors built")
		return report, nil
	}
	byTerm, err := vocab.Validate(entries)
	if err != nil {
		return nil, err
	}

	postings := make(map[string][]store.Posting)
	err = b.store.ScanPostings(ctx, func(p store.Posting) error {
		postings[p.DocID] = append(postings[p.DocID], p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading postings: %w", err)
	}

	var docIDs []string
	err = b.store.ScanDocuments(ctx, false, func(d store.Document) error {
		// A current document with a non-zero length always has postings.
		if _, ok := postings[d.DocID]; !ok && d.Length > 0 {
			report.Orphaned++
			return nil
		}
		docIDs = append(docIDs, d.DocID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}

	var zero, batches atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for lo := 0; lo < len(docIDs); lo += b.cfg.BatchSize {
		ids := docIDs[lo:min(lo+b.cfg.BatchSize, len(docIDs))]
		g.Go(func() error {
			batch := make([]store.DocumentVector, 0, len(ids))
			for _, id := range ids {
				vec := Compute(postings[id], byTerm, len(entries), stats.TotalDocs)
				if Normalize(vec) == 0 {
					zero.Add(1)
				}
				batch = append(batch, store.DocumentVector{DocID: id, Vector: vec, Generation: stats.Generation})
			}
			if err := b.store.WriteVectors(gctx, batch); err != nil {
				return fmt.Errorf("writing vector batch: %w", err)
			}
			batches.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := b.store.MarkVectorsBuilt(ctx, stats.Generation, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("marking vectors built: %w", err)
	}

	report.Documents = len(docIDs)
	report.ZeroVectors = int(zero.Load())
	report.Batches = int(batches.Load())
	report.Duration = time.Since(start)
	b.metrics.ObserveVectors(report.Documents)
	b.metrics.ObserveBuild("vectors", report.Duration.Seconds())

	err = b.publisher.Publish(ctx, events.IndexEvent{
		Type:       events.VectorsBuilt,
		Generation: stats.Generation,
		TotalDocs:  stats.TotalDocs,
		VocabSize:  len(entries),
		Documents:  report.Documents,
		At:         time.Now().UTC(),
	})
	if err != nil {
		b.logger.Warn("failed to publish vectors event", "error", err)
	}

	b.logger.Info("vectors built",
		"generation", stats.Generation,
		"documents", report.Documents,
		"dimension", report.Dimension,
		"zero_vectors", report.ZeroVectors,
		"orphaned", report.Orphaned,
		"batches", report.Batches,
		"duration", report.Duration,
	)
	return report, nil
}

// Compute returns the unnormalised TF-IDF vector of one document. Postings
// for terms missing from the vocabulary are ignored.
func Compute(postings []store.Posting, vocabulary map[string]store.VocabularyEntry, dim, totalDocs int) []float64 {
	vec := make([]float64, dim)
	for _, p := range postings {
		entry, ok := vocabulary[p.Term]
		if !ok {
			continue
		}
		vec[entry.TermIndex] = float64(p.TF) * IDF(totalDocs, entry.DF)
	}
	return vec
}
