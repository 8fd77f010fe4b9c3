// Package indexer runs the index build: documents are mapped to term
// records on a worker pool, routed through the sort boundary into term
// partitions, reduced into postings and document frequencies, and persisted
// together with document metadata, corpus statistics and a fresh
// generation id.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/events"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/corpus"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/emitter"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/record"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/reducer"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/shuffle"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/stats"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/vocab"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/tracing"
)

// Report summarises one build for the operator.
type Report struct {
	Generation       string
	DocumentsRead    int
	DocumentsSkipped int
	RecordsEmitted   int
	RecordsRejected  int
	Postings         int
	Terms            int
	Duplicates       int
	AvgDocLength     float64
	Duration         time.Duration
}

type Option func(*Builder)

func WithPublisher(p events.Publisher) Option {
	return func(b *Builder) { b.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithGenerator replaces the uuid generator for generation ids.
func WithGenerator(fn func() string) Option {
	return func(b *Builder) { b.newGeneration = fn }
}

type Builder struct {
	writer        store.IndexWriter
	cfg           config.IndexerConfig
	publisher     events.Publisher
	metrics       *metrics.Metrics
	newGeneration func() string
	logger        *slog.Logger
}

func NewBuilder(writer store.IndexWriter, cfg config.IndexerConfig, opts ...Option) *Builder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	b := &Builder{
		writer:        writer,
		cfg:           cfg,
		publisher:     events.Nop{},
		newGeneration: uuid.NewString,
		logger:        slog.Default().With("component", "index-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// built is the in-memory result of the map and reduce phases.
type built struct {
	docs     []record.DocMeta
	postings []store.Posting
	dfs      []record.DocFreq
}

// Build runs the full pipeline over src and replaces the stored index. A
// corpus without a single valid document fails with ErrEmptyCorpus and
// leaves the store untouched.
func (b *Builder) Build(ctx context.Context, src corpus.Source) (*Report, error) {
	start := time.Now()
	generation := b.newGeneration()
	ctx = logger.WithBuildID(ctx, generation)
	log := logger.FromContext(ctx).With("component", "index-builder")
	ctx, root := tracing.StartSpan(ctx, "index-build", generation)

	report := &Report{Generation: generation}
	err := b.build(ctx, src, report)
	root.SetAttr("documents", report.DocumentsRead)
	root.SetAttr("terms", report.Terms)
	root.End(err)
	root.Log(log)

	report.Duration = time.Since(start)
	if err != nil {
		return report, err
	}
	b.metrics.ObserveBuild("index", report.Duration.Seconds())
	log.Info("index build complete",
		"documents", report.DocumentsRead,
		"skipped", report.DocumentsSkipped,
		"postings", report.Postings,
		"terms", report.Terms,
		"duration", report.Duration,
	)
	return report, nil
}

func (b *Builder) build(ctx context.Context, src corpus.Source, report *Report) error {
	shuffler := shuffle.New(b.cfg.Partitions)

	mapCtx, mapSpan := tracing.StartChildSpan(ctx, "map")
	docs, err := b.mapPhase(mapCtx, src, shuffler, report)
	mapSpan.SetAttr("records", report.RecordsEmitted)
	mapSpan.End(err)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no valid documents read (%d skipped): %w", report.DocumentsSkipped, apperrors.ErrEmptyCorpus)
	}

	reduceCtx, reduceSpan := tracing.StartChildSpan(ctx, "reduce")
	out, err := b.reducePhase(reduceCtx, shuffler, report)
	reduceSpan.SetAttr("partitions", shuffler.Partitions())
	reduceSpan.End(err)
	if err != nil {
		return err
	}
	out.docs = docs

	persistCtx, persistSpan := tracing.StartChildSpan(ctx, "persist")
	err = b.persist(persistCtx, out, report)
	persistSpan.End(err)
	if err != nil {
		return err
	}

	b.announce(ctx, report)
	return nil
}

// mapPhase feeds documents from src to the emitter workers. Parse errors
// and repeated doc_ids are skipped; any other read error aborts.
func (b *Builder) mapPhase(ctx context.Context, src corpus.Source, shuffler *shuffle.Shuffler, report *Report) ([]record.DocMeta, error) {
	log := logger.FromContext(ctx).With("component", "index-builder")
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan emitter.Document, b.cfg.Workers*4)

	var (
		mu      sync.Mutex
		metas   []record.DocMeta
		emitted atomic.Int64
	)

	g.Go(func() error {
		defer close(queue)
		seen := make(map[string]struct{})
		for {
			doc, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, apperrors.ErrParse) {
				report.DocumentsSkipped++
				log.Warn("skipping malformed document", "error", err)
				continue
			}
			if err != nil {
				return fmt.Errorf("reading corpus: %w", err)
			}
			if _, dup := seen[doc.DocID]; dup {
				report.DocumentsSkipped++
				log.Warn("skipping repeated doc_id", "doc_id", doc.DocID)
				continue
			}
			seen[doc.DocID] = struct{}{}
			select {
			case queue <- doc:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for w := 0; w < b.cfg.Workers; w++ {
		g.Go(func() error {
			var local []record.DocMeta
			for doc := range queue {
				out := emitter.Emit(doc)
				shuffler.Add(out.Terms)
				emitted.Add(int64(len(out.Terms)))
				local = append(local, out.Meta)
			}
			mu.Lock()
			metas = append(metas, local...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.DocumentsRead = len(metas)
	report.RecordsEmitted = int(emitted.Load())
	b.metrics.ObserveRecords("map", report.RecordsEmitted, report.DocumentsSkipped)
	log.Info("map phase complete",
		"documents", report.DocumentsRead,
		"skipped", report.DocumentsSkipped,
		"records", report.RecordsEmitted,
	)
	return metas, nil
}

// partitionSink collects one reducer's output. Each partition owns its
// sink, so no locking is needed.
type partitionSink struct {
	postings []store.Posting
	dfs      []record.DocFreq
}

func (s *partitionSink) Posting(p record.TermFreq) error {
	s.postings = append(s.postings, toPosting(p))
	return nil
}

func toPosting(p record.TermFreq) store.Posting {
	return store.Posting{Term: p.Term, DocID: p.DocID, TF: p.TF, DocLength: p.DocLength}
}

func (s *partitionSink) Vocabulary(v record.DocFreq) error {
	s.dfs = append(s.dfs, v)
	return nil
}

// reducePhase sorts and reduces every partition concurrently. A term lives
// in exactly one partition, so the union of the outputs is the full index.
func (b *Builder) reducePhase(ctx context.Context, shuffler *shuffle.Shuffler, report *Report) (*built, error) {
	n := shuffler.Partitions()
	sinks := make([]*partitionSink, n)
	reducerStats := make([]reducer.Stats, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for p := 0; p < n; p++ {
		p := p
		g.Go(func() error {
			sink := &partitionSink{}
			r := reducer.New(sink)
			for _, rec := range shuffler.Sorted(p) {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := r.Consume(rec); err != nil {
					return fmt.Errorf("reducing partition %d: %w", p, err)
				}
			}
			if err := r.Finish(); err != nil {
				return fmt.Errorf("reducing partition %d: %w", p, err)
			}
			sinks[p] = sink
			reducerStats[p] = r.Stats()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &built{}
	consumed := 0
	for p := 0; p < n; p++ {
		out.postings = append(out.postings, sinks[p].postings...)
		out.dfs = append(out.dfs, sinks[p].dfs...)
		consumed += reducerStats[p].Consumed
		report.RecordsRejected += reducerStats[p].Rejected
		report.Duplicates += reducerStats[p].Duplicates
	}
	report.Postings = len(out.postings)
	b.metrics.ObserveRecords("reduce", consumed, report.RecordsRejected)
	return out, nil
}

// persist replaces postings and vocabulary, upserts documents and writes
// the statistics row last, so a reader that sees the new generation also
// sees its vocabulary.
func (b *Builder) persist(ctx context.Context, out *built, report *Report) error {
	log := logger.FromContext(ctx).With("component", "index-builder")

	acc := &stats.Accumulator{}
	docs := make([]store.Document, 0, len(out.docs))
	for _, m := range out.docs {
		acc.Add(m.Length)
		docs = append(docs, store.Document{DocID: m.DocID, Title: m.Title, Length: m.Length})
	}
	cs := acc.Result()
	entries := vocab.Assign(out.dfs)
	report.Terms = len(entries)
	report.AvgDocLength = cs.AvgDocLength

	if err := b.writer.ResetIndex(ctx); err != nil {
		return fmt.Errorf("resetting index: %w", err)
	}
	if err := writeBatches(ctx, docs, b.cfg.BatchSize, b.writer.WriteDocuments); err != nil {
		return fmt.Errorf("writing documents: %w", err)
	}
	if err := writeBatches(ctx, out.postings, b.cfg.BatchSize, b.writer.WritePostings); err != nil {
		return fmt.Errorf("writing postings: %w", err)
	}
	b.metrics.ObservePostings(len(out.postings))
	if err := writeBatches(ctx, entries, b.cfg.BatchSize, b.writer.WriteVocabulary); err != nil {
		return fmt.Errorf("writing vocabulary: %w", err)
	}
	err := b.writer.WriteCorpusStats(ctx, store.CorpusStats{
		AvgDocLength: cs.AvgDocLength,
		TotalDocs:    cs.TotalDocs,
		Generation:   report.Generation,
		BuiltAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("writing corpus stats: %w", err)
	}
	log.Info("index persisted",
		"documents", len(docs),
		"postings", len(out.postings),
		"terms", len(entries),
		"avg_doc_length", cs.AvgDocLength,
	)
	return nil
}

// announce publishes the build. Failure is logged; the index is already
// committed at this point.
func (b *Builder) announce(ctx context.Context, report *Report) {
	err := b.publisher.Publish(ctx, events.IndexEvent{
		Type:       events.IndexBuilt,
		Generation: report.Generation,
		TotalDocs:  report.DocumentsRead,
		VocabSize:  report.Terms,
		Documents:  report.DocumentsRead,
		At:         time.Now().UTC(),
	})
	if err != nil {
		b.logger.Warn("failed to publish index event", "generation", report.Generation, "error", err)
	}
}

func writeBatches[T any](ctx context.Context, items []T, size int, write func(context.Context, []T) error) error {
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		if err := write(ctx, items[start:end]); err != nil {
			return err
		}
	}
	return nil
}
