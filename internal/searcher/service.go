// Package searcher answers ranked queries. Service picks the ranking mode,
// bounds each query by the configured timeout and, when a cache is
// configured, serves repeated queries from it.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/events"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/bm25"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/cosine"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/topk"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/resilience"
)

type Mode string

const (
	ModeBM25   Mode = "bm25"
	ModeVector Mode = "vector"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeBM25:
		return ModeBM25, nil
	case ModeVector:
		return ModeVector, nil
	default:
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown mode %q (want bm25 or vector)", s)
	}
}

// Ranker is implemented by bm25.Scorer and cosine.Searcher. stats is the
// corpus_stats row the caller read for this query.
type Ranker interface {
	Rank(ctx context.Context, stats store.CorpusStats, query string, limit int) ([]topk.Hit, error)
}

type Result struct {
	Query      string     `json:"query"`
	Mode       Mode       `json:"mode"`
	Generation string     `json:"generation,omitempty"`
	Results    []topk.Hit `json:"results"`
	CacheHit   bool       `json:"cache_hit"`
	TookMs     int64      `json:"took_ms"`
}

type Service struct {
	reader  store.IndexReader
	bm25    *bm25.Scorer
	cosine  *cosine.Searcher
	cache   *cache.QueryCache
	cfg     config.SearchConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService wires both rankers over reader. queryCache may be nil.
func NewService(reader store.IndexReader, cfg config.SearchConfig, queryCache *cache.QueryCache, m *metrics.Metrics) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = topk.DefaultLimit
	}
	if cfg.MaxResults < cfg.DefaultLimit {
		cfg.MaxResults = cfg.DefaultLimit
	}
	return &Service{
		reader:  reader,
		bm25:    bm25.New(reader),
		cosine:  cosine.New(reader, m),
		cache:   queryCache,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "search-service"),
	}
}

func (s *Service) ranker(mode Mode) Ranker {
	if mode == ModeVector {
		return s.cosine
	}
	return s.bm25
}

// ClampLimit applies the default and the upper bound to a requested limit.
func (s *Service) ClampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	return min(limit, s.cfg.MaxResults)
}

// Search ranks query in the given mode. An empty query yields an empty
// result; an index without documents yields ErrEmptyCorpus.
func (s *Service) Search(ctx context.Context, query string, mode Mode, limit int) (*Result, error) {
	start := time.Now()
	limit = s.ClampLimit(limit)
	res := &Result{Query: query, Mode: mode, Results: []topk.Hit{}}

	if len(tokenizer.QueryTerms(query)) == 0 {
		return res, nil
	}

	err := resilience.WithTimeout(ctx, s.cfg.Timeout, "search", func(ctx context.Context) error {
		stats, ok, err := s.reader.CorpusStats(ctx)
		if err != nil {
			return fmt.Errorf("loading corpus stats: %w", err)
		}
		if !ok || stats.TotalDocs == 0 {
			return apperrors.ErrEmptyCorpus
		}
		res.Generation = stats.Generation

		compute := func(ctx context.Context) ([]topk.Hit, error) {
			return s.ranker(mode).Rank(ctx, stats, query, limit)
		}
		if s.cache == nil {
			res.Results, err = compute(ctx)
			return err
		}
		key := cache.Key{Mode: string(mode), Query: query, Limit: limit, Generation: stats.Generation}
		if mode == ModeVector && !stats.VectorsBuiltAt.IsZero() {
			key.Vectors = stats.VectorsBuiltAt.UTC().Format(time.RFC3339Nano)
		}
		res.Results, res.CacheHit, err = s.cache.GetOrCompute(ctx, key, compute)
		return err
	})

	elapsed := time.Since(start)
	if err != nil {
		// res may still be written by an abandoned query; leave it alone.
		s.metrics.ObserveQuery(string(mode), "miss", "error", elapsed.Seconds(), 0)
		return nil, err
	}
	res.TookMs = elapsed.Milliseconds()
	cacheStatus := "miss"
	if res.CacheHit {
		cacheStatus = "hit"
	}
	switch {
	case len(res.Results) == 0:
		s.metrics.ObserveQuery(string(mode), cacheStatus, "zero_result", elapsed.Seconds(), 0)
	default:
		s.metrics.ObserveQuery(string(mode), cacheStatus, "hit", elapsed.Seconds(), len(res.Results))
	}
	if res.Results == nil {
		res.Results = []topk.Hit{}
	}
	s.logger.Debug("search completed",
		"mode", mode,
		"returned", len(res.Results),
		"cache_hit", res.CacheHit,
		"took_ms", res.TookMs,
	)
	return res, nil
}

// HandleEvent reacts to an index lifecycle event: cached results are
// dropped and the cosine vocabulary is reloaded.
func (s *Service) HandleEvent(ctx context.Context, ev events.IndexEvent) error {
	s.logger.Info("index event received", "type", ev.Type, "generation", ev.Generation)
	if s.cache != nil {
		if _, err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("cache invalidation failed", "error", err)
		}
	}
	if err := s.cosine.Refresh(ctx); err != nil && !errors.Is(err, apperrors.ErrEmptyCorpus) {
		return fmt.Errorf("refreshing vocabulary: %w", err)
	}
	return nil
}

// InvalidateCache drops all cached results. It reports 0 when caching is
// disabled.
func (s *Service) InvalidateCache(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Invalidate(ctx)
}

func (s *Service) CacheEnabled() bool {
	return s.cache != nil
}

func (s *Service) CacheStats() (hits, misses int64) {
	if s.cache == nil {
		return 0, 0
	}
	return s.cache.Stats()
}
