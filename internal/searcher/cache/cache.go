// Package cache keeps ranked results in Redis keyed by query mode,
// normalised terms, limit, index generation and, for vector mode, the
// vector build, so results never outlive the index they were computed
// from. Redis failures open a circuit breaker
// and queries fall through to direct scoring.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/topk"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/search-index/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/resilience"
)

const keyPrefix = "search:"

// Backend is the slice of pkg/redis.Client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ Backend = (*pkgredis.Client)(nil)

// Key identifies one cached result list. Vectors identifies the vector
// build a vector-mode result was computed from; it changes on every
// build-vectors run even when Generation does not.
type Key struct {
	Mode       string
	Query      string
	Limit      int
	Generation string
	Vectors    string
}

// String hashes the normalised key. Terms are deduplicated and sorted,
// since neither order nor repetition changes either ranking.
func (k Key) String() string {
	terms := tokenizer.DistinctTerms(tokenizer.QueryTerms(k.Query))
	sort.Strings(terms)
	raw := fmt.Sprintf("%s|%s|limit=%d|gen=%s|vec=%s", k.Mode, strings.Join(terms, ","), k.Limit, k.Generation, k.Vectors)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

type QueryCache struct {
	// ComputeTimeout bounds a shared computation in GetOrCompute. It
	// defaults to 10s.
	ComputeTimeout time.Duration

	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		backend: backend,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     15 * time.Second,
			OnStateChange: func(name string, _, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		}),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.ComputeTimeout = 10 * time.Second
	return c
}

func (c *QueryCache) Get(ctx context.Context, key Key) ([]topk.Hit, bool) {
	k := key.String()
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.backend.Get(ctx, k)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Debug("cache get failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	if data == nil {
		c.miss()
		return nil, false
	}
	var hits []topk.Hit
	if err := json.Unmarshal(data, &hits); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	return hits, true
}

func (c *QueryCache) Set(ctx context.Context, key Key, hits []topk.Hit) {
	k := key.String()
	data, err := json.Marshal(hits)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, k, data, c.ttl)
	})
	if err != nil {
		c.logger.Debug("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached hits for key, or computes them once for
// all concurrent callers asking for the same key. The bool reports a
// cache hit.
//
// The shared computation does not inherit the cancellation of whichever
// caller started it; it runs under ComputeTimeout instead. A caller whose
// ctx ends first returns ctx.Err() and leaves the others waiting.
func (c *QueryCache) GetOrCompute(ctx context.Context, key Key, compute func(ctx context.Context) ([]topk.Hit, error)) ([]topk.Hit, bool, error) {
	if hits, ok := c.Get(ctx, key); ok {
		return hits, true, nil
	}
	ch := c.group.DoChan(key.String(), func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		if c.ComputeTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, c.ComputeTimeout)
			defer cancel()
		}
		hits, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		c.Set(fctx, key, hits)
		return hits, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]topk.Hit), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.backend.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMiss()
}
