package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/topk"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/middleware"
)

type fakeService struct {
	lastQuery string
	lastMode  searcher.Mode
	lastLimit int
	hits      []topk.Hit
	err       error

	cacheOn     bool
	invalidated int64
	invalidErr  error
}

func (f *fakeService) Search(_ context.Context, query string, mode searcher.Mode, limit int) (*searcher.Result, error) {
	f.lastQuery, f.lastMode, f.lastLimit = query, mode, limit
	if f.err != nil {
		return nil, f.err
	}
	return &searcher.Result{Query: query, Mode: mode, Generation: "g1", Results: f.hits}, nil
}

func (f *fakeService) InvalidateCache(context.Context) (int64, error) {
	return f.invalidated, f.invalidErr
}

func (f *fakeService) CacheEnabled() bool { return f.cacheOn }

func (f *fakeService) CacheStats() (int64, int64) { return 3, 1 }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newRouter(svc SearchService, checker *health.Checker) http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, New(svc), checker)
	return middleware.Chain(r, middleware.RequestID)
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(middleware.RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func TestSearch(t *testing.T) {
	svc := &fakeService{hits: []topk.Hit{{DocID: "doc1", Title: "Cats", Score: 1.451}}}
	w, body := do(t, newRouter(svc, nil), http.MethodGet, "/api/v1/search?q=cat+sat&mode=vector&limit=5")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cat sat", svc.lastQuery)
	assert.Equal(t, searcher.ModeVector, svc.lastMode)
	assert.Equal(t, 5, svc.lastLimit)
	assert.Equal(t, "vector", body["mode"])
	assert.Equal(t, "g1", body["generation"])
	assert.Equal(t, false, body["no_results"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "doc1", first["doc_id"])
	assert.Equal(t, "Cats", first["title"])
	assert.InDelta(t, 1.451, first["score"], 1e-9)
}

func TestSearchNoResults(t *testing.T) {
	w, body := do(t, newRouter(&fakeService{}, nil), http.MethodGet, "/api/v1/search?q=unicorn")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["no_results"])
	assert.Equal(t, []any{}, body["results"])
}

func TestSearchValidation(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"missing q", "/api/v1/search"},
		{"unknown mode", "/api/v1/search?q=cat&mode=fuzzy"},
		{"bad limit", "/api/v1/search?q=cat&limit=ten"},
		{"zero limit", "/api/v1/search?q=cat&limit=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			w, body := do(t, newRouter(svc, nil), http.MethodGet, tt.target)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, string(ErrorCodeInvalidQuery), body["code"])
			assert.Equal(t, "req-1", body["request_id"])
			assert.Empty(t, svc.lastQuery, "service must not be called")
		})
	}
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   ErrorCode
	}{
		{apperrors.ErrEmptyCorpus, http.StatusNotFound, ErrorCodeEmptyIndex},
		{errors.Join(errors.New("search"), apperrors.ErrTimeout), http.StatusGatewayTimeout, ErrorCodeTimeout},
		{apperrors.Storage("loading postings", errors.New("conn reset")), http.StatusServiceUnavailable, ErrorCodeUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, ErrorCodeInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w, body := do(t, newRouter(&fakeService{err: tt.err}, nil), http.MethodGet, "/api/v1/search?q=cat")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, string(tt.code), body["code"])
			if tt.status >= http.StatusInternalServerError {
				assert.Equal(t, "search failed", body["message"], "internal details are not leaked")
			}
		})
	}
}

func TestCacheEndpoints(t *testing.T) {
	disabled := newRouter(&fakeService{}, nil)
	w, body := do(t, disabled, http.MethodGet, "/api/v1/cache/stats")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disabled", body["status"])

	w, body = do(t, disabled, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(ErrorCodeCacheFailed), body["code"])

	enabled := newRouter(&fakeService{cacheOn: true, invalidated: 7}, nil)
	w, body = do(t, enabled, http.MethodGet, "/api/v1/cache/stats")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), body["total"])
	assert.Equal(t, "75.0%", body["hit_rate"])

	w, body = do(t, enabled, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(7), body["keys_deleted"])

	failing := newRouter(&fakeService{cacheOn: true, invalidErr: errors.New("redis down")}, nil)
	w, _ = do(t, failing, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHealthRoutes(t *testing.T) {
	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(pinger{}, true))
	checker.Register("redis", health.PingCheck(pinger{err: errors.New("refused")}, false))
	h := newRouter(&fakeService{}, checker)

	w, body := do(t, h, http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", body["status"])

	w, body = do(t, h, http.MethodGet, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code, "a degraded cache does not make the server unready")
	assert.Equal(t, string(health.StatusDegraded), body["status"])

	checker.Register("store", health.PingCheck(pinger{err: errors.New("gone")}, true))
	w, body = do(t, h, http.MethodGet, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(health.StatusDown), body["status"])
}
