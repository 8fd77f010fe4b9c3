// Package handler exposes the search service over HTTP with gin.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/search-index/internal/searcher/topk"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/middleware"
)

// SearchService is the part of searcher.Service the handlers call.
type SearchService interface {
	Search(ctx context.Context, query string, mode searcher.Mode, limit int) (*searcher.Result, error)
	InvalidateCache(ctx context.Context) (int64, error)
	CacheEnabled() bool
	CacheStats() (hits, misses int64)
}

type ErrorCode string

const (
	ErrorCodeInvalidQuery ErrorCode = "INVALID_QUERY"
	ErrorCodeEmptyIndex   ErrorCode = "EMPTY_INDEX"
	ErrorCodeTimeout      ErrorCode = "TIMEOUT"
	ErrorCodeUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	ErrorCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrorCodeCacheFailed  ErrorCode = "CACHE_FAILED"
)

type APIError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

type Handler struct {
	service SearchService
	logger  *slog.Logger
}

func New(service SearchService) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// SetupRoutes registers the API and, when checker is non-nil, the probes.
func SetupRoutes(router *gin.Engine, h *Handler, checker *health.Checker) {
	v1 := router.Group("/api/v1")
	v1.GET("/search", h.Search)
	v1.GET("/cache/stats", h.CacheStats)
	v1.POST("/cache/invalidate", h.CacheInvalidate)

	if checker != nil {
		router.GET("/health/live", gin.WrapF(checker.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(checker.ReadyHandler()))
	}
}

// Search handles GET /api/v1/search?q=&mode=&limit=. A query that matches
// nothing answers 200 with an empty result list and no_results set.
func (h *Handler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		h.sendError(c, http.StatusBadRequest, ErrorCodeInvalidQuery, "query parameter 'q' is required")
		return
	}
	mode, err := searcher.ParseMode(c.Query("mode"))
	if err != nil {
		h.sendError(c, http.StatusBadRequest, ErrorCodeInvalidQuery, err.Error())
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.sendError(c, http.StatusBadRequest, ErrorCodeInvalidQuery, "limit must be a positive integer")
			return
		}
	}

	result, err := h.service.Search(c.Request.Context(), query, mode, limit)
	if err != nil {
		h.searchFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":      result.Query,
		"mode":       result.Mode,
		"generation": result.Generation,
		"results":    nonNil(result.Results),
		"no_results": len(result.Results) == 0,
		"cache_hit":  result.CacheHit,
		"took_ms":    result.TookMs,
	})
}

func (h *Handler) CacheStats(c *gin.Context) {
	if !h.service.CacheEnabled() {
		c.JSON(http.StatusOK, gin.H{"status": "disabled"})
		return
	}
	hits, misses := h.service.CacheStats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	c.JSON(http.StatusOK, gin.H{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(c *gin.Context) {
	if !h.service.CacheEnabled() {
		h.sendError(c, http.StatusServiceUnavailable, ErrorCodeCacheFailed, "caching is disabled")
		return
	}
	deleted, err := h.service.InvalidateCache(c.Request.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.sendError(c, http.StatusBadGateway, ErrorCodeCacheFailed, "cache invalidation failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) searchFailed(c *gin.Context, err error) {
	status := apperrors.HTTPStatusCode(err)
	code := ErrorCodeInternal
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		code = ErrorCodeInvalidQuery
	case errors.Is(err, apperrors.ErrEmptyCorpus):
		code = ErrorCodeEmptyIndex
	case errors.Is(err, apperrors.ErrTimeout):
		code = ErrorCodeTimeout
		status = http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrStorage):
		code = ErrorCodeUnavailable
	}
	h.logger.Error("search failed",
		"request_id", middleware.GetRequestID(c.Request.Context()),
		"status", status,
		"error", err,
	)
	message := "search failed"
	if status < http.StatusInternalServerError {
		message = err.Error()
	}
	h.sendError(c, status, code, message)
}

func (h *Handler) sendError(c *gin.Context, status int, code ErrorCode, message string) {
	c.JSON(status, APIError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(c.Request.Context()),
	})
}

func nonNil(hits []topk.Hit) []topk.Hit {
	if hits == nil {
		return []topk.Hit{}
	}
	return hits
}
