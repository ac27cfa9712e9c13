// Package handler serves catalog searches over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/queryable"
	"github.com/sdi-catalog/csw-indexer/internal/search/cache"
	"github.com/sdi-catalog/csw-indexer/internal/search/executor"
	"github.com/sdi-catalog/csw-indexer/internal/search/parser"
	"github.com/sdi-catalog/csw-indexer/pkg/config"
	"github.com/sdi-catalog/csw-indexer/pkg/logger"
	"github.com/sdi-catalog/csw-indexer/pkg/metrics"
	"github.com/sdi-catalog/csw-indexer/pkg/middleware"
)

// SearchExecutor runs a search request.
type SearchExecutor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.SearchResult, error)
}

// Handler serves the HTTP search endpoints.
type Handler struct {
	executor     SearchExecutor
	cache        *cache.QueryCache
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	timeout      time.Duration
	logger       *slog.Logger
}

// New returns a Handler. queryCache and m may be nil.
func New(exec SearchExecutor, queryCache *cache.QueryCache, m *metrics.Metrics, cfg config.SearchConfig) *Handler {
	return &Handler{
		executor:     exec,
		cache:        queryCache,
		metrics:      m,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		timeout:      cfg.Timeout,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Routes returns the search endpoints wrapped in the metrics and timeout
// middleware.
func (h *Handler) Routes() map[string]http.Handler {
	wrap := func(fn http.HandlerFunc) http.Handler {
		return middleware.Chain(fn, middleware.Metrics(h.metrics), middleware.Timeout(h.timeout))
	}
	return map[string]http.Handler{
		"/search":           wrap(h.Search),
		"/cache/stats":      wrap(h.CacheStats),
		"/cache/invalidate": wrap(h.CacheInvalidate),
	}
}

// Search handles GET /search?q=...&limit=&offset=&sort=&order=&bbox=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := h.parseRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Plan.Empty() {
		h.writeJSON(w, http.StatusOK, &executor.SearchResult{
			Query:   req.Plan.RawQuery,
			Results: []executor.Record{},
		})
		return
	}

	var result *executor.SearchResult
	cacheStatus := "disabled"
	if h.cache != nil {
		var hit bool
		result, hit, err = h.cache.GetOrCompute(ctx, req, func() (*executor.SearchResult, error) {
			return h.executor.Execute(ctx, req)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		result, err = h.executor.Execute(ctx, req)
	}

	latency := time.Since(start)
	if err != nil {
		h.observe("error", cacheStatus, latency)
		log.Error("search execution failed", "query", req.Plan.RawQuery, "error", err)
		status := http.StatusInternalServerError
		if ctx.Err() != nil {
			status = http.StatusGatewayTimeout
		}
		h.writeError(w, status, "search failed")
		return
	}

	resultType := "hit"
	if result.TotalHits == 0 {
		resultType = "zero_result"
	}
	h.observe(resultType, cacheStatus, latency)
	log.Info("search completed",
		"query", req.Plan.RawQuery,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache", cacheStatus,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) parseRequest(r *http.Request) (executor.Request, error) {
	q := r.URL.Query()
	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		return executor.Request{}, fmt.Errorf("query parameter 'q' is required")
	}
	req := executor.Request{
		Plan:   parser.Parse(query, queryable.FieldAnyText),
		Limit:  h.defaultLimit,
		SortBy: q.Get("sort"),
	}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return req, fmt.Errorf("limit must be a positive integer")
		}
		req.Limit = n
	}
	if h.maxResults > 0 && (req.Limit <= 0 || req.Limit > h.maxResults) {
		req.Limit = h.maxResults
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return req, fmt.Errorf("offset must be a non-negative integer")
		}
		req.Offset = n
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		req.Descending = true
	default:
		return req, fmt.Errorf("order must be asc or desc")
	}
	if s := q.Get("bbox"); s != "" {
		box, err := ParseBBox(s)
		if err != nil {
			return req, err
		}
		req.BBox = &box
	}
	return req, nil
}

// ParseBBox reads minx,miny,maxx,maxy with an optional trailing CRS.
func ParseBBox(s string) (document.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return document.BoundingBox{}, fmt.Errorf("bbox must be minx,miny,maxx,maxy[,crs]")
	}
	var c [4]float64
	for i := range c {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return document.BoundingBox{}, fmt.Errorf("bbox coordinate %q is not a number", parts[i])
		}
		c[i] = f
	}
	box := document.BoundingBox{MinX: c[0], MinY: c[1], MaxX: c[2], MaxY: c[3]}
	if len(parts) == 5 {
		box.CRS = strings.TrimSpace(parts[4])
	}
	if box.MinX > box.MaxX || box.MinY > box.MaxY {
		return document.BoundingBox{}, fmt.Errorf("bbox minimum exceeds maximum")
	}
	return box, nil
}

func (h *Handler) observe(resultType, cacheStatus string, latency time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
}

// CacheStats reports the query cache hit rate.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate drops every cached result. POST only.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
