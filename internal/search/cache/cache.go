// Package cache keeps search results in Redis. Keys are derived from the
// normalized request, concurrent misses for one key are collapsed with
// singleflight and every index change drops the whole cache.
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

	"github.com/sdi-catalog/csw-indexer/internal/search/executor"
	"github.com/sdi-catalog/csw-indexer/internal/search/parser"
	"github.com/sdi-catalog/csw-indexer/pkg/metrics"
	pkgredis "github.com/sdi-catalog/csw-indexer/pkg/redis"
)

const keyPrefix = "csw:search:"

// Store is the key/value backend. *redis.Client implements it; a missing
// key is reported with an error for which redis.IsNilError is true.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// QueryCache stores search results keyed by the normalised request.
type QueryCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over store. Entries expire after ttl.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached result for req. Store errors count as misses.
func (c *QueryCache) Get(ctx context.Context, req executor.Request) (*executor.SearchResult, bool) {
	key := BuildKey(req)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, req executor.Request, result *executor.SearchResult) {
	key := BuildKey(req)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result of req or computes and caches it.
// The boolean reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	req executor.Request,
	computeFn func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, req); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(BuildKey(req), func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counts since start.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// BuildKey hashes the normalized request. Clause order and operator case do
// not change the key.
func BuildKey(req executor.Request) string {
	raw := fmt.Sprintf("%s|sort=%s,%t|page=%d,%d|bbox=%s",
		normalizePlan(req.Plan), req.SortBy, req.Descending, req.Offset, req.Limit, bboxKey(req))
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func normalizePlan(plan *parser.QueryPlan) string {
	if plan == nil {
		return ""
	}
	terms := termKeys(plan.Terms)
	excludes := termKeys(plan.ExcludeTerms)
	parts := []string{plan.Type.String(), strings.Join(terms, ",")}
	if len(excludes) > 0 {
		parts = append(parts, "NOT:"+strings.Join(excludes, ","))
	}
	return strings.Join(parts, "|")
}

func termKeys(ts []parser.Term) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = fmt.Sprintf("%s=%q", t.Field, t.Text)
	}
	sort.Strings(out)
	return out
}

func bboxKey(req executor.Request) string {
	if req.BBox == nil {
		return ""
	}
	b := req.BBox
	return fmt.Sprintf("%g,%g,%g,%g,%s", b.MinX, b.MinY, b.MaxX, b.MaxY, b.CRS)
}
