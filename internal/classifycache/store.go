package classifycache

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/telemetry"
)

// Result is the cached classification outcome: tag plus the confidence the
// classifier assigned it, so a cache hit can still drive the low-confidence
// fallback path the same way a fresh classification would.
type Result struct {
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence"`
}

// Store is the content-addressed classification cache. A Redis connection
// failure at construction time degrades to an in-process cache rather than
// failing startup — classification caching is a latency optimization, never
// a correctness requirement.
type Store struct {
	backend byteCache
	ttl     time.Duration
	enabled bool
	metrics *telemetry.Metrics
	log     *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// Stats is the admin-facing snapshot spec.md §6's "classification cache
// admin: metrics GET" endpoint returns.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
	Size    int64   `json:"size"`
}

// NewStore builds the cache. If enabled is false, Get always misses and Set
// is a no-op, so callers don't need a separate code path for the disabled
// case.
func NewStore(ctx context.Context, redisURL string, ttlSeconds int, enabled bool, metrics *telemetry.Metrics, log *zap.Logger) *Store {
	s := &Store{ttl: time.Duration(ttlSeconds) * time.Second, enabled: enabled, metrics: metrics, log: log}
	if !enabled {
		return s
	}
	backend, err := newRedisCache(ctx, redisURL)
	if err != nil {
		log.Warn("classification cache: redis unavailable, falling back to in-memory", zap.Error(err))
		s.backend = newInMemoryCache()
		return s
	}
	s.backend = backend
	return s
}

// Get looks up a cached classification for content under classifierVersion.
// Any backend error is treated as a miss (fail-open): the caller proceeds to
// classify normally rather than failing the ingestion job.
func (s *Store) Get(ctx context.Context, content, classifierVersion string) (Result, bool) {
	if !s.enabled || s.backend == nil {
		return Result{}, false
	}
	raw, ok, err := s.backend.Get(ctx, digestKey(content, classifierVersion))
	if err != nil {
		s.log.Warn("classification cache get failed, treating as miss", zap.Error(err))
		s.metrics.CacheLookups.WithLabelValues("error").Inc()
		s.errors.Add(1)
		return Result{}, false
	}
	if !ok {
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
		s.misses.Add(1)
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		s.log.Warn("classification cache entry corrupt, treating as miss", zap.Error(err))
		s.metrics.CacheLookups.WithLabelValues("error").Inc()
		s.errors.Add(1)
		return Result{}, false
	}
	s.metrics.CacheLookups.WithLabelValues("hit").Inc()
	s.hits.Add(1)
	return res, true
}

// Stats returns the running hit/miss/error counts plus the backend's current
// entry count for the admin metrics endpoint. Size queries the backend
// directly (a SCAN on Redis, a map length in-memory), so a backend error
// there degrades Size to 0 rather than failing the whole response.
func (s *Store) Stats(ctx context.Context) Stats {
	hits, misses, errs := s.hits.Load(), s.misses.Load(), s.errors.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	var size int64
	if s.backend != nil {
		if n, err := s.backend.Size(ctx); err != nil {
			s.log.Warn("classification cache size query failed", zap.Error(err))
		} else {
			size = n
		}
	}

	return Stats{Hits: hits, Misses: misses, Errors: errs, HitRate: hitRate, Size: size}
}

// DeleteDigest removes a single cache entry by its content digest (the
// hex-encoded suffix of its key, without the "classify:" prefix), for the
// admin "delete by digest" operation.
func (s *Store) DeleteDigest(ctx context.Context, digest string) error {
	if s.backend == nil {
		return nil
	}
	key := digest
	if !strings.HasPrefix(key, "classify:") {
		key = "classify:" + key
	}
	return s.backend.Delete(ctx, key)
}

// DeleteAll clears every entry in the cache, for the admin "delete all"
// operation.
func (s *Store) DeleteAll(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Clear(ctx)
}

// Set stores a classification result. Errors are logged and swallowed: a
// failed cache write must never fail the ingestion job that produced it.
func (s *Store) Set(ctx context.Context, content, classifierVersion string, res Result) {
	if !s.enabled || s.backend == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		s.log.Warn("classification cache marshal failed", zap.Error(err))
		return
	}
	if err := s.backend.Set(ctx, digestKey(content, classifierVersion), raw, s.ttl); err != nil {
		s.log.Warn("classification cache set failed", zap.Error(err))
	}
}

// Close releases the backend's resources.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
