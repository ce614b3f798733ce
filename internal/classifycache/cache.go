// Package classifycache provides a content-addressed, TTL-bounded cache for
// document classification results, backed by Redis with an in-process
// fallback, so repeated ingestion of identical content skips the LLM
// classifier call.
package classifycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// byteCache is the minimal backend contract: get/set/delete raw bytes with
// an optional TTL. Both backends below satisfy it.
type byteCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	Close() error
}

// digestKey returns a stable content-addressed key for (content, classifier
// version), so a classifier upgrade invalidates prior entries without an
// explicit migration.
func digestKey(content, classifierVersion string) string {
	h := sha256.New()
	h.Write([]byte(classifierVersion))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return "classify:" + hex.EncodeToString(h.Sum(nil))
}

// ---------------------------- in-memory backend ----------------------------

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// inMemoryCache is a process-local TTL cache used when Redis is unreachable,
// so classification fails open rather than blocking ingestion.
type inMemoryCache struct {
	mu      sync.RWMutex
	items   map[string]memEntry
	stopCh  chan struct{}
	stopped bool
}

func newInMemoryCache() *inMemoryCache {
	c := &inMemoryCache{items: make(map[string]memEntry, 256), stopCh: make(chan struct{})}
	go c.janitor(30 * time.Second)
	return c
}

func (c *inMemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		_ = c.Delete(context.Background(), key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *inMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = memEntry{value: append([]byte(nil), value...), expiresAt: exp}
	c.mu.Unlock()
	return nil
}

func (c *inMemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

func (c *inMemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.items = make(map[string]memEntry, 256)
	c.mu.Unlock()
	return nil
}

func (c *inMemoryCache) Size(_ context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.items)), nil
}

func (c *inMemoryCache) Close() error {
	if c.stopped {
		return nil
	}
	close(c.stopCh)
	c.stopped = true
	return nil
}

func (c *inMemoryCache) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, v := range c.items {
				if !v.expiresAt.IsZero() && now.After(v.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// ------------------------------ redis backend -------------------------------

type redisCache struct {
	client *redis.Client
}

func newRedisCache(ctx context.Context, url string) (*redisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	cli := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx).Result(); err != nil {
		return nil, err
	}
	return &redisCache{client: cli}, nil
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (r *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Clear removes every classification cache entry this service owns. It scans
// by the "classify:" key prefix rather than issuing FLUSHDB, since the Redis
// instance may be shared with other namespaces (e.g. the ingestion job queue).
func (r *redisCache) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, "classify:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Size counts keys under the "classify:" prefix via SCAN, the same approach
// Clear uses, rather than DBSIZE which would include unrelated namespaces.
func (r *redisCache) Size(ctx context.Context) (int64, error) {
	iter := r.client.Scan(ctx, 0, "classify:*", 0).Iterator()
	var count int64
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *redisCache) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
