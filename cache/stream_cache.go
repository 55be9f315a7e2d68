package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"abstream/logger"

	"github.com/redis/go-redis/v9"
)

// Key layout for the streaming read path. The metadata sidecar mirrors the
// payload's lifetime.
//
//	stream:playlist:{chapter_id}:{master|bitrate}
//	stream:segment:{segment_id}
//	{key}:meta

// PlaylistKey builds the cache key for a variant playlist.
func PlaylistKey(chapterID string, bitrate int) string {
	return fmt.Sprintf("stream:playlist:%s:%d", chapterID, bitrate)
}

// MasterPlaylistKey builds the cache key for the master playlist.
func MasterPlaylistKey(chapterID string) string {
	return fmt.Sprintf("stream:playlist:%s:master", chapterID)
}

// SegmentKey builds the cache key for a segment payload.
func SegmentKey(segmentID string) string {
	return fmt.Sprintf("stream:segment:%s", segmentID)
}

// EntryMeta is the metadata sidecar stored next to each cached payload.
type EntryMeta struct {
	Key         string    `json:"key"`
	Size        int       `json:"size"`
	ContentType string    `json:"contentType"`
	CachedAt    time.Time `json:"cachedAt"`
}

// Analytics is a snapshot of the per-process cache counters.
type Analytics struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hitRate"`
}

// StreamCache caches playlists and segment payloads in Redis with a TTL.
// Cache failures are never fatal: reads fall through to object storage and
// failed writes are only logged.
type StreamCache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errs   atomic.Int64
}

// NewStreamCache creates a StreamCache with the configured TTL.
func NewStreamCache(client *redis.Client, ttl time.Duration) *StreamCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StreamCache{client: client, ttl: ttl}
}

// TTL returns the configured entry lifetime.
func (c *StreamCache) TTL() time.Duration { return c.ttl }

// Get returns the cached payload, or nil when the key is absent. Transient
// Redis errors are retried once and then treated as a miss so callers can
// fall through to object storage.
func (c *StreamCache) Get(ctx context.Context, key string) []byte {
	if c.client == nil {
		return nil
	}

	retryDelay := 100 * time.Millisecond
	for attempt := 0; attempt < 2; attempt++ {
		data, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			c.hits.Add(1)
			return data
		}
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil
		}
		if attempt == 0 {
			logger.Warn("cache get failed, retrying",
				logger.String("key", key),
				logger.ErrorField(err))
			time.Sleep(retryDelay)
			continue
		}
		c.errs.Add(1)
		logger.Error("cache get failed, falling through to storage",
			logger.String("key", key),
			logger.ErrorField(err))
	}
	c.misses.Add(1)
	return nil
}

// Set stores the payload and its metadata sidecar under the cache TTL.
func (c *StreamCache) Set(ctx context.Context, key string, data []byte, contentType string) {
	if c.client == nil {
		return
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.errs.Add(1)
		logger.Error("cache set failed",
			logger.String("key", key),
			logger.Int("dataSize", len(data)),
			logger.ErrorField(err))
		return
	}
	c.sets.Add(1)

	meta := EntryMeta{
		Key:         key,
		Size:        len(data),
		ContentType: contentType,
		CachedAt:    time.Now(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key+":meta", metaJSON, c.ttl).Err(); err != nil {
		logger.Warn("cache meta set failed",
			logger.String("key", key),
			logger.ErrorField(err))
	}
}

// Exists reports whether a payload is cached under key.
func (c *StreamCache) Exists(ctx context.Context, key string) bool {
	if c.client == nil {
		return false
	}
	n, err := c.client.Exists(ctx, key).Result()
	return err == nil && n > 0
}

// Delete removes a payload and its metadata sidecar.
func (c *StreamCache) Delete(ctx context.Context, key string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, key, key+":meta").Err()
}

// DeletePattern removes every key matching the pattern. Used when a
// chapter is deleted upstream.
func (c *StreamCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if c.client == nil {
		return 0, nil
	}

	var deleted int
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return deleted, fmt.Errorf("delete matched keys: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// PurgeChapter removes all cached playlists and segments for a chapter.
func (c *StreamCache) PurgeChapter(ctx context.Context, chapterID string) (int, error) {
	n1, err := c.DeletePattern(ctx, fmt.Sprintf("stream:playlist:%s:*", chapterID))
	if err != nil {
		return n1, err
	}
	n2, err := c.DeletePattern(ctx, fmt.Sprintf("stream:segment:%s_*", chapterID))
	return n1 + n2, err
}

// ChapterSegmentKeys lists the cached segment keys of a chapter.
func (c *StreamCache) ChapterSegmentKeys(ctx context.Context, chapterID string) ([]string, error) {
	if c.client == nil {
		return nil, nil
	}

	var keys []string
	var cursor uint64
	pattern := fmt.Sprintf("stream:segment:%s_*", chapterID)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			if len(k) < 5 || k[len(k)-5:] != ":meta" {
				keys = append(keys, k)
			}
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Stats returns a snapshot of the per-process counters.
func (c *StreamCache) Stats() Analytics {
	hits := c.hits.Load()
	misses := c.misses.Load()
	a := Analytics{
		Hits:   hits,
		Misses: misses,
		Sets:   c.sets.Load(),
		Errors: c.errs.Load(),
	}
	if total := hits + misses; total > 0 {
		a.HitRate = float64(hits) / float64(total)
	}
	return a
}
