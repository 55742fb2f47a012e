package services

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/obzorcam/backend/models"
)

const defaultCacheMaxAge = 10 * time.Second

type cacheEntry struct {
	frame      []byte
	metadata   map[string]any
	capturedAt time.Time
	maxAge     time.Duration
}

// FrameCache keeps the most recent encoded frame per source so snapshot
// requests don't hammer the camera. Entries past their max age are logically
// absent; they are dropped on the read that finds them stale, there is no
// background sweeper.
type FrameCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	log     *zap.Logger
}

func NewFrameCache(log *zap.Logger) *FrameCache {
	return &FrameCache{
		entries: make(map[string]*cacheEntry),
		log:     log,
	}
}

// Store deep-copies the frame and metadata into the cache, overwriting any
// existing entry for the source. Empty frames are rejected with a false
// return. maxAge <= 0 selects the default.
func (c *FrameCache) Store(sourceID string, frame []byte, metadata map[string]any, maxAge time.Duration) bool {
	if len(frame) == 0 {
		c.log.Warn("refusing to cache empty frame", zap.String("source", sourceID))
		return false
	}
	if maxAge <= 0 {
		maxAge = defaultCacheMaxAge
	}

	metaCopy := make(map[string]any, len(metadata))
	for k, v := range metadata {
		metaCopy[k] = v
	}

	c.mu.Lock()
	c.entries[sourceID] = &cacheEntry{
		frame:      append([]byte(nil), frame...),
		metadata:   metaCopy,
		capturedAt: time.Now(),
		maxAge:     maxAge,
	}
	c.mu.Unlock()

	c.log.Debug("cached frame", zap.String("source", sourceID), zap.Int("bytes", len(frame)))
	return true
}

// Fetch returns a copy of the cached frame and its metadata, or (nil, nil) if
// the source is unknown or the entry has outlived its max age. A positive
// maxAgeOverride replaces the entry's own limit for this read.
func (c *FrameCache) Fetch(sourceID string, maxAgeOverride time.Duration) ([]byte, map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[sourceID]
	if !ok {
		return nil, nil
	}

	limit := entry.maxAge
	if maxAgeOverride > 0 {
		limit = maxAgeOverride
	}

	age := time.Since(entry.capturedAt)
	if age > limit {
		delete(c.entries, sourceID)
		c.log.Debug("evicted stale frame",
			zap.String("source", sourceID), zap.Duration("age", age))
		return nil, nil
	}

	metaCopy := make(map[string]any, len(entry.metadata))
	for k, v := range entry.metadata {
		metaCopy[k] = v
	}
	return append([]byte(nil), entry.frame...), metaCopy
}

// Clear removes one source's entry; missing keys are a no-op.
func (c *FrameCache) Clear(sourceID string) {
	c.mu.Lock()
	delete(c.entries, sourceID)
	c.mu.Unlock()
}

// ClearAll empties the cache.
func (c *FrameCache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Status reports cache contents for the diagnostics endpoint.
func (c *FrameCache) Status() models.CacheStatusResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	details := make(map[string]models.CacheEntryInfo, len(c.entries))
	sources := make([]string, 0, len(c.entries))
	for id, entry := range c.entries {
		sources = append(sources, id)
		details[id] = models.CacheEntryInfo{
			Size:      fmt.Sprintf("%d bytes", len(entry.frame)),
			Age:       fmt.Sprintf("%.2fs", time.Since(entry.capturedAt).Seconds()),
			Timestamp: entry.capturedAt.Format("2006-01-02 15:04:05"),
			MaxAge:    entry.maxAge.String(),
			Metadata:  entry.metadata,
		}
	}
	sort.Strings(sources)

	return models.CacheStatusResponse{
		Entries: len(c.entries),
		Sources: sources,
		Details: details,
	}
}

// SourceID derives a stable cache key from a stream URL: credentials are
// stripped so the same camera keyed with different auth-embedding styles maps
// to one entry, and so keys are safe to log.
func SourceID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}
	id := u.Scheme + "://" + u.Host + u.Path
	if u.RawQuery != "" {
		id += "?" + u.RawQuery
	}
	return id
}
