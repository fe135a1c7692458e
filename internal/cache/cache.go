// Package cache provides caching for rendered frames and selection summaries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	FrameCacheSizeMB int
	FrameTTL         time.Duration
	SummaryCacheSize int
}

// Manager manages frame and summary caches.
type Manager struct {
	frameCache   *bigcache.BigCache
	summaryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.FrameTTL <= 0 {
		cfg.FrameTTL = 10 * time.Minute
	}
	if cfg.SummaryCacheSize <= 0 {
		cfg.SummaryCacheSize = 256
	}

	// Configure frame cache
	frameCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.FrameTTL,
		CleanWindow:        cfg.FrameTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // 512KB per frame
		HardMaxCacheSize:   cfg.FrameCacheSizeMB,
		Verbose:            false,
	}

	frameCache, err := bigcache.New(context.Background(), frameCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}

	// Create summary cache
	summaryCache, err := lru.New[string, []byte](cfg.SummaryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary cache: %w", err)
	}

	return &Manager{
		frameCache:   frameCache,
		summaryCache: summaryCache,
	}, nil
}

// GetFrame retrieves a frame from cache.
func (m *Manager) GetFrame(key string) ([]byte, bool) {
	data, err := m.frameCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetFrame stores a frame in cache.
func (m *Manager) SetFrame(key string, data []byte) error {
	return m.frameCache.Set(key, data)
}

// GetSummary retrieves encoded selection summaries from cache.
func (m *Manager) GetSummary(key string) ([]byte, bool) {
	return m.summaryCache.Get(key)
}

// SetSummary stores encoded selection summaries in cache.
func (m *Manager) SetSummary(key string, data []byte) {
	m.summaryCache.Add(key, data)
}

// FrameKey generates a cache key for a frame. generation identifies the cell state the frame
// was drawn from; options are hashed in sorted order so the key is stable.
func FrameKey(dataset string, generation uint64, width, height int, options map[string]string) string {
	base := fmt.Sprintf("frame:%s:%d:%dx%d", dataset, generation, width, height)
	if len(options) == 0 {
		return base
	}

	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Hash options for cache key
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k + "=" + options[k] + ";"))
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// SummaryKey generates a cache key for the selection summaries of a dataset.
func SummaryKey(dataset string, generation uint64) string {
	return fmt.Sprintf("summary:%s:%d", dataset, generation)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"frame_cache_len":   m.frameCache.Len(),
		"frame_cache_cap":   m.frameCache.Capacity(),
		"summary_cache_len": m.summaryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.frameCache.Close()
}
