// Package cache implements the page cache engine: a sharded in-memory LRU
// with per-entry TTL and tag-based invalidation, plus an optional Redis
// backend for multi-instance deployments. Rendered responses are stored per
// site and purged by tag when the underlying content changes.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Entry is a single cached response.
// Entries are treated as read-only once stored.
type Entry struct {
	Value       []byte
	ContentType string
	Tags        []string
	StoredAt    time.Time
	ExpiresAt   time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Size returns the approximate memory footprint of the entry in bytes.
func (e *Entry) Size() int64 {
	size := int64(len(e.Value)) + int64(len(e.ContentType))
	for _, tag := range e.Tags {
		size += int64(len(tag))
	}
	return size
}

// Store is the backend contract shared by the memory and Redis caches.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration)
	Delete(ctx context.Context, key string)
	InvalidateTag(ctx context.Context, tag string) int
	Purge(ctx context.Context)
	Stats() Stats
}

// Stats contains cache performance statistics.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	Expirations   int64 `json:"expirations"`
	Invalidations int64 `json:"invalidations"`
	Entries       int   `json:"entries"`
	Bytes         int64 `json:"bytes"`
}

// HitRate returns the cache hit rate as a percentage (0-100).
// Returns 0 if no lookups have been performed.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// String returns a human-readable summary of cache statistics.
func (s Stats) String() string {
	return fmt.Sprintf("hits=%d misses=%d evictions=%d entries=%d bytes=%d hitRate=%.1f%%",
		s.Hits, s.Misses, s.Evictions, s.Entries, s.Bytes, s.HitRate())
}

// Key joins key parts into a single cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// Tag naming conventions. Writers invalidate by these tags after content
// changes; the page middleware attaches them when storing entries.

// SiteTag covers every cached response of a site.
func SiteTag(siteID uint) string {
	return fmt.Sprintf("site:%d", siteID)
}

// ArticleTag covers the detail pages of a single article.
func ArticleTag(articleID uint) string {
	return fmt.Sprintf("article:%d", articleID)
}

// ListingTag covers list pages (home, categories, tags, archives) of a site.
func ListingTag(siteID uint) string {
	return fmt.Sprintf("listing:%d", siteID)
}

// FeedTag covers RSS and sitemap output of a site.
func FeedTag(siteID uint) string {
	return fmt.Sprintf("feed:%d", siteID)
}
