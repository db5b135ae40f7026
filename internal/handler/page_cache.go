package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/cache"
)

const cacheTagsContextKey = "__cache_tags"

// SessionCookieName 是后台会话 Cookie 的名称，带会话的请求绕过页面缓存。
const SessionCookieName = "presshub_session"

// CacheKind 决定一条路由使用哪类缓存 TTL。
type CacheKind int

const (
	CacheArticle CacheKind = iota
	CacheListing
	CacheFeed
)

type cachedResponseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *cachedResponseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *cachedResponseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// PageCache 缓存公开页面的成功响应。命中时直接回放并带 X-Cache: HIT，
// 未命中时捕获响应体按站点 TTL 落入缓存。缓存键含语言，避免串台。
// 带会话或 Authorization 的请求视为私有流量，整体绕过缓存。
func (a *API) PageCache(kind CacheKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.pageCache == nil || !a.cacheCfg.Enabled || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		if bypassPageCache(c) {
			c.Next()
			return
		}
		site := currentSite(c)
		if site == nil {
			c.Next()
			return
		}

		pref := a.requestLocale(c)
		// Encode 按键名排序，参数顺序不同的同一页面共享一个缓存键
		key := cache.Key(
			fmt.Sprintf("site:%d", site.ID),
			c.Request.URL.Path,
			c.Request.URL.Query().Encode(),
			pref.Language,
		)

		if entry, ok := a.pageCache.Get(c.Request.Context(), key); ok {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, entry.ContentType, entry.Value)
			c.Abort()
			return
		}

		c.Header("X-Cache", "MISS")
		writer := &cachedResponseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer
		c.Next()
		c.Writer = writer.ResponseWriter

		if writer.Status() != http.StatusOK || writer.body.Len() == 0 {
			return
		}
		ttl := a.cacheTTL(site.ID, kind)
		if ttl <= 0 {
			return
		}

		tags := []string{cache.SiteTag(site.ID)}
		switch kind {
		case CacheListing:
			tags = append(tags, cache.ListingTag(site.ID))
		case CacheFeed:
			tags = append(tags, cache.FeedTag(site.ID))
		}
		tags = append(tags, contextCacheTags(c)...)

		entry := &cache.Entry{
			Value:       append([]byte(nil), writer.body.Bytes()...),
			ContentType: writer.Header().Get("Content-Type"),
			Tags:        tags,
		}
		a.pageCache.Set(c.Request.Context(), key, entry, ttl)
	}
}

func bypassPageCache(c *gin.Context) bool {
	if strings.TrimSpace(c.GetHeader("Authorization")) != "" {
		return true
	}
	if _, err := c.Cookie(SessionCookieName); err == nil {
		return true
	}
	return strings.Contains(strings.ToLower(c.GetHeader("Cache-Control")), "no-cache")
}

func (a *API) cacheTTL(siteID uint, kind CacheKind) time.Duration {
	settings, err := a.settings.GetSettings(siteID)
	if err != nil {
		switch kind {
		case CacheArticle:
			return a.cacheCfg.ArticleTTL
		case CacheFeed:
			return a.cacheCfg.FeedTTL
		default:
			return a.cacheCfg.ListingTTL
		}
	}
	switch kind {
	case CacheArticle:
		return settings.ArticleCacheTTL(a.cacheCfg.ArticleTTL)
	case CacheFeed:
		return settings.FeedCacheTTL(a.cacheCfg.FeedTTL)
	default:
		return settings.ListingCacheTTL(a.cacheCfg.ListingTTL)
	}
}

// addCacheTag 由处理器登记额外的失效标签，如文章详情页登记 article:<id>。
func addCacheTag(c *gin.Context, tags ...string) {
	existing := contextCacheTags(c)
	c.Set(cacheTagsContextKey, append(existing, tags...))
}

func contextCacheTags(c *gin.Context) []string {
	value, exists := c.Get(cacheTagsContextKey)
	if !exists {
		return nil
	}
	tags, _ := value.([]string)
	return tags
}

// invalidateArticlePages 在文章内容变化后清掉详情页、列表页与订阅源缓存。
func (a *API) invalidateArticlePages(siteID, articleID uint) {
	if a.pageCache == nil {
		return
	}
	ctx := context.Background()
	a.pageCache.InvalidateTag(ctx, cache.ArticleTag(articleID))
	a.pageCache.InvalidateTag(ctx, cache.ListingTag(siteID))
	a.pageCache.InvalidateTag(ctx, cache.FeedTag(siteID))
}

// invalidateListingPages 在分类、标签等结构变化后清掉列表页与订阅源缓存。
func (a *API) invalidateListingPages(siteID uint) {
	if a.pageCache == nil {
		return
	}
	ctx := context.Background()
	a.pageCache.InvalidateTag(ctx, cache.ListingTag(siteID))
	a.pageCache.InvalidateTag(ctx, cache.FeedTag(siteID))
}

// invalidateSitePages 清掉一个站点的全部缓存响应。
func (a *API) invalidateSitePages(siteID uint) {
	if a.pageCache == nil {
		return
	}
	a.pageCache.InvalidateTag(context.Background(), cache.SiteTag(siteID))
}
