package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/presshub/internal/cache"
	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
)

func publicationItem(publication db.ArticlePublication, language string) gin.H {
	item := gin.H{
		"slug":         publication.Slug,
		"title":        publication.Title,
		"summary":      publication.Summary,
		"language":     publication.Language,
		"reading_time": publication.ReadingTime,
		"cover_url":    publication.CoverURL,
		"published_at": publication.PublishedAt,
	}
	if publication.User.ID != 0 {
		item["author"] = publication.User.DisplayName
	}
	tags := make([]gin.H, 0, len(publication.Tags))
	for _, tag := range publication.Tags {
		tags = append(tags, gin.H{"id": tag.ID, "name": localizedTagName(tag, language)})
	}
	item["tags"] = tags
	return item
}

// GetPublishedArticles 公开端文章列表
func (a *API) GetPublishedArticles(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	pref := a.requestLocale(c)
	page, perPage := parsePagination(c, 10, 50)

	// language=all 时跨语言返回，默认跟随访客语言偏好
	language := pref.Language
	if raw := strings.TrimSpace(c.Query("language")); raw != "" {
		if raw == "all" {
			language = ""
		} else {
			language = raw
		}
	}

	filter := service.ArticleFilter{
		SiteID:   site.ID,
		Search:   strings.TrimSpace(c.Query("search")),
		Language: language,
		TagNames: c.QueryArray("tag"),
		Page:     page,
		PerPage:  perPage,
	}
	if slug := strings.TrimSpace(c.Query("category")); slug != "" {
		category, err := a.categories.GetBySlug(site.ID, slug)
		if err != nil {
			if errors.Is(err, service.ErrCategoryNotFound) {
				respondError(c, http.StatusNotFound, "分类不存在")
				return
			}
			respondError(c, http.StatusInternalServerError, "获取文章列表失败")
			return
		}
		filter.CategoryID = category.ID
	}

	result, err := a.articles.ListPublished(filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取文章列表失败")
		return
	}

	items := make([]gin.H, 0, len(result.Publications))
	for _, publication := range result.Publications {
		items = append(items, publicationItem(publication, pref.Language))
	}
	c.JSON(http.StatusOK, gin.H{
		"articles":    items,
		"total":       result.Total,
		"total_pages": result.TotalPages,
		"page":        result.Page,
		"per_page":    result.PerPage,
	})
}

// GetPublishedArticle 公开端文章详情，输出渲染后的 HTML
func (a *API) GetPublishedArticle(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	pref := a.requestLocale(c)
	slug := c.Param("slug")

	publication, err := a.articles.PublishedBySlug(site.ID, slug)
	if err != nil {
		if errors.Is(err, service.ErrPublicationNotFound) {
			respondError(c, http.StatusNotFound, "文章不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "获取文章失败")
		return
	}

	contentHTML, err := a.renderer.RenderArticle(publication.Content)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "渲染文章失败")
		return
	}

	addCacheTag(c, cache.ArticleTag(publication.ArticleID))
	a.recordArticleView(c, site, publication.ArticleID)

	payload := publicationItem(*publication, pref.Language)
	payload["content_html"] = contentHTML
	payload["version"] = publication.Version
	payload["meta_title"] = publication.MetaTitle
	payload["meta_description"] = publication.MetaDescription
	payload["canonical_url"] = publication.CanonicalURL
	payload["og_image_url"] = publication.OGImageURL
	payload["no_index"] = publication.NoIndex

	if stats, err := a.analytics.StatsMap([]uint{publication.ArticleID}); err == nil {
		if stat, found := stats[publication.ArticleID]; found {
			payload["page_views"] = stat.PageViews
		}
	}
	c.JSON(http.StatusOK, gin.H{"article": payload})
}

// 页面缓存命中时 handler 不执行，这里只统计回源流量，
// 精确计数走 TrackArticleView 信标接口。
func (a *API) recordArticleView(c *gin.Context, site *db.Site, articleID uint) {
	visitor := visitorID(c)
	if visitor == "" {
		return
	}
	now := time.Now()
	if _, err := a.analytics.RecordArticleView(site.ID, articleID, visitor, now); err != nil {
		log.WithError(err).WithField("article_id", articleID).Warn("记录文章浏览失败")
	}
	if err := a.analytics.RecordSiteView(site.ID, visitor, now); err != nil {
		log.WithError(err).WithField("site_id", site.ID).Warn("记录站点访问失败")
	}
}

// TrackArticleView 公开端浏览信标，不走页面缓存
func (a *API) TrackArticleView(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	articleID, ok := a.publishedArticleID(c, site)
	if !ok {
		return
	}

	visitor := visitorID(c)
	if visitor == "" {
		respondError(c, http.StatusBadRequest, "缺少访客标识")
		return
	}
	now := time.Now()
	stats, err := a.analytics.RecordArticleView(site.ID, articleID, visitor, now)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "记录浏览失败")
		return
	}
	if err := a.analytics.RecordSiteView(site.ID, visitor, now); err != nil {
		log.WithError(err).WithField("site_id", site.ID).Warn("记录站点访问失败")
	}
	c.JSON(http.StatusOK, gin.H{
		"page_views":      stats.PageViews,
		"unique_visitors": stats.UniqueVisitors,
	})
}

// GetPublicCategories 公开端分类树，名称按语言偏好本地化
func (a *API) GetPublicCategories(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	pref := a.requestLocale(c)

	tree, err := a.categories.Tree(site.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取分类失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": publicCategoryNodes(tree, pref.Language)})
}

func publicCategoryNodes(nodes []*service.CategoryNode, language string) []gin.H {
	items := make([]gin.H, 0, len(nodes))
	for _, node := range nodes {
		items = append(items, gin.H{
			"slug":          node.Category.Slug,
			"name":          localizedCategoryName(node.Category, language),
			"article_count": node.Category.ArticleCount,
			"children":      publicCategoryNodes(node.Children, language),
		})
	}
	return items
}

// GetPublicTags 公开端标签云，只含已发布文章的标签
func (a *API) GetPublicTags(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}

	usage, err := a.tags.PublishedUsage(site.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取标签失败")
		return
	}
	items := make([]gin.H, 0, len(usage))
	for _, entry := range usage {
		items = append(items, gin.H{"name": entry.Name, "count": entry.Count})
	}
	c.JSON(http.StatusOK, gin.H{"tags": items})
}

// GetPublicPage 公开端独立页面
func (a *API) GetPublicPage(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	slug := c.Param("slug")

	page, err := a.pages.GetPublishedBySlug(site.ID, slug)
	if err != nil {
		if errors.Is(err, service.ErrPageNotFound) {
			respondError(c, http.StatusNotFound, "页面不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "获取页面失败")
		return
	}

	contentHTML, err := a.renderer.RenderArticle(page.Content)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "渲染页面失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": gin.H{
		"slug":         page.Slug,
		"title":        page.Title,
		"summary":      page.Summary,
		"content_html": contentHTML,
		"language":     page.Language,
		"updated_at":   page.UpdatedAt,
	}})
}

// GetSiteInfo 公开端站点信息与社交链接
func (a *API) GetSiteInfo(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}

	links, err := a.sites.ListLinks(site.ID, false)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取站点信息失败")
		return
	}
	linkItems := make([]gin.H, 0, len(links))
	for _, link := range links {
		linkItems = append(linkItems, gin.H{
			"platform": link.Platform,
			"label":    link.Label,
			"url":      link.URL,
		})
	}

	pages, err := a.pages.ListPublished(site.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取站点信息失败")
		return
	}
	pageItems := make([]gin.H, 0, len(pages))
	for _, page := range pages {
		pageItems = append(pageItems, gin.H{"slug": page.Slug, "title": page.Title, "language": page.Language})
	}

	c.JSON(http.StatusOK, gin.H{"site": gin.H{
		"slug":             site.Slug,
		"name":             site.Name,
		"description":      site.Description,
		"default_language": site.DefaultLanguage,
		"base_url":         site.BaseURL,
		"links":            linkItems,
		"pages":            pageItems,
	}})
}
