package service

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/presshub/internal/db"
	"gorm.io/gorm"
)

var (
	ErrRedirectNotFound = errors.New("redirect not found")
	ErrRedirectExists   = errors.New("redirect source path already exists")
	ErrRedirectLoop     = errors.New("redirect would loop")
	ErrRedirectInvalid  = errors.New("redirect path is invalid")
)

// 前台保留路径，文章与独立页面的 slug 不允许与之冲突。
var reservedSlugs = map[string]bool{
	"admin":       true,
	"api":         true,
	"assets":      true,
	"static":      true,
	"healthz":     true,
	"metrics":     true,
	"feed.xml":    true,
	"sitemap.xml": true,
	"robots.txt":  true,
}

// SEOService 生成 sitemap、robots.txt 与 RSS，组装页面元数据，
// 并维护站点级的路径重定向规则。
type SEOService struct {
	db       *gorm.DB
	articles *ArticleService
	pages    *PageService
	settings *SiteSettingService
	renderer *ContentRenderer
}

// RedirectInput 重定向规则入参
type RedirectInput struct {
	FromPath   string
	ToPath     string
	StatusCode int
}

// MetaPayload 汇总一个页面的 SEO 元数据，由前台模板或客户端消费。
type MetaPayload struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Canonical   string                 `json:"canonical"`
	Language    string                 `json:"language"`
	SiteName    string                 `json:"siteName"`
	OGType      string                 `json:"ogType"`
	OGImage     string                 `json:"ogImage,omitempty"`
	TwitterCard string                 `json:"twitterCard"`
	NoIndex     bool                   `json:"noIndex"`
	JSONLD      map[string]interface{} `json:"jsonLd"`
}

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Language      string    `xml:"language,omitempty"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

func NewSEOService(gdb *gorm.DB, articles *ArticleService, pages *PageService, settings *SiteSettingService, renderer *ContentRenderer) *SEOService {
	return &SEOService{
		db:       gdb,
		articles: articles,
		pages:    pages,
		settings: settings,
		renderer: renderer,
	}
}

// ---- 前台路径 ----

// ArticlePath 返回文章详情页的站内路径
func ArticlePath(slug string) string {
	return "/articles/" + slug
}

// PagePath 返回独立页面的站内路径
func PagePath(slug string) string {
	return "/pages/" + slug
}

// CategoryPath 返回分类归档页的站内路径
func CategoryPath(slug string) string {
	return "/categories/" + slug
}

// AbsoluteURL 把站内路径拼成绝对地址；根地址为空时原样返回路径
func AbsoluteURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// ---- sitemap / robots / RSS ----

// Sitemap 输出站点的 sitemap.xml。只收录已发布且未标记
// NoIndex 的文章，外加首页、分类归档与已发布页面。
func (s *SEOService) Sitemap(siteID uint) ([]byte, error) {
	settings, err := s.settings.GetSettings(siteID)
	if err != nil {
		return nil, err
	}
	base := settings.BaseURL

	urls := []sitemapURL{{
		Loc:        AbsoluteURL(base, "/"),
		ChangeFreq: "daily",
		Priority:   "1.0",
	}}

	var categories []db.Category
	if err := s.db.Where("site_id = ?", siteID).Order("sort_order asc").Find(&categories).Error; err != nil {
		return nil, err
	}
	for _, category := range categories {
		urls = append(urls, sitemapURL{
			Loc:        AbsoluteURL(base, CategoryPath(category.Slug)),
			ChangeFreq: "weekly",
			Priority:   "0.6",
		})
	}

	publications, err := s.articles.ListAllPublished(siteID)
	if err != nil {
		return nil, err
	}
	for _, publication := range publications {
		if publication.NoIndex {
			continue
		}
		urls = append(urls, sitemapURL{
			Loc:      AbsoluteURL(base, ArticlePath(publication.Slug)),
			LastMod:  publication.PublishedAt.UTC().Format("2006-01-02"),
			Priority: "0.8",
		})
	}

	pages, err := s.pages.ListPublished(siteID)
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		urls = append(urls, sitemapURL{
			Loc:      AbsoluteURL(base, PagePath(page.Slug)),
			LastMod:  page.UpdatedAt.UTC().Format("2006-01-02"),
			Priority: "0.5",
		})
	}

	return marshalXML(sitemapURLSet{
		Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  urls,
	})
}

// RobotsTxt 输出站点的 robots.txt。停用的站点对爬虫全面关闭。
func (s *SEOService) RobotsTxt(siteID uint) (string, error) {
	var site db.Site
	if err := s.db.First(&site, siteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSiteNotFound
		}
		return "", err
	}
	if site.Status == db.SiteStatusDisabled {
		return "User-agent: *\nDisallow: /\n", nil
	}

	settings, err := s.settings.GetSettings(siteID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("User-agent: *\n")
	b.WriteString("Allow: /\n")
	b.WriteString("Disallow: /admin/\n")
	b.WriteString("Disallow: /api/\n")
	if extra := strings.TrimSpace(settings.RobotsExtra); extra != "" {
		b.WriteString("\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	b.WriteString("\nSitemap: ")
	b.WriteString(AbsoluteURL(settings.BaseURL, "/sitemap.xml"))
	b.WriteString("\n")
	return b.String(), nil
}

// Feed 输出站点的 RSS 2.0 订阅源，条目为最新发布快照的渲染后 HTML。
func (s *SEOService) Feed(siteID uint) ([]byte, error) {
	var site db.Site
	if err := s.db.First(&site, siteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}
	settings, err := s.settings.GetSettings(siteID)
	if err != nil {
		return nil, err
	}

	limit := settings.FeedItemCount
	if limit <= 0 {
		limit = defaultFeedItemCount
	}
	result, err := s.articles.ListPublished(ArticleFilter{SiteID: siteID, Page: 1, PerPage: limit})
	if err != nil {
		return nil, err
	}

	channel := rssChannel{
		Title:       settings.SiteName,
		Link:        AbsoluteURL(settings.BaseURL, "/"),
		Description: site.Description,
		Language:    settings.DefaultLanguage,
	}
	for _, publication := range result.Publications {
		if publication.NoIndex {
			continue
		}
		html, err := s.renderer.RenderArticle(publication.Content)
		if err != nil {
			return nil, fmt.Errorf("render feed item %d: %w", publication.ArticleID, err)
		}
		link := AbsoluteURL(settings.BaseURL, ArticlePath(publication.Slug))
		channel.Items = append(channel.Items, rssItem{
			Title:       publication.Title,
			Link:        link,
			GUID:        link,
			PubDate:     publication.PublishedAt.UTC().Format(time.RFC1123Z),
			Description: html,
		})
	}
	if len(result.Publications) > 0 {
		channel.LastBuildDate = result.Publications[0].PublishedAt.UTC().Format(time.RFC1123Z)
	}

	return marshalXML(rssFeed{Version: "2.0", Channel: channel})
}

// ---- 元数据 ----

// ArticleMeta 组装文章详情页的元数据。标题与描述按
// 覆盖值、派生标题、摘要、站点默认值的顺序回退。
func (s *SEOService) ArticleMeta(siteID uint, slug string) (*MetaPayload, error) {
	publication, err := s.articles.PublishedBySlug(siteID, slug)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.GetSettings(siteID)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(publication.MetaTitle)
	if title == "" {
		title = publication.Title
	}
	description := strings.TrimSpace(publication.MetaDescription)
	if description == "" {
		description = strings.TrimSpace(publication.Summary)
	}

	canonical := strings.TrimSpace(publication.CanonicalURL)
	if canonical == "" {
		canonical = AbsoluteURL(settings.BaseURL, ArticlePath(publication.Slug))
	}
	image := strings.TrimSpace(publication.OGImageURL)
	if image == "" {
		image = publication.CoverURL
	}
	if image == "" {
		image = settings.SocialImageURL
	}

	language := publication.Language
	if language == "" {
		language = settings.DefaultLanguage
	}

	jsonLD := map[string]interface{}{
		"@context":      "https://schema.org",
		"@type":         "Article",
		"headline":      publication.Title,
		"datePublished": publication.PublishedAt.UTC().Format(time.RFC3339),
		"dateModified":  publication.UpdatedAt.UTC().Format(time.RFC3339),
		"mainEntityOfPage": map[string]interface{}{
			"@type": "WebPage",
			"@id":   canonical,
		},
		"publisher": map[string]interface{}{
			"@type": "Organization",
			"name":  settings.SiteName,
		},
	}
	if description != "" {
		jsonLD["description"] = description
	}
	if image != "" {
		jsonLD["image"] = image
	}
	if author := strings.TrimSpace(publication.User.DisplayName); author != "" {
		jsonLD["author"] = map[string]interface{}{"@type": "Person", "name": author}
	}

	return &MetaPayload{
		Title:       title,
		Description: description,
		Canonical:   canonical,
		Language:    language,
		SiteName:    settings.SiteName,
		OGType:      "article",
		OGImage:     image,
		TwitterCard: "summary_large_image",
		NoIndex:     publication.NoIndex,
		JSONLD:      jsonLD,
	}, nil
}

// SiteMeta 组装站点首页的元数据，sameAs 取对外可见的站点链接。
func (s *SEOService) SiteMeta(siteID uint) (*MetaPayload, error) {
	var site db.Site
	if err := s.db.First(&site, siteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}
	settings, err := s.settings.GetSettings(siteID)
	if err != nil {
		return nil, err
	}

	var links []db.SiteLink
	if err := s.db.Where("site_id = ? AND visible = ?", siteID, true).
		Order("sort asc").Find(&links).Error; err != nil {
		return nil, err
	}
	sameAs := make([]string, 0, len(links))
	for _, link := range links {
		sameAs = append(sameAs, link.URL)
	}

	canonical := AbsoluteURL(settings.BaseURL, "/")
	jsonLD := map[string]interface{}{
		"@context": "https://schema.org",
		"@type":    "WebSite",
		"name":     settings.SiteName,
		"url":      canonical,
	}
	if site.Description != "" {
		jsonLD["description"] = site.Description
	}
	if len(sameAs) > 0 {
		jsonLD["sameAs"] = sameAs
	}

	image := settings.SocialImageURL
	return &MetaPayload{
		Title:       settings.SiteName,
		Description: site.Description,
		Canonical:   canonical,
		Language:    settings.DefaultLanguage,
		SiteName:    settings.SiteName,
		OGType:      "website",
		OGImage:     image,
		TwitterCard: "summary",
		NoIndex:     site.Status == db.SiteStatusDisabled,
		JSONLD:      jsonLD,
	}, nil
}

// ---- 重定向 ----

// ListRedirects 返回站点全部重定向规则
func (s *SEOService) ListRedirects(siteID uint) ([]db.Redirect, error) {
	var redirects []db.Redirect
	err := s.db.Where("site_id = ?", siteID).Order("from_path asc").Find(&redirects).Error
	return redirects, err
}

// CreateRedirect 新建重定向。自指与两跳回环在保存时拒绝。
func (s *SEOService) CreateRedirect(siteID uint, input RedirectInput) (*db.Redirect, error) {
	from, to, code, err := normalizeRedirectInput(input)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.Model(&db.Redirect{}).Where("site_id = ? AND from_path = ?", siteID, from).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrRedirectExists, from)
	}
	if err := s.checkRedirectLoop(siteID, 0, from, to); err != nil {
		return nil, err
	}

	redirect := db.Redirect{SiteID: siteID, FromPath: from, ToPath: to, StatusCode: code}
	if err := s.db.Create(&redirect).Error; err != nil {
		return nil, err
	}
	return &redirect, nil
}

// UpdateRedirect 更新重定向规则
func (s *SEOService) UpdateRedirect(siteID, id uint, input RedirectInput) (*db.Redirect, error) {
	var redirect db.Redirect
	if err := s.db.Where("site_id = ?", siteID).First(&redirect, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRedirectNotFound
		}
		return nil, err
	}

	from, to, code, err := normalizeRedirectInput(input)
	if err != nil {
		return nil, err
	}
	if from != redirect.FromPath {
		var count int64
		if err := s.db.Model(&db.Redirect{}).
			Where("site_id = ? AND from_path = ? AND id <> ?", siteID, from, redirect.ID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, fmt.Errorf("%w: %s", ErrRedirectExists, from)
		}
	}
	if err := s.checkRedirectLoop(siteID, redirect.ID, from, to); err != nil {
		return nil, err
	}

	redirect.FromPath = from
	redirect.ToPath = to
	redirect.StatusCode = code
	if err := s.db.Model(&redirect).Updates(map[string]interface{}{
		"from_path":   from,
		"to_path":     to,
		"status_code": code,
	}).Error; err != nil {
		return nil, err
	}
	return &redirect, nil
}

// DeleteRedirect 删除重定向规则
func (s *SEOService) DeleteRedirect(siteID, id uint) error {
	result := s.db.Unscoped().Where("site_id = ?", siteID).Delete(&db.Redirect{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRedirectNotFound
	}
	return nil
}

// ResolveRedirect 按路径精确匹配重定向并累计命中次数。
// 未命中时返回 ErrRedirectNotFound，查询串的保留由调用方处理。
func (s *SEOService) ResolveRedirect(siteID uint, path string) (*db.Redirect, error) {
	normalized, err := normalizeRedirectPath(path)
	if err != nil {
		return nil, ErrRedirectNotFound
	}

	var redirect db.Redirect
	err = s.db.Where("site_id = ? AND from_path = ?", siteID, normalized).First(&redirect).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRedirectNotFound
		}
		return nil, err
	}

	if err := s.db.Model(&db.Redirect{}).Where("id = ?", redirect.ID).
		UpdateColumn("hits", gorm.Expr("hits + 1")).Error; err != nil {
		return nil, err
	}
	redirect.Hits++
	return &redirect, nil
}

// CheckSlug 检查 slug 是否可用于新文章或独立页面。
// 保留路径、站内已有文章与页面都会判为占用。
func (s *SEOService) CheckSlug(siteID uint, slug string) (bool, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" || reservedSlugs[slug] {
		return false, nil
	}

	var count int64
	if err := s.db.Model(&db.Article{}).Where("site_id = ? AND slug = ?", siteID, slug).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if err := s.db.Model(&db.Page{}).Where("site_id = ? AND slug = ?", siteID, slug).Count(&count).Error; err != nil {
		return false, err
	}
	return count == 0, nil
}

// checkRedirectLoop 拒绝 from == to 的自指，以及与既有规则构成的两跳回环。
func (s *SEOService) checkRedirectLoop(siteID, selfID uint, from, to string) error {
	if from == to {
		return fmt.Errorf("%w: %s points to itself", ErrRedirectLoop, from)
	}
	var count int64
	query := s.db.Model(&db.Redirect{}).
		Where("site_id = ? AND from_path = ? AND to_path = ?", siteID, to, from)
	if selfID != 0 {
		query = query.Where("id <> ?", selfID)
	}
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s and %s redirect to each other", ErrRedirectLoop, from, to)
	}
	return nil
}

func normalizeRedirectInput(input RedirectInput) (string, string, int, error) {
	from, err := normalizeRedirectPath(input.FromPath)
	if err != nil {
		return "", "", 0, err
	}
	to := strings.TrimSpace(input.ToPath)
	// 目标允许站外绝对地址
	if !strings.HasPrefix(to, "http://") && !strings.HasPrefix(to, "https://") {
		to, err = normalizeRedirectPath(to)
		if err != nil {
			return "", "", 0, err
		}
	}
	code := input.StatusCode
	if code == 0 {
		code = 301
	}
	if code != 301 && code != 302 {
		return "", "", 0, fmt.Errorf("%w: status code must be 301 or 302", ErrRedirectInvalid)
	}
	return from, to, code, nil
}

// normalizeRedirectPath 统一成以 / 开头、不带尾斜杠的站内路径
func normalizeRedirectPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: path is required", ErrRedirectInvalid)
	}
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	if strings.Contains(path, " ") {
		return "", fmt.Errorf("%w: path may not contain spaces", ErrRedirectInvalid)
	}
	return path, nil
}

func marshalXML(v interface{}) ([]byte, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, []byte(xml.Header)...)
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}
