package service

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/presshub/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type seoTestEnv struct {
	db       *gorm.DB
	seo      *SEOService
	articles *ArticleService
	pages    *PageService
	settings *SiteSettingService
	site     *db.Site
	user     *db.User
}

func setupSEOTestEnv(t *testing.T) *seoTestEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:seosvc-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	err = gdb.AutoMigrate(
		&db.Site{},
		&db.SiteSetting{},
		&db.SiteLink{},
		&db.User{},
		&db.Category{},
		&db.Tag{},
		&db.Article{},
		&db.ArticlePublication{},
		&db.ArticleRevision{},
		&db.Page{},
		&db.Redirect{},
	)
	if err != nil {
		t.Fatalf("迁移数据表失败: %v", err)
	}

	site := db.Site{Slug: "main", Name: "主站", Description: "一个测试站点", Status: db.SiteStatusActive, DefaultLanguage: "zh"}
	if err := gdb.Create(&site).Error; err != nil {
		t.Fatalf("创建站点失败: %v", err)
	}
	user := db.User{Username: "editor", Password: "x", DisplayName: "编辑小张"}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}

	articles := NewArticleService(gdb)
	pages := NewPageService(gdb)
	settings := NewSiteSettingService(gdb)
	renderer := NewContentRenderer()
	return &seoTestEnv{
		db:       gdb,
		seo:      NewSEOService(gdb, articles, pages, settings, renderer),
		articles: articles,
		pages:    pages,
		settings: settings,
		site:     &site,
		user:     &user,
	}
}

func (env *seoTestEnv) publishArticle(t *testing.T, content string, mutate func(*ArticleInput)) *db.ArticlePublication {
	t.Helper()

	input := ArticleInput{
		Content:     content,
		Summary:     "摘要",
		UserID:      env.user.ID,
		CoverURL:    "/uploads/cover.png",
		CoverWidth:  1200,
		CoverHeight: 630,
	}
	if mutate != nil {
		mutate(&input)
	}
	article, err := env.articles.Create(env.site.ID, input)
	if err != nil {
		t.Fatalf("创建文章失败: %v", err)
	}
	publication, err := env.articles.Publish(env.site.ID, article.ID, env.user.ID, nil)
	if err != nil {
		t.Fatalf("发布文章失败: %v", err)
	}
	return publication
}

func TestSEOServiceSitemap(t *testing.T) {
	env := setupSEOTestEnv(t)
	if _, err := env.settings.UpdateSettings(env.site.ID, SiteSettingsInput{BaseURL: "https://blog.example.com/"}); err != nil {
		t.Fatalf("写入站点设置失败: %v", err)
	}

	if err := env.db.Create(&db.Category{SiteID: env.site.ID, Name: "随笔", Slug: "notes"}).Error; err != nil {
		t.Fatalf("创建分类失败: %v", err)
	}
	visible := env.publishArticle(t, "# 可见文章\n\n正文内容", nil)
	env.publishArticle(t, "# 隐藏文章\n\n正文内容", func(input *ArticleInput) {
		input.NoIndex = true
		input.Slug = "hidden"
	})
	if _, err := env.pages.Save(env.site.ID, PageInput{Slug: "about", Content: "# 关于\n\n介绍", Status: db.ArticleStatusPublished}); err != nil {
		t.Fatalf("创建页面失败: %v", err)
	}

	body, err := env.seo.Sitemap(env.site.ID)
	if err != nil {
		t.Fatalf("生成 sitemap 失败: %v", err)
	}
	xml := string(body)

	if !strings.Contains(xml, "<urlset") || !strings.Contains(xml, "http://www.sitemaps.org/schemas/sitemap/0.9") {
		t.Fatalf("sitemap 缺少 urlset 声明:\n%s", xml)
	}
	for _, loc := range []string{
		"<loc>https://blog.example.com/</loc>",
		"<loc>https://blog.example.com/categories/notes</loc>",
		"<loc>https://blog.example.com/articles/" + visible.Slug + "</loc>",
		"<loc>https://blog.example.com/pages/about</loc>",
	} {
		if !strings.Contains(xml, loc) {
			t.Fatalf("sitemap 缺少 %s:\n%s", loc, xml)
		}
	}
	if strings.Contains(xml, "/articles/hidden") {
		t.Fatalf("NoIndex 文章不应进入 sitemap:\n%s", xml)
	}
	if !strings.Contains(xml, "<lastmod>") {
		t.Fatalf("文章条目应带 lastmod:\n%s", xml)
	}
}

func TestSEOServiceRobotsTxt(t *testing.T) {
	env := setupSEOTestEnv(t)
	if _, err := env.settings.UpdateSettings(env.site.ID, SiteSettingsInput{
		BaseURL:     "https://blog.example.com",
		RobotsExtra: "Disallow: /secret/",
	}); err != nil {
		t.Fatalf("写入站点设置失败: %v", err)
	}

	robots, err := env.seo.RobotsTxt(env.site.ID)
	if err != nil {
		t.Fatalf("生成 robots.txt 失败: %v", err)
	}
	for _, line := range []string{
		"User-agent: *",
		"Allow: /",
		"Disallow: /admin/",
		"Disallow: /secret/",
		"Sitemap: https://blog.example.com/sitemap.xml",
	} {
		if !strings.Contains(robots, line) {
			t.Fatalf("robots.txt 缺少 %q:\n%s", line, robots)
		}
	}

	if err := env.db.Model(env.site).Update("status", db.SiteStatusDisabled).Error; err != nil {
		t.Fatalf("停用站点失败: %v", err)
	}
	robots, err = env.seo.RobotsTxt(env.site.ID)
	if err != nil {
		t.Fatalf("生成停用站点 robots.txt 失败: %v", err)
	}
	if robots != "User-agent: *\nDisallow: /\n" {
		t.Fatalf("停用站点应全面禁爬:\n%s", robots)
	}
}

func TestSEOServiceFeed(t *testing.T) {
	env := setupSEOTestEnv(t)
	if _, err := env.settings.UpdateSettings(env.site.ID, SiteSettingsInput{
		SiteName:      "主站",
		BaseURL:       "https://blog.example.com",
		FeedItemCount: 2,
	}); err != nil {
		t.Fatalf("写入站点设置失败: %v", err)
	}

	for i := 0; i < 3; i++ {
		env.publishArticle(t, fmt.Sprintf("# 第 %d 篇\n\n**加粗**正文", i), func(input *ArticleInput) {
			input.Slug = fmt.Sprintf("post-%d", i)
		})
	}

	body, err := env.seo.Feed(env.site.ID)
	if err != nil {
		t.Fatalf("生成 RSS 失败: %v", err)
	}
	feed := string(body)

	if !strings.Contains(feed, `<rss version="2.0">`) {
		t.Fatalf("缺少 rss 声明:\n%s", feed)
	}
	if !strings.Contains(feed, "<title>主站</title>") {
		t.Fatalf("缺少频道标题:\n%s", feed)
	}
	if got := strings.Count(feed, "<item>"); got != 2 {
		t.Fatalf("条目数应受 FeedItemCount 限制, got %d:\n%s", got, feed)
	}
	// 渲染后的 HTML 以转义形式进入 description
	if !strings.Contains(feed, "&lt;strong&gt;加粗&lt;/strong&gt;") {
		t.Fatalf("条目应包含渲染后的正文:\n%s", feed)
	}
	if !strings.Contains(feed, "<link>https://blog.example.com/articles/post-") {
		t.Fatalf("条目链接应为绝对地址:\n%s", feed)
	}
}

func TestSEOServiceArticleMeta(t *testing.T) {
	env := setupSEOTestEnv(t)
	if _, err := env.settings.UpdateSettings(env.site.ID, SiteSettingsInput{
		SiteName:       "主站",
		BaseURL:        "https://blog.example.com",
		SocialImageURL: "https://cdn.example.com/default.png",
	}); err != nil {
		t.Fatalf("写入站点设置失败: %v", err)
	}

	publication := env.publishArticle(t, "# 派生标题\n\n正文", func(input *ArticleInput) {
		input.Slug = "derived"
		input.Summary = "这是摘要"
	})

	meta, err := env.seo.ArticleMeta(env.site.ID, publication.Slug)
	if err != nil {
		t.Fatalf("组装文章元数据失败: %v", err)
	}
	if meta.Title != "派生标题" {
		t.Fatalf("未设置 MetaTitle 时应回退派生标题, got %q", meta.Title)
	}
	if meta.Description != "这是摘要" {
		t.Fatalf("描述应回退摘要, got %q", meta.Description)
	}
	if meta.Canonical != "https://blog.example.com/articles/derived" {
		t.Fatalf("canonical 不符: %s", meta.Canonical)
	}
	if meta.OGImage != "https://cdn.example.com/default.png" {
		t.Fatalf("无封面时应回退默认分享图, got %s", meta.OGImage)
	}
	if meta.OGType != "article" || meta.NoIndex {
		t.Fatalf("元数据属性不符: %+v", meta)
	}
	if meta.JSONLD["@type"] != "Article" || meta.JSONLD["headline"] != "派生标题" {
		t.Fatalf("JSON-LD 不符: %+v", meta.JSONLD)
	}
	author, ok := meta.JSONLD["author"].(map[string]interface{})
	if !ok || author["name"] != "编辑小张" {
		t.Fatalf("JSON-LD 作者不符: %+v", meta.JSONLD["author"])
	}

	// 覆盖值优先
	overridden := env.publishArticle(t, "# 原始标题\n\n正文", func(input *ArticleInput) {
		input.Slug = "override"
		input.MetaTitle = "覆盖标题"
		input.MetaDescription = "覆盖描述"
		input.CanonicalURL = "https://elsewhere.example.com/canonical"
	})
	meta, err = env.seo.ArticleMeta(env.site.ID, overridden.Slug)
	if err != nil {
		t.Fatalf("组装覆盖元数据失败: %v", err)
	}
	if meta.Title != "覆盖标题" || meta.Description != "覆盖描述" {
		t.Fatalf("覆盖值未生效: %+v", meta)
	}
	if meta.Canonical != "https://elsewhere.example.com/canonical" {
		t.Fatalf("canonical 覆盖未生效: %s", meta.Canonical)
	}
}

func TestSEOServiceSiteMeta(t *testing.T) {
	env := setupSEOTestEnv(t)
	sites := NewSiteService(env.db)

	if _, err := sites.CreateLink(env.site.ID, SiteLinkInput{Platform: "github", Label: "GitHub", URL: "https://github.com/presshub"}); err != nil {
		t.Fatalf("创建站点链接失败: %v", err)
	}
	hidden := false
	if _, err := sites.CreateLink(env.site.ID, SiteLinkInput{Platform: "x", Label: "X", URL: "https://x.com/presshub", Visible: &hidden}); err != nil {
		t.Fatalf("创建隐藏链接失败: %v", err)
	}

	meta, err := env.seo.SiteMeta(env.site.ID)
	if err != nil {
		t.Fatalf("组装站点元数据失败: %v", err)
	}
	if meta.OGType != "website" || meta.Title == "" {
		t.Fatalf("站点元数据不符: %+v", meta)
	}
	sameAs, ok := meta.JSONLD["sameAs"].([]string)
	if !ok || len(sameAs) != 1 || sameAs[0] != "https://github.com/presshub" {
		t.Fatalf("sameAs 应只含可见链接: %+v", meta.JSONLD["sameAs"])
	}
	if meta.JSONLD["@type"] != "WebSite" {
		t.Fatalf("JSON-LD 类型不符: %+v", meta.JSONLD)
	}
}

func TestSEOServiceRedirects(t *testing.T) {
	env := setupSEOTestEnv(t)
	seo := env.seo

	redirect, err := seo.CreateRedirect(env.site.ID, RedirectInput{FromPath: "old-post/", ToPath: "/articles/new-post"})
	if err != nil {
		t.Fatalf("创建重定向失败: %v", err)
	}
	if redirect.FromPath != "/old-post" || redirect.StatusCode != 301 {
		t.Fatalf("路径归一化或默认状态码不符: %+v", redirect)
	}

	if _, err := seo.CreateRedirect(env.site.ID, RedirectInput{FromPath: "/old-post", ToPath: "/elsewhere"}); !errors.Is(err, ErrRedirectExists) {
		t.Fatalf("重复来源应返回 ErrRedirectExists, got %v", err)
	}
	if _, err := seo.CreateRedirect(env.site.ID, RedirectInput{FromPath: "/loop", ToPath: "/loop"}); !errors.Is(err, ErrRedirectLoop) {
		t.Fatalf("自指应返回 ErrRedirectLoop, got %v", err)
	}
	if _, err := seo.CreateRedirect(env.site.ID, RedirectInput{FromPath: "/articles/new-post", ToPath: "/old-post"}); !errors.Is(err, ErrRedirectLoop) {
		t.Fatalf("两跳回环应返回 ErrRedirectLoop, got %v", err)
	}
	if _, err := seo.CreateRedirect(env.site.ID, RedirectInput{FromPath: "/bad", ToPath: "/x", StatusCode: 303}); !errors.Is(err, ErrRedirectInvalid) {
		t.Fatalf("非法状态码应返回 ErrRedirectInvalid, got %v", err)
	}

	resolved, err := seo.ResolveRedirect(env.site.ID, "/old-post?utm_source=a")
	if err != nil {
		t.Fatalf("解析重定向失败: %v", err)
	}
	if resolved.ToPath != "/articles/new-post" {
		t.Fatalf("重定向目标不符: %s", resolved.ToPath)
	}
	if _, err := seo.ResolveRedirect(env.site.ID, "/old-post"); err != nil {
		t.Fatalf("再次解析失败: %v", err)
	}

	var stored db.Redirect
	if err := env.db.First(&stored, redirect.ID).Error; err != nil {
		t.Fatalf("读取重定向失败: %v", err)
	}
	if stored.Hits != 2 {
		t.Fatalf("命中数应为 2, got %d", stored.Hits)
	}

	if _, err := seo.ResolveRedirect(env.site.ID, "/missing"); !errors.Is(err, ErrRedirectNotFound) {
		t.Fatalf("未命中应返回 ErrRedirectNotFound, got %v", err)
	}
	if err := seo.DeleteRedirect(env.site.ID, redirect.ID); err != nil {
		t.Fatalf("删除重定向失败: %v", err)
	}
	if _, err := seo.ResolveRedirect(env.site.ID, "/old-post"); !errors.Is(err, ErrRedirectNotFound) {
		t.Fatalf("删除后不应再命中, got %v", err)
	}
}

func TestSEOServiceCheckSlug(t *testing.T) {
	env := setupSEOTestEnv(t)

	env.publishArticle(t, "# 已有文章\n\n正文", func(input *ArticleInput) {
		input.Slug = "taken-article"
	})
	if _, err := env.pages.Save(env.site.ID, PageInput{Slug: "taken-page", Content: "# 页面\n\n内容"}); err != nil {
		t.Fatalf("创建页面失败: %v", err)
	}

	cases := []struct {
		slug string
		want bool
	}{
		{"fresh-slug", true},
		{"taken-article", false},
		{"taken-page", false},
		{"admin", false},
		{"sitemap.xml", false},
		{"", false},
	}
	for _, tc := range cases {
		got, err := env.seo.CheckSlug(env.site.ID, tc.slug)
		if err != nil {
			t.Fatalf("检查 slug %q 出错: %v", tc.slug, err)
		}
		if got != tc.want {
			t.Fatalf("slug %q 可用性应为 %v, got %v", tc.slug, tc.want, got)
		}
	}
}
