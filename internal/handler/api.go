package handler

import (
	"github.com/presshub/internal/automation"
	"github.com/presshub/internal/cache"
	"github.com/presshub/internal/config"
	"github.com/presshub/internal/service"
	"gorm.io/gorm"
)

// API 聚合全部 HTTP 处理器共享的依赖。
type API struct {
	db          *gorm.DB
	sites       *service.SiteService
	settings    *service.SiteSettingService
	articles    *service.ArticleService
	categories  *service.CategoryService
	tags        *service.TagService
	pages       *service.PageService
	media       *service.MediaService
	comments    *service.CommentService
	subscribers *service.SubscriberService
	workflows   *service.WorkflowService
	outbox      *service.OutboxService
	ads         *service.AdService
	analytics   *service.AnalyticsService
	seo         *service.SEOService
	renderer    *service.ContentRenderer
	summaries   service.SummaryGenerator
	metaAI      service.MetaSuggester
	engine      *automation.Engine
	pageCache   cache.Store
	cacheCfg    config.CacheConfig
	jwtSecret   []byte
}

// NewAPI 构造处理器集合。engine 或 store 传 nil 时对应能力被禁用。
func NewAPI(gdb *gorm.DB, cfg config.AppConfig, engine *automation.Engine, store cache.Store) *API {
	settings := service.NewSiteSettingService(gdb)
	renderer := service.NewContentRenderer()
	articles := service.NewArticleService(gdb)
	pages := service.NewPageService(gdb)

	return &API{
		db:          gdb,
		sites:       service.NewSiteService(gdb),
		settings:    settings,
		articles:    articles,
		categories:  service.NewCategoryService(gdb),
		tags:        service.NewTagService(gdb),
		pages:       pages,
		media:       service.NewMediaService(gdb, cfg.UploadDir, cfg.UploadURLPath),
		comments:    service.NewCommentService(gdb, renderer, settings),
		subscribers: service.NewSubscriberService(gdb),
		workflows:   service.NewWorkflowService(gdb),
		outbox:      service.NewOutboxService(gdb, nil),
		ads:         service.NewAdService(gdb),
		analytics:   service.NewAnalyticsService(gdb),
		seo:         service.NewSEOService(gdb, articles, pages, settings, renderer),
		renderer:    renderer,
		summaries:   service.NewAISummaryService(settings),
		metaAI:      service.NewAISEOService(settings),
		engine:      engine,
		pageCache:   store,
		cacheCfg:    cfg.Cache,
		jwtSecret:   []byte(cfg.JWTSecret),
	}
}

// DB 暴露底层 gorm 实例，供路由层做健康检查。
func (a *API) DB() *gorm.DB {
	return a.db
}
