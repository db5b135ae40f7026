package router

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/presshub/internal/config"
	"github.com/presshub/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由。公开端按 Host 解析站点，
// 后台在路径中显式携带站点ID。
func SetupRouter(api *handler.API, cfg config.AppConfig, registry *prometheus.Registry) *gin.Engine {
	r := gin.Default()

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	r.Use(sessions.Sessions(handler.SessionCookieName, store))

	if cfg.UploadDir != "" {
		r.Static(cfg.UploadURLPath, cfg.UploadDir)
	}

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := api.DB().DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	registerPublicRoutes(r, api)
	registerAdminRoutes(r, api)

	// 未注册路径先查站点重定向规则，便于迁移旧站的历史链接
	r.NoRoute(api.ResolveSite(), api.ApplyRedirects(), func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "资源不存在"})
	})
	return r
}

func registerPublicRoutes(r *gin.Engine, api *handler.API) {
	// sitemap/robots/feed 挂在根路径，站点同样按 Host 解析
	seo := r.Group("/")
	seo.Use(api.ResolveSite(), api.EnsureVisitorID(), api.LocaleMiddleware())
	{
		seo.GET("/sitemap.xml", api.PageCache(handler.CacheFeed), api.GetSitemap)
		seo.GET("/robots.txt", api.GetRobotsTxt)
		seo.GET("/feed.xml", api.PageCache(handler.CacheFeed), api.GetFeed)
	}

	pub := r.Group("/api")
	pub.Use(api.ResolveSite(), api.EnsureVisitorID(), api.LocaleMiddleware(), api.ApplyRedirects())
	{
		pub.GET("/site", api.PageCache(handler.CacheListing), api.GetSiteInfo)
		pub.GET("/meta", api.GetSiteMeta)

		pub.GET("/articles", api.PageCache(handler.CacheListing), api.GetPublishedArticles)
		pub.GET("/articles/:slug", api.PageCache(handler.CacheArticle), api.GetPublishedArticle)
		pub.POST("/articles/:slug/view", api.TrackArticleView)
		pub.GET("/articles/:slug/meta", api.GetArticleMeta)
		pub.GET("/articles/:slug/comments", api.GetArticleComments)
		pub.POST("/articles/:slug/comments", api.SubmitComment)
		pub.GET("/articles/:slug/reactions", api.GetArticleReactions)
		pub.POST("/articles/:slug/reactions", api.ReactToArticle)
		pub.DELETE("/articles/:slug/reactions", api.RemoveArticleReaction)

		pub.GET("/categories", api.PageCache(handler.CacheListing), api.GetPublicCategories)
		pub.GET("/tags", api.PageCache(handler.CacheListing), api.GetPublicTags)
		pub.GET("/pages/:slug", api.PageCache(handler.CacheArticle), api.GetPublicPage)
		pub.GET("/media", api.PageCache(handler.CacheListing), api.GetPublicMedia)

		pub.POST("/subscribe", api.Subscribe)
		pub.GET("/subscribe/confirm", api.ConfirmSubscription)
		pub.GET("/subscribe/unsubscribe", api.Unsubscribe)

		pub.GET("/ads/slot/:slotKey", api.ServeAd)
		pub.POST("/ads/impression", api.RecordAdImpression)
		pub.GET("/ads/click/:creativeID", api.ClickAd)
	}
}

func registerAdminRoutes(r *gin.Engine, api *handler.API) {
	admin := r.Group("/admin/api")

	admin.POST("/login", api.Login)

	auth := admin.Group("")
	auth.Use(api.AuthRequired())
	{
		auth.POST("/token", api.IssueToken)
		auth.POST("/logout", api.Logout)
		auth.GET("/me", api.Me)
		auth.PUT("/password", api.ChangePassword)

		auth.GET("/sites", api.GetSites)

		// 站点的增删改与全局缓存操作只开放给管理员
		root := auth.Group("")
		root.Use(api.AdminRequired())
		{
			root.POST("/sites", api.CreateSite)
			root.PUT("/sites/:siteID", api.UpdateSite)
			root.DELETE("/sites/:siteID", api.DeleteSite)
			root.PUT("/sites/:siteID/status", api.SetSiteStatus)
			root.GET("/sites/:siteID/domains", api.GetSiteDomains)
			root.POST("/sites/:siteID/domains", api.AddSiteDomain)
			root.DELETE("/sites/:siteID/domains", api.RemoveSiteDomain)

			root.GET("/cache/stats", api.GetCacheStats)
			root.POST("/cache/purge", api.PurgeCache)
		}

		site := auth.Group("/sites/:siteID")
		{
			site.GET("", api.GetSite)

			site.GET("/dashboard", api.GetDashboard)
			site.GET("/dashboard/traffic", api.GetTrafficTrend)

			site.GET("/articles", api.GetArticles)
			site.POST("/articles", api.CreateArticle)
			site.GET("/articles/slug-check", api.CheckArticleSlug)
			site.GET("/articles/:id", api.GetArticle)
			site.PUT("/articles/:id", api.UpdateArticle)
			site.DELETE("/articles/:id", api.DeleteArticle)
			site.POST("/articles/:id/publish", api.PublishArticle)
			site.POST("/articles/:id/schedule", api.ScheduleArticle)
			site.DELETE("/articles/:id/schedule", api.CancelSchedule)
			site.POST("/articles/:id/archive", api.ArchiveArticle)
			site.POST("/articles/:id/unarchive", api.UnarchiveArticle)
			site.PUT("/articles/:id/summary", api.UpdateArticleSummary)
			site.POST("/articles/:id/summary/generate", api.GenerateArticleSummary)
			site.POST("/articles/:id/meta/suggest", api.SuggestMetaDescription)
			site.GET("/articles/:id/revisions", api.GetArticleRevisions)
			site.POST("/articles/:id/revisions/:revisionID/restore", api.RestoreArticleRevision)

			site.GET("/categories", api.GetCategories)
			site.GET("/categories/tree", api.GetCategoryTree)
			site.POST("/categories", api.CreateCategory)
			site.PUT("/categories/reorder", api.ReorderCategories)
			site.PUT("/categories/:id", api.UpdateCategory)
			site.DELETE("/categories/:id", api.DeleteCategory)

			site.GET("/tags", api.GetTags)
			site.GET("/tags/usage", api.GetTagUsage)
			site.POST("/tags", api.CreateTag)
			site.PUT("/tags/reorder", api.ReorderTags)
			site.PUT("/tags/:id", api.UpdateTag)
			site.DELETE("/tags/:id", api.DeleteTag)

			site.GET("/pages", api.GetPages)
			site.PUT("/pages", api.SavePage)
			site.GET("/pages/:slug", api.GetPage)
			site.DELETE("/pages/:slug", api.DeletePage)

			site.GET("/media", api.GetMediaItems)
			site.POST("/media", api.UploadMedia)
			site.PUT("/media/:id", api.UpdateMediaItem)
			site.DELETE("/media/:id", api.DeleteMediaItem)

			site.GET("/comments", api.GetCommentsForModeration)
			site.PUT("/comments/:id/status", api.SetCommentStatus)
			site.DELETE("/comments/:id", api.DeleteComment)

			site.GET("/subscribers", api.GetSubscribers)
			site.GET("/subscribers/stats", api.GetSubscriberStats)
			site.GET("/subscribers/:id", api.GetSubscriber)
			site.DELETE("/subscribers/:id", api.DeleteSubscriber)
			site.POST("/subscribers/:id/tags", api.AddSubscriberTag)
			site.DELETE("/subscribers/:id/tags", api.RemoveSubscriberTag)

			site.GET("/workflows", api.GetWorkflows)
			site.POST("/workflows", api.CreateWorkflow)
			site.GET("/workflows/:id", api.GetWorkflow)
			site.PUT("/workflows/:id", api.UpdateWorkflow)
			site.DELETE("/workflows/:id", api.DeleteWorkflow)
			site.POST("/workflows/:id/activate", api.ActivateWorkflow)
			site.POST("/workflows/:id/pause", api.PauseWorkflow)
			site.POST("/workflows/:id/enroll", api.EnrollSubscriber)
			site.GET("/workflows/:id/enrollments", api.GetEnrollments)
			site.DELETE("/enrollments/:enrollmentID", api.CancelEnrollment)
			site.POST("/automation/run", api.RunAutomationNow)

			site.GET("/outbox", api.GetOutboxMessages)
			site.POST("/outbox/requeue", api.RequeueFailedEmails)

			site.GET("/ad-slots", api.GetAdSlots)
			site.POST("/ad-slots", api.CreateAdSlot)
			site.PUT("/ad-slots/:id", api.UpdateAdSlot)
			site.DELETE("/ad-slots/:id", api.DeleteAdSlot)

			site.GET("/ad-campaigns", api.GetAdCampaigns)
			site.POST("/ad-campaigns", api.CreateAdCampaign)
			site.PUT("/ad-campaigns/:id", api.UpdateAdCampaign)
			site.PUT("/ad-campaigns/:id/status", api.SetAdCampaignStatus)
			site.DELETE("/ad-campaigns/:id", api.DeleteAdCampaign)
			site.GET("/ad-campaigns/:id/stats", api.GetAdCampaignStats)
			site.GET("/ad-campaigns/:id/creatives", api.GetAdCreatives)
			site.POST("/ad-campaigns/:id/creatives", api.CreateAdCreative)
			site.PUT("/ad-creatives/:creativeID", api.UpdateAdCreative)
			site.PUT("/ad-creatives/:creativeID/status", api.SetAdCreativeStatus)
			site.DELETE("/ad-creatives/:creativeID", api.DeleteAdCreative)

			site.GET("/redirects", api.GetRedirects)
			site.POST("/redirects", api.CreateRedirect)
			site.PUT("/redirects/:id", api.UpdateRedirect)
			site.DELETE("/redirects/:id", api.DeleteRedirect)

			site.GET("/settings", api.GetSiteSettings)
			site.PUT("/settings", api.UpdateSiteSettings)
			site.POST("/settings/ai-test", api.TestAIConnection)

			site.POST("/cache/invalidate", api.InvalidateSiteCache)
		}
	}
}
