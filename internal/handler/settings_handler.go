package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/service"
)

type siteSettingsRequest struct {
	SiteName            string `json:"site_name"`
	BaseURL             string `json:"base_url"`
	DefaultLanguage     string `json:"default_language"`
	CommentsEnabled     bool   `json:"comments_enabled"`
	CommentsAutoApprove bool   `json:"comments_auto_approve"`
	RobotsExtra         string `json:"robots_extra"`
	FeedItemCount       int    `json:"feed_item_count"`
	CacheArticleTTL     int    `json:"cache_article_ttl"`
	CacheListingTTL     int    `json:"cache_listing_ttl"`
	CacheFeedTTL        int    `json:"cache_feed_ttl"`
	SocialImageURL      string `json:"social_image_url"`
	AIProvider          string `json:"ai_provider"`
	OpenAIAPIKey        string `json:"openai_api_key"`
	DeepSeekAPIKey      string `json:"deepseek_api_key"`
}

type testAIConnectionRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key" binding:"required"`
}

// API Key 只回传掩码，避免整串密钥在后台页面里展示
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func settingsPayload(settings service.SiteSettings) gin.H {
	return gin.H{
		"site_name":             settings.SiteName,
		"base_url":              settings.BaseURL,
		"default_language":      settings.DefaultLanguage,
		"comments_enabled":      settings.CommentsEnabled,
		"comments_auto_approve": settings.CommentsAutoApprove,
		"robots_extra":          settings.RobotsExtra,
		"feed_item_count":       settings.FeedItemCount,
		"cache_article_ttl":     settings.CacheArticleTTL,
		"cache_listing_ttl":     settings.CacheListingTTL,
		"cache_feed_ttl":        settings.CacheFeedTTL,
		"social_image_url":      settings.SocialImageURL,
		"ai_provider":           settings.AIProvider,
		"openai_api_key":        maskAPIKey(settings.OpenAIAPIKey),
		"deepseek_api_key":      maskAPIKey(settings.DeepSeekAPIKey),
	}
}

// GetSiteSettings 后台读取站点设置
func (a *API) GetSiteSettings(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	settings, err := a.settings.GetSettings(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取站点设置失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settingsPayload(settings)})
}

// UpdateSiteSettings 后台更新站点设置，随后清掉整个站点的页面缓存
func (a *API) UpdateSiteSettings(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req siteSettingsRequest
	if !bindJSON(c, &req, "设置参数不合法") {
		return
	}

	settings, err := a.settings.UpdateSettings(siteID, service.SiteSettingsInput{
		SiteName:            req.SiteName,
		BaseURL:             req.BaseURL,
		DefaultLanguage:     req.DefaultLanguage,
		CommentsEnabled:     req.CommentsEnabled,
		CommentsAutoApprove: req.CommentsAutoApprove,
		RobotsExtra:         req.RobotsExtra,
		FeedItemCount:       req.FeedItemCount,
		CacheArticleTTL:     req.CacheArticleTTL,
		CacheListingTTL:     req.CacheListingTTL,
		CacheFeedTTL:        req.CacheFeedTTL,
		SocialImageURL:      req.SocialImageURL,
		AIProvider:          req.AIProvider,
		OpenAIAPIKey:        req.OpenAIAPIKey,
		DeepSeekAPIKey:      req.DeepSeekAPIKey,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "保存站点设置失败")
		return
	}

	a.invalidateSitePages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "站点设置已保存", "settings": settingsPayload(settings)})
}

// TestAIConnection 后台校验 AI 平台的 API Key 是否可用
func (a *API) TestAIConnection(c *gin.Context) {
	if _, ok := siteIDParam(c); !ok {
		return
	}
	var req testAIConnectionRequest
	if !bindJSON(c, &req, "必须提供 API Key") {
		return
	}

	if err := a.settings.TestAIConnection(c.Request.Context(), req.Provider, req.APIKey); err != nil {
		if errors.Is(err, service.ErrAIAPIKeyMissing) {
			respondError(c, http.StatusBadRequest, "必须提供 API Key")
			return
		}
		respondError(c, http.StatusBadGateway, "连接 AI 平台失败："+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "连接成功"})
}
