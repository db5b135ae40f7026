package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetCacheStats 后台查看页面缓存命中情况
func (a *API) GetCacheStats(c *gin.Context) {
	if a.pageCache == nil {
		respondError(c, http.StatusServiceUnavailable, "页面缓存未启用")
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": a.pageCache.Stats()})
}

// PurgeCache 清空整个页面缓存（仅管理员）
func (a *API) PurgeCache(c *gin.Context) {
	if a.pageCache == nil {
		respondError(c, http.StatusServiceUnavailable, "页面缓存未启用")
		return
	}
	a.pageCache.Purge(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "缓存已清空"})
}

// InvalidateSiteCache 按站点失效页面缓存
func (a *API) InvalidateSiteCache(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	if a.pageCache == nil {
		respondError(c, http.StatusServiceUnavailable, "页面缓存未启用")
		return
	}
	a.invalidateSitePages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "站点缓存已失效"})
}
