package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/service"
)

type redirectRequest struct {
	FromPath   string `json:"from_path" binding:"required"`
	ToPath     string `json:"to_path" binding:"required"`
	StatusCode int    `json:"status_code"`
}

// GetSitemap 公开端输出 sitemap.xml
func (a *API) GetSitemap(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	payload, err := a.seo.Sitemap(site.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "生成 sitemap 失败")
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", payload)
}

// GetRobotsTxt 公开端输出 robots.txt
func (a *API) GetRobotsTxt(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	payload, err := a.seo.RobotsTxt(site.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "生成 robots.txt 失败")
		return
	}
	c.String(http.StatusOK, payload)
}

// GetFeed 公开端输出 RSS 订阅源
func (a *API) GetFeed(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	payload, err := a.seo.Feed(site.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "生成订阅源失败")
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", payload)
}

// GetArticleMeta 公开端获取文章页的 SEO 元数据
func (a *API) GetArticleMeta(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	slug := c.Param("slug")

	meta, err := a.seo.ArticleMeta(site.ID, slug)
	if err != nil {
		if errors.Is(err, service.ErrPublicationNotFound) {
			respondError(c, http.StatusNotFound, "文章不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "获取元数据失败")
		return
	}
	c.JSON(http.StatusOK, meta)
}

// GetSiteMeta 公开端获取站点首页的 SEO 元数据
func (a *API) GetSiteMeta(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	meta, err := a.seo.SiteMeta(site.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取元数据失败")
		return
	}
	c.JSON(http.StatusOK, meta)
}

// CheckArticleSlug 后台检查 slug 是否可用
func (a *API) CheckArticleSlug(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	slug := strings.TrimSpace(c.Query("slug"))
	if slug == "" {
		respondError(c, http.StatusBadRequest, "必须提供 slug")
		return
	}

	available, err := a.seo.CheckSlug(siteID, slug)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "检查 slug 失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"slug": slug, "available": available})
}

// GetRedirects 后台获取重定向规则列表
func (a *API) GetRedirects(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	redirects, err := a.seo.ListRedirects(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取重定向列表失败")
		return
	}

	items := make([]gin.H, 0, len(redirects))
	for _, redirect := range redirects {
		items = append(items, gin.H{
			"id":          redirect.ID,
			"from_path":   redirect.FromPath,
			"to_path":     redirect.ToPath,
			"status_code": redirect.StatusCode,
			"hits":        redirect.Hits,
		})
	}
	c.JSON(http.StatusOK, gin.H{"redirects": items})
}

func respondRedirectError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrRedirectNotFound):
		respondError(c, http.StatusNotFound, "重定向规则不存在")
	case errors.Is(err, service.ErrRedirectExists):
		respondError(c, http.StatusBadRequest, "该来源路径已有规则")
	case errors.Is(err, service.ErrRedirectLoop):
		respondError(c, http.StatusBadRequest, "规则会造成循环跳转")
	case errors.Is(err, service.ErrRedirectInvalid):
		respondError(c, http.StatusBadRequest, "路径格式不合法")
	default:
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

// CreateRedirect 后台创建重定向规则
func (a *API) CreateRedirect(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req redirectRequest
	if !bindJSON(c, &req, "来源路径和目标路径不能为空") {
		return
	}

	redirect, err := a.seo.CreateRedirect(siteID, service.RedirectInput{
		FromPath:   req.FromPath,
		ToPath:     req.ToPath,
		StatusCode: req.StatusCode,
	})
	if err != nil {
		respondRedirectError(c, err, "创建重定向失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "重定向规则已创建", "redirect": gin.H{
		"id":          redirect.ID,
		"from_path":   redirect.FromPath,
		"to_path":     redirect.ToPath,
		"status_code": redirect.StatusCode,
	}})
}

// UpdateRedirect 后台更新重定向规则
func (a *API) UpdateRedirect(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的规则ID")
		return
	}
	var req redirectRequest
	if !bindJSON(c, &req, "来源路径和目标路径不能为空") {
		return
	}

	redirect, err := a.seo.UpdateRedirect(siteID, id, service.RedirectInput{
		FromPath:   req.FromPath,
		ToPath:     req.ToPath,
		StatusCode: req.StatusCode,
	})
	if err != nil {
		respondRedirectError(c, err, "更新重定向失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "重定向规则已更新", "redirect": gin.H{
		"id":          redirect.ID,
		"from_path":   redirect.FromPath,
		"to_path":     redirect.ToPath,
		"status_code": redirect.StatusCode,
	}})
}

// DeleteRedirect 后台删除重定向规则
func (a *API) DeleteRedirect(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的规则ID")
		return
	}

	if err := a.seo.DeleteRedirect(siteID, id); err != nil {
		respondRedirectError(c, err, "删除重定向失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "重定向规则已删除"})
}
