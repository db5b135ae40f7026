package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/service"
)

type pageRequest struct {
	Slug     string `json:"slug" binding:"required"`
	Title    string `json:"title"`
	Content  string `json:"content" binding:"required"`
	Language string `json:"language"`
	Status   string `json:"status"`
}

// GetPages 获取站点下全部独立页面
func (a *API) GetPages(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	pages, err := a.pages.List(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取页面列表失败")
		return
	}

	items := make([]gin.H, 0, len(pages))
	for _, page := range pages {
		items = append(items, gin.H{
			"id":         page.ID,
			"slug":       page.Slug,
			"title":      page.Title,
			"language":   page.Language,
			"status":     page.Status,
			"updated_at": page.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"pages": items})
}

// GetPage 获取单个页面详情
func (a *API) GetPage(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	slug := c.Param("slug")

	page, err := a.pages.GetBySlug(siteID, slug)
	if err != nil {
		if errors.Is(err, service.ErrPageNotFound) {
			respondError(c, http.StatusNotFound, "页面不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "获取页面失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"page": gin.H{
		"id":         page.ID,
		"slug":       page.Slug,
		"title":      page.Title,
		"summary":    page.Summary,
		"content":    page.Content,
		"language":   page.Language,
		"status":     page.Status,
		"updated_at": page.UpdatedAt,
	}})
}

// SavePage 按 slug 创建或更新页面
func (a *API) SavePage(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req pageRequest
	if !bindJSON(c, &req, "页面 slug 和正文不能为空") {
		return
	}

	page, err := a.pages.Save(siteID, service.PageInput{
		Slug:     req.Slug,
		Title:    req.Title,
		Content:  req.Content,
		Language: req.Language,
		Status:   req.Status,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPageSlugInvalid):
			respondError(c, http.StatusBadRequest, "slug 格式不合法")
		case errors.Is(err, service.ErrPageContentMissing):
			respondError(c, http.StatusBadRequest, "页面正文不能为空")
		default:
			respondError(c, http.StatusInternalServerError, "保存页面失败")
		}
		return
	}

	a.invalidateListingPages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "页面已保存", "page": gin.H{"id": page.ID, "slug": page.Slug, "status": page.Status}})
}

// DeletePage 删除页面
func (a *API) DeletePage(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	slug := c.Param("slug")

	if err := a.pages.Delete(siteID, slug); err != nil {
		if errors.Is(err, service.ErrPageNotFound) {
			respondError(c, http.StatusNotFound, "页面不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "删除页面失败")
		return
	}

	a.invalidateListingPages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "页面已删除"})
}
