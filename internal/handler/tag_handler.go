package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/service"
)

type tagRequest struct {
	Name   string `json:"name" binding:"required"`
	NameEn string `json:"name_en"`
}

func respondTagError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrTagNotFound):
		respondError(c, http.StatusNotFound, "标签不存在")
	case errors.Is(err, service.ErrTagExists):
		respondError(c, http.StatusBadRequest, "标签已存在")
	case errors.Is(err, service.ErrTagInUse):
		respondError(c, http.StatusBadRequest, "标签仍被文章使用，无法删除")
	case errors.Is(err, service.ErrTagOrder):
		respondError(c, http.StatusBadRequest, "排序参数不合法")
	default:
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

// GetTags 获取标签列表，附带文章计数
func (a *API) GetTags(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	tags, err := a.tags.List(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取标签列表失败")
		return
	}

	items := make([]gin.H, 0, len(tags))
	for _, tag := range tags {
		items = append(items, gin.H{
			"id":            tag.ID,
			"name":          tag.Name,
			"name_en":       tag.NameEn,
			"sort_order":    tag.SortOrder,
			"article_count": tag.ArticleCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tags": items})
}

// GetTagUsage 获取标签在已发布文章中的使用统计
func (a *API) GetTagUsage(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	usage, err := a.tags.PublishedUsage(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取标签统计失败")
		return
	}

	items := make([]gin.H, 0, len(usage))
	for _, entry := range usage {
		items = append(items, gin.H{"id": entry.ID, "name": entry.Name, "count": entry.Count})
	}
	c.JSON(http.StatusOK, gin.H{"tags": items})
}

// CreateTag 创建标签
func (a *API) CreateTag(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req tagRequest
	if !bindJSON(c, &req, "标签名称不能为空") {
		return
	}

	tag, err := a.tags.Create(siteID, service.TagInput{Name: req.Name, NameEn: req.NameEn})
	if err != nil {
		respondTagError(c, err, "创建标签失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "标签创建成功", "tag": gin.H{"id": tag.ID, "name": tag.Name, "name_en": tag.NameEn}})
}

// UpdateTag 更新标签名称
func (a *API) UpdateTag(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的标签ID")
		return
	}
	var req tagRequest
	if !bindJSON(c, &req, "标签名称不能为空") {
		return
	}

	tag, err := a.tags.Update(siteID, id, service.TagInput{Name: req.Name, NameEn: req.NameEn})
	if err != nil {
		respondTagError(c, err, "更新标签失败")
		return
	}

	a.invalidateListingPages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "标签更新成功", "tag": gin.H{"id": tag.ID, "name": tag.Name, "name_en": tag.NameEn}})
}

// DeleteTag 删除未被使用的标签
func (a *API) DeleteTag(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的标签ID")
		return
	}

	if err := a.tags.Delete(siteID, id); err != nil {
		respondTagError(c, err, "删除标签失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "标签已删除"})
}

type tagReorderRequest struct {
	IDs []uint `json:"ids" binding:"required"`
}

// ReorderTags 调整标签显示顺序
func (a *API) ReorderTags(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req tagReorderRequest
	if !bindJSON(c, &req, "必须提供排序ID列表") {
		return
	}

	if err := a.tags.Reorder(siteID, req.IDs); err != nil {
		respondTagError(c, err, "调整标签顺序失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "标签顺序已更新"})
}
