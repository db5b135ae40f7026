package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
)

type categoryRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name" binding:"required"`
	NameEn      string `json:"name_en"`
	Description string `json:"description"`
	ParentID    *uint  `json:"parent_id"`
}

type reorderRequest struct {
	ParentID *uint  `json:"parent_id"`
	IDs      []uint `json:"ids" binding:"required"`
}

func categoryPayload(category db.Category) gin.H {
	return gin.H{
		"id":            category.ID,
		"slug":          category.Slug,
		"name":          category.Name,
		"name_en":       category.NameEn,
		"description":   category.Description,
		"parent_id":     category.ParentID,
		"sort_order":    category.SortOrder,
		"article_count": category.ArticleCount,
	}
}

func categoryTreePayload(nodes []*service.CategoryNode) []gin.H {
	items := make([]gin.H, 0, len(nodes))
	for _, node := range nodes {
		item := categoryPayload(node.Category)
		item["children"] = categoryTreePayload(node.Children)
		items = append(items, item)
	}
	return items
}

func respondCategoryError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrCategoryNotFound):
		respondError(c, http.StatusNotFound, "分类不存在")
	case errors.Is(err, service.ErrCategorySlugExists):
		respondError(c, http.StatusBadRequest, "slug 已被占用")
	case errors.Is(err, service.ErrCategorySlugInvalid):
		respondError(c, http.StatusBadRequest, "slug 格式不合法")
	case errors.Is(err, service.ErrCategoryNameRequired):
		respondError(c, http.StatusBadRequest, "分类名称不能为空")
	case errors.Is(err, service.ErrCategoryParentInvalid):
		respondError(c, http.StatusBadRequest, "父级分类不合法")
	case errors.Is(err, service.ErrCategoryTooDeep):
		respondError(c, http.StatusBadRequest, "分类层级超出限制")
	case errors.Is(err, service.ErrCategoryInUse):
		respondError(c, http.StatusBadRequest, "分类下仍有子分类，无法删除")
	case errors.Is(err, service.ErrCategoryOrder):
		respondError(c, http.StatusBadRequest, "排序参数不合法")
	default:
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

// GetCategories 获取分类平铺列表，附带文章计数
func (a *API) GetCategories(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	categories, err := a.categories.List(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取分类列表失败")
		return
	}
	items := make([]gin.H, 0, len(categories))
	for _, category := range categories {
		items = append(items, categoryPayload(category))
	}
	c.JSON(http.StatusOK, gin.H{"categories": items})
}

// GetCategoryTree 获取分类树
func (a *API) GetCategoryTree(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	tree, err := a.categories.Tree(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取分类树失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categoryTreePayload(tree)})
}

// CreateCategory 创建分类
func (a *API) CreateCategory(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req categoryRequest
	if !bindJSON(c, &req, "分类名称不能为空") {
		return
	}

	category, err := a.categories.Create(siteID, service.CategoryInput{
		Slug:        req.Slug,
		Name:        req.Name,
		NameEn:      req.NameEn,
		Description: req.Description,
		ParentID:    req.ParentID,
	})
	if err != nil {
		respondCategoryError(c, err, "创建分类失败")
		return
	}

	a.invalidateListingPages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "分类创建成功", "category": categoryPayload(*category)})
}

// UpdateCategory 更新分类
func (a *API) UpdateCategory(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的分类ID")
		return
	}
	var req categoryRequest
	if !bindJSON(c, &req, "分类名称不能为空") {
		return
	}

	category, err := a.categories.Update(siteID, id, service.CategoryInput{
		Slug:        req.Slug,
		Name:        req.Name,
		NameEn:      req.NameEn,
		Description: req.Description,
		ParentID:    req.ParentID,
	})
	if err != nil {
		respondCategoryError(c, err, "更新分类失败")
		return
	}

	a.invalidateListingPages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "分类更新成功", "category": categoryPayload(*category)})
}

// DeleteCategory 删除分类，要求分类下没有文章和子分类
func (a *API) DeleteCategory(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的分类ID")
		return
	}

	if err := a.categories.Delete(siteID, id); err != nil {
		respondCategoryError(c, err, "删除分类失败")
		return
	}

	a.invalidateListingPages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "分类已删除"})
}

// ReorderCategories 调整同级分类的显示顺序
func (a *API) ReorderCategories(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req reorderRequest
	if !bindJSON(c, &req, "必须提供排序ID列表") {
		return
	}

	if err := a.categories.Reorder(siteID, req.ParentID, req.IDs); err != nil {
		respondCategoryError(c, err, "调整分类顺序失败")
		return
	}

	a.invalidateListingPages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "分类顺序已更新"})
}
