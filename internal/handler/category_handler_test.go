package handler

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
)

func TestCreateCategoryNested(t *testing.T) {
	api, site, user, cleanup := setupHandlerTest(t)
	defer cleanup()

	w := httptest.NewRecorder()
	c := newAdminContext(w, jsonRequest(t, http.MethodPost, "/admin/api/sites/1/categories", map[string]any{
		"name": "技术",
		"slug": "tech",
	}), site, user)
	api.CreateCategory(c)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d (body=%s)", w.Code, w.Body.String())
	}

	var parent db.Category
	if err := api.db.Where("slug = ?", "tech").First(&parent).Error; err != nil {
		t.Fatalf("读取父分类失败: %v", err)
	}

	w = httptest.NewRecorder()
	c = newAdminContext(w, jsonRequest(t, http.MethodPost, "/admin/api/sites/1/categories", map[string]any{
		"name":      "后端",
		"slug":      "backend",
		"parent_id": parent.ID,
	}), site, user)
	api.CreateCategory(c)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d (body=%s)", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	c = newAdminContext(w, httptest.NewRequest(http.MethodGet, "/admin/api/sites/1/categories/tree", nil), site, user)
	api.GetCategoryTree(c)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d", w.Code)
	}
	body := decodeBody(t, w)
	tree, _ := body["categories"].([]any)
	if len(tree) != 1 {
		t.Fatalf("期望 1 个根分类，实际 %d", len(tree))
	}
	root, _ := tree[0].(map[string]any)
	children, _ := root["children"].([]any)
	if len(children) != 1 {
		t.Fatalf("期望 1 个子分类，实际 %d", len(children))
	}
}

func TestCreateCategoryDuplicateSlug(t *testing.T) {
	api, site, user, cleanup := setupHandlerTest(t)
	defer cleanup()

	svc := service.NewCategoryService(api.db)
	if _, err := svc.Create(site.ID, service.CategoryInput{Name: "技术", Slug: "tech"}); err != nil {
		t.Fatalf("创建分类失败: %v", err)
	}

	w := httptest.NewRecorder()
	c := newAdminContext(w, jsonRequest(t, http.MethodPost, "/admin/api/sites/1/categories", map[string]any{
		"name": "另一个技术",
		"slug": "tech",
	}), site, user)
	api.CreateCategory(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("期望 400，实际 %d", w.Code)
	}
}

func TestDeleteCategoryReparentsArticles(t *testing.T) {
	api, site, user, cleanup := setupHandlerTest(t)
	defer cleanup()

	svc := service.NewCategoryService(api.db)
	category, err := svc.Create(site.ID, service.CategoryInput{Name: "技术", Slug: "tech"})
	if err != nil {
		t.Fatalf("创建分类失败: %v", err)
	}

	articles := service.NewArticleService(api.db)
	article, err := articles.Create(site.ID, service.ArticleInput{
		Content:    "# 占用分类\n\n正文",
		CategoryID: &category.ID,
		UserID:     user.ID,
	})
	if err != nil {
		t.Fatalf("创建文章失败: %v", err)
	}

	w := httptest.NewRecorder()
	c := newAdminContext(w, httptest.NewRequest(http.MethodDelete, "/admin/api/sites/1/categories/1", nil), site, user)
	c.Params = append(c.Params, gin.Param{Key: "id", Value: strconv.FormatUint(uint64(category.ID), 10)})
	api.DeleteCategory(c)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d (body=%s)", w.Code, w.Body.String())
	}

	var reloaded db.Article
	if err := api.db.First(&reloaded, article.ID).Error; err != nil {
		t.Fatalf("读取文章失败: %v", err)
	}
	if reloaded.CategoryID != nil {
		t.Fatalf("删除分类后文章应归到未分类，实际 %v", *reloaded.CategoryID)
	}
}

func TestDeleteCategoryBlockedByChildren(t *testing.T) {
	api, site, user, cleanup := setupHandlerTest(t)
	defer cleanup()

	svc := service.NewCategoryService(api.db)
	parent, err := svc.Create(site.ID, service.CategoryInput{Name: "技术", Slug: "tech"})
	if err != nil {
		t.Fatalf("创建分类失败: %v", err)
	}
	if _, err := svc.Create(site.ID, service.CategoryInput{Name: "后端", Slug: "backend", ParentID: &parent.ID}); err != nil {
		t.Fatalf("创建子分类失败: %v", err)
	}

	w := httptest.NewRecorder()
	c := newAdminContext(w, httptest.NewRequest(http.MethodDelete, "/admin/api/sites/1/categories/1", nil), site, user)
	c.Params = append(c.Params, gin.Param{Key: "id", Value: strconv.FormatUint(uint64(parent.ID), 10)})
	api.DeleteCategory(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("期望 400，实际 %d", w.Code)
	}
}

func TestReorderCategories(t *testing.T) {
	api, site, user, cleanup := setupHandlerTest(t)
	defer cleanup()

	svc := service.NewCategoryService(api.db)
	first, err := svc.Create(site.ID, service.CategoryInput{Name: "甲", Slug: "jia"})
	if err != nil {
		t.Fatalf("创建分类失败: %v", err)
	}
	second, err := svc.Create(site.ID, service.CategoryInput{Name: "乙", Slug: "yi"})
	if err != nil {
		t.Fatalf("创建分类失败: %v", err)
	}

	w := httptest.NewRecorder()
	c := newAdminContext(w, jsonRequest(t, http.MethodPut, "/admin/api/sites/1/categories/reorder", map[string]any{
		"ids": []uint{second.ID, first.ID},
	}), site, user)
	api.ReorderCategories(c)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d (body=%s)", w.Code, w.Body.String())
	}

	var reloaded db.Category
	if err := api.db.First(&reloaded, second.ID).Error; err != nil {
		t.Fatalf("读取分类失败: %v", err)
	}
	if reloaded.SortOrder != 0 {
		t.Fatalf("期望排到第一位，实际 sort_order=%d", reloaded.SortOrder)
	}
}
