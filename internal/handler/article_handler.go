package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
)

type articleRequest struct {
	Slug               string `json:"slug"`
	Content            string `json:"content" binding:"required"`
	Summary            string `json:"summary"`
	Language           string `json:"language"`
	TranslationGroupID uint   `json:"translation_group_id"`
	CategoryID         *uint  `json:"category_id"`
	TagIDs             []uint `json:"tag_ids"`
	CoverURL           string `json:"cover_url"`
	CoverWidth         int    `json:"cover_width"`
	CoverHeight        int    `json:"cover_height"`
	MetaTitle          string `json:"meta_title"`
	MetaDescription    string `json:"meta_description"`
	CanonicalURL       string `json:"canonical_url"`
	OGImageURL         string `json:"og_image_url"`
	NoIndex            bool   `json:"no_index"`
}

func (r articleRequest) toInput(userID uint) service.ArticleInput {
	return service.ArticleInput{
		Slug:               r.Slug,
		Content:            r.Content,
		Summary:            r.Summary,
		Language:           r.Language,
		TranslationGroupID: r.TranslationGroupID,
		CategoryID:         r.CategoryID,
		TagIDs:             r.TagIDs,
		UserID:             userID,
		CoverURL:           r.CoverURL,
		CoverWidth:         r.CoverWidth,
		CoverHeight:        r.CoverHeight,
		MetaTitle:          r.MetaTitle,
		MetaDescription:    r.MetaDescription,
		CanonicalURL:       r.CanonicalURL,
		OGImageURL:         r.OGImageURL,
		NoIndex:            r.NoIndex,
	}
}

func articleListItem(article db.Article) gin.H {
	item := gin.H{
		"id":           article.ID,
		"slug":         article.Slug,
		"title":        article.Title,
		"summary":      article.Summary,
		"language":     article.Language,
		"status":       article.Status,
		"reading_time": article.ReadingTime,
		"published_at": article.PublishedAt,
		"scheduled_at": article.ScheduledAt,
		"updated_at":   article.UpdatedAt,
	}
	if article.Category != nil {
		item["category"] = gin.H{"id": article.Category.ID, "name": article.Category.Name, "slug": article.Category.Slug}
	}
	tags := make([]gin.H, 0, len(article.Tags))
	for _, tag := range article.Tags {
		tags = append(tags, gin.H{"id": tag.ID, "name": tag.Name})
	}
	item["tags"] = tags
	return item
}

func parseDateQuery(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	parsed, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return nil
	}
	return &parsed
}

// GetArticles 获取文章列表，支持搜索、状态、语言、分类与标签过滤
func (a *API) GetArticles(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	page, perPage := parsePagination(c, 20, 100)

	var categoryID uint
	if ids := parseUintQuerySlice([]string{c.Query("category_id")}); len(ids) > 0 {
		categoryID = ids[0]
	}

	filter := service.ArticleFilter{
		SiteID:     siteID,
		Search:     strings.TrimSpace(c.Query("search")),
		Status:     strings.TrimSpace(c.Query("status")),
		Language:   strings.TrimSpace(c.Query("language")),
		CategoryID: categoryID,
		TagNames:   c.QueryArray("tags"),
		StartDate:  parseDateQuery(c.Query("start_date")),
		EndDate:    parseDateQuery(c.Query("end_date")),
		Page:       page,
		PerPage:    perPage,
	}

	result, err := a.articles.List(filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取文章列表失败")
		return
	}

	items := make([]gin.H, 0, len(result.Articles))
	for _, article := range result.Articles {
		items = append(items, articleListItem(article))
	}
	c.JSON(http.StatusOK, gin.H{
		"articles":        items,
		"total":           result.Total,
		"total_pages":     result.TotalPages,
		"page":            result.Page,
		"per_page":        result.PerPage,
		"draft_count":     result.DraftCount,
		"scheduled_count": result.ScheduledCount,
		"published_count": result.PublishedCount,
	})
}

// GetArticle 获取单篇文章详情
func (a *API) GetArticle(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}

	article, err := a.articles.Get(siteID, id)
	if err != nil {
		if errors.Is(err, service.ErrArticleNotFound) {
			respondError(c, http.StatusNotFound, "文章不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "获取文章失败")
		return
	}

	payload := articleListItem(*article)
	payload["content"] = article.Content
	payload["translation_group_id"] = article.TranslationGroupID
	payload["cover_url"] = article.CoverURL
	payload["cover_width"] = article.CoverWidth
	payload["cover_height"] = article.CoverHeight
	payload["meta_title"] = article.MetaTitle
	payload["meta_description"] = article.MetaDescription
	payload["canonical_url"] = article.CanonicalURL
	payload["og_image_url"] = article.OGImageURL
	payload["no_index"] = article.NoIndex
	payload["publication_count"] = article.PublicationCount
	c.JSON(http.StatusOK, gin.H{"article": payload})
}

func respondArticleError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrArticleNotFound):
		respondError(c, http.StatusNotFound, "文章不存在")
	case errors.Is(err, service.ErrArticleSlugExists):
		respondError(c, http.StatusBadRequest, "slug 已被占用")
	case errors.Is(err, service.ErrArticleSlugInvalid):
		respondError(c, http.StatusBadRequest, "slug 格式不合法")
	case errors.Is(err, service.ErrCoverRequired):
		respondError(c, http.StatusBadRequest, "发布前需要设置封面")
	case errors.Is(err, service.ErrCoverInvalid):
		respondError(c, http.StatusBadRequest, "封面需要提供有效的尺寸")
	case errors.Is(err, service.ErrCategoryNotFound):
		respondError(c, http.StatusBadRequest, "所选分类不存在")
	case errors.Is(err, service.ErrInvalidPublishState):
		respondError(c, http.StatusBadRequest, "文章标题或正文为空，无法发布")
	case errors.Is(err, service.ErrScheduleInPast):
		respondError(c, http.StatusBadRequest, "定时发布时间必须在将来")
	default:
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

// CreateArticle 创建新文章
func (a *API) CreateArticle(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req articleRequest
	if !bindJSON(c, &req, "文章内容不能为空") {
		return
	}

	user := currentUser(c)
	article, err := a.articles.Create(siteID, req.toInput(user.ID))
	if err != nil {
		respondArticleError(c, err, "创建文章失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "文章创建成功", "article": articleListItem(*article)})
}

// UpdateArticle 更新文章草稿内容
func (a *API) UpdateArticle(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}
	var req articleRequest
	if !bindJSON(c, &req, "文章内容不能为空") {
		return
	}

	user := currentUser(c)
	article, err := a.articles.Update(siteID, id, req.toInput(user.ID))
	if err != nil {
		respondArticleError(c, err, "更新文章失败")
		return
	}

	a.invalidateArticlePages(siteID, article.ID)
	c.JSON(http.StatusOK, gin.H{"message": "文章更新成功", "article": articleListItem(*article)})
}

// DeleteArticle 删除文章
func (a *API) DeleteArticle(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}

	if err := a.articles.Delete(siteID, id); err != nil {
		respondArticleError(c, err, "删除文章失败")
		return
	}

	a.invalidateArticlePages(siteID, id)
	c.JSON(http.StatusOK, gin.H{"message": "文章已删除"})
}

type publishRequest struct {
	PublishedAt *time.Time `json:"published_at"`
}

// PublishArticle 发布文章，生成不可变的发布快照
func (a *API) PublishArticle(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}

	var req publishRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "发布参数不合法") {
		return
	}

	user := currentUser(c)
	publication, err := a.articles.Publish(siteID, id, user.ID, req.PublishedAt)
	if err != nil {
		respondArticleError(c, err, "发布文章失败")
		return
	}

	a.invalidateArticlePages(siteID, id)
	if a.engine != nil {
		if err := a.engine.FireArticlePublished(siteID, id); err != nil {
			respondError(c, http.StatusInternalServerError, "文章已发布，但触发订阅通知失败")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "文章发布成功",
		"publication": gin.H{
			"id":           publication.ID,
			"version":      publication.Version,
			"slug":         publication.Slug,
			"published_at": publication.PublishedAt,
		},
	})
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}

// ScheduleArticle 把文章排入定时发布队列
func (a *API) ScheduleArticle(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}
	var req scheduleRequest
	if !bindJSON(c, &req, "必须提供定时发布时间") {
		return
	}

	article, err := a.articles.Schedule(siteID, id, req.ScheduledAt)
	if err != nil {
		respondArticleError(c, err, "设置定时发布失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已设置定时发布", "article": articleListItem(*article)})
}

// CancelSchedule 取消定时发布，文章退回草稿
func (a *API) CancelSchedule(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}

	if err := a.articles.CancelSchedule(siteID, id); err != nil {
		respondArticleError(c, err, "取消定时发布失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已取消定时发布"})
}

// ArchiveArticle 归档文章，公开端不再展示
func (a *API) ArchiveArticle(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}

	if err := a.articles.Archive(siteID, id); err != nil {
		respondArticleError(c, err, "归档文章失败")
		return
	}
	a.invalidateArticlePages(siteID, id)
	c.JSON(http.StatusOK, gin.H{"message": "文章已归档"})
}

// UnarchiveArticle 恢复归档文章为草稿
func (a *API) UnarchiveArticle(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}

	if err := a.articles.Unarchive(siteID, id); err != nil {
		respondArticleError(c, err, "恢复文章失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "文章已恢复为草稿"})
}

type summaryUpdateRequest struct {
	Summary string `json:"summary"`
}

// UpdateArticleSummary 保存文章摘要
func (a *API) UpdateArticleSummary(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}
	var req summaryUpdateRequest
	if !bindJSON(c, &req, "摘要参数不合法") {
		return
	}

	if err := a.articles.UpdateSummary(siteID, id, req.Summary); err != nil {
		respondArticleError(c, err, "保存摘要失败")
		return
	}
	a.invalidateArticlePages(siteID, id)
	c.JSON(http.StatusOK, gin.H{"message": "摘要已保存"})
}

type aiGenerateRequest struct {
	MaxTokens int `json:"max_tokens"`
}

// GenerateArticleSummary 调用 AI 为文章生成摘要，结果不落库，由前端确认后保存
func (a *API) GenerateArticleSummary(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}

	var req aiGenerateRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "参数不合法") {
		return
	}

	article, err := a.articles.Get(siteID, id)
	if err != nil {
		respondArticleError(c, err, "获取文章失败")
		return
	}

	result, err := a.summaries.GenerateSummary(c.Request.Context(), siteID, service.SummaryInput{
		Title:     article.Title,
		Content:   article.Content,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, service.ErrAIAPIKeyMissing) {
			respondError(c, http.StatusBadRequest, "请先在站点设置中配置 AI API Key")
			return
		}
		respondError(c, http.StatusInternalServerError, "生成摘要失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":           result.Summary,
		"prompt_tokens":     result.PromptTokens,
		"completion_tokens": result.CompletionTokens,
	})
}

// SuggestMetaDescription 调用 AI 生成 SEO 描述建议
func (a *API) SuggestMetaDescription(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}

	var req aiGenerateRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "参数不合法") {
		return
	}

	article, err := a.articles.Get(siteID, id)
	if err != nil {
		respondArticleError(c, err, "获取文章失败")
		return
	}

	result, err := a.metaAI.SuggestMetaDescription(c.Request.Context(), siteID, service.MetaSuggestionInput{
		Title:     article.Title,
		Content:   article.Content,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAIAPIKeyMissing):
			respondError(c, http.StatusBadRequest, "请先在站点设置中配置 AI API Key")
		case errors.Is(err, service.ErrMetaSuggestionEmpty):
			respondError(c, http.StatusInternalServerError, "AI 未返回有效描述，请重试")
		default:
			respondError(c, http.StatusInternalServerError, "生成描述建议失败")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description":       result.Description,
		"prompt_tokens":     result.PromptTokens,
		"completion_tokens": result.CompletionTokens,
	})
}

// GetArticleRevisions 获取文章草稿历史
func (a *API) GetArticleRevisions(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}

	revisions, err := a.articles.Revisions(siteID, id)
	if err != nil {
		respondArticleError(c, err, "获取历史版本失败")
		return
	}

	items := make([]gin.H, 0, len(revisions))
	for _, revision := range revisions {
		items = append(items, gin.H{
			"id":         revision.ID,
			"version":    revision.Version,
			"summary":    revision.Summary,
			"created_at": revision.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"revisions": items})
}

// RestoreArticleRevision 把文章内容回滚到指定历史版本
func (a *API) RestoreArticleRevision(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章ID")
		return
	}
	revisionID, err := parseUintParam(c, "revisionID")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的版本ID")
		return
	}

	user := currentUser(c)
	article, err := a.articles.RestoreRevision(siteID, id, revisionID, user.ID)
	if err != nil {
		if errors.Is(err, service.ErrRevisionNotFound) {
			respondError(c, http.StatusNotFound, "历史版本不存在")
			return
		}
		respondArticleError(c, err, "回滚版本失败")
		return
	}

	a.invalidateArticlePages(siteID, id)
	c.JSON(http.StatusOK, gin.H{"message": "已回滚到历史版本", "article": articleListItem(*article)})
}
