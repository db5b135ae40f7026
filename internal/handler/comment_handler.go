package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
)

type commentSubmitRequest struct {
	ParentID    *uint  `json:"parent_id"`
	AuthorName  string `json:"author_name" binding:"required"`
	AuthorEmail string `json:"author_email"`
	Body        string `json:"body" binding:"required"`
}

type commentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type reactionRequest struct {
	Kind string `json:"kind" binding:"required"`
}

func commentPayload(comment db.Comment) gin.H {
	return gin.H{
		"id":          comment.ID,
		"parent_id":   comment.ParentID,
		"author_name": comment.AuthorName,
		"body_html":   comment.BodyHTML,
		"status":      comment.Status,
		"created_at":  comment.CreatedAt,
	}
}

// 公开端按发布 slug 找到文章ID，未发布的文章对外不存在
func (a *API) publishedArticleID(c *gin.Context, site *db.Site) (uint, bool) {
	slug := c.Param("slug")
	publication, err := a.articles.PublishedBySlug(site.ID, slug)
	if err != nil {
		if errors.Is(err, service.ErrPublicationNotFound) {
			respondError(c, http.StatusNotFound, "文章不存在")
		} else {
			respondError(c, http.StatusInternalServerError, "获取文章失败")
		}
		return 0, false
	}
	return publication.ArticleID, true
}

// SubmitComment 公开端提交评论
func (a *API) SubmitComment(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	articleID, ok := a.publishedArticleID(c, site)
	if !ok {
		return
	}
	var req commentSubmitRequest
	if !bindJSON(c, &req, "昵称和评论内容不能为空") {
		return
	}

	comment, err := a.comments.Submit(site.ID, articleID, service.CommentInput{
		ParentID:    req.ParentID,
		AuthorName:  req.AuthorName,
		AuthorEmail: req.AuthorEmail,
		Body:        req.Body,
		VisitorID:   visitorID(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCommentsDisabled):
			respondError(c, http.StatusForbidden, "该站点已关闭评论")
		case errors.Is(err, service.ErrCommentInvalid):
			respondError(c, http.StatusBadRequest, "昵称和评论内容不能为空")
		case errors.Is(err, service.ErrCommentTooLong):
			respondError(c, http.StatusBadRequest, "评论内容过长")
		case errors.Is(err, service.ErrCommentParent):
			respondError(c, http.StatusBadRequest, "回复的评论不存在")
		case errors.Is(err, service.ErrArticleNotFound):
			respondError(c, http.StatusNotFound, "文章不存在")
		default:
			respondError(c, http.StatusInternalServerError, "提交评论失败")
		}
		return
	}

	message := "评论已发布"
	if comment.Status == db.CommentStatusPending {
		message = "评论已提交，等待审核"
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "comment": commentPayload(*comment)})
}

// GetArticleComments 公开端获取文章评论，两层结构
func (a *API) GetArticleComments(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	articleID, ok := a.publishedArticleID(c, site)
	if !ok {
		return
	}

	threads, err := a.comments.ListForArticle(site.ID, articleID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取评论失败")
		return
	}

	items := make([]gin.H, 0, len(threads))
	for _, thread := range threads {
		item := commentPayload(thread.Comment)
		replies := make([]gin.H, 0, len(thread.Replies))
		for _, reply := range thread.Replies {
			replies = append(replies, commentPayload(reply))
		}
		item["replies"] = replies
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"comments": items})
}

// ReactToArticle 公开端给文章点一个反应
func (a *API) ReactToArticle(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	articleID, ok := a.publishedArticleID(c, site)
	if !ok {
		return
	}
	var req reactionRequest
	if !bindJSON(c, &req, "必须提供反应类型") {
		return
	}

	created, err := a.comments.React(site.ID, articleID, visitorID(c), req.Kind)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReactionInvalid):
			respondError(c, http.StatusBadRequest, "不支持的反应类型")
		case errors.Is(err, service.ErrArticleNotFound):
			respondError(c, http.StatusNotFound, "文章不存在")
		default:
			respondError(c, http.StatusInternalServerError, "记录反应失败")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

// RemoveArticleReaction 公开端撤销访客的反应
func (a *API) RemoveArticleReaction(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	articleID, ok := a.publishedArticleID(c, site)
	if !ok {
		return
	}

	kind := strings.TrimSpace(c.Query("kind"))
	if err := a.comments.RemoveReaction(site.ID, articleID, visitorID(c), kind); err != nil {
		if errors.Is(err, service.ErrReactionInvalid) {
			respondError(c, http.StatusBadRequest, "不支持的反应类型")
			return
		}
		respondError(c, http.StatusInternalServerError, "撤销反应失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已撤销"})
}

// GetArticleReactions 公开端获取反应统计和访客自己的反应
func (a *API) GetArticleReactions(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	articleID, ok := a.publishedArticleID(c, site)
	if !ok {
		return
	}

	summary, err := a.comments.ReactionSummary(site.ID, articleID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取反应统计失败")
		return
	}
	mine, err := a.comments.VisitorReactions(site.ID, articleID, visitorID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取反应统计失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "mine": mine})
}

// GetCommentsForModeration 后台按状态分页获取评论
func (a *API) GetCommentsForModeration(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	page, perPage := parsePagination(c, 20, 100)
	status := strings.TrimSpace(c.Query("status"))

	result, err := a.comments.ListForModeration(siteID, status, page, perPage)
	if err != nil {
		if errors.Is(err, service.ErrCommentStatus) {
			respondError(c, http.StatusBadRequest, "未知的评论状态")
			return
		}
		respondError(c, http.StatusInternalServerError, "获取评论列表失败")
		return
	}

	items := make([]gin.H, 0, len(result.Comments))
	for _, comment := range result.Comments {
		item := commentPayload(comment)
		item["article_id"] = comment.ArticleID
		item["author_email"] = comment.AuthorEmail
		item["body"] = comment.Body
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{
		"comments":    items,
		"total":       result.Total,
		"total_pages": result.TotalPages,
		"page":        result.Page,
		"per_page":    result.PerPage,
	})
}

// SetCommentStatus 后台审核评论
func (a *API) SetCommentStatus(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的评论ID")
		return
	}
	var req commentStatusRequest
	if !bindJSON(c, &req, "必须提供评论状态") {
		return
	}

	if err := a.comments.SetStatus(siteID, id, req.Status); err != nil {
		switch {
		case errors.Is(err, service.ErrCommentNotFound):
			respondError(c, http.StatusNotFound, "评论不存在")
		case errors.Is(err, service.ErrCommentStatus):
			respondError(c, http.StatusBadRequest, "未知的评论状态")
		default:
			respondError(c, http.StatusInternalServerError, "更新评论状态失败")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "评论状态已更新"})
}

// DeleteComment 后台删除评论
func (a *API) DeleteComment(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的评论ID")
		return
	}

	if err := a.comments.Delete(siteID, id); err != nil {
		if errors.Is(err, service.ErrCommentNotFound) {
			respondError(c, http.StatusNotFound, "评论不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "删除评论失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "评论已删除"})
}
