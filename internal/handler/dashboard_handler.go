package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GetDashboard 后台仪表盘：流量汇总、热门文章、待办数量
func (a *API) GetDashboard(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}

	overview, err := a.analytics.Overview(siteID, 10)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取流量统计失败")
		return
	}
	pendingComments, err := a.comments.CountPending(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取评论统计失败")
		return
	}
	subscriberStats, err := a.subscribers.Stats(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取订阅统计失败")
		return
	}
	pendingEmails, err := a.outbox.PendingCount()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取邮件队列统计失败")
		return
	}

	topArticles := make([]gin.H, 0, len(overview.TopArticles))
	for _, article := range overview.TopArticles {
		topArticles = append(topArticles, gin.H{
			"article_id":      article.ArticleID,
			"title":           article.Title,
			"slug":            article.Slug,
			"page_views":      article.PageViews,
			"unique_visitors": article.UniqueVisitors,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total_page_views":      overview.TotalPageViews,
		"total_unique_visitors": overview.TotalUniqueVisitors,
		"article_count":         overview.ArticleCount,
		"top_articles":          topArticles,
		"pending_comments":      pendingComments,
		"pending_emails":        pendingEmails,
		"subscribers": gin.H{
			"pending":      subscriberStats.Pending,
			"confirmed":    subscriberStats.Confirmed,
			"unsubscribed": subscriberStats.Unsubscribed,
		},
	})
}

// GetTrafficTrend 后台 48 小时流量趋势
func (a *API) GetTrafficTrend(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	hours := parsePositiveInt(c.Query("hours"), 48)
	if hours > 24*14 {
		hours = 24 * 14
	}

	snapshots, err := a.analytics.HourlyTrafficTrend(siteID, time.Now(), hours)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取流量趋势失败")
		return
	}

	points := make([]gin.H, 0, len(snapshots))
	for _, snapshot := range snapshots {
		points = append(points, gin.H{
			"hour":            snapshot.Hour,
			"page_views":      snapshot.PageViews,
			"unique_visitors": snapshot.UniqueVisitors,
		})
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

// GetOutboxMessages 后台查看外发邮件队列
func (a *API) GetOutboxMessages(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	status := c.Query("status")
	limit := parsePositiveInt(c.Query("limit"), 50)
	if limit > 200 {
		limit = 200
	}

	messages, err := a.outbox.ListMessages(siteID, status, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取邮件队列失败")
		return
	}

	items := make([]gin.H, 0, len(messages))
	for _, message := range messages {
		items = append(items, gin.H{
			"id":         message.ID,
			"to_email":   message.ToEmail,
			"subject":    message.Subject,
			"status":     message.Status,
			"last_error": message.LastError,
			"sent_at":    message.SentAt,
			"created_at": message.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": items})
}

// RequeueFailedEmails 后台把失败邮件重新排队
func (a *API) RequeueFailedEmails(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	requeued, err := a.outbox.RequeueFailed(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "重新排队失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已重新排队", "requeued": requeued})
}
