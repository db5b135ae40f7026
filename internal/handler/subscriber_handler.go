package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/locale"
	"github.com/presshub/internal/service"
)

type subscribeRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

type subscriberTagRequest struct {
	Tag string `json:"tag" binding:"required"`
}

// Subscribe 公开端订阅入口。创建待确认记录并投递确认邮件。
func (a *API) Subscribe(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	var req subscribeRequest
	if !bindJSON(c, &req, "必须提供邮箱地址") {
		return
	}

	subscriber, err := a.subscribers.Subscribe(site.ID, req.Email, req.Name, req.Language)
	if err != nil {
		if errors.Is(err, service.ErrSubscriberEmail) {
			respondError(c, http.StatusBadRequest, "邮箱地址格式不正确")
			return
		}
		respondError(c, http.StatusInternalServerError, "订阅失败")
		return
	}

	if subscriber.Status == db.SubscriberStatusConfirmed {
		c.JSON(http.StatusOK, gin.H{"message": "该邮箱已订阅"})
		return
	}

	a.enqueueConfirmEmail(site, subscriber)
	c.JSON(http.StatusOK, gin.H{"message": "确认邮件已发送，请查收"})
}

// 确认邮件走发件箱异步投递，失败只记日志不影响订阅请求
func (a *API) enqueueConfirmEmail(site *db.Site, subscriber *db.Subscriber) {
	confirmURL := fmt.Sprintf("%s/api/subscribe/confirm?token=%s",
		strings.TrimRight(site.BaseURL, "/"), url.QueryEscape(subscriber.ConfirmToken))

	var subject, body string
	if locale.NormalizeLanguage(subscriber.Language) == locale.LanguageEnglish {
		subject = fmt.Sprintf("Confirm your subscription to %s", site.Name)
		body = fmt.Sprintf("Click the link below to confirm your subscription:\n\n%s\n\nIf you did not request this, just ignore this email.", confirmURL)
	} else {
		subject = fmt.Sprintf("请确认订阅 %s", site.Name)
		body = fmt.Sprintf("点击下面的链接完成订阅确认：\n\n%s\n\n如果这不是你的操作，忽略本邮件即可。", confirmURL)
	}

	if _, err := a.outbox.Enqueue(site.ID, subscriber.ID, subscriber.Email, subject, body); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"site_id":       site.ID,
			"subscriber_id": subscriber.ID,
		}).Error("投递确认邮件失败")
	}
}

// ConfirmSubscription 公开端确认订阅，并触发 subscriber_confirmed 工作流
func (a *API) ConfirmSubscription(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	token := strings.TrimSpace(c.Query("token"))

	subscriber, err := a.subscribers.Confirm(site.ID, token)
	if err != nil {
		if errors.Is(err, service.ErrSubscriberToken) {
			respondError(c, http.StatusBadRequest, "确认链接无效或已过期")
			return
		}
		respondError(c, http.StatusInternalServerError, "确认订阅失败")
		return
	}

	if a.engine != nil {
		if err := a.engine.FireSubscriberConfirmed(site.ID, subscriber.ID); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"site_id":       site.ID,
				"subscriber_id": subscriber.ID,
			}).Error("触发订阅确认工作流失败")
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "订阅确认成功"})
}

// Unsubscribe 公开端退订
func (a *API) Unsubscribe(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	token := strings.TrimSpace(c.Query("token"))

	if _, err := a.subscribers.Unsubscribe(site.ID, token); err != nil {
		if errors.Is(err, service.ErrSubscriberToken) {
			respondError(c, http.StatusBadRequest, "退订链接无效")
			return
		}
		respondError(c, http.StatusInternalServerError, "退订失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已退订"})
}

// GetSubscribers 后台分页获取订阅者名单
func (a *API) GetSubscribers(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	page, perPage := parsePagination(c, 20, 100)
	status := strings.TrimSpace(c.Query("status"))
	search := strings.TrimSpace(c.Query("search"))

	if tag := strings.TrimSpace(c.Query("tag")); tag != "" {
		subscribers, err := a.subscribers.ListByTag(siteID, tag)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "获取订阅者失败")
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscribers": subscriberItems(subscribers), "total": len(subscribers)})
		return
	}

	result, err := a.subscribers.List(siteID, status, search, page, perPage)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取订阅者失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscribers": subscriberItems(result.Subscribers),
		"total":       result.Total,
		"total_pages": result.TotalPages,
		"page":        result.Page,
		"per_page":    result.PerPage,
	})
}

func subscriberItems(subscribers []db.Subscriber) []gin.H {
	items := make([]gin.H, 0, len(subscribers))
	for _, subscriber := range subscribers {
		items = append(items, gin.H{
			"id":         subscriber.ID,
			"email":      subscriber.Email,
			"name":       subscriber.Name,
			"status":     subscriber.Status,
			"language":   subscriber.Language,
			"consent_at": subscriber.ConsentAt,
			"created_at": subscriber.CreatedAt,
		})
	}
	return items
}

// GetSubscriberStats 后台获取订阅状态分布
func (a *API) GetSubscriberStats(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	stats, err := a.subscribers.Stats(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取订阅统计失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pending":      stats.Pending,
		"confirmed":    stats.Confirmed,
		"unsubscribed": stats.Unsubscribed,
	})
}

// GetSubscriber 后台获取单个订阅者及其标签
func (a *API) GetSubscriber(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的订阅者ID")
		return
	}

	subscriber, err := a.subscribers.Get(siteID, id)
	if err != nil {
		if errors.Is(err, service.ErrSubscriberNotFound) {
			respondError(c, http.StatusNotFound, "订阅者不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "获取订阅者失败")
		return
	}
	tags, err := a.subscribers.Tags(siteID, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取订阅者失败")
		return
	}

	item := subscriberItems([]db.Subscriber{*subscriber})[0]
	item["tags"] = tags
	c.JSON(http.StatusOK, gin.H{"subscriber": item})
}

// DeleteSubscriber 后台删除订阅者（连带标签与工作流实例）
func (a *API) DeleteSubscriber(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的订阅者ID")
		return
	}

	if err := a.subscribers.Delete(siteID, id); err != nil {
		if errors.Is(err, service.ErrSubscriberNotFound) {
			respondError(c, http.StatusNotFound, "订阅者不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "删除订阅者失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "订阅者已删除"})
}

// AddSubscriberTag 后台给订阅者打标签
func (a *API) AddSubscriberTag(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的订阅者ID")
		return
	}
	var req subscriberTagRequest
	if !bindJSON(c, &req, "标签名称不能为空") {
		return
	}

	if err := a.subscribers.AddTag(siteID, id, req.Tag); err != nil {
		switch {
		case errors.Is(err, service.ErrSubscriberNotFound):
			respondError(c, http.StatusNotFound, "订阅者不存在")
		case errors.Is(err, service.ErrSubscriberTagName):
			respondError(c, http.StatusBadRequest, "标签名称不能为空")
		default:
			respondError(c, http.StatusInternalServerError, "打标签失败")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "标签已添加"})
}

// RemoveSubscriberTag 后台移除订阅者标签
func (a *API) RemoveSubscriberTag(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的订阅者ID")
		return
	}
	tag := strings.TrimSpace(c.Query("tag"))
	if tag == "" {
		respondError(c, http.StatusBadRequest, "标签名称不能为空")
		return
	}

	if err := a.subscribers.RemoveTag(siteID, id, tag); err != nil {
		respondError(c, http.StatusInternalServerError, "移除标签失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "标签已移除"})
}
