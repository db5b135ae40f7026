package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/presshub/internal/db"
)

const (
	siteContextKey      = "__site"
	visitorContextKey   = "__visitor_id"
	visitorCookieName   = "ph_visitor_id"
	visitorCookieMaxAge = 365 * 24 * 60 * 60
)

// ResolveSite 按请求 Host 解析站点租户并写入上下文。
// 未知域名回落到默认站点，停用站点对外返回 404。
func (a *API) ResolveSite() gin.HandlerFunc {
	return func(c *gin.Context) {
		site, err := a.sites.ResolveByHost(c.Request.Host)
		if err != nil {
			respondError(c, http.StatusNotFound, "站点不存在或未启用")
			c.Abort()
			return
		}
		c.Set(siteContextKey, site)
		c.Next()
	}
}

func currentSite(c *gin.Context) *db.Site {
	value, exists := c.Get(siteContextKey)
	if !exists {
		return nil
	}
	site, _ := value.(*db.Site)
	return site
}

// EnsureVisitorID 给访客分配一个一年有效的匿名 Cookie，
// 供 UV 去重、广告曝光去重与评论反应使用。
func (a *API) EnsureVisitorID() gin.HandlerFunc {
	return func(c *gin.Context) {
		visitorID, err := c.Cookie(visitorCookieName)
		if err != nil || strings.TrimSpace(visitorID) == "" {
			visitorID = uuid.NewString()
			secure := strings.EqualFold(detectScheme(c), "https")
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(visitorCookieName, visitorID, visitorCookieMaxAge, "/", "", secure, true)
		}
		c.Set(visitorContextKey, visitorID)
		c.Next()
	}
}

func visitorID(c *gin.Context) string {
	value, exists := c.Get(visitorContextKey)
	if !exists {
		return ""
	}
	id, _ := value.(string)
	return id
}

// ApplyRedirects 命中站点重定向规则时直接跳转，保留原始查询串。
func (a *API) ApplyRedirects() gin.HandlerFunc {
	return func(c *gin.Context) {
		site := currentSite(c)
		if site == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		redirect, err := a.seo.ResolveRedirect(site.ID, c.Request.URL.Path)
		if err != nil || redirect == nil {
			c.Next()
			return
		}

		target := redirect.ToPath
		if raw := c.Request.URL.RawQuery; raw != "" {
			if strings.Contains(target, "?") {
				target += "&" + raw
			} else {
				target += "?" + raw
			}
		}
		status := redirect.StatusCode
		if status != http.StatusFound {
			status = http.StatusMovedPermanently
		}
		c.Redirect(status, target)
		c.Abort()
	}
}

func detectScheme(c *gin.Context) string {
	if proto := strings.TrimSpace(c.GetHeader("X-Forwarded-Proto")); proto != "" {
		return proto
	}
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}
