package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
)

type siteRequest struct {
	Slug            string `json:"slug"`
	Name            string `json:"name" binding:"required"`
	Description     string `json:"description"`
	PrimaryDomain   string `json:"primary_domain"`
	DefaultLanguage string `json:"default_language"`
	BaseURL         string `json:"base_url"`
}

type siteStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type domainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

type siteLinkRequest struct {
	Platform string `json:"platform" binding:"required"`
	Label    string `json:"label"`
	URL      string `json:"url" binding:"required"`
	Sort     *int   `json:"sort"`
	Visible  *bool  `json:"visible"`
}

func sitePayload(site db.Site) gin.H {
	return gin.H{
		"id":               site.ID,
		"slug":             site.Slug,
		"name":             site.Name,
		"description":      site.Description,
		"primary_domain":   site.PrimaryDomain,
		"status":           site.Status,
		"default_language": site.DefaultLanguage,
		"base_url":         site.BaseURL,
		"created_at":       site.CreatedAt,
	}
}

func siteLinkPayload(link db.SiteLink) gin.H {
	return gin.H{
		"id":       link.ID,
		"platform": link.Platform,
		"label":    link.Label,
		"url":      link.URL,
		"sort":     link.Sort,
		"visible":  link.Visible,
	}
}

func respondSiteError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrSiteNotFound):
		respondError(c, http.StatusNotFound, "站点不存在")
	case errors.Is(err, service.ErrSiteSlugExists):
		respondError(c, http.StatusBadRequest, "站点 slug 已被占用")
	case errors.Is(err, service.ErrSiteSlugInvalid):
		respondError(c, http.StatusBadRequest, "站点 slug 格式不合法")
	case errors.Is(err, service.ErrSiteNameMissing):
		respondError(c, http.StatusBadRequest, "站点名称不能为空")
	case errors.Is(err, service.ErrDomainInvalid):
		respondError(c, http.StatusBadRequest, "域名格式不合法")
	case errors.Is(err, service.ErrDomainTaken):
		respondError(c, http.StatusBadRequest, "域名已绑定到其他站点")
	default:
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

// GetSites 获取全部站点（仅管理员）
func (a *API) GetSites(c *gin.Context) {
	sites, err := a.sites.List()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取站点列表失败")
		return
	}
	items := make([]gin.H, 0, len(sites))
	for _, site := range sites {
		items = append(items, sitePayload(site))
	}
	c.JSON(http.StatusOK, gin.H{"sites": items})
}

// GetSite 获取站点详情
func (a *API) GetSite(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	site, err := a.sites.Get(siteID)
	if err != nil {
		respondSiteError(c, err, "获取站点失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"site": sitePayload(*site)})
}

// CreateSite 创建站点（仅管理员）
func (a *API) CreateSite(c *gin.Context) {
	var req siteRequest
	if !bindJSON(c, &req, "站点名称不能为空") {
		return
	}

	site, err := a.sites.Create(service.SiteInput{
		Slug:            req.Slug,
		Name:            req.Name,
		Description:     req.Description,
		PrimaryDomain:   req.PrimaryDomain,
		DefaultLanguage: req.DefaultLanguage,
		BaseURL:         req.BaseURL,
	})
	if err != nil {
		respondSiteError(c, err, "创建站点失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "站点创建成功", "site": sitePayload(*site)})
}

// UpdateSite 更新站点档案
func (a *API) UpdateSite(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req siteRequest
	if !bindJSON(c, &req, "站点名称不能为空") {
		return
	}

	site, err := a.sites.Update(siteID, service.SiteInput{
		Slug:            req.Slug,
		Name:            req.Name,
		Description:     req.Description,
		PrimaryDomain:   req.PrimaryDomain,
		DefaultLanguage: req.DefaultLanguage,
		BaseURL:         req.BaseURL,
	})
	if err != nil {
		respondSiteError(c, err, "更新站点失败")
		return
	}

	a.invalidateSitePages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "站点更新成功", "site": sitePayload(*site)})
}

// SetSiteStatus 启用或停用站点
func (a *API) SetSiteStatus(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req siteStatusRequest
	if !bindJSON(c, &req, "必须提供站点状态") {
		return
	}

	site, err := a.sites.SetStatus(siteID, req.Status)
	if err != nil {
		respondSiteError(c, err, "更新站点状态失败")
		return
	}

	a.invalidateSitePages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "站点状态已更新", "site": sitePayload(*site)})
}

// DeleteSite 删除站点（仅管理员）
func (a *API) DeleteSite(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	if err := a.sites.Delete(siteID); err != nil {
		respondSiteError(c, err, "删除站点失败")
		return
	}

	a.invalidateSitePages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "站点已删除"})
}

// GetSiteDomains 获取站点的域名别名
func (a *API) GetSiteDomains(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	domains, err := a.sites.Domains(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取域名列表失败")
		return
	}
	items := make([]gin.H, 0, len(domains))
	for _, domain := range domains {
		items = append(items, gin.H{"id": domain.ID, "domain": domain.Domain})
	}
	c.JSON(http.StatusOK, gin.H{"domains": items})
}

// AddSiteDomain 给站点绑定域名别名
func (a *API) AddSiteDomain(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req domainRequest
	if !bindJSON(c, &req, "必须提供域名") {
		return
	}

	domain, err := a.sites.AddDomain(siteID, req.Domain)
	if err != nil {
		respondSiteError(c, err, "绑定域名失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "域名已绑定", "domain": gin.H{"id": domain.ID, "domain": domain.Domain}})
}

// RemoveSiteDomain 解绑域名别名
func (a *API) RemoveSiteDomain(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	domain := strings.TrimSpace(c.Query("domain"))
	if domain == "" {
		respondError(c, http.StatusBadRequest, "必须提供域名")
		return
	}

	if err := a.sites.RemoveDomain(siteID, domain); err != nil {
		respondSiteError(c, err, "解绑域名失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "域名已解绑"})
}

// GetSiteLinks 获取站点社交链接（含隐藏项）
func (a *API) GetSiteLinks(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	links, err := a.sites.ListLinks(siteID, true)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取链接列表失败")
		return
	}
	items := make([]gin.H, 0, len(links))
	for _, link := range links {
		items = append(items, siteLinkPayload(link))
	}
	c.JSON(http.StatusOK, gin.H{"links": items})
}

func respondSiteLinkError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrSiteLinkNotFound):
		respondError(c, http.StatusNotFound, "链接不存在")
	case errors.Is(err, service.ErrSiteLinkInvalidInput):
		respondError(c, http.StatusBadRequest, "链接参数不合法")
	default:
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

// CreateSiteLink 创建社交链接
func (a *API) CreateSiteLink(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req siteLinkRequest
	if !bindJSON(c, &req, "平台和链接地址不能为空") {
		return
	}

	link, err := a.sites.CreateLink(siteID, service.SiteLinkInput{
		Platform: req.Platform,
		Label:    req.Label,
		URL:      req.URL,
		Sort:     req.Sort,
		Visible:  req.Visible,
	})
	if err != nil {
		respondSiteLinkError(c, err, "创建链接失败")
		return
	}

	a.invalidateSitePages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "链接已创建", "link": siteLinkPayload(*link)})
}

// UpdateSiteLink 更新社交链接
func (a *API) UpdateSiteLink(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的链接ID")
		return
	}
	var req siteLinkRequest
	if !bindJSON(c, &req, "平台和链接地址不能为空") {
		return
	}

	link, err := a.sites.UpdateLink(siteID, id, service.SiteLinkInput{
		Platform: req.Platform,
		Label:    req.Label,
		URL:      req.URL,
		Sort:     req.Sort,
		Visible:  req.Visible,
	})
	if err != nil {
		respondSiteLinkError(c, err, "更新链接失败")
		return
	}

	a.invalidateSitePages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "链接已更新", "link": siteLinkPayload(*link)})
}

// DeleteSiteLink 删除社交链接
func (a *API) DeleteSiteLink(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的链接ID")
		return
	}

	if err := a.sites.DeleteLink(siteID, id); err != nil {
		respondSiteLinkError(c, err, "删除链接失败")
		return
	}

	a.invalidateSitePages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "链接已删除"})
}

// ReorderSiteLinks 调整社交链接顺序
func (a *API) ReorderSiteLinks(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req tagReorderRequest
	if !bindJSON(c, &req, "必须提供排序ID列表") {
		return
	}

	if err := a.sites.ReorderLinks(siteID, req.IDs); err != nil {
		respondSiteLinkError(c, err, "调整链接顺序失败")
		return
	}

	a.invalidateSitePages(siteID)
	c.JSON(http.StatusOK, gin.H{"message": "链接顺序已更新"})
}
