package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
)

type adSlotRequest struct {
	Key    string `json:"key" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type adCampaignRequest struct {
	Name    string     `json:"name" binding:"required"`
	StartAt *time.Time `json:"start_at"`
	EndAt   *time.Time `json:"end_at"`
	Weight  int        `json:"weight"`
}

type adCreativeRequest struct {
	SlotID    uint   `json:"slot_id" binding:"required"`
	Name      string `json:"name" binding:"required"`
	ImageURL  string `json:"image_url"`
	TargetURL string `json:"target_url" binding:"required"`
	Body      string `json:"body"`
	Weight    int    `json:"weight"`
}

type adStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type impressionRequest struct {
	CreativeID uint `json:"creative_id" binding:"required"`
}

func adSlotPayload(slot db.AdSlot) gin.H {
	return gin.H{
		"id":     slot.ID,
		"key":    slot.Key,
		"name":   slot.Name,
		"width":  slot.Width,
		"height": slot.Height,
	}
}

func adCampaignPayload(campaign db.AdCampaign) gin.H {
	return gin.H{
		"id":       campaign.ID,
		"name":     campaign.Name,
		"status":   campaign.Status,
		"start_at": campaign.StartAt,
		"end_at":   campaign.EndAt,
		"weight":   campaign.Weight,
	}
}

func adCreativePayload(creative db.AdCreative) gin.H {
	return gin.H{
		"id":          creative.ID,
		"campaign_id": creative.CampaignID,
		"slot_id":     creative.SlotID,
		"name":        creative.Name,
		"image_url":   creative.ImageURL,
		"target_url":  creative.TargetURL,
		"body":        creative.Body,
		"weight":      creative.Weight,
		"status":      creative.Status,
	}
}

func respondAdError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrAdSlotNotFound):
		respondError(c, http.StatusNotFound, "广告位不存在")
	case errors.Is(err, service.ErrAdSlotKeyExists):
		respondError(c, http.StatusBadRequest, "广告位标识已被占用")
	case errors.Is(err, service.ErrAdSlotKeyInvalid):
		respondError(c, http.StatusBadRequest, "广告位标识格式不合法")
	case errors.Is(err, service.ErrAdSlotInUse):
		respondError(c, http.StatusBadRequest, "广告位下仍有素材，无法删除")
	case errors.Is(err, service.ErrCampaignNotFound):
		respondError(c, http.StatusNotFound, "广告活动不存在")
	case errors.Is(err, service.ErrCampaignWindow):
		respondError(c, http.StatusBadRequest, "活动开始时间必须早于结束时间")
	case errors.Is(err, service.ErrCampaignStatus):
		respondError(c, http.StatusBadRequest, "未知的活动状态")
	case errors.Is(err, service.ErrCreativeNotFound):
		respondError(c, http.StatusNotFound, "广告素材不存在")
	case errors.Is(err, service.ErrCreativeInvalid):
		respondError(c, http.StatusBadRequest, "素材缺少必填字段")
	default:
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

// GetAdSlots 获取广告位列表
func (a *API) GetAdSlots(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	slots, err := a.ads.ListSlots(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取广告位失败")
		return
	}
	items := make([]gin.H, 0, len(slots))
	for _, slot := range slots {
		items = append(items, adSlotPayload(slot))
	}
	c.JSON(http.StatusOK, gin.H{"slots": items})
}

// CreateAdSlot 创建广告位
func (a *API) CreateAdSlot(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req adSlotRequest
	if !bindJSON(c, &req, "广告位标识和名称不能为空") {
		return
	}

	slot, err := a.ads.CreateSlot(siteID, service.AdSlotInput{Key: req.Key, Name: req.Name, Width: req.Width, Height: req.Height})
	if err != nil {
		respondAdError(c, err, "创建广告位失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "广告位创建成功", "slot": adSlotPayload(*slot)})
}

// UpdateAdSlot 更新广告位
func (a *API) UpdateAdSlot(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的广告位ID")
		return
	}
	var req adSlotRequest
	if !bindJSON(c, &req, "广告位标识和名称不能为空") {
		return
	}

	slot, err := a.ads.UpdateSlot(siteID, id, service.AdSlotInput{Key: req.Key, Name: req.Name, Width: req.Width, Height: req.Height})
	if err != nil {
		respondAdError(c, err, "更新广告位失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "广告位更新成功", "slot": adSlotPayload(*slot)})
}

// DeleteAdSlot 删除广告位
func (a *API) DeleteAdSlot(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的广告位ID")
		return
	}

	if err := a.ads.DeleteSlot(siteID, id); err != nil {
		respondAdError(c, err, "删除广告位失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "广告位已删除"})
}

// GetAdCampaigns 获取广告活动列表
func (a *API) GetAdCampaigns(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	campaigns, err := a.ads.ListCampaigns(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取广告活动失败")
		return
	}
	items := make([]gin.H, 0, len(campaigns))
	for _, campaign := range campaigns {
		items = append(items, adCampaignPayload(campaign))
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": items})
}

// CreateAdCampaign 创建广告活动
func (a *API) CreateAdCampaign(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req adCampaignRequest
	if !bindJSON(c, &req, "活动名称不能为空") {
		return
	}

	campaign, err := a.ads.CreateCampaign(siteID, service.AdCampaignInput{
		Name:    req.Name,
		StartAt: req.StartAt,
		EndAt:   req.EndAt,
		Weight:  req.Weight,
	})
	if err != nil {
		respondAdError(c, err, "创建广告活动失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "广告活动创建成功", "campaign": adCampaignPayload(*campaign)})
}

// UpdateAdCampaign 更新广告活动
func (a *API) UpdateAdCampaign(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的活动ID")
		return
	}
	var req adCampaignRequest
	if !bindJSON(c, &req, "活动名称不能为空") {
		return
	}

	campaign, err := a.ads.UpdateCampaign(siteID, id, service.AdCampaignInput{
		Name:    req.Name,
		StartAt: req.StartAt,
		EndAt:   req.EndAt,
		Weight:  req.Weight,
	})
	if err != nil {
		respondAdError(c, err, "更新广告活动失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "广告活动更新成功", "campaign": adCampaignPayload(*campaign)})
}

// SetAdCampaignStatus 修改活动状态（active/paused/completed）
func (a *API) SetAdCampaignStatus(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的活动ID")
		return
	}
	var req adStatusRequest
	if !bindJSON(c, &req, "必须提供活动状态") {
		return
	}

	if err := a.ads.SetCampaignStatus(siteID, id, req.Status); err != nil {
		respondAdError(c, err, "更新活动状态失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "活动状态已更新"})
}

// DeleteAdCampaign 删除广告活动及其素材
func (a *API) DeleteAdCampaign(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的活动ID")
		return
	}

	if err := a.ads.DeleteCampaign(siteID, id); err != nil {
		respondAdError(c, err, "删除广告活动失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "广告活动已删除"})
}

// GetAdCreatives 获取活动下的素材列表
func (a *API) GetAdCreatives(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	campaignID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的活动ID")
		return
	}

	creatives, err := a.ads.ListCreatives(siteID, campaignID)
	if err != nil {
		respondAdError(c, err, "获取素材列表失败")
		return
	}
	items := make([]gin.H, 0, len(creatives))
	for _, creative := range creatives {
		items = append(items, adCreativePayload(creative))
	}
	c.JSON(http.StatusOK, gin.H{"creatives": items})
}

// CreateAdCreative 在活动下创建素材
func (a *API) CreateAdCreative(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	campaignID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的活动ID")
		return
	}
	var req adCreativeRequest
	if !bindJSON(c, &req, "素材需要广告位、名称和跳转地址") {
		return
	}

	creative, err := a.ads.CreateCreative(siteID, campaignID, service.AdCreativeInput{
		SlotID:    req.SlotID,
		Name:      req.Name,
		ImageURL:  req.ImageURL,
		TargetURL: req.TargetURL,
		Body:      req.Body,
		Weight:    req.Weight,
	})
	if err != nil {
		respondAdError(c, err, "创建素材失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "素材创建成功", "creative": adCreativePayload(*creative)})
}

// UpdateAdCreative 更新素材
func (a *API) UpdateAdCreative(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "creativeID")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的素材ID")
		return
	}
	var req adCreativeRequest
	if !bindJSON(c, &req, "素材需要广告位、名称和跳转地址") {
		return
	}

	creative, err := a.ads.UpdateCreative(siteID, id, service.AdCreativeInput{
		SlotID:    req.SlotID,
		Name:      req.Name,
		ImageURL:  req.ImageURL,
		TargetURL: req.TargetURL,
		Body:      req.Body,
		Weight:    req.Weight,
	})
	if err != nil {
		respondAdError(c, err, "更新素材失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "素材更新成功", "creative": adCreativePayload(*creative)})
}

// SetAdCreativeStatus 启停单条素材
func (a *API) SetAdCreativeStatus(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "creativeID")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的素材ID")
		return
	}
	var req adStatusRequest
	if !bindJSON(c, &req, "必须提供素材状态") {
		return
	}

	if err := a.ads.SetCreativeStatus(siteID, id, req.Status); err != nil {
		respondAdError(c, err, "更新素材状态失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "素材状态已更新"})
}

// DeleteAdCreative 删除素材
func (a *API) DeleteAdCreative(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "creativeID")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的素材ID")
		return
	}

	if err := a.ads.DeleteCreative(siteID, id); err != nil {
		respondAdError(c, err, "删除素材失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "素材已删除"})
}

// GetAdCampaignStats 获取活动在时间窗口内的曝光与点击
func (a *API) GetAdCampaignStats(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	campaignID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的活动ID")
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now
	if parsed := parseDateQuery(c.Query("from")); parsed != nil {
		from = *parsed
	}
	if parsed := parseDateQuery(c.Query("to")); parsed != nil {
		to = *parsed
	}

	stats, err := a.ads.CampaignStats(siteID, campaignID, from, to)
	if err != nil {
		respondAdError(c, err, "获取活动统计失败")
		return
	}

	items := make([]gin.H, 0, len(stats))
	for _, entry := range stats {
		items = append(items, gin.H{
			"creative_id":   entry.CreativeID,
			"creative_name": entry.CreativeName,
			"impressions":   entry.Impressions,
			"clicks":        entry.Clicks,
			"ctr":           entry.CTR,
		})
	}
	c.JSON(http.StatusOK, gin.H{"stats": items})
}

// ServeAd 公开端按广告位投放一条素材
func (a *API) ServeAd(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	slotKey := c.Param("slotKey")

	creative, err := a.ads.Serve(site.ID, slotKey, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAdSlotNotFound):
			respondError(c, http.StatusNotFound, "广告位不存在")
		case errors.Is(err, service.ErrNoAdAvailable):
			c.JSON(http.StatusOK, gin.H{"creative": nil})
		default:
			respondError(c, http.StatusInternalServerError, "广告投放失败")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"creative": gin.H{
		"id":         creative.ID,
		"name":       creative.Name,
		"image_url":  creative.ImageURL,
		"target_url": creative.TargetURL,
		"body":       creative.Body,
		"width":      creative.Slot.Width,
		"height":     creative.Slot.Height,
	}})
}

// RecordAdImpression 公开端上报曝光，按访客和自然日去重
func (a *API) RecordAdImpression(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	var req impressionRequest
	if !bindJSON(c, &req, "必须提供素材ID") {
		return
	}

	counted, err := a.ads.RecordImpression(site.ID, req.CreativeID, visitorID(c), time.Now())
	if err != nil {
		if errors.Is(err, service.ErrCreativeNotFound) {
			respondError(c, http.StatusNotFound, "广告素材不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "记录曝光失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"counted": counted})
}

// ClickAd 公开端点击跳转，先记数再 302 到目标地址
func (a *API) ClickAd(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	creativeID, err := parseUintParam(c, "creativeID")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的素材ID")
		return
	}

	target, err := a.ads.RecordClick(site.ID, creativeID, time.Now())
	if err != nil {
		if errors.Is(err, service.ErrCreativeNotFound) {
			respondError(c, http.StatusNotFound, "广告素材不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "记录点击失败")
		return
	}
	c.Redirect(http.StatusFound, target)
}
