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

// seedAdInventory 准备一个广告位、投放中的活动和一条素材。
func seedAdInventory(t *testing.T, api *API, site *db.Site) (*db.AdSlot, *db.AdCampaign, *db.AdCreative) {
	t.Helper()

	svc := service.NewAdService(api.db)
	slot, err := svc.CreateSlot(site.ID, service.AdSlotInput{Key: "sidebar", Name: "侧边栏", Width: 300, Height: 250})
	if err != nil {
		t.Fatalf("创建广告位失败: %v", err)
	}
	campaign, err := svc.CreateCampaign(site.ID, service.AdCampaignInput{Name: "周年庆", Weight: 1})
	if err != nil {
		t.Fatalf("创建活动失败: %v", err)
	}
	if err := svc.SetCampaignStatus(site.ID, campaign.ID, db.CampaignStatusActive); err != nil {
		t.Fatalf("启用活动失败: %v", err)
	}
	creative, err := svc.CreateCreative(site.ID, campaign.ID, service.AdCreativeInput{
		SlotID:    slot.ID,
		Name:      "主视觉",
		ImageURL:  "https://cdn.example.com/banner.png",
		TargetURL: "https://shop.example.com/sale",
		Weight:    1,
	})
	if err != nil {
		t.Fatalf("创建素材失败: %v", err)
	}
	return slot, campaign, creative
}

func TestServeAdReturnsCreative(t *testing.T) {
	api, site, _, cleanup := setupHandlerTest(t)
	defer cleanup()

	_, _, creative := seedAdInventory(t, api, site)

	w := httptest.NewRecorder()
	c := newPublicContext(w, httptest.NewRequest(http.MethodGet, "/api/ads/slot/sidebar", nil), site, "visitor-1")
	c.Params = gin.Params{{Key: "slotKey", Value: "sidebar"}}
	api.ServeAd(c)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d (body=%s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	served, _ := body["creative"].(map[string]any)
	if served == nil {
		t.Fatalf("应返回素材，实际 %s", w.Body.String())
	}
	if id, _ := served["id"].(float64); uint(id) != creative.ID {
		t.Fatalf("素材ID不符，期望 %d 实际 %v", creative.ID, served["id"])
	}
	if width, _ := served["width"].(float64); width != 300 {
		t.Fatalf("应回传广告位尺寸，实际 %v", served["width"])
	}
}

func TestServeAdEmptySlot(t *testing.T) {
	api, site, _, cleanup := setupHandlerTest(t)
	defer cleanup()

	svc := service.NewAdService(api.db)
	if _, err := svc.CreateSlot(site.ID, service.AdSlotInput{Key: "footer", Name: "页脚"}); err != nil {
		t.Fatalf("创建广告位失败: %v", err)
	}

	w := httptest.NewRecorder()
	c := newPublicContext(w, httptest.NewRequest(http.MethodGet, "/api/ads/slot/footer", nil), site, "visitor-1")
	c.Params = gin.Params{{Key: "slotKey", Value: "footer"}}
	api.ServeAd(c)

	if w.Code != http.StatusOK {
		t.Fatalf("空广告位应返回 200，实际 %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["creative"] != nil {
		t.Fatalf("空广告位应返回 creative=null，实际 %v", body["creative"])
	}
}

func TestRecordAdImpressionDedupsPerDay(t *testing.T) {
	api, site, _, cleanup := setupHandlerTest(t)
	defer cleanup()

	_, _, creative := seedAdInventory(t, api, site)

	w := httptest.NewRecorder()
	c := newPublicContext(w, jsonRequest(t, http.MethodPost, "/api/ads/impression", map[string]any{"creative_id": creative.ID}), site, "visitor-1")
	api.RecordAdImpression(c)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d (body=%s)", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["counted"] != true {
		t.Fatalf("首次曝光应计数，实际 %v", body["counted"])
	}

	// 同一访客同一天重复曝光不再计数
	w = httptest.NewRecorder()
	c = newPublicContext(w, jsonRequest(t, http.MethodPost, "/api/ads/impression", map[string]any{"creative_id": creative.ID}), site, "visitor-1")
	api.RecordAdImpression(c)
	if body := decodeBody(t, w); body["counted"] != false {
		t.Fatalf("重复曝光不应计数，实际 %v", body["counted"])
	}

	var stat db.AdStatistic
	if err := api.db.Where("creative_id = ?", creative.ID).First(&stat).Error; err != nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if stat.Impressions != 1 {
		t.Fatalf("期望曝光 1 次，实际 %d", stat.Impressions)
	}
}

func TestClickAdRedirects(t *testing.T) {
	api, site, _, cleanup := setupHandlerTest(t)
	defer cleanup()

	_, _, creative := seedAdInventory(t, api, site)

	w := httptest.NewRecorder()
	c := newPublicContext(w, httptest.NewRequest(http.MethodGet, "/api/ads/click/1", nil), site, "visitor-1")
	c.Params = gin.Params{{Key: "creativeID", Value: strconv.FormatUint(uint64(creative.ID), 10)}}
	api.ClickAd(c)

	if w.Code != http.StatusFound {
		t.Fatalf("期望 302，实际 %d", w.Code)
	}
	if location := w.Header().Get("Location"); location != creative.TargetURL {
		t.Fatalf("期望跳转 %s，实际 %s", creative.TargetURL, location)
	}

	var stat db.AdStatistic
	if err := api.db.Where("creative_id = ?", creative.ID).First(&stat).Error; err != nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if stat.Clicks != 1 {
		t.Fatalf("期望点击 1 次，实际 %d", stat.Clicks)
	}
}

func TestDeleteAdSlotBlockedWhenInUse(t *testing.T) {
	api, site, user, cleanup := setupHandlerTest(t)
	defer cleanup()

	slot, _, _ := seedAdInventory(t, api, site)

	w := httptest.NewRecorder()
	c := newAdminContext(w, httptest.NewRequest(http.MethodDelete, "/admin/api/sites/1/ad-slots/1", nil), site, user)
	c.Params = append(c.Params, gin.Param{Key: "id", Value: strconv.FormatUint(uint64(slot.ID), 10)})
	api.DeleteAdSlot(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("仍有素材的广告位不应能删除，实际 %d", w.Code)
	}
}

func TestCreateAdCampaignInvalidWindow(t *testing.T) {
	api, site, user, cleanup := setupHandlerTest(t)
	defer cleanup()

	w := httptest.NewRecorder()
	c := newAdminContext(w, jsonRequest(t, http.MethodPost, "/admin/api/sites/1/ad-campaigns", map[string]any{
		"name":     "时间倒置",
		"start_at": "2026-09-01T00:00:00Z",
		"end_at":   "2026-08-01T00:00:00Z",
	}), site, user)
	api.CreateAdCampaign(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("期望 400，实际 %d (body=%s)", w.Code, w.Body.String())
	}
}
