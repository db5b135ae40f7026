package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/presshub/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAdServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:adsvc-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	if err := gdb.AutoMigrate(&db.Site{}, &db.AdSlot{}, &db.AdCampaign{}, &db.AdCreative{}, &db.AdStatistic{}, &db.AdEvent{}); err != nil {
		t.Fatalf("迁移广告表失败: %v", err)
	}
	return gdb
}

func seedAdSite(t *testing.T, gdb *gorm.DB, slug string) *db.Site {
	t.Helper()

	site := db.Site{Slug: slug, Name: slug, Status: db.SiteStatusActive, DefaultLanguage: "zh"}
	if err := gdb.Create(&site).Error; err != nil {
		t.Fatalf("创建站点失败: %v", err)
	}
	return &site
}

func seedActiveCampaign(t *testing.T, svc *AdService, siteID uint, name string, weight int) *db.AdCampaign {
	t.Helper()

	campaign, err := svc.CreateCampaign(siteID, AdCampaignInput{Name: name, Weight: weight})
	if err != nil {
		t.Fatalf("创建广告活动失败: %v", err)
	}
	if err := svc.SetCampaignStatus(siteID, campaign.ID, db.CampaignStatusActive); err != nil {
		t.Fatalf("激活广告活动失败: %v", err)
	}
	return campaign
}

func TestAdServiceSlotLifecycle(t *testing.T) {
	gdb := setupAdServiceTestDB(t)
	svc := NewAdService(gdb)
	site := seedAdSite(t, gdb, "site-a")
	other := seedAdSite(t, gdb, "site-b")

	slot, err := svc.CreateSlot(site.ID, AdSlotInput{Key: " Sidebar-Top ", Name: "侧边栏顶部", Width: 300, Height: 250})
	if err != nil {
		t.Fatalf("创建广告位失败: %v", err)
	}
	if slot.Key != "sidebar-top" {
		t.Fatalf("广告位 Key 未归一化: %s", slot.Key)
	}

	if _, err := svc.CreateSlot(site.ID, AdSlotInput{Key: "sidebar-top"}); !errors.Is(err, ErrAdSlotKeyExists) {
		t.Fatalf("重复 Key 应返回 ErrAdSlotKeyExists, got %v", err)
	}
	if _, err := svc.CreateSlot(other.ID, AdSlotInput{Key: "sidebar-top"}); err != nil {
		t.Fatalf("不同站点允许同名 Key: %v", err)
	}
	if _, err := svc.CreateSlot(site.ID, AdSlotInput{Key: "bad key!"}); !errors.Is(err, ErrAdSlotKeyInvalid) {
		t.Fatalf("非法 Key 应返回 ErrAdSlotKeyInvalid, got %v", err)
	}

	campaign := seedActiveCampaign(t, svc, site.ID, "夏季促销", 1)
	if _, err := svc.CreateCreative(site.ID, campaign.ID, AdCreativeInput{
		SlotID:    slot.ID,
		Name:      "主视觉",
		TargetURL: "https://example.com/sale",
	}); err != nil {
		t.Fatalf("创建素材失败: %v", err)
	}

	if err := svc.DeleteSlot(site.ID, slot.ID); !errors.Is(err, ErrAdSlotInUse) {
		t.Fatalf("挂有素材的广告位应拒绝删除, got %v", err)
	}

	empty, err := svc.CreateSlot(site.ID, AdSlotInput{Key: "footer"})
	if err != nil {
		t.Fatalf("创建空广告位失败: %v", err)
	}
	if err := svc.DeleteSlot(site.ID, empty.ID); err != nil {
		t.Fatalf("删除空广告位失败: %v", err)
	}
	if _, err := svc.CreateSlot(site.ID, AdSlotInput{Key: "footer"}); err != nil {
		t.Fatalf("删除后 Key 应可复用: %v", err)
	}
}

func TestAdServiceCampaignValidation(t *testing.T) {
	gdb := setupAdServiceTestDB(t)
	svc := NewAdService(gdb)
	site := seedAdSite(t, gdb, "site-a")

	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	if _, err := svc.CreateCampaign(site.ID, AdCampaignInput{Name: "倒置窗口", StartAt: &start, EndAt: &end}); !errors.Is(err, ErrCampaignWindow) {
		t.Fatalf("开始晚于结束应返回 ErrCampaignWindow, got %v", err)
	}

	campaign, err := svc.CreateCampaign(site.ID, AdCampaignInput{Name: "常规投放", Weight: 3})
	if err != nil {
		t.Fatalf("创建广告活动失败: %v", err)
	}
	if campaign.Status != db.CampaignStatusDraft {
		t.Fatalf("新活动应为草稿, got %s", campaign.Status)
	}

	if err := svc.SetCampaignStatus(site.ID, campaign.ID, "running"); !errors.Is(err, ErrCampaignStatus) {
		t.Fatalf("未知状态应返回 ErrCampaignStatus, got %v", err)
	}
	if err := svc.SetCampaignStatus(site.ID, campaign.ID, db.CampaignStatusActive); err != nil {
		t.Fatalf("激活活动失败: %v", err)
	}
	if err := svc.SetCampaignStatus(site.ID+100, campaign.ID, db.CampaignStatusPaused); !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("跨站点操作应返回 ErrCampaignNotFound, got %v", err)
	}

	if _, err := svc.UpdateCampaign(site.ID, campaign.ID, AdCampaignInput{Name: "改名", Weight: 0}); err != nil {
		t.Fatalf("更新活动失败: %v", err)
	}
	updated, err := svc.ListCampaigns(site.ID)
	if err != nil || len(updated) != 2 {
		t.Fatalf("活动列表异常: %v, len=%d", err, len(updated))
	}
	for _, c := range updated {
		if c.ID == campaign.ID {
			if c.Name != "改名" || c.Weight != 1 {
				t.Fatalf("更新结果不符: name=%s weight=%d", c.Name, c.Weight)
			}
		}
	}
}

func TestAdServiceServeRespectsWindowAndStatus(t *testing.T) {
	gdb := setupAdServiceTestDB(t)
	svc := NewAdService(gdb)
	site := seedAdSite(t, gdb, "site-a")

	slot, err := svc.CreateSlot(site.ID, AdSlotInput{Key: "hero"})
	if err != nil {
		t.Fatalf("创建广告位失败: %v", err)
	}

	now := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)
	start := now.Add(-48 * time.Hour)
	end := now.Add(48 * time.Hour)

	campaign, err := svc.CreateCampaign(site.ID, AdCampaignInput{Name: "窗口投放", StartAt: &start, EndAt: &end})
	if err != nil {
		t.Fatalf("创建广告活动失败: %v", err)
	}
	creative, err := svc.CreateCreative(site.ID, campaign.ID, AdCreativeInput{
		SlotID:    slot.ID,
		Name:      "横幅",
		TargetURL: "https://example.com/landing",
	})
	if err != nil {
		t.Fatalf("创建素材失败: %v", err)
	}

	// 草稿活动不出广告
	if _, err := svc.Serve(site.ID, "hero", now); !errors.Is(err, ErrNoAdAvailable) {
		t.Fatalf("草稿活动不应出广告, got %v", err)
	}

	if err := svc.SetCampaignStatus(site.ID, campaign.ID, db.CampaignStatusActive); err != nil {
		t.Fatalf("激活活动失败: %v", err)
	}
	served, err := svc.Serve(site.ID, "hero", now)
	if err != nil {
		t.Fatalf("出广告失败: %v", err)
	}
	if served.ID != creative.ID || served.TargetURL != "https://example.com/landing" {
		t.Fatalf("出的素材不符: %+v", served)
	}
	if served.Slot.Key != "hero" {
		t.Fatalf("素材应带出广告位: %+v", served.Slot)
	}

	// 窗口之外不出广告
	if _, err := svc.Serve(site.ID, "hero", end.Add(time.Hour)); !errors.Is(err, ErrNoAdAvailable) {
		t.Fatalf("窗口之后不应出广告, got %v", err)
	}
	if _, err := svc.Serve(site.ID, "hero", start.Add(-time.Hour)); !errors.Is(err, ErrNoAdAvailable) {
		t.Fatalf("窗口之前不应出广告, got %v", err)
	}

	if err := svc.SetCreativeStatus(site.ID, creative.ID, db.CreativeStatusDisabled); err != nil {
		t.Fatalf("停用素材失败: %v", err)
	}
	if _, err := svc.Serve(site.ID, "hero", now); !errors.Is(err, ErrNoAdAvailable) {
		t.Fatalf("停用素材后不应出广告, got %v", err)
	}

	if _, err := svc.Serve(site.ID, "missing-slot", now); !errors.Is(err, ErrAdSlotNotFound) {
		t.Fatalf("未知广告位应返回 ErrAdSlotNotFound, got %v", err)
	}
}

func TestPickWeightedCreative(t *testing.T) {
	creatives := []db.AdCreative{
		{Weight: 1, Campaign: db.AdCampaign{Weight: 2}}, // 有效权重 2，区间 [0,2)
		{Weight: 3, Campaign: db.AdCampaign{Weight: 1}}, // 有效权重 3，区间 [2,5)
		{Weight: 0, Campaign: db.AdCampaign{Weight: 0}}, // 权重下限 1，区间 [5,6)
	}

	cases := []struct {
		roll int
		want int
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{4, 1},
		{5, 2},
	}
	for _, tc := range cases {
		if got := pickWeightedCreative(creatives, tc.roll); got != tc.want {
			t.Fatalf("roll=%d 应选中 %d, got %d", tc.roll, tc.want, got)
		}
	}
}

func TestAdServiceImpressionDedup(t *testing.T) {
	gdb := setupAdServiceTestDB(t)
	svc := NewAdService(gdb)
	site := seedAdSite(t, gdb, "site-a")

	slot, _ := svc.CreateSlot(site.ID, AdSlotInput{Key: "hero"})
	campaign := seedActiveCampaign(t, svc, site.ID, "品牌曝光", 1)
	creative, err := svc.CreateCreative(site.ID, campaign.ID, AdCreativeInput{
		SlotID:    slot.ID,
		Name:      "横幅",
		TargetURL: "https://example.com",
	})
	if err != nil {
		t.Fatalf("创建素材失败: %v", err)
	}

	day1 := time.Date(2025, 7, 15, 8, 0, 0, 0, time.UTC)

	counted, err := svc.RecordImpression(site.ID, creative.ID, "visitor-a", day1)
	if err != nil || !counted {
		t.Fatalf("首次曝光应计入: counted=%v err=%v", counted, err)
	}
	counted, err = svc.RecordImpression(site.ID, creative.ID, "visitor-a", day1.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("重复曝光出错: %v", err)
	}
	if counted {
		t.Fatalf("同访客同日重复曝光不应计入")
	}
	if counted, _ = svc.RecordImpression(site.ID, creative.ID, "visitor-b", day1); !counted {
		t.Fatalf("不同访客应计入")
	}
	if counted, _ = svc.RecordImpression(site.ID, creative.ID, "visitor-a", day1.Add(24*time.Hour)); !counted {
		t.Fatalf("隔日曝光应重新计入")
	}
	// 无访客标识时不去重
	if counted, _ = svc.RecordImpression(site.ID, creative.ID, "", day1); !counted {
		t.Fatalf("匿名曝光应计入")
	}

	var stat db.AdStatistic
	if err := gdb.Where("creative_id = ? AND day = ?", creative.ID, adDay(day1)).First(&stat).Error; err != nil {
		t.Fatalf("查询当日统计失败: %v", err)
	}
	if stat.Impressions != 3 {
		t.Fatalf("当日曝光应为 3, got %d", stat.Impressions)
	}
}

func TestAdServiceClickAndStats(t *testing.T) {
	gdb := setupAdServiceTestDB(t)
	svc := NewAdService(gdb)
	site := seedAdSite(t, gdb, "site-a")

	slot, _ := svc.CreateSlot(site.ID, AdSlotInput{Key: "hero"})
	campaign := seedActiveCampaign(t, svc, site.ID, "转化投放", 1)
	creative, err := svc.CreateCreative(site.ID, campaign.ID, AdCreativeInput{
		SlotID:    slot.ID,
		Name:      "横幅",
		TargetURL: "https://example.com/buy",
	})
	if err != nil {
		t.Fatalf("创建素材失败: %v", err)
	}

	day := time.Date(2025, 7, 15, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		visitor := fmt.Sprintf("visitor-%d", i)
		if _, err := svc.RecordImpression(site.ID, creative.ID, visitor, day); err != nil {
			t.Fatalf("记录曝光失败: %v", err)
		}
	}
	target, err := svc.RecordClick(site.ID, creative.ID, day)
	if err != nil {
		t.Fatalf("记录点击失败: %v", err)
	}
	if target != "https://example.com/buy" {
		t.Fatalf("点击应返回跳转地址, got %s", target)
	}

	stats, err := svc.CampaignStats(site.ID, campaign.ID, day.Add(-24*time.Hour), day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("查询活动统计失败: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("应有一条素材统计, got %d", len(stats))
	}
	if stats[0].Impressions != 4 || stats[0].Clicks != 1 {
		t.Fatalf("统计不符: %+v", stats[0])
	}
	if stats[0].CTR != 25 {
		t.Fatalf("CTR 应为 25%%, got %v", stats[0].CTR)
	}

	// 窗口之外统计为零
	empty, err := svc.CampaignStats(site.ID, campaign.ID, day.Add(48*time.Hour), day.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("查询空窗口统计失败: %v", err)
	}
	if empty[0].Impressions != 0 || empty[0].Clicks != 0 {
		t.Fatalf("窗口外统计应为零: %+v", empty[0])
	}
}

func TestAdServiceDeleteCampaignCascades(t *testing.T) {
	gdb := setupAdServiceTestDB(t)
	svc := NewAdService(gdb)
	site := seedAdSite(t, gdb, "site-a")

	slot, _ := svc.CreateSlot(site.ID, AdSlotInput{Key: "hero"})
	campaign := seedActiveCampaign(t, svc, site.ID, "短期投放", 1)
	creative, err := svc.CreateCreative(site.ID, campaign.ID, AdCreativeInput{
		SlotID:    slot.ID,
		Name:      "横幅",
		TargetURL: "https://example.com",
	})
	if err != nil {
		t.Fatalf("创建素材失败: %v", err)
	}
	day := time.Date(2025, 7, 15, 8, 0, 0, 0, time.UTC)
	if _, err := svc.RecordImpression(site.ID, creative.ID, "visitor-a", day); err != nil {
		t.Fatalf("记录曝光失败: %v", err)
	}

	if err := svc.DeleteCampaign(site.ID, campaign.ID); err != nil {
		t.Fatalf("删除活动失败: %v", err)
	}

	var creativeCount, statCount, eventCount int64
	gdb.Model(&db.AdCreative{}).Unscoped().Where("campaign_id = ?", campaign.ID).Count(&creativeCount)
	gdb.Model(&db.AdStatistic{}).Where("creative_id = ?", creative.ID).Count(&statCount)
	gdb.Model(&db.AdEvent{}).Where("creative_id = ?", creative.ID).Count(&eventCount)
	if creativeCount != 0 || statCount != 0 || eventCount != 0 {
		t.Fatalf("级联删除不彻底: creatives=%d stats=%d events=%d", creativeCount, statCount, eventCount)
	}

	if _, err := svc.Serve(site.ID, "hero", day); !errors.Is(err, ErrNoAdAvailable) {
		t.Fatalf("活动删除后不应再出广告, got %v", err)
	}
}

func TestAdServiceCompleteExpiredCampaigns(t *testing.T) {
	gdb := setupAdServiceTestDB(t)
	svc := NewAdService(gdb)
	site := seedAdSite(t, gdb, "site-a")

	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	expired := seedActiveCampaign(t, svc, site.ID, "已结束投放", 1)
	if _, err := svc.UpdateCampaign(site.ID, expired.ID, AdCampaignInput{Name: "已结束投放", EndAt: &past}); err != nil {
		t.Fatalf("设置结束时间失败: %v", err)
	}
	running := seedActiveCampaign(t, svc, site.ID, "进行中投放", 1)
	if _, err := svc.UpdateCampaign(site.ID, running.ID, AdCampaignInput{Name: "进行中投放", EndAt: &future}); err != nil {
		t.Fatalf("设置结束时间失败: %v", err)
	}
	openEnded := seedActiveCampaign(t, svc, site.ID, "无限期投放", 1)

	n, err := svc.CompleteExpiredCampaigns(now)
	if err != nil {
		t.Fatalf("清扫过期活动失败: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 campaign completed, got %d", n)
	}

	var reloaded db.AdCampaign
	if err := gdb.First(&reloaded, expired.ID).Error; err != nil {
		t.Fatalf("读取活动失败: %v", err)
	}
	if reloaded.Status != db.CampaignStatusCompleted {
		t.Fatalf("expected completed, got %s", reloaded.Status)
	}
	for _, id := range []uint{running.ID, openEnded.ID} {
		var c db.AdCampaign
		if err := gdb.First(&c, id).Error; err != nil {
			t.Fatalf("读取活动失败: %v", err)
		}
		if c.Status != db.CampaignStatusActive {
			t.Fatalf("campaign %d should stay active, got %s", id, c.Status)
		}
	}

	// 再跑一次不应有新变化
	if n, err := svc.CompleteExpiredCampaigns(now); err != nil || n != 0 {
		t.Fatalf("expected idempotent sweep, got n=%d err=%v", n, err)
	}
}
