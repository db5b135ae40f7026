package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/presshub/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSiteSettingTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:site-setting-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := gdb.AutoMigrate(&db.Site{}, &db.SiteSetting{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	return gdb, func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	}
}

func seedSettingSite(t *testing.T, gdb *gorm.DB, slug string) *db.Site {
	t.Helper()

	site := db.Site{
		Slug:            slug,
		Name:            "默认名称",
		Status:          db.SiteStatusActive,
		DefaultLanguage: "zh",
		BaseURL:         "https://example.com/",
	}
	if err := gdb.Create(&site).Error; err != nil {
		t.Fatalf("failed to seed site: %v", err)
	}
	return &site
}

func TestSiteSettingServiceDefaults(t *testing.T) {
	gdb, cleanup := setupSiteSettingTestDB(t)
	defer cleanup()

	site := seedSettingSite(t, gdb, "defaults")
	svc := NewSiteSettingService(gdb)

	settings, err := svc.GetSettings(site.ID)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}

	if settings.SiteName != "默认名称" {
		t.Fatalf("expected site profile name, got %q", settings.SiteName)
	}
	if settings.BaseURL != "https://example.com" {
		t.Fatalf("expected trimmed base url, got %q", settings.BaseURL)
	}
	if !settings.CommentsEnabled {
		t.Fatal("expected comments enabled by default")
	}
	if settings.CommentsAutoApprove {
		t.Fatal("expected auto approve disabled by default")
	}
	if settings.FeedItemCount != defaultFeedItemCount {
		t.Fatalf("expected default feed count, got %d", settings.FeedItemCount)
	}
	if settings.AIProvider != AIProviderOpenAI {
		t.Fatalf("expected default AI provider, got %q", settings.AIProvider)
	}

	if _, err := svc.GetSettings(9999); !errors.Is(err, ErrSiteNotFound) {
		t.Fatalf("expected ErrSiteNotFound, got %v", err)
	}
}

func TestSiteSettingServiceUpdateRoundTrip(t *testing.T) {
	gdb, cleanup := setupSiteSettingTestDB(t)
	defer cleanup()

	site := seedSettingSite(t, gdb, "round-trip")
	other := seedSettingSite(t, gdb, "other")
	svc := NewSiteSettingService(gdb)

	updated, err := svc.UpdateSettings(site.ID, SiteSettingsInput{
		SiteName:            "新名称",
		BaseURL:             "https://press.example.com/",
		DefaultLanguage:     "en",
		CommentsEnabled:     false,
		CommentsAutoApprove: true,
		RobotsExtra:         "Disallow: /private/",
		FeedItemCount:       50,
		CacheArticleTTL:     600,
		AIProvider:          "deepseek",
		DeepSeekAPIKey:      "sk-test",
	})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}

	if updated.SiteName != "新名称" {
		t.Fatalf("expected updated name, got %q", updated.SiteName)
	}
	if updated.BaseURL != "https://press.example.com" {
		t.Fatalf("expected trimmed base url, got %q", updated.BaseURL)
	}
	if updated.CommentsEnabled {
		t.Fatal("expected comments disabled")
	}
	if !updated.CommentsAutoApprove {
		t.Fatal("expected auto approve enabled")
	}
	if updated.FeedItemCount != 50 {
		t.Fatalf("expected feed count 50, got %d", updated.FeedItemCount)
	}
	if got := updated.ArticleCacheTTL(time.Minute); got != 10*time.Minute {
		t.Fatalf("expected 10m article TTL, got %s", got)
	}
	if got := updated.ListingCacheTTL(time.Minute); got != time.Minute {
		t.Fatalf("expected fallback listing TTL, got %s", got)
	}
	if updated.AIProvider != AIProviderDeepSeek {
		t.Fatalf("expected deepseek provider, got %q", updated.AIProvider)
	}

	// 再次更新应走 upsert 而不是追加新行。
	if _, err := svc.UpdateSettings(site.ID, SiteSettingsInput{SiteName: "再次更新"}); err != nil {
		t.Fatalf("second update: %v", err)
	}
	var count int64
	if err := gdb.Model(&db.SiteSetting{}).
		Where("site_id = ? AND key = ?", site.ID, db.SettingKeySiteName).
		Count(&count).Error; err != nil {
		t.Fatalf("count settings: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected single row per key, got %d", count)
	}

	// 站点之间互不影响。
	otherSettings, err := svc.GetSettings(other.ID)
	if err != nil {
		t.Fatalf("get other settings: %v", err)
	}
	if otherSettings.SiteName != "默认名称" {
		t.Fatalf("expected untouched sibling site, got %q", otherSettings.SiteName)
	}
}

type stubHTTPDoer struct {
	status  int
	body    string
	gotURL  string
	gotAuth string
}

func (d *stubHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	d.gotURL = req.URL.String()
	d.gotAuth = req.Header.Get("Authorization")
	return &http.Response{
		StatusCode: d.status,
		Status:     http.StatusText(d.status),
		Body:       io.NopCloser(strings.NewReader(d.body)),
		Header:     make(http.Header),
	}, nil
}

func TestSiteSettingServiceTestAIConnection(t *testing.T) {
	gdb, cleanup := setupSiteSettingTestDB(t)
	defer cleanup()

	svc := NewSiteSettingService(gdb)

	if err := svc.TestAIConnection(context.Background(), AIProviderOpenAI, "  "); !errors.Is(err, ErrAIAPIKeyMissing) {
		t.Fatalf("expected ErrAIAPIKeyMissing, got %v", err)
	}

	doer := &stubHTTPDoer{status: http.StatusOK, body: `{"data":[]}`}
	svc.SetHTTPClient(doer)
	if err := svc.TestAIConnection(context.Background(), AIProviderDeepSeek, "sk-valid"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !strings.Contains(doer.gotURL, "api.deepseek.com") {
		t.Fatalf("expected deepseek endpoint, got %q", doer.gotURL)
	}
	if doer.gotAuth != "Bearer sk-valid" {
		t.Fatalf("expected bearer auth, got %q", doer.gotAuth)
	}

	svc.SetHTTPClient(&stubHTTPDoer{status: http.StatusUnauthorized, body: `{"error":"invalid key"}`})
	if err := svc.TestAIConnection(context.Background(), AIProviderOpenAI, "sk-bad"); err == nil {
		t.Fatal("expected error for unauthorized response")
	}
}
