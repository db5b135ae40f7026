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

func setupSiteServiceTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:site-service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := gdb.AutoMigrate(&db.Site{}, &db.SiteDomain{}, &db.SiteLink{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	return gdb, func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	}
}

func TestSiteServiceCreateValidatesSlug(t *testing.T) {
	gdb, cleanup := setupSiteServiceTestDB(t)
	defer cleanup()

	svc := NewSiteService(gdb)

	if _, err := svc.Create(SiteInput{Slug: "Bad Slug!", Name: "测试站"}); !errors.Is(err, ErrSiteSlugInvalid) {
		t.Fatalf("expected ErrSiteSlugInvalid, got %v", err)
	}

	site, err := svc.Create(SiteInput{Slug: "tech-blog", Name: "技术博客", DefaultLanguage: "en-US"})
	if err != nil {
		t.Fatalf("create site: %v", err)
	}
	if site.DefaultLanguage != "en" {
		t.Fatalf("expected normalized language en, got %q", site.DefaultLanguage)
	}

	if _, err := svc.Create(SiteInput{Slug: "tech-blog", Name: "重复站点"}); !errors.Is(err, ErrSiteSlugExists) {
		t.Fatalf("expected ErrSiteSlugExists, got %v", err)
	}
}

func TestSiteServiceResolveByHost(t *testing.T) {
	gdb, cleanup := setupSiteServiceTestDB(t)
	defer cleanup()

	svc := NewSiteService(gdb)

	first, err := svc.Create(SiteInput{Slug: "first", Name: "第一个站", PrimaryDomain: "blog.example.com"})
	if err != nil {
		t.Fatalf("create first site: %v", err)
	}
	second, err := svc.Create(SiteInput{Slug: "second", Name: "第二个站"})
	if err != nil {
		t.Fatalf("create second site: %v", err)
	}
	if _, err := svc.AddDomain(second.ID, "News.Example.Com"); err != nil {
		t.Fatalf("add domain: %v", err)
	}

	resolved, err := svc.ResolveByHost("blog.example.com:8080")
	if err != nil {
		t.Fatalf("resolve primary domain: %v", err)
	}
	if resolved.ID != first.ID {
		t.Fatalf("expected site %d, got %d", first.ID, resolved.ID)
	}

	resolved, err = svc.ResolveByHost("news.example.com")
	if err != nil {
		t.Fatalf("resolve alias domain: %v", err)
	}
	if resolved.ID != second.ID {
		t.Fatalf("expected site %d, got %d", second.ID, resolved.ID)
	}

	// 未知域名回退到 ID 最小的活跃站点。
	resolved, err = svc.ResolveByHost("unknown.example.com")
	if err != nil {
		t.Fatalf("resolve unknown host: %v", err)
	}
	if resolved.ID != first.ID {
		t.Fatalf("expected fallback site %d, got %d", first.ID, resolved.ID)
	}

	// 停用站点自己的域名直接 404，不回退到其他站点。
	if _, err := svc.SetStatus(first.ID, db.SiteStatusDisabled); err != nil {
		t.Fatalf("disable site: %v", err)
	}
	if _, err := svc.ResolveByHost("blog.example.com"); !errors.Is(err, ErrSiteNotFound) {
		t.Fatalf("disabled primary domain should return ErrSiteNotFound, got %v", err)
	}
	if _, err := svc.SetStatus(second.ID, db.SiteStatusDisabled); err != nil {
		t.Fatalf("disable second site: %v", err)
	}
	if _, err := svc.ResolveByHost("news.example.com"); !errors.Is(err, ErrSiteNotFound) {
		t.Fatalf("disabled alias domain should return ErrSiteNotFound, got %v", err)
	}
	if _, err := svc.SetStatus(second.ID, db.SiteStatusActive); err != nil {
		t.Fatalf("re-enable second site: %v", err)
	}

	// 完全未匹配的 Host 仍回退到活跃站点。
	resolved, err = svc.ResolveByHost("unknown.example.com")
	if err != nil {
		t.Fatalf("resolve unknown host after disable: %v", err)
	}
	if resolved.ID != second.ID {
		t.Fatalf("expected fallback site %d, got %d", second.ID, resolved.ID)
	}
}

func TestSiteServiceAddDomainConflict(t *testing.T) {
	gdb, cleanup := setupSiteServiceTestDB(t)
	defer cleanup()

	svc := NewSiteService(gdb)

	first, err := svc.Create(SiteInput{Slug: "first", Name: "站点甲"})
	if err != nil {
		t.Fatalf("create first site: %v", err)
	}
	second, err := svc.Create(SiteInput{Slug: "second", Name: "站点乙"})
	if err != nil {
		t.Fatalf("create second site: %v", err)
	}

	if _, err := svc.AddDomain(first.ID, "shared.example.com"); err != nil {
		t.Fatalf("add domain: %v", err)
	}
	if _, err := svc.AddDomain(second.ID, "shared.example.com"); !errors.Is(err, ErrDomainTaken) {
		t.Fatalf("expected ErrDomainTaken, got %v", err)
	}

	// 同站点重复绑定应当幂等。
	if _, err := svc.AddDomain(first.ID, "shared.example.com"); err != nil {
		t.Fatalf("re-add same domain: %v", err)
	}
}

func TestSiteServiceLinksLifecycle(t *testing.T) {
	gdb, cleanup := setupSiteServiceTestDB(t)
	defer cleanup()

	svc := NewSiteService(gdb)

	site, err := svc.Create(SiteInput{Slug: "links", Name: "链接站"})
	if err != nil {
		t.Fatalf("create site: %v", err)
	}

	github, err := svc.CreateLink(site.ID, SiteLinkInput{Platform: "github", Label: "GitHub", URL: "https://github.com/example"})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	hidden := false
	weibo, err := svc.CreateLink(site.ID, SiteLinkInput{Platform: "weibo", Label: "微博", URL: "https://weibo.com/example", Visible: &hidden})
	if err != nil {
		t.Fatalf("create hidden link: %v", err)
	}
	if weibo.Sort != github.Sort+1 {
		t.Fatalf("expected appended sort, got %d after %d", weibo.Sort, github.Sort)
	}

	visible, err := svc.ListLinks(site.ID, false)
	if err != nil {
		t.Fatalf("list visible links: %v", err)
	}
	if len(visible) != 1 || visible[0].Platform != "github" {
		t.Fatalf("expected only visible link, got %+v", visible)
	}

	all, err := svc.ListLinks(site.ID, true)
	if err != nil {
		t.Fatalf("list all links: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 links, got %d", len(all))
	}

	if err := svc.ReorderLinks(site.ID, []uint{weibo.ID, github.ID}); err != nil {
		t.Fatalf("reorder links: %v", err)
	}
	all, err = svc.ListLinks(site.ID, true)
	if err != nil {
		t.Fatalf("list links after reorder: %v", err)
	}
	if all[0].ID != weibo.ID {
		t.Fatalf("expected weibo first after reorder, got %d", all[0].ID)
	}

	if err := svc.DeleteLink(site.ID, github.ID); err != nil {
		t.Fatalf("delete link: %v", err)
	}
	if err := svc.DeleteLink(site.ID, github.ID); !errors.Is(err, ErrSiteLinkNotFound) {
		t.Fatalf("expected ErrSiteLinkNotFound, got %v", err)
	}
}

func TestNormalizeHost(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "Example.COM", want: "example.com"},
		{input: "example.com:8080", want: "example.com"},
		{input: "example.com.", want: "example.com"},
		{input: "  ", want: ""},
	}

	for _, tc := range cases {
		if got := NormalizeHost(tc.input); got != tc.want {
			t.Fatalf("NormalizeHost(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
