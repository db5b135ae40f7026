package main

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/presshub/internal/db"
)

func setupSeedTestDB(t *testing.T) func() {
	t.Helper()

	dsn := fmt.Sprintf("file:seed-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	db.DB = gdb

	return func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func TestSeedArticlesPublishesSnapshots(t *testing.T) {
	cleanup := setupSeedTestDB(t)
	defer cleanup()

	site, err := db.EnsureDefaultSite("demo", "Demo")
	if err != nil {
		t.Fatalf("failed to ensure site: %v", err)
	}

	admin := createTestUsers()
	categories := createTestCategories(site.ID)
	tags := createTestTags(site.ID)
	createTestArticles(site.ID, admin.ID, categories, tags)

	var articleCount int64
	if err := db.DB.Model(&db.Article{}).Where("site_id = ?", site.ID).Count(&articleCount).Error; err != nil {
		t.Fatalf("failed to count articles: %v", err)
	}
	if articleCount != 5 {
		t.Fatalf("expected 5 seeded articles, got %d", articleCount)
	}

	var publishedCount int64
	if err := db.DB.Model(&db.Article{}).
		Where("site_id = ? AND status = ?", site.ID, db.ArticleStatusPublished).
		Count(&publishedCount).Error; err != nil {
		t.Fatalf("failed to count published articles: %v", err)
	}
	if publishedCount != 4 {
		t.Fatalf("expected 4 published articles, got %d", publishedCount)
	}

	var snapshotCount int64
	if err := db.DB.Model(&db.ArticlePublication{}).Where("site_id = ?", site.ID).Count(&snapshotCount).Error; err != nil {
		t.Fatalf("failed to count publications: %v", err)
	}
	if snapshotCount != publishedCount {
		t.Fatalf("expected one publication per published article, got %d snapshots for %d articles", snapshotCount, publishedCount)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	cleanup := setupSeedTestDB(t)
	defer cleanup()

	site, err := db.EnsureDefaultSite("demo", "Demo")
	if err != nil {
		t.Fatalf("failed to ensure site: %v", err)
	}

	admin := createTestUsers()
	categories := createTestCategories(site.ID)
	tags := createTestTags(site.ID)
	createTestArticles(site.ID, admin.ID, categories, tags)
	createTestSubscribers(site.ID)
	createWelcomeWorkflow(site.ID)

	// 第二次执行应全部跳过，不产生重复数据
	createTestUsers()
	createTestCategories(site.ID)
	createTestTags(site.ID)
	createTestArticles(site.ID, admin.ID, categories, tags)
	createTestSubscribers(site.ID)
	createWelcomeWorkflow(site.ID)

	checks := []struct {
		name  string
		model interface{}
		want  int64
	}{
		{"articles", &db.Article{}, 5},
		{"categories", &db.Category{}, 3},
		{"tags", &db.Tag{}, 5},
		{"subscribers", &db.Subscriber{}, 3},
		{"workflows", &db.Workflow{}, 1},
	}
	for _, check := range checks {
		var count int64
		if err := db.DB.Model(check.model).Count(&count).Error; err != nil {
			t.Fatalf("failed to count %s: %v", check.name, err)
		}
		if count != check.want {
			t.Fatalf("expected %d %s after re-run, got %d", check.want, check.name, count)
		}
	}
}
