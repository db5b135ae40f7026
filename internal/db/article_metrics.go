package db

import "time"

// ArticleStatistic 汇总文章维度的浏览数据。
type ArticleStatistic struct {
	ID             uint   `gorm:"primaryKey"`
	ArticleID      uint   `gorm:"uniqueIndex"`
	SiteID         uint   `gorm:"index"`
	PageViews      uint64 `gorm:"default:0"`
	UniqueVisitors uint64 `gorm:"default:0"`
	LastViewedAt   time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定自定义表名，避免自动复数化导致的歧义。
func (ArticleStatistic) TableName() string {
	return "article_statistics"
}

// ArticleVisit 记录访客层面的浏览历史，用于 UV/PV 去重。
type ArticleVisit struct {
	ID            uint   `gorm:"primaryKey"`
	ArticleID     uint   `gorm:"uniqueIndex:idx_article_visitor"`
	VisitorID     string `gorm:"size:64;uniqueIndex:idx_article_visitor"`
	LastViewedAt  time.Time
	LastCountedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 指定自定义表名。
func (ArticleVisit) TableName() string {
	return "article_visits"
}
