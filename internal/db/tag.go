package db

import "gorm.io/gorm"

// Tag 定义了标签模型，名称在站点内唯一。
type Tag struct {
	gorm.Model
	SiteID       uint      `gorm:"not null;uniqueIndex:idx_tags_site_name"`
	Name         string    `gorm:"size:80;not null;uniqueIndex:idx_tags_site_name"`
	NameEn       string    `gorm:"size:80"`
	SortOrder    int       `gorm:"default:0"`
	Articles     []Article `gorm:"many2many:article_tags;"`
	ArticleCount int64     `gorm:"->;-:migration"`
}
