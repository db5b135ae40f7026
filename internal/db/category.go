package db

import "gorm.io/gorm"

// Category 定义了分类模型，支持最多三层的父子结构。
type Category struct {
	gorm.Model
	SiteID       uint   `gorm:"not null;uniqueIndex:idx_categories_site_slug"`
	Slug         string `gorm:"size:120;not null;uniqueIndex:idx_categories_site_slug"`
	Name         string `gorm:"size:120;not null"`
	NameEn       string `gorm:"size:120"`
	Description  string `gorm:"type:text"`
	ParentID     *uint  `gorm:"index"`
	SortOrder    int    `gorm:"default:0"`
	Articles     []Article
	ArticleCount int64 `gorm:"->;-:migration"`
}
