package db

import "gorm.io/gorm"

// Redirect 定义了站点级的路径重定向规则，FromPath 在站点内唯一。
type Redirect struct {
	gorm.Model
	SiteID     uint   `gorm:"not null;uniqueIndex:idx_redirects_site_from"`
	FromPath   string `gorm:"size:255;not null;uniqueIndex:idx_redirects_site_from"`
	ToPath     string `gorm:"size:255;not null"`
	StatusCode int    `gorm:"default:301"`
	Hits       uint64 `gorm:"default:0"`
}
