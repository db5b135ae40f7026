package db

import "gorm.io/gorm"

// MediaItem 定义媒体库条目，封面与广告素材均引用这里的文件地址。
type MediaItem struct {
	gorm.Model
	SiteID      uint   `gorm:"index;not null"`
	Title       string
	Description string
	FileURL     string `gorm:"size:255;not null"`
	ContentType string `gorm:"size:80"`
	ByteSize    int64
	Width       int
	Height      int
	Status      string `gorm:"size:20;default:published"` // published, draft
	SortOrder   int    `gorm:"default:0"`
}

// TableName 指定自定义表名。
func (MediaItem) TableName() string {
	return "media_items"
}
