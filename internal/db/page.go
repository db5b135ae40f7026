package db

import "gorm.io/gorm"

// Page represents a standalone content page such as About.
type Page struct {
	gorm.Model
	SiteID   uint   `gorm:"not null;uniqueIndex:idx_pages_site_slug"`
	Slug     string `gorm:"size:120;not null;uniqueIndex:idx_pages_site_slug"`
	Title    string `gorm:"not null"`
	Summary  string
	Content  string `gorm:"type:text"`
	Language string `gorm:"size:10"`
	Status   string `gorm:"size:20;default:published"` // published, draft
}
