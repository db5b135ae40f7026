package db

import (
	"time"

	"gorm.io/gorm"
)

// 广告活动状态。
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
)

// 广告素材状态。
const (
	CreativeStatusActive   = "active"
	CreativeStatusDisabled = "disabled"
)

// AdSlot 定义了页面上的一个广告位，Key 在站点内唯一。
type AdSlot struct {
	gorm.Model
	SiteID uint   `gorm:"not null;uniqueIndex:idx_ad_slots_site_key"`
	Key    string `gorm:"size:80;not null;uniqueIndex:idx_ad_slots_site_key"`
	Name   string `gorm:"size:120;not null"`
	Width  int
	Height int
}

// TableName 指定自定义表名。
func (AdSlot) TableName() string {
	return "ad_slots"
}

// AdCampaign 定义了广告活动，投放窗口为 [StartAt, EndAt]，两端可空。
type AdCampaign struct {
	gorm.Model
	SiteID  uint   `gorm:"index;not null"`
	Name    string `gorm:"size:120;not null"`
	Status  string `gorm:"size:20;default:draft;index"`
	StartAt *time.Time
	EndAt   *time.Time
	Weight  int `gorm:"default:1"`
}

// TableName 指定自定义表名。
func (AdCampaign) TableName() string {
	return "ad_campaigns"
}

// AdCreative 定义了具体投放的素材，归属于某个活动与广告位。
type AdCreative struct {
	gorm.Model
	CampaignID uint `gorm:"index;not null"`
	Campaign   AdCampaign
	SlotID     uint `gorm:"index;not null"`
	Slot       AdSlot
	Name       string `gorm:"size:120;not null"`
	ImageURL   string `gorm:"size:255"`
	TargetURL  string `gorm:"size:255;not null"`
	Body       string `gorm:"type:text"`
	Weight     int    `gorm:"default:1"`
	Status     string `gorm:"size:20;default:active;index"`
}

// TableName 指定自定义表名。
func (AdCreative) TableName() string {
	return "ad_creatives"
}

// AdStatistic 按 UTC 自然日汇总素材的曝光与点击。
type AdStatistic struct {
	ID          uint      `gorm:"primaryKey"`
	CreativeID  uint      `gorm:"uniqueIndex:idx_ad_stats_day;not null"`
	Day         time.Time `gorm:"uniqueIndex:idx_ad_stats_day;not null"`
	Impressions uint64    `gorm:"default:0"`
	Clicks      uint64    `gorm:"default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 指定自定义表名。
func (AdStatistic) TableName() string {
	return "ad_statistics"
}

// AdEvent 记录访客层面的曝光事件，用于同日去重。
type AdEvent struct {
	ID         uint      `gorm:"primaryKey"`
	CreativeID uint      `gorm:"uniqueIndex:idx_ad_event_dedup;not null"`
	VisitorID  string    `gorm:"size:64;uniqueIndex:idx_ad_event_dedup;not null"`
	Day        time.Time `gorm:"uniqueIndex:idx_ad_event_dedup;not null"`
	CreatedAt  time.Time
}

// TableName 指定自定义表名。
func (AdEvent) TableName() string {
	return "ad_events"
}
