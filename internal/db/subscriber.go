package db

import (
	"time"

	"gorm.io/gorm"
)

// 订阅者状态。
const (
	SubscriberStatusPending      = "pending"
	SubscriberStatusConfirmed    = "confirmed"
	SubscriberStatusUnsubscribed = "unsubscribed"
)

// Subscriber 定义了营销订阅者模型，邮箱统一小写存储并在站点内唯一。
type Subscriber struct {
	gorm.Model
	SiteID       uint   `gorm:"not null;uniqueIndex:idx_subscribers_site_email"`
	Email        string `gorm:"size:255;not null;uniqueIndex:idx_subscribers_site_email"`
	Name         string `gorm:"size:120"`
	Status       string `gorm:"size:20;default:pending;index"`
	Language     string `gorm:"size:10"`
	ConfirmToken string `gorm:"size:64;index"`
	ConsentAt    *time.Time
}

// SubscriberTag 记录自动化流程打在订阅者身上的标签。
type SubscriberTag struct {
	ID           uint   `gorm:"primaryKey"`
	SubscriberID uint   `gorm:"uniqueIndex:idx_subscriber_tag;not null"`
	Name         string `gorm:"size:80;uniqueIndex:idx_subscriber_tag;not null"`
	CreatedAt    time.Time
}

// TableName 指定自定义表名。
func (SubscriberTag) TableName() string {
	return "subscriber_tags"
}
