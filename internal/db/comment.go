package db

import (
	"time"

	"gorm.io/gorm"
)

// 评论状态。
const (
	CommentStatusPending  = "pending"
	CommentStatusApproved = "approved"
	CommentStatusSpam     = "spam"
	CommentStatusDeleted  = "deleted"
)

// 反应类型。
const (
	ReactionLike    = "like"
	ReactionHeart   = "heart"
	ReactionInsight = "insight"
	ReactionClaps   = "claps"
)

// Comment 定义了读者评论模型。Body 保存 Markdown 原文，
// BodyHTML 保存服务端净化后的渲染结果，前台只输出后者。
type Comment struct {
	gorm.Model
	SiteID      uint   `gorm:"index;not null"`
	ArticleID   uint   `gorm:"index;not null"`
	ParentID    *uint  `gorm:"index"`
	AuthorName  string `gorm:"size:80;not null"`
	AuthorEmail string `gorm:"size:255"`
	Body        string `gorm:"type:text;not null"`
	BodyHTML    string `gorm:"type:text"`
	Status      string `gorm:"size:20;default:pending;index"`
	VisitorID   string `gorm:"size:64;index"`
}

// Reaction 记录访客对文章的表态，按 (文章, 访客, 类型) 去重。
type Reaction struct {
	ID        uint      `gorm:"primaryKey"`
	SiteID    uint      `gorm:"index;not null"`
	ArticleID uint      `gorm:"uniqueIndex:idx_reaction_dedup;not null"`
	VisitorID string    `gorm:"size:64;uniqueIndex:idx_reaction_dedup;not null"`
	Kind      string    `gorm:"size:20;uniqueIndex:idx_reaction_dedup;not null"`
	CreatedAt time.Time
}

// TableName 指定自定义表名。
func (Reaction) TableName() string {
	return "reactions"
}

// KnownReactionKind 判断反应类型是否受支持。
func KnownReactionKind(kind string) bool {
	switch kind {
	case ReactionLike, ReactionHeart, ReactionInsight, ReactionClaps:
		return true
	}
	return false
}
