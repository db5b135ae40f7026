package db

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// 文章状态。
const (
	ArticleStatusDraft     = "draft"
	ArticleStatusScheduled = "scheduled"
	ArticleStatusPublished = "published"
	ArticleStatusArchived  = "archived"
)

// Article 定义了文章模型。标题不落库，始终由正文首行派生。
type Article struct {
	gorm.Model
	SiteID              uint   `gorm:"not null;uniqueIndex:idx_articles_site_slug"`
	Slug                string `gorm:"size:160;not null;uniqueIndex:idx_articles_site_slug"`
	Content             string `gorm:"type:text"`
	Summary             string `gorm:"type:text"`
	Language            string `gorm:"size:10;index"`
	TranslationGroupID  uint   `gorm:"index"`
	Status              string `gorm:"size:20;default:draft;index"`
	CategoryID          *uint  `gorm:"index"`
	Category            *Category
	Tags                []Tag `gorm:"many2many:article_tags;"`
	CoverURL            string
	CoverWidth          int
	CoverHeight         int
	ReadingTime         int
	MetaTitle           string `gorm:"size:160"`
	MetaDescription     string `gorm:"size:300"`
	CanonicalURL        string `gorm:"size:255"`
	OGImageURL          string `gorm:"size:255"`
	NoIndex             bool
	PublishedAt         *time.Time `gorm:"index"`
	ScheduledAt         *time.Time `gorm:"index"`
	PublicationCount    int
	LatestPublicationID *uint
	UserID              uint
	User                User

	// Title 由 Content 首行派生，不作为独立列存储。
	Title string `gorm:"-"`
}

// PopulateDerivedFields 填充派生字段。
func (a *Article) PopulateDerivedFields() {
	a.Title = DeriveTitleFromContent(a.Content)
}

// ArticlePublication 记录文章的一次发布快照，内容与 SEO 字段在发布时刻冻结。
type ArticlePublication struct {
	gorm.Model
	ArticleID       uint   `gorm:"index;not null"`
	SiteID          uint   `gorm:"index;not null"`
	Slug            string `gorm:"size:160;index"`
	Content         string `gorm:"type:text"`
	Summary         string `gorm:"type:text"`
	Language        string `gorm:"size:10"`
	ReadingTime     int
	CoverURL        string
	CoverWidth      int
	CoverHeight     int
	MetaTitle       string `gorm:"size:160"`
	MetaDescription string `gorm:"size:300"`
	CanonicalURL    string `gorm:"size:255"`
	OGImageURL      string `gorm:"size:255"`
	NoIndex         bool
	UserID          uint
	User            User
	PublishedAt     time.Time `gorm:"index"`
	Version         int
	Tags            []Tag `gorm:"many2many:article_publication_tags;"`

	Title string `gorm:"-"`
}

// TableName 指定自定义表名。
func (ArticlePublication) TableName() string {
	return "article_publications"
}

// PopulateDerivedFields 填充派生字段。
func (p *ArticlePublication) PopulateDerivedFields() {
	p.Title = DeriveTitleFromContent(p.Content)
}

// ArticleRevision 记录文章草稿的历史版本快照。
type ArticleRevision struct {
	gorm.Model
	ArticleID   uint `gorm:"index;not null"`
	Article     Article
	Content     string `gorm:"type:text"`
	Summary     string `gorm:"type:text"`
	ReadingTime int
	CoverURL    string
	CoverWidth  int
	CoverHeight int
	UserID      uint
	User        User
	Version     int
	ContentHash string `gorm:"size:64;index"`
}

// TableName 指定自定义表名。
func (ArticleRevision) TableName() string {
	return "article_revisions"
}

// DeriveTitleFromContent 从正文首个非空行派生标题：
// 去掉前导的 # 与两侧的强调符号。
func DeriveTitleFromContent(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		trimmed = strings.TrimLeft(trimmed, "#")
		trimmed = strings.TrimSpace(trimmed)
		trimmed = strings.Trim(trimmed, "*_`")
		return strings.TrimSpace(trimmed)
	}
	return ""
}
