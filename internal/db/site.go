package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// 站点状态。
const (
	// SiteStatusActive 表示站点对外可访问。
	SiteStatusActive = "active"
	// SiteStatusDisabled 表示站点暂停对外服务，后台仍可编辑。
	SiteStatusDisabled = "disabled"
)

// Site 定义多租户部署中的一个独立站点，所有内容数据按 SiteID 隔离。
type Site struct {
	gorm.Model
	Slug            string `gorm:"size:80;uniqueIndex;not null"`
	Name            string `gorm:"size:120;not null"`
	Description     string `gorm:"type:text"`
	PrimaryDomain   string `gorm:"size:255;index"`
	Status          string `gorm:"size:20;default:active;index"`
	DefaultLanguage string `gorm:"size:10;default:zh"`
	BaseURL         string `gorm:"size:255"`
}

// SiteDomain 记录站点的附加域名别名，用于按 Host 解析租户。
type SiteDomain struct {
	gorm.Model
	SiteID uint   `gorm:"index;not null"`
	Domain string `gorm:"size:255;uniqueIndex;not null"`
}

// TableName 指定自定义表名。
func (SiteDomain) TableName() string {
	return "site_domains"
}

// SiteLink 保存站点对外展示的社交与联系链接。
// Sort 值越小越靠前，Visible 控制是否随元数据输出。
type SiteLink struct {
	gorm.Model
	SiteID   uint   `gorm:"index;not null"`
	Platform string `gorm:"size:50;not null"`
	Label    string `gorm:"size:80;not null"`
	URL      string `gorm:"size:255;not null"`
	Sort     int    `gorm:"default:0"`
	Visible  bool
}

// TableName 指定自定义表名。
func (SiteLink) TableName() string {
	return "site_links"
}

// EnsureDefaultSite 存在性检查：没有任何站点时创建一个缺省站点，
// 返回当前的缺省站点（按 ID 最小者）。
func EnsureDefaultSite(slug, name string) (*Site, error) {
	if DB == nil {
		return nil, errors.New("database not initialized")
	}

	var site Site
	if err := DB.Order("id asc").First(&site).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		trimmedSlug := strings.TrimSpace(slug)
		if trimmedSlug == "" {
			trimmedSlug = "default"
		}
		trimmedName := strings.TrimSpace(name)
		if trimmedName == "" {
			trimmedName = "PressHub"
		}

		site = Site{
			Slug:            trimmedSlug,
			Name:            trimmedName,
			Status:          SiteStatusActive,
			DefaultLanguage: "zh",
		}
		if err := DB.Create(&site).Error; err != nil {
			return nil, err
		}
	}

	return &site, nil
}
