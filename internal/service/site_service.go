package service

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/locale"
	"gorm.io/gorm"
)

var (
	ErrSiteNotFound         = errors.New("site not found")
	ErrSiteSlugExists       = errors.New("site slug already exists")
	ErrSiteSlugInvalid      = errors.New("site slug is invalid")
	ErrSiteNameMissing      = errors.New("site name is required")
	ErrDomainInvalid        = errors.New("domain is invalid")
	ErrDomainTaken          = errors.New("domain is bound to another site")
	ErrSiteLinkNotFound     = errors.New("site link not found")
	ErrSiteLinkInvalidInput = errors.New("invalid site link input")
)

var sitePathSlugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// SiteService 管理站点、域名绑定与对外链接。
type SiteService struct {
	db *gorm.DB
}

// SiteInput 描述创建或更新站点时可设置的字段。
type SiteInput struct {
	Slug            string
	Name            string
	Description     string
	PrimaryDomain   string
	DefaultLanguage string
	BaseURL         string
}

// SiteLinkInput 描述站点链接的可设置字段。
// Sort/Visible 使用指针判断是否显式传入。
type SiteLinkInput struct {
	Platform string
	Label    string
	URL      string
	Sort     *int
	Visible  *bool
}

// NewSiteService 构造 SiteService。
func NewSiteService(gdb *gorm.DB) *SiteService {
	return &SiteService{db: gdb}
}

// List 返回全部站点，按创建顺序排列。
func (s *SiteService) List() ([]db.Site, error) {
	var sites []db.Site
	if err := s.db.Order("id asc").Find(&sites).Error; err != nil {
		return nil, err
	}
	return sites, nil
}

// Get 按主键获取站点。
func (s *SiteService) Get(id uint) (*db.Site, error) {
	var site db.Site
	if err := s.db.First(&site, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}
	return &site, nil
}

// GetBySlug 按短标识获取站点。
func (s *SiteService) GetBySlug(slug string) (*db.Site, error) {
	var site db.Site
	if err := s.db.Where("slug = ?", strings.TrimSpace(slug)).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}
	return &site, nil
}

// ResolveByHost 根据请求 Host 解析归属站点。命中已停用站点的域名时
// 直接返回 ErrSiteNotFound，停用站点仅在后台可见；只有完全未匹配的
// Host 才回退到 ID 最小的活跃站点，保证单站点部署无需配置域名即可访问。
func (s *SiteService) ResolveByHost(host string) (*db.Site, error) {
	normalized := NormalizeHost(host)

	if normalized != "" {
		var site db.Site
		err := s.db.Where("primary_domain = ?", normalized).First(&site).Error
		if err == nil {
			if site.Status != db.SiteStatusActive {
				return nil, ErrSiteNotFound
			}
			return &site, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		var domain db.SiteDomain
		err = s.db.Where("domain = ?", normalized).First(&domain).Error
		if err == nil {
			if err := s.db.First(&site, domain.SiteID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, ErrSiteNotFound
				}
				return nil, err
			}
			if site.Status != db.SiteStatusActive {
				return nil, ErrSiteNotFound
			}
			return &site, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var fallback db.Site
	if err := s.db.Where("status = ?", db.SiteStatusActive).Order("id asc").First(&fallback).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}
	return &fallback, nil
}

// Create 新建站点，短标识需全局唯一。
func (s *SiteService) Create(input SiteInput) (*db.Site, error) {
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if !sitePathSlugPattern.MatchString(slug) {
		return nil, ErrSiteSlugInvalid
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrSiteNameMissing
	}

	var existing db.Site
	if err := s.db.Where("slug = ?", slug).First(&existing).Error; err == nil {
		return nil, ErrSiteSlugExists
	}

	site := db.Site{
		Slug:            slug,
		Name:            name,
		Description:     strings.TrimSpace(input.Description),
		PrimaryDomain:   NormalizeHost(input.PrimaryDomain),
		Status:          db.SiteStatusActive,
		DefaultLanguage: locale.FallbackLanguage(input.DefaultLanguage),
		BaseURL:         strings.TrimRight(strings.TrimSpace(input.BaseURL), "/"),
	}

	if err := s.db.Create(&site).Error; err != nil {
		return nil, fmt.Errorf("create site: %w", err)
	}
	return &site, nil
}

// Update 更新站点信息。
func (s *SiteService) Update(id uint, input SiteInput) (*db.Site, error) {
	var site db.Site
	if err := s.db.First(&site, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}

	if slug := strings.ToLower(strings.TrimSpace(input.Slug)); slug != "" && slug != site.Slug {
		if !sitePathSlugPattern.MatchString(slug) {
			return nil, ErrSiteSlugInvalid
		}
		var existing db.Site
		if err := s.db.Where("slug = ? AND id <> ?", slug, id).First(&existing).Error; err == nil {
			return nil, ErrSiteSlugExists
		}
		site.Slug = slug
	}

	if name := strings.TrimSpace(input.Name); name != "" {
		site.Name = name
	}
	site.Description = strings.TrimSpace(input.Description)
	site.PrimaryDomain = NormalizeHost(input.PrimaryDomain)
	site.BaseURL = strings.TrimRight(strings.TrimSpace(input.BaseURL), "/")
	if lang := locale.NormalizeLanguage(input.DefaultLanguage); lang != "" {
		site.DefaultLanguage = lang
	}

	if err := s.db.Save(&site).Error; err != nil {
		return nil, fmt.Errorf("update site: %w", err)
	}
	return &site, nil
}

// SetStatus 启用或停用站点。
func (s *SiteService) SetStatus(id uint, status string) (*db.Site, error) {
	if status != db.SiteStatusActive && status != db.SiteStatusDisabled {
		return nil, fmt.Errorf("unknown site status %q", status)
	}

	var site db.Site
	if err := s.db.First(&site, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}

	site.Status = status
	if err := s.db.Save(&site).Error; err != nil {
		return nil, err
	}
	return &site, nil
}

// Delete 软删除站点并解绑其域名。内容数据保留，便于恢复或归档导出。
func (s *SiteService) Delete(id uint) error {
	var site db.Site
	if err := s.db.First(&site, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSiteNotFound
		}
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("site_id = ?", id).Delete(&db.SiteDomain{}).Error; err != nil {
			return err
		}
		return tx.Delete(&site).Error
	})
}

// Domains 返回站点绑定的全部域名别名。
func (s *SiteService) Domains(siteID uint) ([]db.SiteDomain, error) {
	var domains []db.SiteDomain
	if err := s.db.Where("site_id = ?", siteID).Order("domain asc").Find(&domains).Error; err != nil {
		return nil, err
	}
	return domains, nil
}

// AddDomain 为站点绑定一个域名别名，域名全局唯一。
func (s *SiteService) AddDomain(siteID uint, domain string) (*db.SiteDomain, error) {
	normalized := NormalizeHost(domain)
	if normalized == "" {
		return nil, ErrDomainInvalid
	}

	if _, err := s.Get(siteID); err != nil {
		return nil, err
	}

	var existing db.SiteDomain
	if err := s.db.Where("domain = ?", normalized).First(&existing).Error; err == nil {
		if existing.SiteID == siteID {
			return &existing, nil
		}
		return nil, ErrDomainTaken
	}

	record := db.SiteDomain{SiteID: siteID, Domain: normalized}
	if err := s.db.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("add site domain: %w", err)
	}
	return &record, nil
}

// RemoveDomain 解绑站点域名。
func (s *SiteService) RemoveDomain(siteID uint, domain string) error {
	normalized := NormalizeHost(domain)
	result := s.db.Where("site_id = ? AND domain = ?", siteID, normalized).Delete(&db.SiteDomain{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSiteNotFound
	}
	return nil
}

// ListLinks 返回站点链接集合，默认按排序值升序。
// includeHidden 为 false 时过滤掉不可见条目。
func (s *SiteService) ListLinks(siteID uint, includeHidden bool) ([]db.SiteLink, error) {
	query := s.db.Model(&db.SiteLink{}).Where("site_id = ?", siteID)
	if !includeHidden {
		query = query.Where("visible = ?", true)
	}

	var items []db.SiteLink
	if err := query.Order("sort ASC, id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list site links: %w", err)
	}
	return items, nil
}

// CreateLink 新建站点链接，未指定排序时自动追加到末尾。
func (s *SiteService) CreateLink(siteID uint, input SiteLinkInput) (*db.SiteLink, error) {
	if err := validateSiteLinkInput(input); err != nil {
		return nil, err
	}

	sortValue, err := s.resolveLinkSort(siteID, input.Sort)
	if err != nil {
		return nil, err
	}

	visible := true
	if input.Visible != nil {
		visible = *input.Visible
	}

	link := db.SiteLink{
		SiteID:   siteID,
		Platform: strings.TrimSpace(input.Platform),
		Label:    strings.TrimSpace(input.Label),
		URL:      strings.TrimSpace(input.URL),
		Sort:     sortValue,
		Visible:  visible,
	}

	if err := s.db.Create(&link).Error; err != nil {
		return nil, fmt.Errorf("create site link: %w", err)
	}
	return &link, nil
}

// UpdateLink 更新指定站点链接。
func (s *SiteService) UpdateLink(siteID, id uint, input SiteLinkInput) (*db.SiteLink, error) {
	if err := validateSiteLinkInput(input); err != nil {
		return nil, err
	}

	var link db.SiteLink
	if err := s.db.Where("site_id = ?", siteID).First(&link, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteLinkNotFound
		}
		return nil, fmt.Errorf("find site link: %w", err)
	}

	link.Platform = strings.TrimSpace(input.Platform)
	link.Label = strings.TrimSpace(input.Label)
	link.URL = strings.TrimSpace(input.URL)
	if input.Sort != nil {
		link.Sort = *input.Sort
	}
	if input.Visible != nil {
		link.Visible = *input.Visible
	}

	if err := s.db.Save(&link).Error; err != nil {
		return nil, fmt.Errorf("update site link: %w", err)
	}
	return &link, nil
}

// DeleteLink 删除指定站点链接。
func (s *SiteService) DeleteLink(siteID, id uint) error {
	result := s.db.Where("site_id = ?", siteID).Delete(&db.SiteLink{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete site link: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSiteLinkNotFound
	}
	return nil
}

// ReorderLinks 按给定顺序重排站点链接，未包含的条目保持原排序。
func (s *SiteService) ReorderLinks(siteID uint, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for index, id := range ids {
			if err := tx.Model(&db.SiteLink{}).
				Where("site_id = ? AND id = ?", siteID, id).
				Update("sort", index).Error; err != nil {
				return fmt.Errorf("reorder site links: %w", err)
			}
		}
		return nil
	})
}

func (s *SiteService) resolveLinkSort(siteID uint, sortPtr *int) (int, error) {
	if sortPtr != nil {
		return *sortPtr, nil
	}

	var maxSort int
	if err := s.db.Model(&db.SiteLink{}).
		Where("site_id = ?", siteID).
		Select("COALESCE(MAX(sort), -1)").
		Scan(&maxSort).Error; err != nil {
		return 0, fmt.Errorf("resolve site link sort: %w", err)
	}
	return maxSort + 1, nil
}

func validateSiteLinkInput(input SiteLinkInput) error {
	if strings.TrimSpace(input.Platform) == "" {
		return fmt.Errorf("%w: platform is required", ErrSiteLinkInvalidInput)
	}
	if strings.TrimSpace(input.Label) == "" {
		return fmt.Errorf("%w: label is required", ErrSiteLinkInvalidInput)
	}
	if strings.TrimSpace(input.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrSiteLinkInvalidInput)
	}
	return nil
}

// NormalizeHost 去掉端口并统一为小写域名。
func NormalizeHost(host string) string {
	trimmed := strings.ToLower(strings.TrimSpace(host))
	if trimmed == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(trimmed); err == nil {
		trimmed = h
	}
	return strings.TrimSuffix(trimmed, ".")
}
