package service

import (
	"errors"
	"strings"

	"github.com/presshub/internal/db"
	"gorm.io/gorm"
)

var (
	ErrTagExists   = errors.New("tag already exists")
	ErrTagInUse    = errors.New("tag is associated with articles")
	ErrTagNotFound = errors.New("tag not found")
	ErrTagOrder    = errors.New("invalid tag order")
)

// TagService wraps tag related operations. All queries are scoped
// to a single site.
type TagService struct {
	db *gorm.DB
}

// TagUsage 描述标签在已发布文章中的使用次数
type TagUsage struct {
	ID    uint
	Name  string
	Count int64
}

// TagInput 创建或更新标签的入参
type TagInput struct {
	Name   string
	NameEn string
}

// NewTagService creates a TagService instance.
func NewTagService(gdb *gorm.DB) *TagService {
	return &TagService{db: gdb}
}

// List returns the site's tags in configured order with usage counts.
func (s *TagService) List(siteID uint) ([]db.Tag, error) {
	var tags []db.Tag
	if err := s.db.
		Model(&db.Tag{}).
		Select("tags.*, COUNT(article_tags.article_id) AS article_count").
		Joins("LEFT JOIN article_tags ON article_tags.tag_id = tags.id").
		Where("tags.site_id = ?", siteID).
		Group("tags.id").
		Order("tags.sort_order asc").
		Order("tags.name asc").
		Order("tags.id asc").
		Find(&tags).Error; err != nil {
		return nil, err
	}
	return tags, nil
}

// Get 获取单个标签并附带使用次数
func (s *TagService) Get(siteID, id uint) (*db.Tag, error) {
	var tag db.Tag
	if err := s.db.Where("site_id = ?", siteID).First(&tag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTagNotFound
		}
		return nil, err
	}
	count, err := s.articleUsageCount(tag.ID)
	if err != nil {
		return nil, err
	}
	tag.ArticleCount = count
	return &tag, nil
}

// PublishedUsage 返回已发布文章中标签的使用统计
func (s *TagService) PublishedUsage(siteID uint) ([]TagUsage, error) {
	var rows []struct {
		ID    uint
		Name  string
		Count int64
	}

	query := s.db.Table("tags").
		Select("tags.id, tags.name, COUNT(DISTINCT article_publications.id) AS count").
		Joins("JOIN article_publication_tags ON article_publication_tags.tag_id = tags.id").
		Joins("JOIN article_publications ON article_publications.id = article_publication_tags.article_publication_id").
		Joins("JOIN articles ON articles.latest_publication_id = article_publications.id").
		Where("tags.site_id = ? AND articles.status = ?", siteID, db.ArticleStatusPublished).
		Group("tags.id, tags.name").
		Order("tags.sort_order asc").
		Order("tags.name asc").
		Order("tags.id asc")

	if err := query.Scan(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []TagUsage{}, nil
		}
		return nil, err
	}

	usages := make([]TagUsage, 0, len(rows))
	for _, row := range rows {
		usages = append(usages, TagUsage{
			ID:    row.ID,
			Name:  row.Name,
			Count: row.Count,
		})
	}

	return usages, nil
}

// Create inserts a new tag with a name unique inside the site.
func (s *TagService) Create(siteID uint, input TagInput) (*db.Tag, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("tag name is required")
	}

	var existing db.Tag
	if err := s.db.Where("site_id = ? AND name = ?", siteID, name).First(&existing).Error; err == nil {
		return nil, ErrTagExists
	}

	sortOrder, err := s.nextSortOrder(siteID)
	if err != nil {
		return nil, err
	}

	tag := db.Tag{
		SiteID:    siteID,
		Name:      name,
		NameEn:    strings.TrimSpace(input.NameEn),
		SortOrder: sortOrder,
	}
	if err := s.db.Create(&tag).Error; err != nil {
		return nil, err
	}
	tag.ArticleCount = 0

	return &tag, nil
}

// Update changes the tag while keeping the name unique per site.
func (s *TagService) Update(siteID, id uint, input TagInput) (*db.Tag, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("tag name is required")
	}

	var tag db.Tag
	if err := s.db.Where("site_id = ?", siteID).First(&tag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTagNotFound
		}
		return nil, err
	}

	var existing db.Tag
	if err := s.db.Where("site_id = ? AND name = ? AND id <> ?", siteID, name, id).First(&existing).Error; err == nil {
		return nil, ErrTagExists
	}

	tag.Name = name
	tag.NameEn = strings.TrimSpace(input.NameEn)
	if err := s.db.Save(&tag).Error; err != nil {
		return nil, err
	}

	count, err := s.articleUsageCount(tag.ID)
	if err != nil {
		return nil, err
	}
	tag.ArticleCount = count

	return &tag, nil
}

// Delete removes a tag if no article references it.
func (s *TagService) Delete(siteID, id uint) error {
	var tag db.Tag
	if err := s.db.Where("site_id = ?", siteID).First(&tag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTagNotFound
		}
		return err
	}

	count, err := s.articleUsageCount(id)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrTagInUse
	}

	return s.db.Unscoped().Delete(&tag).Error
}

// Reorder updates tag sort order based on the provided ids sequence.
func (s *TagService) Reorder(siteID uint, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}

	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			return ErrTagOrder
		}
		if _, ok := seen[id]; ok {
			return ErrTagOrder
		}
		seen[id] = struct{}{}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for idx, id := range ids {
			result := tx.Model(&db.Tag{}).
				Where("id = ? AND site_id = ?", id, siteID).
				Update("sort_order", idx)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrTagNotFound
			}
		}
		return nil
	})
}

func (s *TagService) articleUsageCount(id uint) (int64, error) {
	var count int64
	if err := s.db.Model(&db.Article{}).
		Joins("JOIN article_tags ON articles.id = article_tags.article_id").
		Where("article_tags.tag_id = ?", id).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *TagService) nextSortOrder(siteID uint) (int, error) {
	var maxSort int
	if err := s.db.Model(&db.Tag{}).
		Where("site_id = ?", siteID).
		Select("COALESCE(MAX(sort_order), -1)").
		Scan(&maxSort).Error; err != nil {
		return 0, err
	}
	return maxSort + 1, nil
}
