package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/presshub/internal/db"
	"gorm.io/gorm"
)

// 分类树最多三层，再深的层级在导航里已经没有意义
const maxCategoryDepth = 3

var (
	ErrCategoryNotFound      = errors.New("category not found")
	ErrCategorySlugExists    = errors.New("category slug already exists")
	ErrCategorySlugInvalid   = errors.New("category slug is invalid")
	ErrCategoryNameRequired  = errors.New("category name is required")
	ErrCategoryInUse         = errors.New("category still has child categories")
	ErrCategoryOrder         = errors.New("invalid category order")
	ErrCategoryParentInvalid = errors.New("category parent is invalid")
	ErrCategoryTooDeep       = errors.New("category tree exceeds the depth limit")
)

// CategoryService 封装分类相关操作，全部查询按站点隔离
type CategoryService struct {
	db *gorm.DB
}

// CategoryInput 创建或更新分类的入参
type CategoryInput struct {
	Slug        string
	Name        string
	NameEn      string
	Description string
	ParentID    *uint
}

// CategoryNode 是分类树的一个节点
type CategoryNode struct {
	Category db.Category
	Children []*CategoryNode
}

func NewCategoryService(gdb *gorm.DB) *CategoryService {
	return &CategoryService{db: gdb}
}

// List 返回站点全部分类的平铺列表，附带文章数
func (s *CategoryService) List(siteID uint) ([]db.Category, error) {
	var categories []db.Category
	err := s.db.Model(&db.Category{}).
		Select("categories.*, COUNT(articles.id) AS article_count").
		Joins("LEFT JOIN articles ON articles.category_id = categories.id AND articles.deleted_at IS NULL").
		Where("categories.site_id = ?", siteID).
		Group("categories.id").
		Order("categories.sort_order asc").
		Order("categories.id asc").
		Find(&categories).Error
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// Tree 返回站点分类的嵌套结构，子级按 sort_order 排列
func (s *CategoryService) Tree(siteID uint) ([]*CategoryNode, error) {
	categories, err := s.List(siteID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[uint]*CategoryNode, len(categories))
	for i := range categories {
		nodes[categories[i].ID] = &CategoryNode{Category: categories[i]}
	}

	var roots []*CategoryNode
	for i := range categories {
		node := nodes[categories[i].ID]
		parentID := categories[i].ParentID
		if parentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*parentID]
		if !ok {
			// 父级被删或跨站数据，按根节点处理
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots, nil
}

// Get 获取单个分类
func (s *CategoryService) Get(siteID, id uint) (*db.Category, error) {
	var category db.Category
	if err := s.db.Where("site_id = ?", siteID).First(&category, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}
	return &category, nil
}

// GetBySlug 按 slug 获取分类，前台路由使用
func (s *CategoryService) GetBySlug(siteID uint, slug string) (*db.Category, error) {
	var category db.Category
	err := s.db.Where("site_id = ? AND slug = ?", siteID, slug).First(&category).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}
	return &category, nil
}

// Create 新建分类；slug 省略时由名称派生
func (s *CategoryService) Create(siteID uint, input CategoryInput) (*db.Category, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrCategoryNameRequired
	}

	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = Slugify(name)
	} else {
		slug = strings.ToLower(slug)
		if !articleSlugPattern.MatchString(slug) {
			return nil, fmt.Errorf("%w: %s", ErrCategorySlugInvalid, slug)
		}
	}
	if err := s.checkSlugFree(siteID, slug, 0); err != nil {
		return nil, err
	}

	if input.ParentID != nil {
		if err := s.validateParent(siteID, *input.ParentID, 0, 1); err != nil {
			return nil, err
		}
	}

	sortOrder, err := s.nextSortOrder(siteID, input.ParentID)
	if err != nil {
		return nil, err
	}

	category := db.Category{
		SiteID:      siteID,
		Slug:        slug,
		Name:        name,
		NameEn:      strings.TrimSpace(input.NameEn),
		Description: strings.TrimSpace(input.Description),
		ParentID:    input.ParentID,
		SortOrder:   sortOrder,
	}
	if err := s.db.Create(&category).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

// Update 更新分类；父级调整会做环与深度校验
func (s *CategoryService) Update(siteID, id uint, input CategoryInput) (*db.Category, error) {
	category, err := s.Get(siteID, id)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrCategoryNameRequired
	}

	slug := category.Slug
	if trimmed := strings.ToLower(strings.TrimSpace(input.Slug)); trimmed != "" && trimmed != category.Slug {
		if !articleSlugPattern.MatchString(trimmed) {
			return nil, fmt.Errorf("%w: %s", ErrCategorySlugInvalid, trimmed)
		}
		if err := s.checkSlugFree(siteID, trimmed, id); err != nil {
			return nil, err
		}
		slug = trimmed
	}

	if !sameParent(category.ParentID, input.ParentID) && input.ParentID != nil {
		height, err := s.subtreeHeight(siteID, id)
		if err != nil {
			return nil, err
		}
		if err := s.validateParent(siteID, *input.ParentID, id, height); err != nil {
			return nil, err
		}
	}

	category.Slug = slug
	category.Name = name
	category.NameEn = strings.TrimSpace(input.NameEn)
	category.Description = strings.TrimSpace(input.Description)
	category.ParentID = input.ParentID
	if err := s.db.Model(category).Updates(map[string]interface{}{
		"slug":        category.Slug,
		"name":        category.Name,
		"name_en":     category.NameEn,
		"description": category.Description,
		"parent_id":   category.ParentID,
	}).Error; err != nil {
		return nil, err
	}
	return category, nil
}

// Delete 删除分类；有子分类时拒绝，挂在其下的文章改为未分类
func (s *CategoryService) Delete(siteID, id uint) error {
	category, err := s.Get(siteID, id)
	if err != nil {
		return err
	}

	var childCount int64
	if err := s.db.Model(&db.Category{}).Where("parent_id = ?", id).Count(&childCount).Error; err != nil {
		return err
	}
	if childCount > 0 {
		return ErrCategoryInUse
	}

	// 文章不阻止删除，归到"未分类"
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.Article{}).
			Where("site_id = ? AND category_id = ?", siteID, id).
			Update("category_id", nil).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(category).Error
	})
}

// Reorder 调整同一父级下的分类顺序
func (s *CategoryService) Reorder(siteID uint, parentID *uint, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}

	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			return ErrCategoryOrder
		}
		if _, ok := seen[id]; ok {
			return ErrCategoryOrder
		}
		seen[id] = struct{}{}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for idx, id := range ids {
			query := tx.Model(&db.Category{}).Where("id = ? AND site_id = ?", id, siteID)
			if parentID == nil {
				query = query.Where("parent_id IS NULL")
			} else {
				query = query.Where("parent_id = ?", *parentID)
			}
			result := query.Update("sort_order", idx)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrCategoryNotFound
			}
		}
		return nil
	})
}

// validateParent 校验父级归属、环以及调整后的总深度。
// subtreeHeight 是被移动节点自身子树的高度，新建时为 1。
func (s *CategoryService) validateParent(siteID, parentID, selfID uint, subtreeHeight int) error {
	if parentID == selfID && selfID != 0 {
		return ErrCategoryParentInvalid
	}

	depth := 1
	current := parentID
	for current != 0 {
		var parent db.Category
		if err := s.db.Where("site_id = ?", siteID).First(&parent, current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCategoryParentInvalid
			}
			return err
		}
		if selfID != 0 && parent.ID == selfID {
			return ErrCategoryParentInvalid
		}
		if parent.ParentID == nil {
			break
		}
		current = *parent.ParentID
		depth++
		if depth > maxCategoryDepth {
			return ErrCategoryTooDeep
		}
	}

	if depth+subtreeHeight > maxCategoryDepth {
		return ErrCategoryTooDeep
	}
	return nil
}

// subtreeHeight 计算节点自身及其后代构成的高度
func (s *CategoryService) subtreeHeight(siteID, id uint) (int, error) {
	var children []db.Category
	if err := s.db.Where("site_id = ? AND parent_id = ?", siteID, id).Find(&children).Error; err != nil {
		return 0, err
	}
	height := 1
	for _, child := range children {
		childHeight, err := s.subtreeHeight(siteID, child.ID)
		if err != nil {
			return 0, err
		}
		if childHeight+1 > height {
			height = childHeight + 1
		}
	}
	return height, nil
}

func (s *CategoryService) checkSlugFree(siteID uint, slug string, selfID uint) error {
	query := s.db.Model(&db.Category{}).Where("site_id = ? AND slug = ?", siteID, slug)
	if selfID != 0 {
		query = query.Where("id <> ?", selfID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrCategorySlugExists, slug)
	}
	return nil
}

func (s *CategoryService) nextSortOrder(siteID uint, parentID *uint) (int, error) {
	query := s.db.Model(&db.Category{}).Where("site_id = ?", siteID)
	if parentID == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *parentID)
	}
	var maxSort int
	if err := query.Select("COALESCE(MAX(sort_order), -1)").Scan(&maxSort).Error; err != nil {
		return 0, err
	}
	return maxSort + 1, nil
}

func sameParent(a, b *uint) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
