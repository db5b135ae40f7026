package service

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	// 注册 stdlib 之外的解码器，webp 封面在上传时同样能读出宽高。
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/google/uuid"
	"github.com/presshub/internal/db"
	"gorm.io/gorm"
)

var (
	ErrMediaNotFound      = errors.New("media item not found")
	ErrMediaFileMissing   = errors.New("media file is required")
	ErrMediaNotImage      = errors.New("only image uploads are accepted")
	ErrMediaStatusInvalid = errors.New("media status is invalid")
)

const (
	MediaStatusPublished = "published"
	MediaStatusDraft     = "draft"
)

// MediaService 管理媒体库：上传落盘、尺寸识别与条目维护。
// 文章封面与广告素材都引用这里产出的文件地址。
type MediaService struct {
	db         *gorm.DB
	uploadDir  string
	publicBase string
}

// MediaFilter 媒体列表筛选条件
type MediaFilter struct {
	Search  string
	Status  string
	Page    int
	PerPage int
}

// MediaListResult 聚合分页数据
type MediaListResult struct {
	Items      []db.MediaItem
	Total      int64
	TotalPages int
	Page       int
	PerPage    int
}

// MediaInput 更新媒体条目的入参
type MediaInput struct {
	Title       string
	Description string
	Status      string
	SortOrder   int
}

// MediaUpload 描述一次待落盘的上传。Content 需要可回绕，
// 因为尺寸识别会先消费开头的字节。
type MediaUpload struct {
	Filename    string
	ContentType string
	Content     io.ReadSeeker
}

// NewMediaService 构造 MediaService。uploadDir 是磁盘根目录，
// publicBase 是对外 URL 前缀。
func NewMediaService(gdb *gorm.DB, uploadDir, publicBase string) *MediaService {
	return &MediaService{
		db:         gdb,
		uploadDir:  uploadDir,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// List 返回站点媒体库条目，支持标题与描述的模糊搜索。
func (s *MediaService) List(siteID uint, filter MediaFilter) (MediaListResult, error) {
	result := MediaListResult{
		Page:    normalizePage(filter.Page),
		PerPage: normalizePerPage(filter.PerPage, 12),
	}

	query := s.db.Model(&db.MediaItem{}).Where("site_id = ?", siteID)
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	if err := query.Count(&result.Total).Error; err != nil {
		return result, err
	}
	result.TotalPages = calculateTotalPages(result.Total, result.PerPage)

	err := query.Order("sort_order desc").Order("created_at desc").
		Limit(result.PerPage).
		Offset((result.Page - 1) * result.PerPage).
		Find(&result.Items).Error
	return result, err
}

// ListPublished 返回对外可见的媒体条目。
func (s *MediaService) ListPublished(siteID uint, page, perPage int) (MediaListResult, error) {
	return s.List(siteID, MediaFilter{Status: MediaStatusPublished, Page: page, PerPage: perPage})
}

// Get 按 ID 取媒体条目。
func (s *MediaService) Get(siteID, id uint) (*db.MediaItem, error) {
	var item db.MediaItem
	if err := s.db.Where("site_id = ?", siteID).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMediaNotFound
		}
		return nil, err
	}
	return &item, nil
}

// SaveUpload 校验并落盘一次图片上传，生成媒体库条目。
// 文件名取上传日期加随机串，按站点分目录存放。
func (s *MediaService) SaveUpload(siteID uint, upload MediaUpload) (*db.MediaItem, error) {
	if upload.Content == nil || strings.TrimSpace(upload.Filename) == "" {
		return nil, ErrMediaFileMissing
	}
	if !strings.HasPrefix(upload.ContentType, "image/") {
		return nil, ErrMediaNotImage
	}

	config, format, err := image.DecodeConfig(upload.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaNotImage, err)
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	siteDir := filepath.Join(s.uploadDir, fmt.Sprintf("site-%d", siteID))
	if err := os.MkdirAll(siteDir, 0755); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(upload.Filename))
	if ext == "" {
		ext = "." + format
	}
	filename := fmt.Sprintf("%s-%s%s", time.Now().Format("20060102"), uuid.New().String(), ext)
	fullPath := filepath.Join(siteDir, filename)

	dst, err := os.Create(fullPath)
	if err != nil {
		return nil, err
	}
	written, err := io.Copy(dst, upload.Content)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(fullPath)
		return nil, err
	}

	sortOrder, err := s.nextMediaSortOrder(siteID)
	if err != nil {
		os.Remove(fullPath)
		return nil, err
	}

	title := strings.TrimSuffix(filepath.Base(upload.Filename), filepath.Ext(upload.Filename))
	item := db.MediaItem{
		SiteID:      siteID,
		Title:       title,
		FileURL:     fmt.Sprintf("%s/site-%d/%s", s.publicBase, siteID, filename),
		ContentType: "image/" + format,
		ByteSize:    written,
		Width:       config.Width,
		Height:      config.Height,
		Status:      MediaStatusPublished,
		SortOrder:   sortOrder,
	}
	if err := s.db.Create(&item).Error; err != nil {
		os.Remove(fullPath)
		return nil, err
	}
	return &item, nil
}

// Update 修改媒体条目的展示属性，文件本身不可变。
func (s *MediaService) Update(siteID, id uint, input MediaInput) (*db.MediaItem, error) {
	status := strings.ToLower(strings.TrimSpace(input.Status))
	if status == "" {
		status = MediaStatusPublished
	}
	if status != MediaStatusPublished && status != MediaStatusDraft {
		return nil, ErrMediaStatusInvalid
	}

	item, err := s.Get(siteID, id)
	if err != nil {
		return nil, err
	}

	item.Title = strings.TrimSpace(input.Title)
	item.Description = strings.TrimSpace(input.Description)
	item.Status = status
	item.SortOrder = input.SortOrder
	if err := s.db.Save(item).Error; err != nil {
		return nil, err
	}
	return item, nil
}

// Delete 移除媒体条目，磁盘文件保留以免正文内的旧引用失效。
func (s *MediaService) Delete(siteID, id uint) error {
	item, err := s.Get(siteID, id)
	if err != nil {
		return err
	}
	return s.db.Delete(item).Error
}

func (s *MediaService) nextMediaSortOrder(siteID uint) (int, error) {
	var maxOrder int
	if err := s.db.Model(&db.MediaItem{}).
		Where("site_id = ?", siteID).
		Select("COALESCE(MAX(sort_order), 0)").
		Scan(&maxOrder).Error; err != nil {
		return 0, err
	}
	return maxOrder + 1, nil
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func normalizePerPage(perPage, fallback int) int {
	if perPage <= 0 {
		return fallback
	}
	return perPage
}

func calculateTotalPages(total int64, perPage int) int {
	if perPage <= 0 {
		return 1
	}
	if total == 0 {
		return 1
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}
