package service

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/locale"
	"gorm.io/gorm"
)

var (
	ErrPageNotFound       = errors.New("page not found")
	ErrPageContentMissing = errors.New("page content is required")
	ErrPageSlugInvalid    = errors.New("page slug is invalid")
)

// PageService provides access to standalone pages such as About
// or a site's privacy policy. Pages are keyed by slug inside a site.
type PageService struct {
	db *gorm.DB
}

// PageInput 保存页面的入参
type PageInput struct {
	Slug     string
	Title    string
	Content  string
	Language string
	Status   string
}

// NewPageService returns a new PageService instance.
func NewPageService(gdb *gorm.DB) *PageService {
	return &PageService{db: gdb}
}

// List returns all pages of a site for the admin surface.
func (s *PageService) List(siteID uint) ([]db.Page, error) {
	var pages []db.Page
	err := s.db.Where("site_id = ?", siteID).
		Order("slug asc").
		Find(&pages).Error
	return pages, err
}

// GetBySlug fetches a page regardless of status.
func (s *PageService) GetBySlug(siteID uint, slug string) (*db.Page, error) {
	var page db.Page
	if err := s.db.Where("site_id = ? AND slug = ?", siteID, slug).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	return &page, nil
}

// GetPublishedBySlug fetches a page for public delivery.
func (s *PageService) GetPublishedBySlug(siteID uint, slug string) (*db.Page, error) {
	var page db.Page
	err := s.db.Where("site_id = ? AND slug = ? AND status = ?", siteID, slug, db.ArticleStatusPublished).
		First(&page).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	return &page, nil
}

// ListPublished returns the pages shown on the public site.
func (s *PageService) ListPublished(siteID uint) ([]db.Page, error) {
	var pages []db.Page
	err := s.db.Where("site_id = ? AND status = ?", siteID, db.ArticleStatusPublished).
		Order("slug asc").
		Find(&pages).Error
	return pages, err
}

// Save creates or updates a page identified by its slug.
func (s *PageService) Save(siteID uint, input PageInput) (*db.Page, error) {
	trimmed := strings.TrimSpace(input.Content)
	if trimmed == "" {
		return nil, ErrPageContentMissing
	}

	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if slug == "" || !articleSlugPattern.MatchString(slug) {
		return nil, ErrPageSlugInvalid
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = db.DeriveTitleFromContent(trimmed)
	}
	if title == "" {
		title = slug
	}

	status := strings.TrimSpace(input.Status)
	if status != db.ArticleStatusDraft {
		status = db.ArticleStatusPublished
	}

	summary := summarizeContent(trimmed)

	var page db.Page
	err := s.db.Where("site_id = ? AND slug = ?", siteID, slug).First(&page).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			page = db.Page{
				SiteID:   siteID,
				Slug:     slug,
				Title:    title,
				Summary:  summary,
				Content:  trimmed,
				Language: locale.FallbackLanguage(input.Language),
				Status:   status,
			}
			if err := s.db.Create(&page).Error; err != nil {
				return nil, err
			}
			return &page, nil
		}
		return nil, err
	}

	page.Title = title
	page.Summary = summary
	page.Content = trimmed
	page.Status = status
	if input.Language != "" {
		page.Language = locale.FallbackLanguage(input.Language)
	}

	if err := s.db.Save(&page).Error; err != nil {
		return nil, err
	}

	return &page, nil
}

// Delete removes a page permanently.
func (s *PageService) Delete(siteID uint, slug string) error {
	result := s.db.Unscoped().
		Where("site_id = ? AND slug = ?", siteID, slug).
		Delete(&db.Page{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPageNotFound
	}
	return nil
}

func summarizeContent(markdown string) string {
	plain := markdown
	replacer := strings.NewReplacer(
		"#", " ",
		"*", " ",
		"`", " ",
		"_", " ",
		">", " ",
		"[", " ",
		"]", " ",
		"(", " ",
		")", " ",
	)
	plain = replacer.Replace(plain)
	plain = strings.Join(strings.Fields(plain), " ")
	if plain == "" {
		return ""
	}

	const limit = 120
	if utf8.RuneCountInString(plain) <= limit {
		return plain
	}

	runes := []rune(plain)
	return string(runes[:limit]) + "…"
}
