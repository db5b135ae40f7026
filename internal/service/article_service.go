package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/presshub/internal/db"
	"github.com/presshub/internal/locale"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrArticleNotFound     = errors.New("article not found")
	ErrArticleSlugExists   = errors.New("article slug already exists")
	ErrArticleSlugInvalid  = errors.New("article slug is invalid")
	ErrCoverRequired       = errors.New("article cover is required before publish")
	ErrCoverInvalid        = errors.New("cover requires a URL with positive dimensions")
	ErrPublicationNotFound = errors.New("article publication not found")
	ErrInvalidPublishState = errors.New("article content is incomplete")
	ErrScheduleInPast      = errors.New("schedule time must be in the future")
	ErrRevisionNotFound    = errors.New("article revision not found")
)

var (
	articleSlugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	slugStripPattern   = regexp.MustCompile(`[^a-z0-9]+`)
)

// ArticleService 封装文章相关的数据库操作
type ArticleService struct {
	db *gorm.DB
}

// ArticleFilter 文章列表筛选条件
type ArticleFilter struct {
	SiteID     uint
	Search     string
	Status     string
	Language   string
	CategoryID uint
	TagNames   []string
	StartDate  *time.Time
	EndDate    *time.Time
	Page       int
	PerPage    int
}

// ArticleListResult 聚合分页数据
type ArticleListResult struct {
	Articles       []db.Article
	Total          int64
	DraftCount     int64
	ScheduledCount int64
	PublishedCount int64
	TotalPages     int
	Page           int
	PerPage        int
}

// PublicationListResult 聚合发布快照分页数据
type PublicationListResult struct {
	Publications []db.ArticlePublication
	Total        int64
	TotalPages   int
	Page         int
	PerPage      int
}

// ArticleInput 创建或更新文章的入参
type ArticleInput struct {
	Slug               string
	Content            string
	Summary            string
	Language           string
	TranslationGroupID uint
	CategoryID         *uint
	TagIDs             []uint
	UserID             uint
	CoverURL           string
	CoverWidth         int
	CoverHeight        int
	MetaTitle          string
	MetaDescription    string
	CanonicalURL       string
	OGImageURL         string
	NoIndex            bool
}

func NewArticleService(gdb *gorm.DB) *ArticleService {
	return &ArticleService{db: gdb}
}

// Slugify 将标题压成 URL 友好的短标识；中文等无法转换的
// 内容退回随机短标识，保证结果始终合法。
func Slugify(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	candidate := strings.Trim(slugStripPattern.ReplaceAllString(lowered, "-"), "-")
	if candidate != "" && articleSlugPattern.MatchString(candidate) {
		if len(candidate) > 160 {
			candidate = strings.Trim(candidate[:160], "-")
		}
		return candidate
	}
	return "a-" + uuid.NewString()[:8]
}

// List 返回当前筛选下的文章、总数与各状态统计
func (s *ArticleService) List(filter ArticleFilter) (*ArticleListResult, error) {
	result := &ArticleListResult{Page: filter.Page, PerPage: filter.PerPage}
	if result.Page <= 0 {
		result.Page = 1
	}
	if result.PerPage <= 0 {
		result.PerPage = 10
	}

	countQuery := s.applyFilters(s.db.Model(&db.Article{}), filter, true)
	if err := countQuery.Count(&result.Total).Error; err != nil {
		return nil, err
	}

	statusQuery := s.applyFilters(s.db.Model(&db.Article{}), filter, false)
	var statusCounts []struct {
		Status string
		Count  int64
	}
	if err := statusQuery.Select("articles.status AS status, COUNT(*) AS count").Group("articles.status").Scan(&statusCounts).Error; err != nil {
		return nil, err
	}
	for _, row := range statusCounts {
		switch row.Status {
		case db.ArticleStatusDraft:
			result.DraftCount = row.Count
		case db.ArticleStatusScheduled:
			result.ScheduledCount = row.Count
		case db.ArticleStatusPublished:
			result.PublishedCount = row.Count
		}
	}

	listQuery := s.applyFilters(s.db.Model(&db.Article{}), filter, true).
		Preload("Tags").
		Preload("Category").
		Preload("User").
		Order("articles.created_at desc").
		Limit(result.PerPage).
		Offset((result.Page - 1) * result.PerPage)
	if err := listQuery.Find(&result.Articles).Error; err != nil {
		return nil, err
	}
	for i := range result.Articles {
		result.Articles[i].PopulateDerivedFields()
	}

	result.TotalPages = int((result.Total + int64(result.PerPage) - 1) / int64(result.PerPage))
	if result.Total == 0 {
		result.TotalPages = 1
	}
	return result, nil
}

// Get 按站点与 ID 获取文章
func (s *ArticleService) Get(siteID, id uint) (*db.Article, error) {
	var article db.Article
	err := s.db.Preload("Tags").Preload("Category").Preload("User").
		Where("site_id = ?", siteID).
		First(&article, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArticleNotFound
		}
		return nil, err
	}
	article.PopulateDerivedFields()
	return &article, nil
}

// GetBySlug 按站点与 slug 获取文章（不限状态，供后台使用）
func (s *ArticleService) GetBySlug(siteID uint, slug string) (*db.Article, error) {
	var article db.Article
	err := s.db.Preload("Tags").Preload("Category").Preload("User").
		Where("site_id = ? AND slug = ?", siteID, slug).
		First(&article).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArticleNotFound
		}
		return nil, err
	}
	article.PopulateDerivedFields()
	return &article, nil
}

// Create 新建草稿文章
func (s *ArticleService) Create(siteID uint, input ArticleInput) (*db.Article, error) {
	slug, err := s.resolveSlug(siteID, input.Slug, input.Content, 0)
	if err != nil {
		return nil, err
	}
	coverURL, coverWidth, coverHeight, err := normalizeCover(input.CoverURL, input.CoverWidth, input.CoverHeight)
	if err != nil {
		return nil, err
	}

	article := db.Article{
		SiteID:             siteID,
		Slug:               slug,
		Content:            input.Content,
		Summary:            strings.TrimSpace(input.Summary),
		Language:           locale.FallbackLanguage(input.Language),
		TranslationGroupID: input.TranslationGroupID,
		Status:             db.ArticleStatusDraft,
		CategoryID:         input.CategoryID,
		CoverURL:           coverURL,
		CoverWidth:         coverWidth,
		CoverHeight:        coverHeight,
		ReadingTime:        calculateReadingTime(input.Content),
		MetaTitle:          strings.TrimSpace(input.MetaTitle),
		MetaDescription:    strings.TrimSpace(input.MetaDescription),
		CanonicalURL:       strings.TrimSpace(input.CanonicalURL),
		OGImageURL:         strings.TrimSpace(input.OGImageURL),
		NoIndex:            input.NoIndex,
		UserID:             input.UserID,
	}

	if err := s.saveWithTags(&article, input.TagIDs, true); err != nil {
		return nil, err
	}
	return s.Get(siteID, article.ID)
}

// Update 更新文章内容；内容变化时先保留旧版本
func (s *ArticleService) Update(siteID, id uint, input ArticleInput) (*db.Article, error) {
	existing, err := s.Get(siteID, id)
	if err != nil {
		return nil, err
	}

	slug := existing.Slug
	if trimmed := strings.TrimSpace(input.Slug); trimmed != "" && trimmed != existing.Slug {
		slug, err = s.resolveSlug(siteID, trimmed, input.Content, existing.ID)
		if err != nil {
			return nil, err
		}
	}
	coverURL, coverWidth, coverHeight, err := normalizeCover(input.CoverURL, input.CoverWidth, input.CoverHeight)
	if err != nil {
		return nil, err
	}

	summary := strings.TrimSpace(input.Summary)
	contentChanged := existing.Content != input.Content || existing.Summary != summary

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if contentChanged {
			if err := saveRevision(tx, existing, input.UserID); err != nil {
				return err
			}
		}

		existing.Slug = slug
		existing.Content = input.Content
		existing.Summary = summary
		if input.Language != "" {
			existing.Language = locale.FallbackLanguage(input.Language)
		}
		if input.TranslationGroupID != 0 {
			existing.TranslationGroupID = input.TranslationGroupID
		}
		existing.CategoryID = input.CategoryID
		existing.CoverURL = coverURL
		existing.CoverWidth = coverWidth
		existing.CoverHeight = coverHeight
		existing.ReadingTime = calculateReadingTime(input.Content)
		existing.MetaTitle = strings.TrimSpace(input.MetaTitle)
		existing.MetaDescription = strings.TrimSpace(input.MetaDescription)
		existing.CanonicalURL = strings.TrimSpace(input.CanonicalURL)
		existing.OGImageURL = strings.TrimSpace(input.OGImageURL)
		existing.NoIndex = input.NoIndex

		if err := tx.Model(existing).Updates(map[string]interface{}{
			"slug":             existing.Slug,
			"content":          existing.Content,
			"summary":          existing.Summary,
			"language":         existing.Language,
			"category_id":      existing.CategoryID,
			"cover_url":        existing.CoverURL,
			"cover_width":      existing.CoverWidth,
			"cover_height":     existing.CoverHeight,
			"reading_time":     existing.ReadingTime,
			"meta_title":       existing.MetaTitle,
			"meta_description": existing.MetaDescription,
			"canonical_url":    existing.CanonicalURL,
			"og_image_url":     existing.OGImageURL,
			"no_index":         existing.NoIndex,
		}).Error; err != nil {
			return err
		}
		if existing.TranslationGroupID != 0 {
			if err := tx.Model(existing).Update("translation_group_id", existing.TranslationGroupID).Error; err != nil {
				return err
			}
		}
		if input.TagIDs != nil {
			return replaceTags(tx, existing, input.TagIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(siteID, id)
}

// UpdateSummary 只更新摘要，并同步到最新发布快照
func (s *ArticleService) UpdateSummary(siteID, id uint, summary string) error {
	article, err := s.Get(siteID, id)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(summary)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(article).Update("summary", trimmed).Error; err != nil {
			return err
		}
		if article.LatestPublicationID == nil {
			return nil
		}
		return tx.Model(&db.ArticlePublication{}).
			Where("id = ?", *article.LatestPublicationID).
			Update("summary", trimmed).Error
	})
}

// Delete 删除文章及其发布快照与版本记录
func (s *ArticleService) Delete(siteID, id uint) error {
	article, err := s.Get(siteID, id)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(article).Association("Tags").Clear(); err != nil {
			return err
		}
		if err := tx.Where("article_id = ?", article.ID).Delete(&db.ArticleRevision{}).Error; err != nil {
			return err
		}
		if err := tx.Where("article_id = ?", article.ID).Delete(&db.ArticlePublication{}).Error; err != nil {
			return err
		}
		return tx.Delete(article).Error
	})
}

// Publish 生成新的发布快照并冻结当时的 SEO 字段
func (s *ArticleService) Publish(siteID, articleID, userID uint, publishedAt *time.Time) (*db.ArticlePublication, error) {
	article, err := s.Get(siteID, articleID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(article.Title) == "" || strings.TrimSpace(article.Content) == "" {
		return nil, fmt.Errorf("%w: title and content are required", ErrInvalidPublishState)
	}
	if strings.TrimSpace(article.CoverURL) == "" {
		return nil, ErrCoverRequired
	}
	if article.CoverWidth <= 0 || article.CoverHeight <= 0 {
		return nil, ErrCoverInvalid
	}

	when := time.Now()
	if publishedAt != nil {
		when = *publishedAt
	}
	if userID == 0 {
		userID = article.UserID
	}

	var publication db.ArticlePublication
	err = s.db.Transaction(func(tx *gorm.DB) error {
		publication = db.ArticlePublication{
			ArticleID:       article.ID,
			SiteID:          article.SiteID,
			Slug:            article.Slug,
			Content:         article.Content,
			Summary:         article.Summary,
			Language:        article.Language,
			ReadingTime:     article.ReadingTime,
			CoverURL:        article.CoverURL,
			CoverWidth:      article.CoverWidth,
			CoverHeight:     article.CoverHeight,
			MetaTitle:       article.MetaTitle,
			MetaDescription: article.MetaDescription,
			CanonicalURL:    article.CanonicalURL,
			OGImageURL:      article.OGImageURL,
			NoIndex:         article.NoIndex,
			UserID:          userID,
			PublishedAt:     when,
			Version:         article.PublicationCount + 1,
		}
		if err := tx.Create(&publication).Error; err != nil {
			return err
		}
		if len(article.Tags) > 0 {
			if err := tx.Model(&publication).Association("Tags").Replace(article.Tags); err != nil {
				return err
			}
		}
		return tx.Model(article).Updates(map[string]interface{}{
			"status":                db.ArticleStatusPublished,
			"published_at":          when,
			"scheduled_at":          nil,
			"publication_count":     publication.Version,
			"latest_publication_id": publication.ID,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	publication.PopulateDerivedFields()
	return &publication, nil
}

// Schedule 将文章排入定时发布队列
func (s *ArticleService) Schedule(siteID, articleID uint, at time.Time) (*db.Article, error) {
	article, err := s.Get(siteID, articleID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(article.Title) == "" || strings.TrimSpace(article.Content) == "" {
		return nil, fmt.Errorf("%w: title and content are required", ErrInvalidPublishState)
	}
	if strings.TrimSpace(article.CoverURL) == "" {
		return nil, ErrCoverRequired
	}
	if !at.After(time.Now()) {
		return nil, ErrScheduleInPast
	}
	if err := s.db.Model(article).Updates(map[string]interface{}{
		"status":       db.ArticleStatusScheduled,
		"scheduled_at": at,
	}).Error; err != nil {
		return nil, err
	}
	return s.Get(siteID, articleID)
}

// CancelSchedule 取消定时发布，文章回到草稿状态
func (s *ArticleService) CancelSchedule(siteID, articleID uint) error {
	result := s.db.Model(&db.Article{}).
		Where("id = ? AND site_id = ? AND status = ?", articleID, siteID, db.ArticleStatusScheduled).
		Updates(map[string]interface{}{
			"status":       db.ArticleStatusDraft,
			"scheduled_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrArticleNotFound
	}
	return nil
}

// PublishDue claims scheduled articles whose time has arrived and
// publishes them. The conditional status flip keeps concurrent
// workers from publishing the same article twice.
func (s *ArticleService) PublishDue(now time.Time, limit int) ([]db.Article, error) {
	if limit <= 0 {
		limit = 20
	}

	var due []db.Article
	if err := s.db.
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", db.ArticleStatusScheduled, now).
		Order("scheduled_at asc").
		Limit(limit).
		Find(&due).Error; err != nil {
		return nil, err
	}

	published := make([]db.Article, 0, len(due))
	for i := range due {
		candidate := due[i]
		when := candidate.ScheduledAt

		claim := s.db.Model(&db.Article{}).
			Where("id = ? AND status = ?", candidate.ID, db.ArticleStatusScheduled).
			Updates(map[string]interface{}{
				"status":       db.ArticleStatusDraft,
				"scheduled_at": nil,
			})
		if claim.Error != nil {
			return published, claim.Error
		}
		if claim.RowsAffected == 0 {
			continue
		}

		if _, err := s.Publish(candidate.SiteID, candidate.ID, candidate.UserID, when); err != nil {
			log.WithError(err).WithField("article_id", candidate.ID).Warn("定时发布失败，文章退回草稿")
			continue
		}
		refreshed, err := s.Get(candidate.SiteID, candidate.ID)
		if err != nil {
			continue
		}
		published = append(published, *refreshed)
	}
	return published, nil
}

// Archive 将文章下线；已发布的快照保留但不再对外展示
func (s *ArticleService) Archive(siteID, id uint) error {
	return s.setStatus(siteID, id, db.ArticleStatusArchived)
}

// Unarchive 将已归档文章恢复为草稿
func (s *ArticleService) Unarchive(siteID, id uint) error {
	return s.setStatus(siteID, id, db.ArticleStatusDraft)
}

func (s *ArticleService) setStatus(siteID, id uint, status string) error {
	result := s.db.Model(&db.Article{}).
		Where("id = ? AND site_id = ?", id, siteID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrArticleNotFound
	}
	return nil
}

// LatestPublication 返回文章最新的发布快照
func (s *ArticleService) LatestPublication(siteID, articleID uint) (*db.ArticlePublication, error) {
	article, err := s.Get(siteID, articleID)
	if err != nil {
		return nil, err
	}
	if article.LatestPublicationID == nil {
		return nil, ErrPublicationNotFound
	}
	var publication db.ArticlePublication
	err = s.db.Preload("Tags").Preload("User").
		First(&publication, *article.LatestPublicationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPublicationNotFound
		}
		return nil, err
	}
	publication.PopulateDerivedFields()
	return &publication, nil
}

// PublishedBySlug 前台按 slug 读取已发布文章的最新快照
func (s *ArticleService) PublishedBySlug(siteID uint, slug string) (*db.ArticlePublication, error) {
	var article db.Article
	err := s.db.
		Where("site_id = ? AND slug = ? AND status = ?", siteID, slug, db.ArticleStatusPublished).
		First(&article).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPublicationNotFound
		}
		return nil, err
	}
	if article.LatestPublicationID == nil {
		return nil, ErrPublicationNotFound
	}
	var publication db.ArticlePublication
	err = s.db.Preload("Tags").Preload("User").
		First(&publication, *article.LatestPublicationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPublicationNotFound
		}
		return nil, err
	}
	publication.PopulateDerivedFields()
	return &publication, nil
}

// ListPublished 前台文章列表，只返回仍处于已发布状态的最新快照
func (s *ArticleService) ListPublished(filter ArticleFilter) (*PublicationListResult, error) {
	result := &PublicationListResult{Page: filter.Page, PerPage: filter.PerPage}
	if result.Page <= 0 {
		result.Page = 1
	}
	if result.PerPage <= 0 {
		result.PerPage = 10
	}

	base := s.db.Model(&db.ArticlePublication{}).
		Joins("JOIN articles ON articles.latest_publication_id = article_publications.id").
		Where("articles.status = ? AND articles.deleted_at IS NULL", db.ArticleStatusPublished)
	base = s.applyPublicationFilters(base, filter)

	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		return nil, err
	}

	err := base.Session(&gorm.Session{}).
		Preload("Tags").
		Preload("User").
		Order("article_publications.published_at desc").
		Limit(result.PerPage).
		Offset((result.Page - 1) * result.PerPage).
		Find(&result.Publications).Error
	if err != nil {
		return nil, err
	}
	for i := range result.Publications {
		result.Publications[i].PopulateDerivedFields()
	}

	result.TotalPages = int((result.Total + int64(result.PerPage) - 1) / int64(result.PerPage))
	if result.Total == 0 {
		result.TotalPages = 1
	}
	return result, nil
}

// ListAllPublished 返回站点全部已发布文章，供 sitemap 与 RSS 使用
func (s *ArticleService) ListAllPublished(siteID uint) ([]db.ArticlePublication, error) {
	var publications []db.ArticlePublication
	err := s.db.Model(&db.ArticlePublication{}).
		Joins("JOIN articles ON articles.latest_publication_id = article_publications.id").
		Where("articles.site_id = ? AND articles.status = ? AND articles.deleted_at IS NULL", siteID, db.ArticleStatusPublished).
		Preload("Tags").
		Preload("User").
		Order("article_publications.published_at desc").
		Find(&publications).Error
	if err != nil {
		return nil, err
	}
	for i := range publications {
		publications[i].PopulateDerivedFields()
	}
	return publications, nil
}

// Revisions 返回文章的历史版本，按版本号倒序
func (s *ArticleService) Revisions(siteID, articleID uint) ([]db.ArticleRevision, error) {
	if _, err := s.Get(siteID, articleID); err != nil {
		return nil, err
	}
	var revisions []db.ArticleRevision
	err := s.db.Preload("User").
		Where("article_id = ?", articleID).
		Order("version desc").
		Find(&revisions).Error
	return revisions, err
}

// RestoreRevision 恢复到指定历史版本，当前内容会先存为新版本
func (s *ArticleService) RestoreRevision(siteID, articleID, revisionID, userID uint) (*db.Article, error) {
	article, err := s.Get(siteID, articleID)
	if err != nil {
		return nil, err
	}
	var revision db.ArticleRevision
	if err := s.db.Where("article_id = ?", articleID).First(&revision, revisionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRevisionNotFound
		}
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := saveRevision(tx, article, userID); err != nil {
			return err
		}
		return tx.Model(article).Updates(map[string]interface{}{
			"content":      revision.Content,
			"summary":      revision.Summary,
			"cover_url":    revision.CoverURL,
			"cover_width":  revision.CoverWidth,
			"cover_height": revision.CoverHeight,
			"reading_time": calculateReadingTime(revision.Content),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(siteID, articleID)
}

// resolveSlug 处理 slug 的生成与站内唯一性校验
func (s *ArticleService) resolveSlug(siteID uint, raw, content string, selfID uint) (string, error) {
	slug := strings.TrimSpace(raw)
	if slug == "" {
		slug = Slugify(db.DeriveTitleFromContent(content))
	} else {
		slug = strings.ToLower(slug)
		if !articleSlugPattern.MatchString(slug) {
			return "", ErrArticleSlugInvalid
		}
	}

	var count int64
	query := s.db.Model(&db.Article{}).Where("site_id = ? AND slug = ?", siteID, slug)
	if selfID != 0 {
		query = query.Where("id <> ?", selfID)
	}
	if err := query.Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return "", fmt.Errorf("%w: %s", ErrArticleSlugExists, slug)
	}
	return slug, nil
}

// saveWithTags 创建文章并绑定标签；标签必须属于同一站点
func (s *ArticleService) saveWithTags(article *db.Article, tagIDs []uint, assignGroup bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(article).Error; err != nil {
			return err
		}
		if assignGroup && article.TranslationGroupID == 0 {
			article.TranslationGroupID = article.ID
			if err := tx.Model(article).Update("translation_group_id", article.ID).Error; err != nil {
				return err
			}
		}
		if len(tagIDs) > 0 {
			return replaceTags(tx, article, tagIDs)
		}
		return nil
	})
}

func replaceTags(tx *gorm.DB, article *db.Article, tagIDs []uint) error {
	if len(tagIDs) == 0 {
		return tx.Model(article).Association("Tags").Clear()
	}
	var tags []db.Tag
	if err := tx.Where("site_id = ? AND id IN ?", article.SiteID, tagIDs).Find(&tags).Error; err != nil {
		return err
	}
	if len(tags) != len(uniqueIDs(tagIDs)) {
		return ErrTagNotFound
	}
	return tx.Model(article).Association("Tags").Replace(tags)
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	result := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

// saveRevision 把文章当前内容存为一条版本记录；
// 内容指纹相同的版本不重复保存。
func saveRevision(tx *gorm.DB, article *db.Article, userID uint) error {
	hash := contentHash(article.Content, article.Summary)

	var latest db.ArticleRevision
	err := tx.Where("article_id = ?", article.ID).
		Order("version desc").
		First(&latest).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil && latest.ContentHash == hash {
		return nil
	}

	if userID == 0 {
		userID = article.UserID
	}
	revision := db.ArticleRevision{
		ArticleID:   article.ID,
		Content:     article.Content,
		Summary:     article.Summary,
		ReadingTime: article.ReadingTime,
		CoverURL:    article.CoverURL,
		CoverWidth:  article.CoverWidth,
		CoverHeight: article.CoverHeight,
		UserID:      userID,
		Version:     latest.Version + 1,
		ContentHash: hash,
	}
	return tx.Create(&revision).Error
}

func contentHash(content, summary string) string {
	sum := sha256.Sum256([]byte(content + "\x00" + summary))
	return hex.EncodeToString(sum[:])
}

// applyFilters 组装文章查询条件；includeStatus 控制状态条件是否参与，
// 以便状态统计不被当前状态筛选影响。
func (s *ArticleService) applyFilters(query *gorm.DB, filter ArticleFilter, includeStatus bool) *gorm.DB {
	if filter.SiteID != 0 {
		query = query.Where("articles.site_id = ?", filter.SiteID)
	}
	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		titleExpr := derivedTitleQueryExpr(s.db, "articles")
		query = query.Where(
			fmt.Sprintf("(LOWER(%s) LIKE ? OR LOWER(articles.content) LIKE ? OR LOWER(articles.summary) LIKE ?)", titleExpr),
			search, search, search,
		)
	}
	if includeStatus && filter.Status != "" {
		query = query.Where("articles.status = ?", filter.Status)
	}
	if lang := locale.NormalizeLanguage(filter.Language); lang != "" {
		query = query.Where("articles.language = ?", lang)
	}
	if filter.CategoryID != 0 {
		query = query.Where("articles.category_id = ?", filter.CategoryID)
	}
	if len(filter.TagNames) > 0 {
		subQuery := s.db.Model(&db.Article{}).
			Select("articles.id").
			Joins("JOIN article_tags ON articles.id = article_tags.article_id").
			Joins("JOIN tags ON tags.id = article_tags.tag_id").
			Where("tags.name IN ?", filter.TagNames).
			Distinct()
		query = query.Where("articles.id IN (?)", subQuery)
	}
	if filter.StartDate != nil {
		query = query.Where("articles.created_at >= ?", filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("articles.created_at <= ?", filter.EndDate)
	}
	return query
}

func (s *ArticleService) applyPublicationFilters(query *gorm.DB, filter ArticleFilter) *gorm.DB {
	if filter.SiteID != 0 {
		query = query.Where("articles.site_id = ?", filter.SiteID)
	}
	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		titleExpr := derivedTitleQueryExpr(s.db, "article_publications")
		query = query.Where(
			fmt.Sprintf("(LOWER(%s) LIKE ? OR LOWER(article_publications.content) LIKE ? OR LOWER(article_publications.summary) LIKE ?)", titleExpr),
			search, search, search,
		)
	}
	if lang := locale.NormalizeLanguage(filter.Language); lang != "" {
		query = query.Where("article_publications.language = ?", lang)
	}
	if filter.CategoryID != 0 {
		query = query.Where("articles.category_id = ?", filter.CategoryID)
	}
	if len(filter.TagNames) > 0 {
		subQuery := s.db.Model(&db.ArticlePublication{}).
			Select("article_publications.id").
			Joins("JOIN article_publication_tags ON article_publications.id = article_publication_tags.article_publication_id").
			Joins("JOIN tags ON tags.id = article_publication_tags.tag_id").
			Where("tags.name IN ?", filter.TagNames).
			Distinct()
		query = query.Where("article_publications.id IN (?)", subQuery)
	}
	if filter.StartDate != nil {
		query = query.Where("article_publications.published_at >= ?", filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("article_publications.published_at <= ?", filter.EndDate)
	}
	return query
}

// derivedTitleQueryExpr 在 SQL 层复算首行标题，表达式随方言切换
// 字符串函数名（sqlite 的 instr/char 对应 postgres 的 strpos/chr）。
func derivedTitleQueryExpr(conn *gorm.DB, alias string) string {
	instrFn, newline := "instr", "char(10)"
	if !db.IsSQLite(conn) {
		instrFn, newline = "strpos", "chr(10)"
	}
	firstLine := fmt.Sprintf(
		"CASE WHEN %[1]s(%[2]s.content, %[3]s) > 0 THEN substr(%[2]s.content, 1, %[1]s(%[2]s.content, %[3]s) - 1) ELSE %[2]s.content END",
		instrFn, alias, newline,
	)
	return fmt.Sprintf("TRIM(RTRIM(LTRIM(TRIM(%s), '#'), '#'))", firstLine)
}

// normalizeCover 封面可以为空；一旦给了地址就必须带有效尺寸
func normalizeCover(coverURL string, width, height int) (string, int, int, error) {
	trimmed := strings.TrimSpace(coverURL)
	if trimmed == "" {
		return "", 0, 0, nil
	}
	if width <= 0 || height <= 0 {
		return "", 0, 0, ErrCoverInvalid
	}
	return trimmed, width, height, nil
}

// calculateReadingTime 按每分钟 400 字估算阅读时长，最少 1 分钟
func calculateReadingTime(content string) int {
	textLength := utf8.RuneCountInString(content)
	if textLength == 0 {
		return 1
	}
	minutes := (textLength + 399) / 400
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
