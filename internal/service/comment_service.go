package service

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/presshub/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 评论正文的长度上限（按字符计）
const maxCommentLength = 4000

var (
	ErrCommentNotFound  = errors.New("comment not found")
	ErrCommentsDisabled = errors.New("comments are disabled")
	ErrCommentInvalid   = errors.New("comment is missing required fields")
	ErrCommentTooLong   = errors.New("comment body is too long")
	ErrCommentParent    = errors.New("comment parent is invalid")
	ErrCommentStatus    = errors.New("unknown comment status")
	ErrReactionInvalid  = errors.New("unsupported reaction kind")
)

// CommentService 处理读者评论与反应。正文以 Markdown 提交，
// 入库前渲染并净化为 BodyHTML，前台只输出净化结果。
type CommentService struct {
	db       *gorm.DB
	renderer *ContentRenderer
	settings *SiteSettingService
}

// CommentInput 提交评论的入参
type CommentInput struct {
	ParentID    *uint
	AuthorName  string
	AuthorEmail string
	Body        string
	VisitorID   string
}

// CommentThread 是前台展示用的两层评论结构
type CommentThread struct {
	Comment db.Comment
	Replies []db.Comment
}

// CommentListResult 后台审核列表的分页结果
type CommentListResult struct {
	Comments   []db.Comment
	Total      int64
	TotalPages int
	Page       int
	PerPage    int
}

func NewCommentService(gdb *gorm.DB, renderer *ContentRenderer, settings *SiteSettingService) *CommentService {
	return &CommentService{db: gdb, renderer: renderer, settings: settings}
}

// Submit 提交一条评论。站点关闭评论时拒绝；
// 自动批准开关决定初始状态。
func (s *CommentService) Submit(siteID, articleID uint, input CommentInput) (*db.Comment, error) {
	settings, err := s.settings.GetSettings(siteID)
	if err != nil {
		return nil, err
	}
	if !settings.CommentsEnabled {
		return nil, ErrCommentsDisabled
	}

	name := strings.TrimSpace(input.AuthorName)
	body := strings.TrimSpace(input.Body)
	if name == "" || body == "" {
		return nil, fmt.Errorf("%w: author name and body are required", ErrCommentInvalid)
	}
	if utf8.RuneCountInString(body) > maxCommentLength {
		return nil, ErrCommentTooLong
	}

	email := strings.TrimSpace(input.AuthorEmail)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: invalid email", ErrCommentInvalid)
		}
	}

	if err := s.assertArticlePublished(siteID, articleID); err != nil {
		return nil, err
	}

	parentID := input.ParentID
	if parentID != nil {
		var parent db.Comment
		err := s.db.Where("site_id = ? AND article_id = ?", siteID, articleID).
			First(&parent, *parentID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrCommentParent
			}
			return nil, err
		}
		// 只允许回复已批准的评论，待审/垃圾/已删除一律拒绝
		if parent.Status != db.CommentStatusApproved {
			return nil, ErrCommentParent
		}
		// 只保留两层结构，对回复的回复挂到顶层评论下
		if parent.ParentID != nil {
			parentID = parent.ParentID
		}
	}

	bodyHTML, err := s.renderer.RenderComment(body)
	if err != nil {
		return nil, err
	}

	status := db.CommentStatusPending
	if settings.CommentsAutoApprove {
		status = db.CommentStatusApproved
	}

	comment := db.Comment{
		SiteID:      siteID,
		ArticleID:   articleID,
		ParentID:    parentID,
		AuthorName:  name,
		AuthorEmail: email,
		Body:        body,
		BodyHTML:    bodyHTML,
		Status:      status,
		VisitorID:   strings.TrimSpace(input.VisitorID),
	}
	if err := s.db.Create(&comment).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListForArticle 返回文章下已批准的评论，按两层结构组装
func (s *CommentService) ListForArticle(siteID, articleID uint) ([]CommentThread, error) {
	var comments []db.Comment
	err := s.db.Where("site_id = ? AND article_id = ? AND status = ?", siteID, articleID, db.CommentStatusApproved).
		Order("created_at asc").
		Find(&comments).Error
	if err != nil {
		return nil, err
	}

	threads := make([]CommentThread, 0)
	index := make(map[uint]int)
	for _, comment := range comments {
		if comment.ParentID == nil {
			index[comment.ID] = len(threads)
			threads = append(threads, CommentThread{Comment: comment})
		}
	}
	for _, comment := range comments {
		if comment.ParentID == nil {
			continue
		}
		if pos, ok := index[*comment.ParentID]; ok {
			threads[pos].Replies = append(threads[pos].Replies, comment)
		}
	}
	return threads, nil
}

// ListForModeration 后台审核列表，可按状态过滤
func (s *CommentService) ListForModeration(siteID uint, status string, page, perPage int) (*CommentListResult, error) {
	if status != "" && !knownCommentStatus(status) {
		return nil, ErrCommentStatus
	}

	result := &CommentListResult{Page: page, PerPage: perPage}
	if result.Page <= 0 {
		result.Page = 1
	}
	if result.PerPage <= 0 {
		result.PerPage = 20
	}

	query := s.db.Model(&db.Comment{}).Where("site_id = ?", siteID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&result.Total).Error; err != nil {
		return nil, err
	}

	err := query.Order("created_at desc").
		Limit(result.PerPage).
		Offset((result.Page - 1) * result.PerPage).
		Find(&result.Comments).Error
	if err != nil {
		return nil, err
	}

	result.TotalPages = int((result.Total + int64(result.PerPage) - 1) / int64(result.PerPage))
	if result.Total == 0 {
		result.TotalPages = 1
	}
	return result, nil
}

// SetStatus 审核评论
func (s *CommentService) SetStatus(siteID, commentID uint, status string) error {
	if !knownCommentStatus(status) {
		return ErrCommentStatus
	}
	result := s.db.Model(&db.Comment{}).
		Where("id = ? AND site_id = ?", commentID, siteID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCommentNotFound
	}
	return nil
}

// Delete 将评论标记为已删除；保留行以免回复断链
func (s *CommentService) Delete(siteID, commentID uint) error {
	return s.SetStatus(siteID, commentID, db.CommentStatusDeleted)
}

// CountPending 待审核评论数，后台角标使用
func (s *CommentService) CountPending(siteID uint) (int64, error) {
	var count int64
	err := s.db.Model(&db.Comment{}).
		Where("site_id = ? AND status = ?", siteID, db.CommentStatusPending).
		Count(&count).Error
	return count, err
}

// React 记录一次访客反应。重复反应按唯一索引吞掉，
// 返回值标记这次调用是否真正新增。
func (s *CommentService) React(siteID, articleID uint, visitorID, kind string) (bool, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" || !db.KnownReactionKind(kind) {
		return false, ErrReactionInvalid
	}
	if err := s.assertArticlePublished(siteID, articleID); err != nil {
		return false, err
	}

	reaction := db.Reaction{
		SiteID:    siteID,
		ArticleID: articleID,
		VisitorID: visitorID,
		Kind:      kind,
	}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "article_id"}, {Name: "visitor_id"}, {Name: "kind"}},
		DoNothing: true,
	}).Create(&reaction)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RemoveReaction 撤销访客的某个反应
func (s *CommentService) RemoveReaction(siteID, articleID uint, visitorID, kind string) error {
	if !db.KnownReactionKind(kind) {
		return ErrReactionInvalid
	}
	return s.db.
		Where("site_id = ? AND article_id = ? AND visitor_id = ? AND kind = ?", siteID, articleID, visitorID, kind).
		Delete(&db.Reaction{}).Error
}

// ReactionSummary 按类型统计文章的反应数
func (s *CommentService) ReactionSummary(siteID, articleID uint) (map[string]int64, error) {
	var rows []struct {
		Kind  string
		Count int64
	}
	err := s.db.Model(&db.Reaction{}).
		Select("kind, COUNT(*) AS count").
		Where("site_id = ? AND article_id = ?", siteID, articleID).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	summary := make(map[string]int64, len(rows))
	for _, row := range rows {
		summary[row.Kind] = row.Count
	}
	return summary, nil
}

// VisitorReactions 返回访客在该文章上已有的反应类型
func (s *CommentService) VisitorReactions(siteID, articleID uint, visitorID string) ([]string, error) {
	var kinds []string
	err := s.db.Model(&db.Reaction{}).
		Where("site_id = ? AND article_id = ? AND visitor_id = ?", siteID, articleID, visitorID).
		Order("kind asc").
		Pluck("kind", &kinds).Error
	return kinds, err
}

func (s *CommentService) assertArticlePublished(siteID, articleID uint) error {
	var count int64
	err := s.db.Model(&db.Article{}).
		Where("id = ? AND site_id = ? AND status = ?", articleID, siteID, db.ArticleStatusPublished).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrArticleNotFound
	}
	return nil
}

func knownCommentStatus(status string) bool {
	switch status {
	case db.CommentStatusPending, db.CommentStatusApproved, db.CommentStatusSpam, db.CommentStatusDeleted:
		return true
	}
	return false
}
