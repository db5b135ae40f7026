package service

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/presshub/internal/db"
	"github.com/presshub/internal/locale"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrSubscriberEmail    = errors.New("subscriber email is invalid")
	ErrSubscriberToken    = errors.New("subscriber token is invalid")
	ErrSubscriberTagName  = errors.New("subscriber tag name is required")
)

// SubscriberService 管理营销订阅名单。订阅走双重确认：
// 先落一条 pending 记录，访客点确认链接后才算有效。
type SubscriberService struct {
	db *gorm.DB
}

// SubscriberListResult 订阅者分页结果
type SubscriberListResult struct {
	Subscribers []db.Subscriber
	Total       int64
	TotalPages  int
	Page        int
	PerPage     int
}

// SubscriberStats 订阅名单的状态分布
type SubscriberStats struct {
	Pending      int64
	Confirmed    int64
	Unsubscribed int64
}

func NewSubscriberService(gdb *gorm.DB) *SubscriberService {
	return &SubscriberService{db: gdb}
}

// Subscribe 登记一个订阅请求。已确认的邮箱原样返回；
// 待确认或已退订的邮箱重新生成确认令牌。
func (s *SubscriberService) Subscribe(siteID uint, email, name, language string) (*db.Subscriber, error) {
	normalized, err := normalizeSubscriberEmail(email)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)

	var existing db.Subscriber
	err = s.db.Where("site_id = ? AND email = ?", siteID, normalized).First(&existing).Error
	if err == nil {
		if existing.Status == db.SubscriberStatusConfirmed {
			return &existing, nil
		}
		existing.Status = db.SubscriberStatusPending
		existing.ConfirmToken = newSubscriberToken()
		if name != "" {
			existing.Name = name
		}
		if language != "" {
			existing.Language = locale.FallbackLanguage(language)
		}
		if err := s.db.Save(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	subscriber := db.Subscriber{
		SiteID:       siteID,
		Email:        normalized,
		Name:         name,
		Status:       db.SubscriberStatusPending,
		Language:     locale.FallbackLanguage(language),
		ConfirmToken: newSubscriberToken(),
	}
	if err := s.db.Create(&subscriber).Error; err != nil {
		return nil, err
	}
	return &subscriber, nil
}

// Confirm 处理确认链接。令牌保留，退订链接继续使用同一令牌。
func (s *SubscriberService) Confirm(siteID uint, token string) (*db.Subscriber, error) {
	subscriber, err := s.findByToken(siteID, token)
	if err != nil {
		return nil, err
	}
	if subscriber.Status == db.SubscriberStatusConfirmed {
		return subscriber, nil
	}

	now := time.Now()
	subscriber.Status = db.SubscriberStatusConfirmed
	subscriber.ConsentAt = &now
	if err := s.db.Model(subscriber).Updates(map[string]interface{}{
		"status":     db.SubscriberStatusConfirmed,
		"consent_at": now,
	}).Error; err != nil {
		return nil, err
	}
	return subscriber, nil
}

// Unsubscribe 处理退订链接
func (s *SubscriberService) Unsubscribe(siteID uint, token string) (*db.Subscriber, error) {
	subscriber, err := s.findByToken(siteID, token)
	if err != nil {
		return nil, err
	}
	if subscriber.Status == db.SubscriberStatusUnsubscribed {
		return subscriber, nil
	}
	subscriber.Status = db.SubscriberStatusUnsubscribed
	if err := s.db.Model(subscriber).Update("status", db.SubscriberStatusUnsubscribed).Error; err != nil {
		return nil, err
	}
	return subscriber, nil
}

// Get 按 ID 获取订阅者
func (s *SubscriberService) Get(siteID, id uint) (*db.Subscriber, error) {
	var subscriber db.Subscriber
	if err := s.db.Where("site_id = ?", siteID).First(&subscriber, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriberNotFound
		}
		return nil, err
	}
	return &subscriber, nil
}

// List 订阅者列表，可按状态过滤、按邮箱或姓名搜索
func (s *SubscriberService) List(siteID uint, status, search string, page, perPage int) (*SubscriberListResult, error) {
	result := &SubscriberListResult{Page: page, PerPage: perPage}
	if result.Page <= 0 {
		result.Page = 1
	}
	if result.PerPage <= 0 {
		result.PerPage = 20
	}

	query := s.db.Model(&db.Subscriber{}).Where("site_id = ?", siteID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if search = strings.TrimSpace(search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ?", pattern, pattern)
	}

	if err := query.Count(&result.Total).Error; err != nil {
		return nil, err
	}
	err := query.Order("created_at desc").
		Limit(result.PerPage).
		Offset((result.Page - 1) * result.PerPage).
		Find(&result.Subscribers).Error
	if err != nil {
		return nil, err
	}

	result.TotalPages = int((result.Total + int64(result.PerPage) - 1) / int64(result.PerPage))
	if result.Total == 0 {
		result.TotalPages = 1
	}
	return result, nil
}

// Delete 物理删除订阅者及其标签，满足数据删除请求
func (s *SubscriberService) Delete(siteID, id uint) error {
	subscriber, err := s.Get(siteID, id)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscriber_id = ?", subscriber.ID).Delete(&db.SubscriberTag{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(subscriber).Error
	})
}

// Stats 订阅名单的状态分布
func (s *SubscriberService) Stats(siteID uint) (*SubscriberStats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.Model(&db.Subscriber{}).
		Select("status, COUNT(*) AS count").
		Where("site_id = ?", siteID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &SubscriberStats{}
	for _, row := range rows {
		switch row.Status {
		case db.SubscriberStatusPending:
			stats.Pending = row.Count
		case db.SubscriberStatusConfirmed:
			stats.Confirmed = row.Count
		case db.SubscriberStatusUnsubscribed:
			stats.Unsubscribed = row.Count
		}
	}
	return stats, nil
}

// AddTag 给订阅者打标签，重复标签按唯一索引吞掉
func (s *SubscriberService) AddTag(siteID, subscriberID uint, name string) error {
	name = normalizeSubscriberTag(name)
	if name == "" {
		return ErrSubscriberTagName
	}
	if _, err := s.Get(siteID, subscriberID); err != nil {
		return err
	}
	tag := db.SubscriberTag{SubscriberID: subscriberID, Name: name}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscriber_id"}, {Name: "name"}},
		DoNothing: true,
	}).Create(&tag).Error
}

// RemoveTag 移除订阅者的标签
func (s *SubscriberService) RemoveTag(siteID, subscriberID uint, name string) error {
	if _, err := s.Get(siteID, subscriberID); err != nil {
		return err
	}
	return s.db.
		Where("subscriber_id = ? AND name = ?", subscriberID, normalizeSubscriberTag(name)).
		Delete(&db.SubscriberTag{}).Error
}

// Tags 返回订阅者身上的标签名
func (s *SubscriberService) Tags(siteID, subscriberID uint) ([]string, error) {
	if _, err := s.Get(siteID, subscriberID); err != nil {
		return nil, err
	}
	var names []string
	err := s.db.Model(&db.SubscriberTag{}).
		Where("subscriber_id = ?", subscriberID).
		Order("name asc").
		Pluck("name", &names).Error
	return names, err
}

// ListByTag 返回带某标签的已确认订阅者
func (s *SubscriberService) ListByTag(siteID uint, tag string) ([]db.Subscriber, error) {
	var subscribers []db.Subscriber
	err := s.db.Model(&db.Subscriber{}).
		Joins("JOIN subscriber_tags ON subscriber_tags.subscriber_id = subscribers.id").
		Where("subscribers.site_id = ? AND subscriber_tags.name = ? AND subscribers.status = ?",
			siteID, normalizeSubscriberTag(tag), db.SubscriberStatusConfirmed).
		Order("subscribers.id asc").
		Find(&subscribers).Error
	return subscribers, err
}

func (s *SubscriberService) findByToken(siteID uint, token string) (*db.Subscriber, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSubscriberToken
	}
	var subscriber db.Subscriber
	err := s.db.Where("site_id = ? AND confirm_token = ?", siteID, token).First(&subscriber).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriberToken
		}
		return nil, err
	}
	return &subscriber, nil
}

func normalizeSubscriberEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", ErrSubscriberEmail
	}
	parsed, err := mail.ParseAddress(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSubscriberEmail, email)
	}
	return parsed.Address, nil
}

func normalizeSubscriberTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func newSubscriberToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
