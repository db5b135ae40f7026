package service

import (
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/presshub/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAdSlotNotFound   = errors.New("ad slot not found")
	ErrAdSlotKeyExists  = errors.New("ad slot key already exists")
	ErrAdSlotKeyInvalid = errors.New("ad slot key is invalid")
	ErrAdSlotInUse      = errors.New("ad slot still has creatives")
	ErrCampaignNotFound = errors.New("ad campaign not found")
	ErrCampaignWindow   = errors.New("campaign start must be before its end")
	ErrCampaignStatus   = errors.New("unknown campaign status")
	ErrCreativeNotFound = errors.New("ad creative not found")
	ErrCreativeInvalid  = errors.New("ad creative is missing required fields")
	ErrNoAdAvailable    = errors.New("no ad available for this slot")
)

var adSlotKeyPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// AdService 管理广告位、活动与素材，并负责前台的加权出广告。
// 曝光按访客和自然日去重，点击不去重。
type AdService struct {
	db *gorm.DB
}

// AdSlotInput 广告位入参
type AdSlotInput struct {
	Key    string
	Name   string
	Width  int
	Height int
}

// AdCampaignInput 广告活动入参
type AdCampaignInput struct {
	Name    string
	StartAt *time.Time
	EndAt   *time.Time
	Weight  int
}

// AdCreativeInput 广告素材入参
type AdCreativeInput struct {
	SlotID    uint
	Name      string
	ImageURL  string
	TargetURL string
	Body      string
	Weight    int
}

// CreativeStats 单个素材在统计窗口内的表现
type CreativeStats struct {
	CreativeID   uint
	CreativeName string
	Impressions  uint64
	Clicks       uint64
	CTR          float64
}

func NewAdService(gdb *gorm.DB) *AdService {
	return &AdService{db: gdb}
}

// ---- 广告位 ----

// ListSlots 返回站点全部广告位
func (s *AdService) ListSlots(siteID uint) ([]db.AdSlot, error) {
	var slots []db.AdSlot
	err := s.db.Where("site_id = ?", siteID).Order("key asc").Find(&slots).Error
	return slots, err
}

// CreateSlot 新建广告位，Key 在站点内唯一
func (s *AdService) CreateSlot(siteID uint, input AdSlotInput) (*db.AdSlot, error) {
	key := strings.ToLower(strings.TrimSpace(input.Key))
	if !adSlotKeyPattern.MatchString(key) {
		return nil, ErrAdSlotKeyInvalid
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = key
	}

	var count int64
	if err := s.db.Model(&db.AdSlot{}).Where("site_id = ? AND key = ?", siteID, key).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAdSlotKeyExists, key)
	}

	slot := db.AdSlot{
		SiteID: siteID,
		Key:    key,
		Name:   name,
		Width:  input.Width,
		Height: input.Height,
	}
	if err := s.db.Create(&slot).Error; err != nil {
		return nil, err
	}
	return &slot, nil
}

// UpdateSlot 更新广告位展示属性；Key 创建后不可变
func (s *AdService) UpdateSlot(siteID, id uint, input AdSlotInput) (*db.AdSlot, error) {
	slot, err := s.getSlot(siteID, id)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		slot.Name = name
	}
	slot.Width = input.Width
	slot.Height = input.Height
	if err := s.db.Save(slot).Error; err != nil {
		return nil, err
	}
	return slot, nil
}

// DeleteSlot 删除空广告位；还挂着素材时拒绝
func (s *AdService) DeleteSlot(siteID, id uint) error {
	slot, err := s.getSlot(siteID, id)
	if err != nil {
		return err
	}
	var count int64
	if err := s.db.Model(&db.AdCreative{}).Where("slot_id = ?", slot.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrAdSlotInUse
	}
	return s.db.Unscoped().Delete(slot).Error
}

// ---- 广告活动 ----

// ListCampaigns 返回站点全部广告活动
func (s *AdService) ListCampaigns(siteID uint) ([]db.AdCampaign, error) {
	var campaigns []db.AdCampaign
	err := s.db.Where("site_id = ?", siteID).Order("created_at desc").Find(&campaigns).Error
	return campaigns, err
}

// CreateCampaign 新建广告活动，初始为草稿
func (s *AdService) CreateCampaign(siteID uint, input AdCampaignInput) (*db.AdCampaign, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("campaign name is required")
	}
	if input.StartAt != nil && input.EndAt != nil && !input.StartAt.Before(*input.EndAt) {
		return nil, ErrCampaignWindow
	}

	campaign := db.AdCampaign{
		SiteID:  siteID,
		Name:    name,
		Status:  db.CampaignStatusDraft,
		StartAt: input.StartAt,
		EndAt:   input.EndAt,
		Weight:  normalizeAdWeight(input.Weight),
	}
	if err := s.db.Create(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

// UpdateCampaign 更新活动属性
func (s *AdService) UpdateCampaign(siteID, id uint, input AdCampaignInput) (*db.AdCampaign, error) {
	campaign, err := s.getCampaign(siteID, id)
	if err != nil {
		return nil, err
	}
	if input.StartAt != nil && input.EndAt != nil && !input.StartAt.Before(*input.EndAt) {
		return nil, ErrCampaignWindow
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		campaign.Name = name
	}
	campaign.StartAt = input.StartAt
	campaign.EndAt = input.EndAt
	campaign.Weight = normalizeAdWeight(input.Weight)
	if err := s.db.Model(campaign).Updates(map[string]interface{}{
		"name":     campaign.Name,
		"start_at": campaign.StartAt,
		"end_at":   campaign.EndAt,
		"weight":   campaign.Weight,
	}).Error; err != nil {
		return nil, err
	}
	return campaign, nil
}

// SetCampaignStatus 切换活动状态
func (s *AdService) SetCampaignStatus(siteID, id uint, status string) error {
	switch status {
	case db.CampaignStatusDraft, db.CampaignStatusActive, db.CampaignStatusPaused, db.CampaignStatusCompleted:
	default:
		return ErrCampaignStatus
	}
	result := s.db.Model(&db.AdCampaign{}).
		Where("id = ? AND site_id = ?", id, siteID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// CompleteExpiredCampaigns 把投放窗口已结束的活动批量置为 completed，
// 由后台清扫循环周期性调用，跨站点生效。
func (s *AdService) CompleteExpiredCampaigns(now time.Time) (int64, error) {
	result := s.db.Model(&db.AdCampaign{}).
		Where("status = ? AND end_at IS NOT NULL AND end_at < ?", db.CampaignStatusActive, now).
		Update("status", db.CampaignStatusCompleted)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// DeleteCampaign 删除活动及其素材与统计
func (s *AdService) DeleteCampaign(siteID, id uint) error {
	campaign, err := s.getCampaign(siteID, id)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var creativeIDs []uint
		if err := tx.Model(&db.AdCreative{}).
			Where("campaign_id = ?", campaign.ID).
			Pluck("id", &creativeIDs).Error; err != nil {
			return err
		}
		if len(creativeIDs) > 0 {
			if err := tx.Where("creative_id IN ?", creativeIDs).Delete(&db.AdStatistic{}).Error; err != nil {
				return err
			}
			if err := tx.Where("creative_id IN ?", creativeIDs).Delete(&db.AdEvent{}).Error; err != nil {
				return err
			}
			if err := tx.Unscoped().Where("campaign_id = ?", campaign.ID).Delete(&db.AdCreative{}).Error; err != nil {
				return err
			}
		}
		return tx.Unscoped().Delete(campaign).Error
	})
}

// ---- 素材 ----

// ListCreatives 返回活动下的素材
func (s *AdService) ListCreatives(siteID, campaignID uint) ([]db.AdCreative, error) {
	if _, err := s.getCampaign(siteID, campaignID); err != nil {
		return nil, err
	}
	var creatives []db.AdCreative
	err := s.db.Preload("Slot").
		Where("campaign_id = ?", campaignID).
		Order("id asc").
		Find(&creatives).Error
	return creatives, err
}

// CreateCreative 新建素材，目标地址必须是 http(s) 链接
func (s *AdService) CreateCreative(siteID, campaignID uint, input AdCreativeInput) (*db.AdCreative, error) {
	if _, err := s.getCampaign(siteID, campaignID); err != nil {
		return nil, err
	}
	if _, err := s.getSlot(siteID, input.SlotID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	target := strings.TrimSpace(input.TargetURL)
	if name == "" || target == "" {
		return nil, fmt.Errorf("%w: name and target url are required", ErrCreativeInvalid)
	}
	if parsed, err := url.Parse(target); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: target url must be http(s)", ErrCreativeInvalid)
	}

	creative := db.AdCreative{
		CampaignID: campaignID,
		SlotID:     input.SlotID,
		Name:       name,
		ImageURL:   strings.TrimSpace(input.ImageURL),
		TargetURL:  target,
		Body:       input.Body,
		Weight:     normalizeAdWeight(input.Weight),
		Status:     db.CreativeStatusActive,
	}
	if err := s.db.Create(&creative).Error; err != nil {
		return nil, err
	}
	return &creative, nil
}

// UpdateCreative 更新素材
func (s *AdService) UpdateCreative(siteID, id uint, input AdCreativeInput) (*db.AdCreative, error) {
	creative, err := s.getCreative(siteID, id)
	if err != nil {
		return nil, err
	}
	if input.SlotID != 0 && input.SlotID != creative.SlotID {
		if _, err := s.getSlot(siteID, input.SlotID); err != nil {
			return nil, err
		}
		creative.SlotID = input.SlotID
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		creative.Name = name
	}
	if target := strings.TrimSpace(input.TargetURL); target != "" {
		if parsed, err := url.Parse(target); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("%w: target url must be http(s)", ErrCreativeInvalid)
		}
		creative.TargetURL = target
	}
	creative.ImageURL = strings.TrimSpace(input.ImageURL)
	creative.Body = input.Body
	creative.Weight = normalizeAdWeight(input.Weight)
	if err := s.db.Model(creative).Updates(map[string]interface{}{
		"slot_id":    creative.SlotID,
		"name":       creative.Name,
		"image_url":  creative.ImageURL,
		"target_url": creative.TargetURL,
		"body":       creative.Body,
		"weight":     creative.Weight,
	}).Error; err != nil {
		return nil, err
	}
	return creative, nil
}

// SetCreativeStatus 启停素材
func (s *AdService) SetCreativeStatus(siteID, id uint, status string) error {
	if status != db.CreativeStatusActive && status != db.CreativeStatusDisabled {
		return ErrCampaignStatus
	}
	creative, err := s.getCreative(siteID, id)
	if err != nil {
		return err
	}
	return s.db.Model(creative).Update("status", status).Error
}

// DeleteCreative 删除素材及其统计
func (s *AdService) DeleteCreative(siteID, id uint) error {
	creative, err := s.getCreative(siteID, id)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("creative_id = ?", creative.ID).Delete(&db.AdStatistic{}).Error; err != nil {
			return err
		}
		if err := tx.Where("creative_id = ?", creative.ID).Delete(&db.AdEvent{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(creative).Error
	})
}

// ---- 投放 ----

// Serve 为广告位挑一条素材。活动必须处于投放窗口内，
// 权重取活动权重与素材权重的乘积。
func (s *AdService) Serve(siteID uint, slotKey string, now time.Time) (*db.AdCreative, error) {
	var slot db.AdSlot
	err := s.db.Where("site_id = ? AND key = ?", siteID, strings.ToLower(strings.TrimSpace(slotKey))).
		First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAdSlotNotFound
		}
		return nil, err
	}

	var creatives []db.AdCreative
	err = s.db.Preload("Campaign").Preload("Slot").
		Joins("JOIN ad_campaigns ON ad_campaigns.id = ad_creatives.campaign_id").
		Where("ad_creatives.slot_id = ? AND ad_creatives.status = ?", slot.ID, db.CreativeStatusActive).
		Where("ad_campaigns.status = ? AND ad_campaigns.deleted_at IS NULL", db.CampaignStatusActive).
		Where("ad_campaigns.start_at IS NULL OR ad_campaigns.start_at <= ?", now).
		Where("ad_campaigns.end_at IS NULL OR ad_campaigns.end_at >= ?", now).
		Find(&creatives).Error
	if err != nil {
		return nil, err
	}
	if len(creatives) == 0 {
		return nil, ErrNoAdAvailable
	}

	total := 0
	for _, creative := range creatives {
		total += effectiveAdWeight(creative)
	}
	picked := pickWeightedCreative(creatives, rand.Intn(total))
	return &creatives[picked], nil
}

// RecordImpression 记一次曝光。带访客标识时按 (素材, 访客, 自然日)
// 去重，返回值标记是否真正计入。
func (s *AdService) RecordImpression(siteID, creativeID uint, visitorID string, now time.Time) (bool, error) {
	creative, err := s.getCreative(siteID, creativeID)
	if err != nil {
		return false, err
	}
	day := adDay(now)

	visitorID = strings.TrimSpace(visitorID)
	if visitorID != "" {
		event := db.AdEvent{CreativeID: creative.ID, VisitorID: visitorID, Day: day}
		result := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "creative_id"}, {Name: "visitor_id"}, {Name: "day"}},
			DoNothing: true,
		}).Create(&event)
		if result.Error != nil {
			return false, result.Error
		}
		if result.RowsAffected == 0 {
			return false, nil
		}
	}

	if err := s.bumpStatistic(creative.ID, day, "impressions"); err != nil {
		return false, err
	}
	return true, nil
}

// RecordClick 记一次点击并返回跳转地址
func (s *AdService) RecordClick(siteID, creativeID uint, now time.Time) (string, error) {
	creative, err := s.getCreative(siteID, creativeID)
	if err != nil {
		return "", err
	}
	if err := s.bumpStatistic(creative.ID, adDay(now), "clicks"); err != nil {
		return "", err
	}
	return creative.TargetURL, nil
}

// CampaignStats 活动下各素材在时间窗口内的汇总
func (s *AdService) CampaignStats(siteID, campaignID uint, from, to time.Time) ([]CreativeStats, error) {
	creatives, err := s.ListCreatives(siteID, campaignID)
	if err != nil {
		return nil, err
	}
	if len(creatives) == 0 {
		return []CreativeStats{}, nil
	}

	ids := make([]uint, 0, len(creatives))
	names := make(map[uint]string, len(creatives))
	for _, creative := range creatives {
		ids = append(ids, creative.ID)
		names[creative.ID] = creative.Name
	}

	var rows []struct {
		CreativeID  uint
		Impressions uint64
		Clicks      uint64
	}
	err = s.db.Model(&db.AdStatistic{}).
		Select("creative_id, SUM(impressions) AS impressions, SUM(clicks) AS clicks").
		Where("creative_id IN ? AND day >= ? AND day <= ?", ids, adDay(from), adDay(to)).
		Group("creative_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byID := make(map[uint]CreativeStats, len(rows))
	for _, row := range rows {
		stat := CreativeStats{
			CreativeID:  row.CreativeID,
			Impressions: row.Impressions,
			Clicks:      row.Clicks,
		}
		if row.Impressions > 0 {
			stat.CTR = float64(row.Clicks) / float64(row.Impressions) * 100
		}
		byID[row.CreativeID] = stat
	}

	stats := make([]CreativeStats, 0, len(creatives))
	for _, creative := range creatives {
		stat := byID[creative.ID]
		stat.CreativeID = creative.ID
		stat.CreativeName = names[creative.ID]
		stats = append(stats, stat)
	}
	return stats, nil
}

func (s *AdService) bumpStatistic(creativeID uint, day time.Time, column string) error {
	stat := db.AdStatistic{CreativeID: creativeID, Day: day}
	if column == "impressions" {
		stat.Impressions = 1
	} else {
		stat.Clicks = 1
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "creative_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column:       gorm.Expr(column + " + 1"),
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&stat).Error
}

func (s *AdService) getSlot(siteID, id uint) (*db.AdSlot, error) {
	var slot db.AdSlot
	if err := s.db.Where("site_id = ?", siteID).First(&slot, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAdSlotNotFound
		}
		return nil, err
	}
	return &slot, nil
}

func (s *AdService) getCampaign(siteID, id uint) (*db.AdCampaign, error) {
	var campaign db.AdCampaign
	if err := s.db.Where("site_id = ?", siteID).First(&campaign, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return &campaign, nil
}

func (s *AdService) getCreative(siteID, id uint) (*db.AdCreative, error) {
	var creative db.AdCreative
	err := s.db.Preload("Campaign").
		Joins("JOIN ad_campaigns ON ad_campaigns.id = ad_creatives.campaign_id").
		Where("ad_campaigns.site_id = ?", siteID).
		First(&creative, "ad_creatives.id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCreativeNotFound
		}
		return nil, err
	}
	return &creative, nil
}

// pickWeightedCreative 按权重前缀和选中一条素材，roll 取值 [0, totalWeight)
func pickWeightedCreative(creatives []db.AdCreative, roll int) int {
	cursor := 0
	for i, creative := range creatives {
		cursor += effectiveAdWeight(creative)
		if roll < cursor {
			return i
		}
	}
	return len(creatives) - 1
}

func effectiveAdWeight(creative db.AdCreative) int {
	weight := creative.Weight
	if weight < 1 {
		weight = 1
	}
	campaignWeight := creative.Campaign.Weight
	if campaignWeight < 1 {
		campaignWeight = 1
	}
	return weight * campaignWeight
}

func normalizeAdWeight(weight int) int {
	if weight < 1 {
		return 1
	}
	return weight
}

// adDay 把时间归一到 UTC 自然日
func adDay(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
