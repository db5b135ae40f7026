package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/locale"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// AIProviderOpenAI 表示使用 OpenAI 能力。
	AIProviderOpenAI = "openai"
	// AIProviderDeepSeek 表示使用 DeepSeek 能力。
	AIProviderDeepSeek = "deepseek"
)

var supportedAIProviders = []string{AIProviderOpenAI, AIProviderDeepSeek}

// ErrAIAPIKeyMissing 表示未提供必需的 AI 平台 API Key。
var ErrAIAPIKeyMissing = errors.New("api key is required")

const defaultFeedItemCount = 20

// SiteSettings 描述站点级可配置项。名称、根地址与默认语言
// 未单独设置时回退到站点档案中的值。
type SiteSettings struct {
	SiteName            string
	BaseURL             string
	DefaultLanguage     string
	CommentsEnabled     bool
	CommentsAutoApprove bool
	RobotsExtra         string
	FeedItemCount       int
	CacheArticleTTL     int
	CacheListingTTL     int
	CacheFeedTTL        int
	SocialImageURL      string
	AIProvider          string
	OpenAIAPIKey        string
	DeepSeekAPIKey      string
}

// ArticleCacheTTL 返回文章页缓存时长，未配置时使用给定默认值。
func (st SiteSettings) ArticleCacheTTL(fallback time.Duration) time.Duration {
	if st.CacheArticleTTL > 0 {
		return time.Duration(st.CacheArticleTTL) * time.Second
	}
	return fallback
}

// ListingCacheTTL 返回列表页缓存时长，未配置时使用给定默认值。
func (st SiteSettings) ListingCacheTTL(fallback time.Duration) time.Duration {
	if st.CacheListingTTL > 0 {
		return time.Duration(st.CacheListingTTL) * time.Second
	}
	return fallback
}

// FeedCacheTTL 返回订阅源缓存时长，未配置时使用给定默认值。
func (st SiteSettings) FeedCacheTTL(fallback time.Duration) time.Duration {
	if st.CacheFeedTTL > 0 {
		return time.Duration(st.CacheFeedTTL) * time.Second
	}
	return fallback
}

// SiteSettingsInput 用于更新站点设置。
type SiteSettingsInput struct {
	SiteName            string
	BaseURL             string
	DefaultLanguage     string
	CommentsEnabled     bool
	CommentsAutoApprove bool
	RobotsExtra         string
	FeedItemCount       int
	CacheArticleTTL     int
	CacheListingTTL     int
	CacheFeedTTL        int
	SocialImageURL      string
	AIProvider          string
	OpenAIAPIKey        string
	DeepSeekAPIKey      string
}

// SiteSettingService 提供站点设置的读取与更新能力。
type SiteSettingService struct {
	db              *gorm.DB
	httpClient      httpDoer
	openAIBaseURL   string
	deepSeekBaseURL string
}

// NewSiteSettingService 构造 SiteSettingService。
func NewSiteSettingService(gdb *gorm.DB) *SiteSettingService {
	return &SiteSettingService{
		db:              gdb,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		openAIBaseURL:   "https://api.openai.com/v1",
		deepSeekBaseURL: "https://api.deepseek.com/v1",
	}
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var siteSettingKeys = []string{
	db.SettingKeySiteName,
	db.SettingKeyBaseURL,
	db.SettingKeyDefaultLanguage,
	db.SettingKeyCommentsEnabled,
	db.SettingKeyCommentsAutoApprove,
	db.SettingKeyRobotsExtra,
	db.SettingKeyFeedItemCount,
	db.SettingKeyCacheArticleTTL,
	db.SettingKeyCacheListingTTL,
	db.SettingKeyCacheFeedTTL,
	db.SettingKeySocialImageURL,
	db.SettingKeyAIProvider,
	db.SettingKeyOpenAIAPIKey,
	db.SettingKeyDeepSeekAPIKey,
}

// GetSettings 读取站点设置，未设置的键返回默认值。
func (s *SiteSettingService) GetSettings(siteID uint) (SiteSettings, error) {
	result := SiteSettings{
		CommentsEnabled: true,
		FeedItemCount:   defaultFeedItemCount,
		AIProvider:      AIProviderOpenAI,
	}

	var site db.Site
	if err := s.db.First(&site, siteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return result, ErrSiteNotFound
		}
		return result, fmt.Errorf("load site: %w", err)
	}
	result.SiteName = site.Name
	result.BaseURL = strings.TrimRight(site.BaseURL, "/")
	result.DefaultLanguage = locale.FallbackLanguage(site.DefaultLanguage)

	var records []db.SiteSetting
	if err := s.db.Where("site_id = ? AND key IN ?", siteID, siteSettingKeys).Find(&records).Error; err != nil {
		return result, fmt.Errorf("load site settings: %w", err)
	}

	for _, record := range records {
		switch record.Key {
		case db.SettingKeySiteName:
			if strings.TrimSpace(record.Value) != "" {
				result.SiteName = record.Value
			}
		case db.SettingKeyBaseURL:
			if strings.TrimSpace(record.Value) != "" {
				result.BaseURL = strings.TrimRight(strings.TrimSpace(record.Value), "/")
			}
		case db.SettingKeyDefaultLanguage:
			if lang := locale.NormalizeLanguage(record.Value); lang != "" {
				result.DefaultLanguage = lang
			}
		case db.SettingKeyCommentsEnabled:
			result.CommentsEnabled = parseBoolSetting(record.Value, true)
		case db.SettingKeyCommentsAutoApprove:
			result.CommentsAutoApprove = parseBoolSetting(record.Value, false)
		case db.SettingKeyRobotsExtra:
			result.RobotsExtra = record.Value
		case db.SettingKeyFeedItemCount:
			if n, err := strconv.Atoi(strings.TrimSpace(record.Value)); err == nil && n > 0 {
				result.FeedItemCount = n
			}
		case db.SettingKeyCacheArticleTTL:
			result.CacheArticleTTL = parseSecondsSetting(record.Value)
		case db.SettingKeyCacheListingTTL:
			result.CacheListingTTL = parseSecondsSetting(record.Value)
		case db.SettingKeyCacheFeedTTL:
			result.CacheFeedTTL = parseSecondsSetting(record.Value)
		case db.SettingKeySocialImageURL:
			result.SocialImageURL = strings.TrimSpace(record.Value)
		case db.SettingKeyAIProvider:
			if provider := normalizeAIProvider(record.Value); provider != "" {
				result.AIProvider = provider
			}
		case db.SettingKeyOpenAIAPIKey:
			result.OpenAIAPIKey = record.Value
		case db.SettingKeyDeepSeekAPIKey:
			result.DeepSeekAPIKey = record.Value
		}
	}

	return result, nil
}

// UpdateSettings 保存站点设置并返回生效后的配置。
func (s *SiteSettingService) UpdateSettings(siteID uint, input SiteSettingsInput) (SiteSettings, error) {
	if _, err := s.GetSettings(siteID); err != nil && errors.Is(err, ErrSiteNotFound) {
		return SiteSettings{}, err
	}

	provider := normalizeAIProvider(input.AIProvider)
	if provider == "" {
		provider = AIProviderOpenAI
	}

	values := map[string]string{
		db.SettingKeySiteName:            strings.TrimSpace(input.SiteName),
		db.SettingKeyBaseURL:             strings.TrimRight(strings.TrimSpace(input.BaseURL), "/"),
		db.SettingKeyDefaultLanguage:     locale.NormalizeLanguage(input.DefaultLanguage),
		db.SettingKeyCommentsEnabled:     formatBoolSetting(input.CommentsEnabled),
		db.SettingKeyCommentsAutoApprove: formatBoolSetting(input.CommentsAutoApprove),
		db.SettingKeyRobotsExtra:         strings.TrimSpace(input.RobotsExtra),
		db.SettingKeyFeedItemCount:       formatPositiveInt(input.FeedItemCount),
		db.SettingKeyCacheArticleTTL:     formatPositiveInt(input.CacheArticleTTL),
		db.SettingKeyCacheListingTTL:     formatPositiveInt(input.CacheListingTTL),
		db.SettingKeyCacheFeedTTL:        formatPositiveInt(input.CacheFeedTTL),
		db.SettingKeySocialImageURL:      strings.TrimSpace(input.SocialImageURL),
		db.SettingKeyAIProvider:          provider,
		db.SettingKeyOpenAIAPIKey:        strings.TrimSpace(input.OpenAIAPIKey),
		db.SettingKeyDeepSeekAPIKey:      strings.TrimSpace(input.DeepSeekAPIKey),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, key := range siteSettingKeys {
			if err := upsertSiteSetting(tx, siteID, key, values[key]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SiteSettings{}, fmt.Errorf("update site settings: %w", err)
	}

	return s.GetSettings(siteID)
}

func upsertSiteSetting(tx *gorm.DB, siteID uint, key, value string) error {
	setting := db.SiteSetting{SiteID: siteID, Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "site_id"}, {Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// SetHTTPClient 替换用于访问第三方服务的 HTTP 客户端，主要面向测试场景。
func (s *SiteSettingService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.httpClient = &http.Client{Timeout: 10 * time.Second}
		return
	}
	s.httpClient = client
}

// SetOpenAIBaseURL 覆盖 OpenAI API 的基础地址，便于测试或自定义代理。
func (s *SiteSettingService) SetOpenAIBaseURL(base string) {
	trimmed := strings.TrimSpace(base)
	s.openAIBaseURL = strings.TrimRight(trimmed, "/")
}

// SetDeepSeekBaseURL 覆盖 DeepSeek API 的基础地址，便于测试或自定义代理。
func (s *SiteSettingService) SetDeepSeekBaseURL(base string) {
	trimmed := strings.TrimSpace(base)
	s.deepSeekBaseURL = strings.TrimRight(trimmed, "/")
}

// TestAIConnection 调用指定 AI 平台的模型接口验证 API Key 的有效性。
func (s *SiteSettingService) TestAIConnection(ctx context.Context, provider, apiKey string) error {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return ErrAIAPIKeyMissing
	}

	prov := normalizeAIProvider(provider)
	if prov == "" {
		prov = AIProviderOpenAI
	}

	client := s.httpClient
	if client == nil {
		client = http.DefaultClient
	}

	base := ""
	label := ""
	switch prov {
	case AIProviderDeepSeek:
		base = s.deepSeekBaseURL
		if strings.TrimSpace(base) == "" {
			base = "https://api.deepseek.com/v1"
		}
		label = "DeepSeek"
	default:
		base = s.openAIBaseURL
		if strings.TrimSpace(base) == "" {
			base = "https://api.openai.com/v1"
		}
		label = "OpenAI"
	}

	endpoint := strings.TrimRight(base, "/") + "/models"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", strings.ToLower(label), err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "presshub-admin/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("请求 %s 接口失败: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("%s 返回错误：%s (%s)", label, resp.Status, msg)
		}
		return fmt.Errorf("%s 返回错误：%s", label, resp.Status)
	}

	return nil
}

func normalizeAIProvider(provider string) string {
	trimmed := strings.ToLower(strings.TrimSpace(provider))
	for _, candidate := range supportedAIProviders {
		if trimmed == candidate {
			return candidate
		}
	}
	return ""
}

func parseBoolSetting(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	default:
		return fallback
	}
}

func formatBoolSetting(value bool) string {
	if value {
		return "true"
	}
	return "false"
}

func parseSecondsSetting(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func formatPositiveInt(value int) string {
	if value <= 0 {
		return ""
	}
	return strconv.Itoa(value)
}
