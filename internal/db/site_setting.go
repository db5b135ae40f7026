package db

import "gorm.io/gorm"

// SiteSetting 存储站点级可配置的键值对。
type SiteSetting struct {
	gorm.Model
	SiteID uint   `gorm:"not null;uniqueIndex:idx_site_settings_site_key"`
	Key    string `gorm:"size:100;not null;uniqueIndex:idx_site_settings_site_key"`
	Value  string `gorm:"type:text"`
}

// TableName 自定义表名以保持命名一致。
func (SiteSetting) TableName() string {
	return "site_settings"
}

const (
	// SettingKeySiteName 表示站点名称覆盖值。
	SettingKeySiteName = "site_name"
	// SettingKeyBaseURL 表示生成绝对链接时使用的站点根地址。
	SettingKeyBaseURL = "base_url"
	// SettingKeyDefaultLanguage 表示站点默认语言。
	SettingKeyDefaultLanguage = "default_language"
	// SettingKeyCommentsEnabled 控制前台是否开放评论。
	SettingKeyCommentsEnabled = "comments_enabled"
	// SettingKeyCommentsAutoApprove 控制评论是否免审自动通过。
	SettingKeyCommentsAutoApprove = "comments_auto_approve"
	// SettingKeyRobotsExtra 表示追加到 robots.txt 的自定义规则。
	SettingKeyRobotsExtra = "robots_extra"
	// SettingKeyFeedItemCount 表示 RSS 输出的条目数量。
	SettingKeyFeedItemCount = "feed_item_count"
	// SettingKeyCacheArticleTTL 表示文章页缓存秒数。
	SettingKeyCacheArticleTTL = "cache_article_ttl"
	// SettingKeyCacheListingTTL 表示列表页缓存秒数。
	SettingKeyCacheListingTTL = "cache_listing_ttl"
	// SettingKeyCacheFeedTTL 表示订阅源缓存秒数。
	SettingKeyCacheFeedTTL = "cache_feed_ttl"
	// SettingKeySocialImageURL 表示默认分享图。
	SettingKeySocialImageURL = "social_image_url"
	// SettingKeyAIProvider 表示使用的 AI 平台。
	SettingKeyAIProvider = "ai_provider"
	// SettingKeyOpenAIAPIKey 表示 OpenAI API Key。
	SettingKeyOpenAIAPIKey = "openai_api_key"
	// SettingKeyDeepSeekAPIKey 表示 DeepSeek API Key。
	SettingKeyDeepSeekAPIKey = "deepseek_api_key"
)
