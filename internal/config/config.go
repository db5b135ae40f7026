package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// 存在 .env 时自动加载
	_ = godotenv.Load()
}

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string
	Port              string
	DatabaseDSN       string
	SessionSecret     string
	JWTSecret         string
	GinMode           string
	UploadDir         string
	UploadURLPath     string
	SuperRootUserName string
	SuperRootPassword string
	DefaultSiteSlug   string
	DefaultSiteName   string
	LogFile           string
	LogLevel          string
	RedisURL          string
	Cache             CacheConfig
	Automation        AutomationConfig
}

// CacheConfig 描述页面缓存引擎的容量与各内容类别的默认 TTL。
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxEntries      int           `yaml:"max_entries"`
	MaxBytes        int64         `yaml:"max_bytes"`
	ArticleTTL      time.Duration `yaml:"article_ttl"`
	ListingTTL      time.Duration `yaml:"listing_ttl"`
	FeedTTL         time.Duration `yaml:"feed_ttl"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// AutomationConfig 描述营销自动化引擎的轮询参数。
type AutomationConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MissedWindow  time.Duration `yaml:"missed_window"`
}

// fileConfig 是可选 YAML 配置文件的结构，环境变量优先于文件。
type fileConfig struct {
	RedisURL   string           `yaml:"redis_url"`
	Cache      CacheConfig      `yaml:"cache"`
	Automation AutomationConfig `yaml:"automation"`
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
// PRESSHUB_CONFIG 指向的 YAML 文件可补充缓存与自动化参数。
func Load() AppConfig {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	databaseDSN := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if databaseDSN == "" {
		databaseDSN = strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	}
	if databaseDSN == "" {
		databaseDSN = "presshub.db"
	}

	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if sessionSecret == "" {
		sessionSecret = "presshub-dev-secret"
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		jwtSecret = sessionSecret
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))
	if ginMode == "" {
		ginMode = "release"
	}

	uploadDir := strings.TrimSpace(os.Getenv("UPLOAD_DIR"))
	if uploadDir == "" {
		uploadDir = "web/static/uploads"
	}

	uploadURLPath := strings.TrimSpace(os.Getenv("UPLOAD_URL_PATH"))
	if uploadURLPath == "" {
		uploadURLPath = "/static/uploads"
	}

	defaultSiteSlug := strings.TrimSpace(os.Getenv("DEFAULT_SITE_SLUG"))
	if defaultSiteSlug == "" {
		defaultSiteSlug = "default"
	}

	defaultSiteName := strings.TrimSpace(os.Getenv("DEFAULT_SITE_NAME"))
	if defaultSiteName == "" {
		defaultSiteName = "PressHub"
	}

	logLevel := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevel == "" {
		logLevel = "info"
	}

	cfg := AppConfig{
		ListenAddr:        listenAddr,
		Port:              port,
		DatabaseDSN:       databaseDSN,
		SessionSecret:     sessionSecret,
		JWTSecret:         jwtSecret,
		GinMode:           ginMode,
		UploadDir:         uploadDir,
		UploadURLPath:     uploadURLPath,
		SuperRootUserName: strings.TrimSpace(os.Getenv("SUPER_ROOT_USER_NAME")),
		SuperRootPassword: strings.TrimSpace(os.Getenv("SUPER_ROOT_PASSWORD")),
		DefaultSiteSlug:   defaultSiteSlug,
		DefaultSiteName:   defaultSiteName,
		LogFile:           strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogLevel:          logLevel,
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		Cache: CacheConfig{
			Enabled:         true,
			MaxEntries:      4096,
			MaxBytes:        64 << 20,
			ArticleTTL:      5 * time.Minute,
			ListingTTL:      time.Minute,
			FeedTTL:         10 * time.Minute,
			JanitorInterval: time.Minute,
		},
		Automation: AutomationConfig{
			PollInterval:  15 * time.Second,
			MaxConcurrent: 4,
			MissedWindow:  24 * time.Hour,
		},
	}

	if path := strings.TrimSpace(os.Getenv("PRESSHUB_CONFIG")); path != "" {
		applyFileConfig(&cfg, path)
	}

	if raw := strings.TrimSpace(os.Getenv("CACHE_ENABLED")); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			cfg.Cache.Enabled = enabled
		}
	}

	return cfg
}

// applyFileConfig 把 YAML 文件中的非零值合并进配置，读取失败时静默保留默认值。
func applyFileConfig(cfg *AppConfig, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return
	}

	if fc.RedisURL != "" && cfg.RedisURL == "" {
		cfg.RedisURL = fc.RedisURL
	}
	if fc.Cache.MaxEntries > 0 {
		cfg.Cache.MaxEntries = fc.Cache.MaxEntries
	}
	if fc.Cache.MaxBytes > 0 {
		cfg.Cache.MaxBytes = fc.Cache.MaxBytes
	}
	if fc.Cache.ArticleTTL > 0 {
		cfg.Cache.ArticleTTL = fc.Cache.ArticleTTL
	}
	if fc.Cache.ListingTTL > 0 {
		cfg.Cache.ListingTTL = fc.Cache.ListingTTL
	}
	if fc.Cache.FeedTTL > 0 {
		cfg.Cache.FeedTTL = fc.Cache.FeedTTL
	}
	if fc.Cache.JanitorInterval > 0 {
		cfg.Cache.JanitorInterval = fc.Cache.JanitorInterval
	}
	if fc.Automation.PollInterval > 0 {
		cfg.Automation.PollInterval = fc.Automation.PollInterval
	}
	if fc.Automation.MaxConcurrent > 0 {
		cfg.Automation.MaxConcurrent = fc.Automation.MaxConcurrent
	}
	if fc.Automation.MissedWindow > 0 {
		cfg.Automation.MissedWindow = fc.Automation.MissedWindow
	}
}
