package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 是一个全局的数据库连接实例
var DB *gorm.DB

// Init 打开数据库连接并执行自动迁移。
// dsn 为空时将回退到默认的本地 SQLite 文件 presshub.db。
func Init(dsn string) error {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		trimmed = "presshub.db"
	}

	conn, err := Open(trimmed)
	if err != nil {
		return err
	}

	DB = conn
	return Migrate(DB)
}

// Open 根据 DSN 识别方言并建立 GORM 连接。
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, errors.New("db: empty dsn")
	}

	dialect, err := detectDialectFromDSN(trimmed)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case DialectPostgres:
		return openPostgres(trimmed)
	default:
		return openSQLite(trimmed)
	}
}

// detectDialectFromDSN 从 DSN 推断数据库方言。
func detectDialectFromDSN(dsn string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, nil
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "sslmode="):
		return DialectPostgres, nil
	case strings.HasPrefix(lower, "file:"), !strings.Contains(lower, "://"):
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("db: unsupported dsn: %s", dsn)
	}
}

func openPostgres(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open postgres: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db: sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	return conn, nil
}

func openSQLite(path string) (*gorm.DB, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}
	return conn, nil
}

// Migrate 为核心模型创建或更新表结构，并回填历史数据的缺省值。
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("db: nil connection")
	}

	if err := conn.AutoMigrate(
		&Site{},
		&SiteDomain{},
		&SiteLink{},
		&SiteSetting{},
		&User{},
		&Category{},
		&Tag{},
		&Article{},
		&ArticlePublication{},
		&ArticleRevision{},
		&Page{},
		&MediaItem{},
		&Comment{},
		&Reaction{},
		&Subscriber{},
		&SubscriberTag{},
		&Workflow{},
		&WorkflowStep{},
		&Enrollment{},
		&EmailMessage{},
		&AdSlot{},
		&AdCampaign{},
		&AdCreative{},
		&AdStatistic{},
		&AdEvent{},
		&Redirect{},
		&ArticleStatistic{},
		&ArticleVisit{},
		&SiteHourlySnapshot{},
		&SiteHourlyVisitor{},
	); err != nil {
		return err
	}

	// 历史数据缺省值回填
	if err := conn.Model(&Article{}).
		Where("language = '' OR language IS NULL").
		Update("language", "zh").Error; err != nil {
		return err
	}
	if err := conn.Model(&Article{}).
		Where("translation_group_id IS NULL OR translation_group_id = 0").
		Update("translation_group_id", gorm.Expr("id")).Error; err != nil {
		return err
	}
	if err := conn.Model(&Page{}).
		Where("language = '' OR language IS NULL").
		Update("language", "zh").Error; err != nil {
		return err
	}

	return nil
}

func ensureParentDir(path string) error {
	if strings.HasPrefix(path, "file:") {
		return nil
	}

	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
